package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixCodeFromErrorEscalates(t *testing.T) {
	first := FixCodeFromError("return main()", "ReferenceError: main is not defined at 1", 1)
	second := FixCodeFromError("return main()", "ReferenceError: main is not defined at 1", 2)

	for _, p := range []string{first, second} {
		assert.Contains(t, p, "```javascript\nreturn main()\n```")
		assert.Contains(t, p, "```\nReferenceError: main is not defined at 1\n```")
		assert.Contains(t, p, "Output a fixed version of the code.")
	}
	assert.NotContains(t, first, "jscad.primitives\n- cube")
	assert.Contains(t, second, APIReference)
	assert.Greater(t, len(second), len(first))
}

func TestApplyRequestIntro(t *testing.T) {
	assert.Equal(t, "This is an image of the rendered 3D model.", ApplyRequestIntro(true, false, false))
	assert.Equal(t, "This is a sketch of what I want to make.", ApplyRequestIntro(false, true, false))
	assert.Equal(t,
		"This is an image of the rendered 3D model, with sketch applied. I want you to apply this request, in the next message, on the 3D model:",
		ApplyRequestIntro(true, true, true))
	assert.Equal(t, "I want you to apply this request, in the next message, on the 3D model:", ApplyRequestIntro(false, false, true))
}

func TestGenerateCodeEmbedsPromptAndTemplate(t *testing.T) {
	p := GenerateCode("a mug")
	assert.Contains(t, p, "\"a mug\"")
	assert.Contains(t, p, CodeTemplate)
}

func TestGiveUp(t *testing.T) {
	assert.Equal(t,
		"I'm sorry, I couldn't fix the error after 4 attempts. You may want to try again with a different description or sketch.",
		GiveUp(4))
}

func TestFixCodeFromImage(t *testing.T) {
	p := FixCodeFromImage("return main()", "a mug", "")
	assert.Contains(t, p, "```javascript\nreturn main()\n```")
	assert.Contains(t, p, "\"a mug\"")
	assert.Contains(t, p, "fix the code above to better match the instructions.")
	assert.Contains(t, p, CodeTemplate)
	assert.NotContains(t, p, "additional instructions")

	withNote := FixCodeFromImage("return main()", "a mug", "the handle is too thin")
	assert.Contains(t, withNote, "Here are additional instructions given with the image:\n\n\"the handle is too thin\"")
	assert.Less(t, strings.Index(withNote, "\"a mug\""), strings.Index(withNote, "the handle is too thin"))
}
