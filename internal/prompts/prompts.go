// Package prompts renders every instruction text sent to the model.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
)

// APIReference documents the kernel available to generated code.
//
//go:embed jscad_reference.md
var APIReference string

// CodeTemplate is the shape every generated program must follow.
const CodeTemplate = `const { cube, sphere } = jscad.primitives
const { translate } = jscad.transforms
const { union } = jscad.booleans

const main = () => {
  // build the model here
  return [
    union(cube({ size: 4 }), translate([0, 0, 3], sphere({ radius: 2 }))),
  ]
}

return main()`

const jscadVariable = `The variable "jscad" is available for use in the code. It contains the JSCAD API.`

// Description is the base task framing prepended to every generation history.
func Description() string {
	return "You are a CAD assistant. You turn descriptions, sketches and renders of 3D objects into " +
		"JavaScript programs written against the JSCAD modeling API. Always answer with a single " +
		"```javascript code block containing the complete program.\n\n" + APIReference
}

// GenerateCode frames the latest request of the conversation.
func GenerateCode(prompt string) string {
	return fmt.Sprintf("Generate a JavaScript code for JSCAD that matches the prompt:\n\n\"%s\"\n\n"+
		"Generate the code based on this template:\n\n```javascript\n%s\n```\n\n%s",
		prompt, CodeTemplate, jscadVariable)
}

// WrapRequest frames an earlier request that is kept for context.
func WrapRequest(prompt string) string {
	return fmt.Sprintf("Earlier request:\n\n\"%s\"", prompt)
}

// GenerateFromImages closes a turn that carries images but no request text.
func GenerateFromImages() string {
	return fmt.Sprintf("Generate a JavaScript code for JSCAD that matches the images above.\n\n"+
		"Generate the code based on this template:\n\n```javascript\n%s\n```\n\n%s",
		CodeTemplate, jscadVariable)
}

// SketchFraming is placed before every sketch sent to the model.
func SketchFraming() string {
	return "This is a sketch of what I want to make."
}

// NormalMapFraming is placed before every normal-map render sent to the model.
func NormalMapFraming() string {
	return "This image shows normal maps of the current 3D model, rendered from several angles. " +
		"Colors encode surface orientation: use it to understand the shape of the model."
}

// RedactedImage replaces an image dropped from the history.
func RedactedImage(kind string) string {
	return fmt.Sprintf("[An earlier %s was shared here. It has been omitted.]", kind)
}

// FixCodeFromError asks for a corrected program. The first attempt keeps
// the instructions short; later attempts include the full API reference.
func FixCodeFromError(code, errText string, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I got this error when I tried to run the code:\n\n```\n%s\n```\n\n", errText)
	fmt.Fprintf(&b, "This is the JavaScript code that I tried to run:\n\n```javascript\n%s\n```\n\n", code)
	b.WriteString(jscadVariable)
	b.WriteString(" The code should end with \"return main()\".\n\n")
	if attempt >= 2 {
		fmt.Fprintf(&b, "The previous fixes did not work. This is the complete list of what the API supports, "+
			"do not use anything else:\n\n%s\n\n", APIReference)
	}
	b.WriteString("Output a fixed version of the code.\n\n")
	fmt.Fprintf(&b, "Generate the code based on this template:\n\n```javascript\n%s\n```", CodeTemplate)
	return b.String()
}

// FixCodeFromImage asks the model to compare a render of its code against
// the request that produced it. instructions may be empty.
func FixCodeFromImage(code, basePrompt, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is the JavaScript code that was used to generate the image:\n\n```javascript\n%s\n```\n\n", code)
	fmt.Fprintf(&b, "This is the original instructions asked when generating the image:\n\n\"%s\"\n\n", basePrompt)
	if instructions != "" {
		fmt.Fprintf(&b, "Here are additional instructions given with the image:\n\n\"%s\"\n\n", instructions)
	}
	b.WriteString("Based on the image generated, fix the code above to better match the instructions.\n\n")
	fmt.Fprintf(&b, "Generate the code based on this template:\n\n```javascript\n%s\n```\n\n%s", CodeTemplate, jscadVariable)
	return b.String()
}

// ApplyRequestIntro is the hidden text introducing images attached to a
// request on an existing model.
func ApplyRequestIntro(hasModel, hasSketch, hasRequest bool) string {
	var s string
	switch {
	case hasModel && hasSketch:
		s = "This is an image of the rendered 3D model, with sketch applied."
	case hasModel:
		s = "This is an image of the rendered 3D model."
	case hasSketch:
		s = "This is a sketch of what I want to make."
	}
	if hasRequest {
		if s != "" {
			s += " "
		}
		s += "I want you to apply this request, in the next message, on the 3D model:"
	}
	return s
}

// NormalMapHiddenText stands in for the normal-map image in the transcript.
const NormalMapHiddenText = "Hidden normal map representation of the model."

// GiveUp is appended when the fix loop runs out of attempts.
func GiveUp(attempts int) string {
	return fmt.Sprintf("I'm sorry, I couldn't fix the error after %d attempts. "+
		"You may want to try again with a different description or sketch.", attempts)
}
