package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/prompts"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func text(id string, role models.Role, label models.Label, body string) models.Message {
	return models.Message{ID: id, Role: role, Type: models.TypeText, Label: label, Text: body, Model: "claude-3.5", Timestamp: epoch}
}

func image(id string, label models.Label) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Type: models.TypeImage, Label: label, Image: "data:image/png;base64,AAAA", Model: "claude-3.5", Timestamp: epoch}
}

func code(id, src string) models.Message {
	return models.Message{ID: id, Role: models.RoleAssistant, Type: models.TypeCode, Text: src, Hidden: true, Model: "claude-3.5", Timestamp: epoch}
}

func failure(id, msg string) models.Message {
	d := models.ErrorDescriptor{Kind: "ReferenceError", Message: msg, Line: 3}
	return models.Message{ID: id, Role: models.RoleUser, Type: models.TypeError, Error: &d, Text: d.String(), Model: "claude-3.5", Timestamp: epoch}
}

func result(id string) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Type: models.TypeModelResult, Result: &models.ModelResult{}, Model: "claude-3.5", Timestamp: epoch}
}

func count(msgs []models.Message, typ models.MessageType, label models.Label) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ && m.Label == label {
			n++
		}
	}
	return n
}

func TestGenerateSingleRequest(t *testing.T) {
	log := []models.Message{text("1", models.RoleUser, models.LabelRequest, "make a cube")}

	out := Build(log, ModeGenerate)
	require.Len(t, out, 2)
	assert.Equal(t, models.LabelDescription, out[0].Label)
	assert.Equal(t, models.RoleUser, out[0].Role)
	assert.Equal(t, prompts.Description(), out[0].Text)
	assert.Equal(t, prompts.GenerateCode("make a cube"), out[1].Text)
	assert.Equal(t, "make a cube", log[0].Text, "input must not be modified")
}

func TestFixErrorWithoutCodeIsNoop(t *testing.T) {
	log := []models.Message{text("1", models.RoleUser, models.LabelRequest, "make a cube")}
	assert.Equal(t, log, Build(log, ModeFixError))
}

func TestFixErrorRedactsOldestSketch(t *testing.T) {
	log := []models.Message{
		image("s1", models.LabelSketch),
		image("s2", models.LabelSketch),
		image("s3", models.LabelSketch),
	}

	out := Build(log, ModeFixError)
	require.Len(t, out, 3)
	assert.Equal(t, models.TypeText, out[0].Type)
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, models.RoleUser, out[0].Role)
	assert.Equal(t, log[1], out[1])
	assert.Equal(t, log[2], out[2])
}

func TestGenerateRedactionBound(t *testing.T) {
	var log []models.Message
	for i := 0; i < 5; i++ {
		log = append(log,
			text("r"+string(rune('a'+i)), models.RoleUser, models.LabelRequest, "more"),
			image("s"+string(rune('a'+i)), models.LabelSketch),
			image("m"+string(rune('a'+i)), models.LabelModelWithSketch),
			image("n"+string(rune('a'+i)), models.LabelNormalMapping),
			code("c"+string(rune('a'+i)), "return main()"),
			result("x"+string(rune('a'+i))),
		)
	}

	out := Build(log, ModeGenerate)
	assert.Equal(t, 2, count(out, models.TypeImage, models.LabelSketch))
	assert.Equal(t, 1, count(out, models.TypeImage, models.LabelModelWithSketch))
	assert.Equal(t, 1, count(out, models.TypeImage, models.LabelNormalMapping))

	// the surviving images are the newest ones
	var ids []string
	for _, m := range out {
		if m.Type == models.TypeImage {
			ids = append(ids, m.ID)
		}
	}
	assert.Equal(t, []string{"sd", "se", "me", "ne"}, ids)
}

func TestGenerateFramesImages(t *testing.T) {
	log := []models.Message{
		text("1", models.RoleUser, models.LabelRequest, "a chair"),
		image("2", models.LabelSketch),
		image("3", models.LabelNormalMapping),
	}

	out := Build(log, ModeGenerate)
	require.Len(t, out, 6)
	assert.Equal(t, prompts.SketchFraming(), out[2].Text)
	assert.Equal(t, "2", out[3].ID)
	assert.Equal(t, prompts.NormalMapFraming(), out[4].Text)
	assert.Equal(t, "3", out[5].ID)
	assert.Equal(t, prompts.GenerateCode("a chair"), out[1].Text)
}

func TestGenerateWrapsEarlierRequests(t *testing.T) {
	log := []models.Message{
		text("1", models.RoleUser, models.LabelRequest, "a table"),
		code("2", "return main()"),
		result("3"),
		text("4", models.RoleUser, models.LabelRequest, "make it round"),
	}

	out := Build(log, ModeGenerate)
	assert.Equal(t, prompts.WrapRequest("a table"), out[1].Text)
	assert.Equal(t, prompts.GenerateCode("make it round"), out[4].Text)
}

func TestGenerateImageOnlyAddsInstruction(t *testing.T) {
	sketch := image("s", models.LabelSketch)
	sketch.Model = "gpt-4o"
	log := []models.Message{sketch}

	out := Build(log, ModeGenerate)
	last := out[len(out)-1]
	assert.Equal(t, models.TypeText, last.Type)
	assert.Equal(t, models.RoleUser, last.Role)
	assert.Equal(t, prompts.GenerateFromImages(), last.Text)
	assert.Equal(t, "gpt-4o", last.Model)
}

func TestBuildIsDeterministic(t *testing.T) {
	log := []models.Message{
		image("s1", models.LabelSketch),
		image("s2", models.LabelSketch),
		image("s3", models.LabelSketch),
		text("t", models.RoleUser, models.LabelRequest, "a vase"),
		code("c", "return main()"),
		failure("e", "x is not defined"),
	}
	for _, mode := range []Mode{ModeGenerate, ModeFixError} {
		assert.Equal(t, Build(log, mode), Build(log, mode))
	}
}

func TestFixErrorRewritesNearestError(t *testing.T) {
	log := []models.Message{
		text("1", models.RoleUser, models.LabelRequest, "a cube"),
		code("2", "old()"),
		result("3"),
		text("4", models.RoleUser, models.LabelRequest, "add a hole"),
		image("5", models.LabelModelWithSketch),
		code("6", "broken()"),
		failure("7", "broken is not defined"),
	}

	out := Build(log, ModeFixError)
	require.Len(t, out, 3)
	assert.Equal(t, "4", out[0].ID)
	assert.Equal(t, models.TypeCode, out[1].Type)
	assert.Equal(t, models.RoleUser, out[1].Role)
	assert.Equal(t, models.RoleAssistant, log[5].Role, "input must not be modified")

	fix := out[2]
	assert.Equal(t, "7", fix.ID)
	assert.Equal(t, models.TypeText, fix.Type)
	assert.Equal(t, models.RoleUser, fix.Role)
	assert.Equal(t, prompts.FixCodeFromError("broken()", "ReferenceError: broken is not defined at 3", 1), fix.Text)
}

func TestFixErrorEscalatesWithAttempts(t *testing.T) {
	log := []models.Message{
		text("1", models.RoleUser, models.LabelRequest, "a cube"),
		code("2", "first()"),
		failure("3", "first is not defined"),
		code("4", "second()"),
		failure("5", "second is not defined"),
	}

	assert.Equal(t, 2, FixAttempt(log))
	out := Build(log, ModeFixError)
	last := out[len(out)-1]
	assert.Equal(t, prompts.FixCodeFromError("second()", "ReferenceError: second is not defined at 3", 2), last.Text)
	assert.Contains(t, last.Text, prompts.APIReference)

	// earlier errors stay as error messages for the adapter to narrate
	assert.Equal(t, models.TypeError, out[2].Type)
}

func TestFixable(t *testing.T) {
	req := text("r", models.RoleUser, models.LabelRequest, "make a cube")
	tests := []struct {
		name string
		log  []models.Message
		want bool
	}{
		{"empty", nil, false},
		{"request only", []models.Message{req}, false},
		{"error after code", []models.Message{req, code("c", "x"), failure("e", "x is not defined")}, true},
		{"success", []models.Message{req, code("c", "x"), result("m")}, false},
		{"error then success", []models.Message{req, code("c1", "x"), failure("e", "x"), code("c2", "y"), result("m")}, false},
		{"error without code", []models.Message{req, failure("e", "x")}, false},
		{"new request after error", []models.Message{req, code("c", "x"), failure("e", "x"), req}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fixable(tt.log))
			if !tt.want {
				return
			}
			errID := tt.log[lastIndex(tt.log, models.TypeError)].ID
			for _, m := range Build(tt.log, ModeFixError) {
				if m.ID == errID {
					assert.Equal(t, models.LabelRequest, m.Label, "error is rewritten into a fix request")
					return
				}
			}
			t.Fatalf("error %s missing from fix-error history", errID)
		})
	}
}

func TestRenderReviewIsSentUnwrapped(t *testing.T) {
	review := prompts.FixCodeFromImage("return main()", "a mug", "")
	log := []models.Message{
		text("1", models.RoleUser, models.LabelRequest, "a mug"),
		code("2", "return main()"),
		result("3"),
		image("4", models.LabelModelWithSketch),
		text("5", models.RoleUser, models.LabelRenderReview, review),
	}

	out := Build(log, ModeGenerate)

	last := out[len(out)-1]
	assert.Equal(t, "5", last.ID)
	assert.Equal(t, review, last.Text)
	assert.Equal(t, prompts.WrapRequest("a mug"), out[1].Text)
	for _, m := range out {
		assert.NotEqual(t, prompts.GenerateFromImages(), m.Text)
	}
}
