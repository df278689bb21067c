package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"cad-copilot/backend/internal/models"
)

func TestHarnessOffset(t *testing.T) {
	assert.Equal(t, 2, harnessOffset)
}

func TestClassifyTraceSubtractsOffset(t *testing.T) {
	d := Classify(errors.New("Error: boom\n\tat main (model.js:5:7(12))"))
	assert.Equal(t, models.ErrorDescriptor{Kind: "Error", Message: "Error: boom\n\tat main (model.js:5:7(12))", Line: 3, Column: 7}, d)
}

func TestClassifyDropsPositionInsideHarness(t *testing.T) {
	d := Classify(errors.New("at model.js:1:4"))
	assert.Zero(t, d.Line)
	assert.Zero(t, d.Column)
}

func TestClassifySyntaxText(t *testing.T) {
	d := classifySyntax("SyntaxError: model.js: Line 4:9 Unexpected token )")
	assert.Equal(t, "SyntaxError", d.Kind)
	assert.Equal(t, "Unexpected token )", d.Message)
	assert.Equal(t, 2, d.Line)
	assert.Equal(t, 9, d.Column)
}

func TestDescriptorString(t *testing.T) {
	assert.Equal(t, "TypeError: bad at 3:7", models.ErrorDescriptor{Kind: "TypeError", Message: "bad", Line: 3, Column: 7}.String())
	assert.Equal(t, "TypeError: bad at 3", models.ErrorDescriptor{Kind: "TypeError", Message: "bad", Line: 3}.String())
	assert.Equal(t, "TypeError: bad", models.ErrorDescriptor{Kind: "TypeError", Message: "bad"}.String())
}
