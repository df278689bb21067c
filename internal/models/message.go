package models

import (
	"fmt"
	"time"

	"cad-copilot/backend/internal/geometry"
)

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType discriminates the variants of Message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeCode        MessageType = "code"
	TypeModelResult MessageType = "model-result"
	TypeError       MessageType = "error"
)

// Label refines the purpose of text and image messages. A render-review
// text is a complete prompt and reaches the model unwrapped.
type Label string

const (
	LabelNone            Label = ""
	LabelRequest         Label = "request"
	LabelDescription     Label = "description"
	LabelAssistantNoCode Label = "assistant-no-code"
	LabelRenderReview    Label = "render-review"

	LabelSketch          Label = "sketch"
	LabelModelWithSketch Label = "model-with-sketch"
	LabelNormalMapping   Label = "normal-mapping"
)

// ErrorDescriptor is a structured evaluation failure.
// Line and Column are zero when the position is unknown.
type ErrorDescriptor struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// String renders "<kind>: <message> at <line>:<col>", dropping missing position parts.
func (d ErrorDescriptor) String() string {
	s := d.Kind + ": " + d.Message
	if d.Line > 0 {
		s += fmt.Sprintf(" at %d", d.Line)
		if d.Column > 0 {
			s += fmt.Sprintf(":%d", d.Column)
		}
	}
	return s
}

// ModelResult carries the renderer-neutral geometry of a successful evaluation.
type ModelResult struct {
	Geometries []geometry.Geometry `json:"geometries"`
}

// Message is one entry of a conversation log. Type selects which payload
// fields are meaningful:
//
//	text         Text, Label
//	image        Image (data URL), Label
//	code         Text (JavaScript source)
//	model-result Result
//	error        Text (formatted) and Error
type Message struct {
	ID         string           `json:"id"`
	Role       Role             `json:"role"`
	Type       MessageType      `json:"type"`
	Label      Label            `json:"label,omitempty"`
	Text       string           `json:"text,omitempty"`
	Image      string           `json:"image,omitempty"`
	Result     *ModelResult     `json:"result,omitempty"`
	Error      *ErrorDescriptor `json:"error,omitempty"`
	Hidden     bool             `json:"hidden,omitempty"`
	HiddenText string           `json:"hiddenText,omitempty"`
	Editable   bool             `json:"editable"`
	Model      string           `json:"model,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Validate checks that the payload matches the variant.
func (m Message) Validate() error {
	switch m.Type {
	case TypeText:
		switch m.Label {
		case LabelNone, LabelRequest, LabelDescription, LabelAssistantNoCode, LabelRenderReview:
			return nil
		}
		return fmt.Errorf("invalid label %q for text message", m.Label)
	case TypeImage:
		switch m.Label {
		case LabelSketch, LabelModelWithSketch, LabelNormalMapping:
		default:
			return fmt.Errorf("invalid label %q for image message", m.Label)
		}
		if m.Image == "" {
			return fmt.Errorf("image message has no data")
		}
		return nil
	case TypeCode:
		return nil
	case TypeModelResult:
		if m.Result == nil {
			return fmt.Errorf("model-result message has no result")
		}
		return nil
	case TypeError:
		if m.Error == nil && m.Text == "" {
			return fmt.Errorf("error message has no descriptor")
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

// IsImage reports whether m is an image with the given label.
func (m Message) IsImage(label Label) bool {
	return m.Type == TypeImage && m.Label == label
}

// ErrorText returns the formatted error of an error message.
func (m Message) ErrorText() string {
	if m.Error != nil {
		return m.Error.String()
	}
	return m.Text
}
