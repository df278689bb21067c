package models

import (
	"time"

	"github.com/google/uuid"
)

func newMessage(role Role, typ MessageType, model string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Type:      typ,
		Editable:  true,
		Model:     model,
		Timestamp: time.Now().UTC(),
	}
}

// NewText creates a text message.
func NewText(role Role, label Label, text, model string) Message {
	m := newMessage(role, TypeText, model)
	m.Label = label
	m.Text = text
	return m
}

// NewImage creates an image message from a data URL.
func NewImage(role Role, label Label, dataURL, model string) Message {
	m := newMessage(role, TypeImage, model)
	m.Label = label
	m.Image = dataURL
	return m
}

// NewCode creates an assistant code message. Code is hidden from the
// transcript since the rendered model stands in for it.
func NewCode(code, model string) Message {
	m := newMessage(RoleAssistant, TypeCode, model)
	m.Text = code
	m.Hidden = true
	return m
}

// NewModelResult creates a model-result message.
func NewModelResult(result ModelResult, model string) Message {
	m := newMessage(RoleUser, TypeModelResult, model)
	m.Result = &result
	m.Editable = false
	return m
}

// NewError creates an error message from an evaluation failure.
func NewError(desc ErrorDescriptor, model string) Message {
	m := newMessage(RoleUser, TypeError, model)
	m.Error = &desc
	m.Text = desc.String()
	m.Editable = false
	return m
}
