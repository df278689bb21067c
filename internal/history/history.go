// Package history turns a conversation log into the message sequence sent
// to the model. Build is a pure function of its inputs.
package history

import (
	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/prompts"
)

// Mode selects the kind of history to build.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeFixError Mode = "fix-error"
)

// How many images of each label reach the model, newest first.
const (
	KeepSketches        = 2
	KeepModelWithSketch = 1
	KeepNormalMaps      = 1
)

var keep = map[models.Label]int{
	models.LabelSketch:          KeepSketches,
	models.LabelModelWithSketch: KeepModelWithSketch,
	models.LabelNormalMapping:   KeepNormalMaps,
}

var imageNames = map[models.Label]string{
	models.LabelSketch:          "sketch",
	models.LabelModelWithSketch: "render of the model with a sketch",
	models.LabelNormalMapping:   "normal map render",
}

// Build returns the history for mode. The input log is never modified.
func Build(log []models.Message, mode Mode) []models.Message {
	out := redact(log)
	if mode == ModeFixError {
		return fixError(out)
	}
	return generate(out)
}

// redact replaces older images beyond the per-label budget with a
// placeholder text message in the same position and role.
func redact(log []models.Message) []models.Message {
	out := make([]models.Message, len(log))
	copy(out, log)

	seen := map[models.Label]int{}
	for i := len(out) - 1; i >= 0; i-- {
		m := out[i]
		if m.Type != models.TypeImage {
			continue
		}
		limit, ok := keep[m.Label]
		if !ok {
			continue
		}
		seen[m.Label]++
		if seen[m.Label] <= limit {
			continue
		}
		out[i] = models.Message{
			ID:        m.ID,
			Role:      m.Role,
			Type:      models.TypeText,
			Label:     models.LabelDescription,
			Text:      prompts.RedactedImage(imageNames[m.Label]),
			Editable:  false,
			Model:     m.Model,
			Timestamp: m.Timestamp,
		}
	}
	return out
}

// activeModel returns the most recent message naming a model.
func activeModel(log []models.Message) (string, int) {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Model != "" {
			return log[i].Model, i
		}
	}
	return "", -1
}

// synthetic builds a derived text message. IDs and timestamps come from
// the anchor so repeated builds are identical.
func synthetic(anchor models.Message, suffix string, role models.Role, label models.Label, text, model string) models.Message {
	return models.Message{
		ID:        anchor.ID + suffix,
		Role:      role,
		Type:      models.TypeText,
		Label:     label,
		Text:      text,
		Model:     model,
		Timestamp: anchor.Timestamp,
	}
}

// currentTurn returns the start of the trailing run of user text and
// image messages, the input the next reply answers.
func currentTurn(log []models.Message) int {
	i := len(log)
	for i > 0 {
		m := log[i-1]
		if m.Role != models.RoleUser || (m.Type != models.TypeText && m.Type != models.TypeImage) {
			break
		}
		i--
	}
	return i
}

func generate(log []models.Message) []models.Message {
	model, modelIdx := activeModel(log)

	var anchor models.Message
	if len(log) > 0 {
		anchor = log[0]
	}
	out := make([]models.Message, 0, len(log)+4)
	out = append(out, synthetic(anchor, ":description", models.RoleUser, models.LabelDescription, prompts.Description(), model))

	turn := currentTurn(log)
	request := -1
	hasImage := false
	for i := turn; i < len(log); i++ {
		switch {
		case log[i].Type == models.TypeText && (log[i].Label == models.LabelRequest || log[i].Label == models.LabelRenderReview):
			request = i
		case log[i].Type == models.TypeImage:
			hasImage = true
		}
	}

	for i, m := range log {
		switch m.Type {
		case models.TypeImage:
			switch m.Label {
			case models.LabelSketch:
				out = append(out, synthetic(m, ":framing", m.Role, models.LabelDescription, prompts.SketchFraming(), m.Model))
			case models.LabelNormalMapping:
				out = append(out, synthetic(m, ":framing", m.Role, models.LabelDescription, prompts.NormalMapFraming(), m.Model))
			}
		case models.TypeText:
			if m.Label == models.LabelRequest {
				if i == request {
					m.Text = prompts.GenerateCode(m.Text)
				} else {
					m.Text = prompts.WrapRequest(m.Text)
				}
			}
		case models.TypeCode, models.TypeModelResult, models.TypeError:
		}
		out = append(out, m)
	}

	if request < 0 && hasImage {
		src := anchor
		if modelIdx >= 0 {
			src = log[modelIdx]
		}
		out = append(out, synthetic(src, ":instruction", models.RoleUser, models.LabelRequest, prompts.GenerateFromImages(), model))
	}
	return out
}

// FixAttempt reports which consecutive fix this is: the number of errors
// since the last request, image or successful result.
func FixAttempt(log []models.Message) int {
	n := 0
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		switch {
		case m.Type == models.TypeError:
			n++
		case m.Type == models.TypeModelResult,
			m.Type == models.TypeImage,
			m.Type == models.TypeText && m.Label == models.LabelRequest:
			return n
		}
	}
	return n
}

// Fixable reports whether fix-error mode has something to fix: an error
// after the last successful result, with code before it.
func Fixable(log []models.Message) bool {
	errIdx := lastIndex(log, models.TypeError)
	if errIdx < 0 || errIdx < lastIndex(log, models.TypeModelResult) {
		return false
	}
	return lastIndex(log[:errIdx], models.TypeCode) >= 0
}

func lastIndex(log []models.Message, typ models.MessageType) int {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Type == typ {
			return i
		}
	}
	return -1
}

func fixError(log []models.Message) []models.Message {
	if lastIndex(log, models.TypeCode) < 0 {
		return log
	}
	attempt := FixAttempt(log)

	start := lastIndex(log, models.TypeModelResult)
	if start < 0 {
		start = 0
	}

	out := make([]models.Message, 0, len(log)-start)
	for _, m := range log[start:] {
		if m.Type == models.TypeImage || m.Type == models.TypeModelResult {
			continue
		}
		if m.Type == models.TypeCode {
			m.Role = models.RoleUser
		}
		out = append(out, m)
	}

	errIdx := lastIndex(out, models.TypeError)
	if errIdx < 0 {
		return out
	}
	code, ok := nearestCode(out[:errIdx])
	if !ok {
		code, ok = nearestCode(log[:start])
	}
	if !ok {
		return out
	}

	e := out[errIdx]
	out[errIdx] = models.Message{
		ID:        e.ID,
		Role:      models.RoleUser,
		Type:      models.TypeText,
		Label:     models.LabelRequest,
		Text:      prompts.FixCodeFromError(code, e.ErrorText(), attempt),
		Model:     e.Model,
		Timestamp: e.Timestamp,
	}
	return out
}

func nearestCode(log []models.Message) (string, bool) {
	if i := lastIndex(log, models.TypeCode); i >= 0 {
		return log[i].Text, true
	}
	return "", false
}
