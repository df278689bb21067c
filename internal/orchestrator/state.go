package orchestrator

import "cad-copilot/backend/internal/models"

// State is a step of one orchestration pass.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateEvaluating State = "evaluating"
	StateFixing     State = "fixing"
	StateSuccess    State = "success"
	StateGaveUp     State = "gave_up"
)

// Outcome is how a pass ended.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeGaveUp        Outcome = "gave_up"
	OutcomeNoCode        Outcome = "no_code"
	OutcomeSurfacedError Outcome = "surfaced_error"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeNothingToFix  Outcome = "nothing_to_fix"
)

// AttemptState counts fix requests within one pass.
type AttemptState struct {
	Count int `json:"count"`
	Max   int `json:"max"`
}

// Exhausted reports whether no fix request is left.
func (a AttemptState) Exhausted() bool { return a.Count >= a.Max }

// Next returns the state after one more fix request.
func (a AttemptState) Next() AttemptState { return AttemptState{Count: a.Count + 1, Max: a.Max} }

// Settings are the per-session knobs of the loop.
type Settings struct {
	Model         string
	AutoRetry     bool
	MaxRetryCount int
}

// Result summarizes a finished pass.
type Result struct {
	Outcome  Outcome      `json:"outcome"`
	State    State        `json:"state"`
	Attempts AttemptState `json:"attempts"`
}

// EventType distinguishes events published during a pass.
type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// Event reports progress of a pass to live listeners.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	State     State           `json:"state,omitempty"`
	Attempts  AttemptState    `json:"attempts"`
	Index     int             `json:"index,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	Outcome   Outcome         `json:"outcome,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// EventSink receives events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
