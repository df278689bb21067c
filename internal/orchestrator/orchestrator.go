// Package orchestrator drives the generate, evaluate and fix loop over a
// session log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cad-copilot/backend/internal/extract"
	"cad-copilot/backend/internal/history"
	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/prompts"
	"cad-copilot/backend/internal/sandbox"
	"cad-copilot/backend/internal/session"
	"cad-copilot/backend/pkg/logger"
)

// ErrEmptyInput is returned when a submission carries nothing to send.
var ErrEmptyInput = errors.New("nothing to send")

// ModelClient sends a history to the model and returns its reply text.
type ModelClient interface {
	Send(ctx context.Context, history []models.Message, model string) (string, error)
}

// Evaluator runs generated code.
type Evaluator interface {
	Evaluate(ctx context.Context, code string) (*sandbox.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	Sink   EventSink
	Logger *logger.Logger
}

// Orchestrator runs passes. It keeps no per-session state; callers
// serialize passes on a log.
type Orchestrator struct {
	model  ModelClient
	eval   Evaluator
	sink   EventSink
	logger *logger.Logger

	passes   metric.Int64Counter
	attempts metric.Int64Histogram
}

// New creates an Orchestrator.
func New(model ModelClient, eval Evaluator, opts Options) *Orchestrator {
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	meter := otel.Meter("cad-copilot/orchestrator")
	passes, _ := meter.Int64Counter("orchestrator.passes",
		metric.WithDescription("Orchestration passes by outcome"))
	attempts, _ := meter.Int64Histogram("orchestrator.fix_attempts",
		metric.WithDescription("Fix requests made per pass"))

	return &Orchestrator{
		model:    model,
		eval:     eval,
		sink:     opts.Sink,
		logger:   opts.Logger,
		passes:   passes,
		attempts: attempts,
	}
}

// Pass binds a log to the settings of its session.
type Pass struct {
	SessionID string
	Log       *session.Log
	Settings  Settings
}

type pass struct {
	Pass
	state    State
	attempts AttemptState
	log      *logger.Logger
}

// Input is one submission. Empty fields are skipped; SendFromIndex, when
// set, truncates the log to log[0..SendFromIndex] first.
type Input struct {
	Text            string
	Hidden          string
	Sketch          string
	ModelWithSketch string
	NormalMap       string
	Code            string
	SendFromIndex   *int
}

// Submit appends the input and runs a pass, starting at evaluation when
// code is given and at generation otherwise.
func (o *Orchestrator) Submit(ctx context.Context, p Pass, in Input) (Result, error) {
	if in.SendFromIndex != nil {
		if err := p.Log.TruncateTo(*in.SendFromIndex); err != nil {
			return Result{}, err
		}
	}

	model := p.Settings.Model
	var added []models.Message
	if in.Hidden != "" {
		m := models.NewText(models.RoleUser, models.LabelRequest, in.Hidden, model)
		m.Hidden = true
		added = append(added, m)
	}
	if in.Text != "" {
		added = append(added, models.NewText(models.RoleUser, models.LabelRequest, in.Text, model))
	}
	if in.Sketch != "" {
		added = append(added, models.NewImage(models.RoleUser, models.LabelSketch, in.Sketch, model))
	}
	if in.ModelWithSketch != "" {
		added = append(added, models.NewImage(models.RoleUser, models.LabelModelWithSketch, in.ModelWithSketch, model))
	}
	if in.NormalMap != "" {
		m := models.NewImage(models.RoleUser, models.LabelNormalMapping, in.NormalMap, model)
		m.Hidden = true
		m.HiddenText = prompts.NormalMapHiddenText
		m.Editable = false
		added = append(added, m)
	}

	if in.Code == "" && len(added) == 0 && p.Log.Len() == 0 {
		return Result{}, ErrEmptyInput
	}

	r := o.begin(p)
	for _, m := range added {
		o.append(r, m)
	}
	if in.Code != "" {
		return o.run(ctx, r, StateEvaluating, in.Code)
	}
	return o.run(ctx, r, StateGenerating, "")
}

// Rerun regenerates from log[0..index].
func (o *Orchestrator) Rerun(ctx context.Context, p Pass, index int) (Result, error) {
	return o.Submit(ctx, p, Input{SendFromIndex: &index})
}

// RunCode replaces the code at index with code and evaluates it.
func (o *Orchestrator) RunCode(ctx context.Context, p Pass, index int, code string) (Result, error) {
	if code == "" {
		return Result{}, ErrEmptyInput
	}
	from := index - 1
	return o.Submit(ctx, p, Input{Code: code, SendFromIndex: &from})
}

// Fix truncates the log to log[0..index] and asks the model to fix the
// last error. When that prefix holds no error to fix, the log is left
// untouched and no model is called.
func (o *Orchestrator) Fix(ctx context.Context, p Pass, index int) (Result, error) {
	snapshot := p.Log.Snapshot()
	if index < 0 || index >= len(snapshot) {
		return Result{}, fmt.Errorf("%w: %d (len %d)", session.ErrIndexOutOfRange, index, len(snapshot))
	}
	if !history.Fixable(snapshot[:index+1]) {
		r := o.begin(p)
		r.log.Debug("nothing to fix", "index", index)
		return o.finish(ctx, r, OutcomeNothingToFix), nil
	}
	if err := p.Log.TruncateTo(index); err != nil {
		return Result{}, err
	}
	return o.run(ctx, o.begin(p), StateFixing, "")
}

// ApplyRequest describes a change to an existing model.
type ApplyRequest struct {
	Request   string
	Sketch    string
	Model     string
	NormalMap string
	// Merged and MergedNormalMap are composited by the client. When
	// missing, the sketch or the model image is sent instead.
	Merged          string
	MergedNormalMap string
}

// Apply submits a request on the model rendered at index.
func (o *Orchestrator) Apply(ctx context.Context, p Pass, index int, req ApplyRequest) (Result, error) {
	image := firstNonEmpty(req.Merged, req.Sketch, req.Model)
	normal := firstNonEmpty(req.MergedNormalMap, req.NormalMap)
	if req.Request == "" && image == "" {
		return Result{}, ErrEmptyInput
	}
	return o.Submit(ctx, p, Input{
		Text:            req.Request,
		Hidden:          prompts.ApplyRequestIntro(req.Model != "", req.Sketch != "", req.Request != ""),
		ModelWithSketch: image,
		NormalMap:       normal,
		SendFromIndex:   &index,
	})
}

// RefineRequest carries a client render of the model at some index.
type RefineRequest struct {
	Render       string
	Instructions string
}

// Refine truncates the log to log[0..index] and sends the render together
// with the code that produced it and the request behind that code, asking
// for an improved version. Without code at or before index the log is left
// untouched and no model is called.
func (o *Orchestrator) Refine(ctx context.Context, p Pass, index int, req RefineRequest) (Result, error) {
	if req.Render == "" {
		return Result{}, ErrEmptyInput
	}
	snapshot := p.Log.Snapshot()
	if index < 0 || index >= len(snapshot) {
		return Result{}, fmt.Errorf("%w: %d (len %d)", session.ErrIndexOutOfRange, index, len(snapshot))
	}
	code, basePrompt, ok := renderedFrom(snapshot[:index+1])
	if !ok {
		r := o.begin(p)
		r.log.Debug("nothing to refine", "index", index)
		return o.finish(ctx, r, OutcomeNothingToFix), nil
	}
	if err := p.Log.TruncateTo(index); err != nil {
		return Result{}, err
	}

	model := p.Settings.Model
	review := models.NewText(models.RoleUser, models.LabelRenderReview, prompts.FixCodeFromImage(code, basePrompt, req.Instructions), model)
	review.Hidden = true
	review.Editable = false

	r := o.begin(p)
	o.append(r, models.NewImage(models.RoleUser, models.LabelModelWithSketch, req.Render, model))
	o.append(r, review)
	return o.run(ctx, r, StateGenerating, "")
}

// renderedFrom returns the newest code in log and the last visible request
// sent before it.
func renderedFrom(log []models.Message) (code, request string, ok bool) {
	i := len(log) - 1
	for i >= 0 && log[i].Type != models.TypeCode {
		i--
	}
	if i < 0 {
		return "", "", false
	}
	code = log[i].Text
	for j := i - 1; j >= 0; j-- {
		m := log[j]
		if m.Type == models.TypeText && m.Label == models.LabelRequest && !m.Hidden {
			return code, m.Text, true
		}
	}
	return code, "", true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (o *Orchestrator) begin(p Pass) *pass {
	limit := p.Settings.MaxRetryCount
	if limit < 0 {
		limit = 0
	}
	return &pass{
		Pass:     p,
		state:    StateIdle,
		attempts: AttemptState{Max: limit},
		log:      o.logger.WithSessionID(p.SessionID),
	}
}

func (o *Orchestrator) transition(r *pass, to State) {
	r.log.Debug("state transition", "from", r.state, "state", to, "attempt", r.attempts.Count)
	r.state = to
	o.sink.Publish(Event{Type: EventState, SessionID: r.SessionID, State: to, Attempts: r.attempts})
}

func (o *Orchestrator) append(r *pass, m models.Message) {
	r.Log.Append(m)
	o.sink.Publish(Event{
		Type:      EventMessage,
		SessionID: r.SessionID,
		State:     r.state,
		Attempts:  r.attempts,
		Index:     r.Log.Len() - 1,
		Message:   &m,
	})
}

func (o *Orchestrator) finish(ctx context.Context, r *pass, outcome Outcome) Result {
	o.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	o.attempts.Record(ctx, int64(r.attempts.Count))
	o.sink.Publish(Event{Type: EventDone, SessionID: r.SessionID, State: r.state, Attempts: r.attempts, Outcome: outcome})
	return Result{Outcome: outcome, State: r.state, Attempts: r.attempts}
}

// fail ends the pass on a provider or credential failure. Nothing is
// appended and the attempt counter is left as it was.
func (o *Orchestrator) fail(ctx context.Context, r *pass, err error) (Result, error) {
	r.log.Warn("model request failed", "attempt", r.attempts.Count, "state", r.state, "error", err.Error())
	o.sink.Publish(Event{Type: EventError, SessionID: r.SessionID, State: r.state, Attempts: r.attempts, Error: err.Error()})
	res := o.finish(ctx, r, OutcomeProviderError)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, r *pass, start State, code string) (Result, error) {
	model := r.Settings.Model
	o.transition(r, start)

	for {
		switch r.state {
		case StateGenerating, StateFixing:
			mode := history.ModeGenerate
			if r.state == StateFixing {
				mode = history.ModeFixError
			}
			reply, err := o.model.Send(ctx, history.Build(r.Log.Snapshot(), mode), model)
			if err != nil {
				return o.fail(ctx, r, err)
			}
			if r.state == StateFixing {
				r.attempts = r.attempts.Next()
			}

			extracted, err := extract.Code(reply)
			if err != nil {
				o.append(r, models.NewText(models.RoleAssistant, models.LabelAssistantNoCode, reply, model))
				r.log.Debug("reply contained no code", "attempt", r.attempts.Count)
				return o.finish(ctx, r, OutcomeNoCode), nil
			}
			code = extracted
			o.transition(r, StateEvaluating)

		case StateEvaluating:
			res, err := o.eval.Evaluate(ctx, code)
			o.append(r, models.NewCode(code, model))
			if err == nil {
				o.append(r, models.NewModelResult(models.ModelResult{Geometries: res.Geometries}, model))
				o.transition(r, StateSuccess)
				return o.finish(ctx, r, OutcomeSuccess), nil
			}

			o.append(r, models.NewError(descriptor(err), model))
			switch {
			case !r.Settings.AutoRetry:
				return o.finish(ctx, r, OutcomeSurfacedError), nil
			case r.attempts.Exhausted():
				o.append(r, models.NewText(models.RoleAssistant, models.LabelAssistantNoCode, prompts.GiveUp(r.attempts.Count), model))
				o.transition(r, StateGaveUp)
				r.log.Warn("giving up on fixing the code", "attempt", r.attempts.Count, "state", r.state)
				return o.finish(ctx, r, OutcomeGaveUp), nil
			}
			o.transition(r, StateFixing)

		default:
			return Result{}, fmt.Errorf("orchestrator: unexpected state %q", r.state)
		}
	}
}

func descriptor(err error) models.ErrorDescriptor {
	var evalErr *sandbox.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Descriptor
	}
	return sandbox.Classify(err)
}
