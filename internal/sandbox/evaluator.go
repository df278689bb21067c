package sandbox

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/blake2b"

	"cad-copilot/backend/internal/geometry"
	"cad-copilot/backend/pkg/cache"
	"cad-copilot/backend/pkg/logger"
)

// Result is a successful evaluation.
type Result struct {
	Geometries []geometry.Geometry
}

// Outcome is what the evaluator caches per program: a result or a
// deterministic program error.
type Outcome struct {
	Result *Result
	Err    *EvalError
}

// Options configures an Evaluator.
type Options struct {
	Timeout          time.Duration
	MaxCallStackSize int
	// Cache, when set, memoizes outcomes by code hash.
	Cache  *cache.Cache[Outcome]
	Logger *logger.Logger
}

// Evaluator runs generated JSCAD programs in a fresh goja runtime each time.
type Evaluator struct {
	timeout  time.Duration
	maxStack int
	cache    *cache.Cache[Outcome]
	logger   *logger.Logger
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// New creates an Evaluator.
func New(opts Options) *Evaluator {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxCallStackSize <= 0 {
		opts.MaxCallStackSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	meter := otel.Meter("cad-copilot/sandbox")
	duration, _ := meter.Float64Histogram("sandbox.evaluation.duration",
		metric.WithDescription("Wall time spent evaluating generated code"),
		metric.WithUnit("s"))
	outcomes, _ := meter.Int64Counter("sandbox.evaluations",
		metric.WithDescription("Evaluations by outcome"))

	return &Evaluator{
		timeout:  opts.Timeout,
		maxStack: opts.MaxCallStackSize,
		cache:    opts.Cache,
		logger:   opts.Logger,
		duration: duration,
		outcomes: outcomes,
	}
}

func cacheKey(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Evaluate runs code and returns its geometry. Failures in the program
// itself come back as *EvalError.
func (e *Evaluator) Evaluate(ctx context.Context, code string) (*Result, error) {
	ctx, span := otel.Tracer("cad-copilot/sandbox").Start(ctx, "sandbox.evaluate")
	defer span.End()

	key := cacheKey(code)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			if cached.Err != nil {
				return nil, cached.Err
			}
			return cached.Result, nil
		}
	}

	start := time.Now()
	res, err := e.evaluate(ctx, code)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.duration.Record(ctx, elapsed.Seconds())
	e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("evaluation failed", "error", err.Error(), "elapsed_ms", elapsed.Milliseconds())
		var evalErr *EvalError
		if e.cache != nil && errors.As(err, &evalErr) && cacheable(evalErr) {
			e.cache.Set(key, Outcome{Err: evalErr})
		}
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(key, Outcome{Result: res})
	}
	return res, nil
}

func cacheable(err *EvalError) bool {
	switch err.Descriptor.Kind {
	case "TimeoutError", "AbortError", "InternalError":
		return false
	}
	return true
}

func (e *Evaluator) evaluate(ctx context.Context, code string) (*Result, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(e.maxStack)

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt(timeoutError{msg: fmt.Sprintf("evaluation exceeded %s", e.timeout)})
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	solids, err := run(vm, code)
	if err != nil {
		return nil, &EvalError{Descriptor: Classify(err)}
	}
	return &Result{Geometries: geometry.Transform(solids)}, nil
}
