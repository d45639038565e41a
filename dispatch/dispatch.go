// Package dispatch is the runtime dispatcher (spec §4.6): a registry of
// executors keyed by action-kind discriminant. The core defines the
// contract; concrete executors (shell, container, ast-grep) are external
// collaborators registered against it.
package dispatch

import (
	"context"

	"github.com/flowforge/codeflow-engine/telemetry"
	"github.com/flowforge/codeflow-engine/workflow"
)

// Request bundles everything an executor needs to run one step: the
// resolved command, environment, working directory, and the step's opaque
// action configuration for action kinds with no fixed command shape
// (AstGrep, JSAstGrep).
type Request struct {
	ActionKind workflow.ActionKind
	Command    string
	Config     map[string][]byte
	Env        map[string]string
	WorkDir    string
	Runtime    *workflow.Runtime

	// LogSink receives captured stdout/stderr lines in emission order.
	LogSink func(line string)
	// Cancel is closed when the run is cancelled; executors must observe it
	// cooperatively (spec §5) and propagate it to child processes.
	Cancel <-chan struct{}
}

// Executor runs one resolved step and reports success or a failure message.
// Implementations must return promptly after Cancel is closed.
type Executor interface {
	Execute(ctx context.Context, req Request) error
}

type (
	registry struct {
		executors map[workflow.ActionKind]Executor
		logger    telemetry.Logger
		tracer    telemetry.Tracer
	}

	// Option configures a Registry at construction time.
	Option func(*registry)
)

// Registry routes a step's action kind to its registered Executor.
type Registry interface {
	Execute(ctx context.Context, req Request) error
	// Register adds or replaces the executor for kind.
	Register(kind workflow.ActionKind, exec Executor)
}

// WithLogger configures the registry's logger. When nil, a noop logger is
// used.
func WithLogger(logger telemetry.Logger) Option {
	return func(r *registry) {
		if logger == nil {
			logger = telemetry.NewNoopLogger()
		}
		r.logger = logger
	}
}

// WithTracer configures the registry's tracer. When nil, a noop tracer is
// used.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(r *registry) {
		if tracer == nil {
			tracer = telemetry.NewNoopTracer()
		}
		r.tracer = tracer
	}
}

// WithExecutor pre-registers an executor for kind at construction time.
func WithExecutor(kind workflow.ActionKind, exec Executor) Option {
	return func(r *registry) { r.executors[kind] = exec }
}

// New constructs a Registry with no executors registered by default;
// callers register the kinds they support via WithExecutor or Register.
func New(opts ...Option) Registry {
	r := &registry{
		executors: make(map[workflow.ActionKind]Executor),
		logger:    telemetry.NewNoopLogger(),
		tracer:    telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

func (r *registry) Register(kind workflow.ActionKind, exec Executor) {
	r.executors[kind] = exec
}

func (r *registry) Execute(ctx context.Context, req Request) error {
	exec, ok := r.executors[req.ActionKind]
	if !ok {
		return &UnregisteredKindError{Kind: req.ActionKind}
	}

	ctx, span := r.tracer.Start(ctx, "dispatch.execute")
	defer span.End()

	r.logger.Debug(ctx, "dispatching step", "action_kind", string(req.ActionKind))
	if err := exec.Execute(ctx, req); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// UnregisteredKindError is returned when no executor is registered for an
// action kind a step references.
type UnregisteredKindError struct {
	Kind workflow.ActionKind
}

func (e *UnregisteredKindError) Error() string {
	return "dispatch: no executor registered for action kind " + string(e.Kind)
}
