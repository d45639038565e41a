// Package engine is the execution core (spec §4.5): it owns the scheduling
// loop that turns a validated Workflow into a running set of Tasks, and
// exposes the public surface generated callers and CLIs drive (run, resume,
// cancel, trigger_all, and the read-only query methods).
//
// Engine holds no durable state itself; every mutation goes through a
// state.Adapter. What it does hold, for the lifetime of a process, is the
// expanded/validated Workflow definition for each in-flight run (so the
// scheduling loop never has to re-parse YAML on every tick) and the
// cancellation signal and loop goroutine for each run.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/codeflow-engine/dispatch"
	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/state"
	"github.com/flowforge/codeflow-engine/telemetry"
	"github.com/flowforge/codeflow-engine/workflow"
	"golang.org/x/sync/semaphore"
)

type (
	// Config tunes the scheduling loop. Zero values are replaced with
	// DefaultConfig's values by New.
	Config struct {
		// TickInterval is how often a run's scheduling loop re-evaluates
		// matrix recompilation and runnability.
		TickInterval time.Duration
		// MaxConcurrentDispatch bounds the number of tasks executing
		// concurrently across every run this Engine manages.
		MaxConcurrentDispatch int64
		// StateOutputsEnv names the environment variable a step's process
		// finds its STATE_OUTPUTS sink path under (spec §6).
		StateOutputsEnv string
	}

	// Engine runs workflows to completion against a state.Adapter and a
	// dispatch.Registry. The zero value is not usable; construct with New.
	Engine struct {
		adapter    state.Adapter
		dispatcher dispatch.Registry
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
		cfg        Config

		sem *semaphore.Weighted

		mu        sync.Mutex
		workflows map[ident.RunID]*workflow.Workflow
		schemas   map[ident.RunID]*workflow.CompiledStateSchema
		cancels   map[ident.RunID]chan struct{}
		kicks     map[ident.RunID]chan struct{}
		stopLoop  map[ident.RunID]context.CancelFunc
	}

	// Option configures an Engine at construction time.
	Option func(*Engine)
)

// DefaultConfig returns the configuration New falls back to for any
// zero-valued field.
func DefaultConfig() Config {
	return Config{
		TickInterval:          200 * time.Millisecond,
		MaxConcurrentDispatch: 16,
		StateOutputsEnv:       "CODEMOD_STATE_OUTPUTS",
	}
}

// WithLogger configures the engine's logger. Nil installs a noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Engine) {
		if logger == nil {
			logger = telemetry.NewNoopLogger()
		}
		e.logger = logger
	}
}

// WithMetrics configures the engine's metrics recorder. Nil installs a noop
// recorder.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(e *Engine) {
		if metrics == nil {
			metrics = telemetry.NewNoopMetrics()
		}
		e.metrics = metrics
	}
}

// WithTracer configures the engine's tracer. Nil installs a noop tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Engine) {
		if tracer == nil {
			tracer = telemetry.NewNoopTracer()
		}
		e.tracer = tracer
	}
}

// WithConfig overrides the scheduling loop configuration. Fields left zero
// keep DefaultConfig's value.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.TickInterval > 0 {
			e.cfg.TickInterval = cfg.TickInterval
		}
		if cfg.MaxConcurrentDispatch > 0 {
			e.cfg.MaxConcurrentDispatch = cfg.MaxConcurrentDispatch
		}
		if cfg.StateOutputsEnv != "" {
			e.cfg.StateOutputsEnv = cfg.StateOutputsEnv
		}
	}
}

// New constructs an Engine bound to adapter for persistence and dispatcher
// for step execution.
func New(adapter state.Adapter, dispatcher dispatch.Registry, opts ...Option) *Engine {
	e := &Engine{
		adapter:    adapter,
		dispatcher: dispatcher,
		logger:     telemetry.NewNoopLogger(),
		metrics:    telemetry.NewNoopMetrics(),
		tracer:     telemetry.NewNoopTracer(),
		cfg:        DefaultConfig(),
		workflows:  make(map[ident.RunID]*workflow.Workflow),
		schemas:    make(map[ident.RunID]*workflow.CompiledStateSchema),
		cancels:    make(map[ident.RunID]chan struct{}),
		kicks:      make(map[ident.RunID]chan struct{}),
		stopLoop:   make(map[ident.RunID]context.CancelFunc),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	e.sem = semaphore.NewWeighted(e.cfg.MaxConcurrentDispatch)
	return e
}

// schemaFor returns the compiled state-schema hint cached for runID, or nil
// if the run's workflow declared none.
func (e *Engine) schemaFor(runID ident.RunID) *workflow.CompiledStateSchema {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schemas[runID]
}

func (e *Engine) cancelChan(runID ident.RunID) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.cancels[runID]
	if !ok {
		ch = make(chan struct{})
		e.cancels[runID] = ch
	}
	return ch
}

// kick nudges a run's scheduling loop to re-evaluate immediately instead of
// waiting for the next tick, used after resume_workflow/trigger_all so a
// manually released task doesn't sit idle for a full tick interval.
func (e *Engine) kick(runID ident.RunID) {
	e.mu.Lock()
	ch, ok := e.kicks[runID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
