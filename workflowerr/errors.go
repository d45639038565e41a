// Package workflowerr defines the error kinds shared by the scheduler, the
// state adapter, and the engine (spec §7). Every error the core returns to a
// caller is a *Error so callers can switch on Kind without parsing messages.
package workflowerr

import (
	"errors"
	"fmt"
)

// Kind classifies a core failure into the small set of categories callers
// need to decide retry/UX behavior.
type Kind string

const (
	// Validation indicates a cycle in the DAG, a missing template reference,
	// or another malformed-workflow condition. Nothing is persisted.
	Validation Kind = "validation"

	// NotFound indicates an unknown run_id or task_id.
	NotFound Kind = "not_found"

	// Storage indicates a state adapter failure. The scheduling loop logs a
	// failed tick and retries it at the next tick interval or kick; it does
	// not back off, and repeated failures do not mark the run Failed.
	Storage Kind = "storage"

	// StepExecution indicates a runtime executor returned a non-zero
	// outcome. The task is marked Failed with the executor's message.
	StepExecution Kind = "step_execution"

	// Cancellation is observed cooperatively; it is not an error surfaced
	// to callers but is represented here so internal plumbing can use the
	// same error type uniformly.
	Cancellation Kind = "cancellation"

	// InvalidTransition indicates an attempted terminal→non-terminal status
	// transition outside the two sanctioned reversals (Failed→Pending,
	// AwaitingTrigger→Pending). This is an internal bug, never a normal
	// runtime outcome.
	InvalidTransition Kind = "invalid_transition"
)

// Error is the single error type returned across the core's public surface.
// It carries a Kind for programmatic dispatch, an optional subject (the
// run_id/task_id/node_id the error concerns), and an optional wrapped cause.
type Error struct {
	kind    Kind
	op      string
	subject string
	message string
	cause   error
}

// New constructs an Error. kind is required; op names the operation that
// failed (e.g. "run_workflow", "apply_task_diff"); subject is the
// run/task/node identifier involved, if any.
func New(kind Kind, op, subject, message string, cause error) *Error {
	if kind == "" {
		panic("workflowerr: kind is required")
	}
	return &Error{kind: kind, op: op, subject: subject, message: message, cause: cause}
}

// Validation constructs a Validation error.
func Validation(op, subject, message string) *Error {
	return New(Validation, op, subject, message, nil)
}

// NotFound constructs a NotFound error.
func NotFound(op, subject string) *Error {
	return New(NotFound, op, subject, "not found", nil)
}

// Storagef constructs a Storage error wrapping cause.
func Storagef(op, subject string, cause error) *Error {
	return New(Storage, op, subject, "storage operation failed", cause)
}

// StepExecutionf constructs a StepExecution error.
func StepExecutionf(op, subject, message string) *Error {
	return New(StepExecution, op, subject, message, nil)
}

// InvalidTransitionf constructs an InvalidTransition error. Callers that hit
// this in a debug build should additionally call Guard to panic loudly.
func InvalidTransitionf(op, subject, message string) *Error {
	return New(InvalidTransition, op, subject, message, nil)
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Op returns the operation name that produced the error, if set.
func (e *Error) Op() string { return e.op }

// Subject returns the run/task/node identifier the error concerns, if set.
func (e *Error) Subject() string { return e.subject }

func (e *Error) Error() string {
	op := e.op
	if op == "" {
		op = "operation"
	}
	subj := ""
	if e.subject != "" {
		subj = fmt.Sprintf(" (%s)", e.subject)
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	return fmt.Sprintf("%s: %s%s: %s", e.kind, op, subj, msg)
}

// Unwrap returns the underlying cause to preserve the original error chain.
func (e *Error) Unwrap() error { return e.cause }

// As returns the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	we, ok := As(err)
	return ok && we.kind == kind
}

// debugGuard is overridden by tests/debug builds that want InvalidTransition
// to panic immediately instead of merely being returned as an error.
var debugGuard = false

// EnableGuard turns on panic-on-InvalidTransition behavior for Guard. Call
// once during process init in non-production builds/tests.
func EnableGuard() { debugGuard = true }

// Guard panics if err is an InvalidTransition error and guard mode is
// enabled; otherwise it returns err unchanged. InvalidTransition represents
// an internal bug (spec §7): a single bad run should not silently corrupt
// task state, so development builds fail loudly while production returns a
// normal error to the caller instead of taking the whole engine down.
func Guard(err error) error {
	if debugGuard {
		if we, ok := As(err); ok && we.kind == InvalidTransition {
			panic(we)
		}
	}
	return err
}
