// Package ident provides the 128-bit run and task identifiers used across
// the engine. Both are opaque UUIDs in canonical 36-character string form
// (e.g. "CODEMOD_TASK_ID" injected into step environments, per spec §6).
package ident

import "github.com/google/uuid"

// RunID uniquely identifies a WorkflowRun. The zero value is not a valid ID.
type RunID string

// TaskID uniquely identifies a Task. The zero value is not a valid ID.
type TaskID string

// NewRunID allocates a fresh, randomly generated RunID.
func NewRunID() RunID { return RunID(uuid.NewString()) }

// NewTaskID allocates a fresh, randomly generated TaskID.
func NewTaskID() TaskID { return TaskID(uuid.NewString()) }

// String returns the canonical 36-character form.
func (r RunID) String() string { return string(r) }

// String returns the canonical 36-character form.
func (t TaskID) String() string { return string(t) }

// Valid reports whether id parses as a well-formed UUID.
func (r RunID) Valid() bool { return isValidUUID(string(r)) }

// Valid reports whether id parses as a well-formed UUID.
func (t TaskID) Valid() bool { return isValidUUID(string(t)) }

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
