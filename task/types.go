// Package task defines the runtime state types the scheduler and engine
// operate on: WorkflowRun, Task, and the stable matrix hash used to identify
// matrix-fanned-out children across recompilations (spec §3).
package task

import (
	"encoding/json"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
)

// RunStatus is the terminal/non-terminal lifecycle status of a WorkflowRun.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	// RunAwaitingTrigger holds when at least one task is gated behind a
	// manual trigger and nothing else is Pending or Running.
	RunAwaitingTrigger RunStatus = "awaiting_trigger"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether s is a terminal run status.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// WorkflowRun is one execution of a Workflow definition.
type WorkflowRun struct {
	ID        ident.RunID       `json:"id" bson:"_id"`
	Status    RunStatus         `json:"status" bson:"status"`
	Params    map[string]string `json:"params,omitempty" bson:"params,omitempty"`
	// WorkflowYAML is the raw workflow definition this run was started
	// from, persisted verbatim so resume/recompile never depends on a
	// caller re-supplying the definition.
	WorkflowYAML string    `json:"workflow_yaml" bson:"workflow_yaml"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// Status is the lifecycle status of a single Task.
type Status string

const (
	// StatusPending is runnable once its dependencies are satisfied.
	StatusPending Status = "pending"
	// StatusAwaitingTrigger is dependency-satisfied but gated behind a
	// manual trigger (node-level Manual kind or Trigger override).
	StatusAwaitingTrigger Status = "awaiting_trigger"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	// StatusWontDo marks a matrix child abandoned because its generating
	// value disappeared from a recomputed from_state matrix.
	StatusWontDo   Status = "wont_do"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is a terminal task status: no further
// transition is expected without an explicit reset (Failed/AwaitingTrigger
// -> Pending are the two sanctioned reversals, handled by the scheduler, not
// by this predicate).
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusWontDo || s == StatusCancelled
}

// Task is one schedulable unit of work: either a node's single task (no
// matrix strategy) or one matrix child. MatrixKey is the stable hash
// (hex-encoded) of MatrixValue and is empty for non-matrix tasks and for the
// synthetic master task of a matrix node.
type Task struct {
	ID        ident.TaskID    `json:"id" bson:"_id"`
	RunID     ident.RunID     `json:"run_id" bson:"run_id"`
	NodeID    string          `json:"node_id" bson:"node_id"`
	Status    Status          `json:"status" bson:"status"`
	IsMaster  bool            `json:"is_master" bson:"is_master"`
	// MasterTask, when set, names the synthetic master task of the matrix
	// node this child belongs to. Empty for non-matrix tasks and for master
	// tasks themselves.
	MasterTask  ident.TaskID    `json:"master_task_id,omitempty" bson:"master_task_id,omitempty"`
	MatrixKey   string          `json:"matrix_key,omitempty" bson:"matrix_key,omitempty"`
	MatrixValue json.RawMessage `json:"matrix_value,omitempty" bson:"matrix_value,omitempty"`
	Attempt   int             `json:"attempt" bson:"attempt"`
	Log       string          `json:"log,omitempty" bson:"log,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty" bson:"outputs,omitempty"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
}

// MasterTaskID returns the id of the matrix master task this task belongs
// to; it is empty for non-matrix tasks and for master tasks themselves.
func (t *Task) MasterTaskID() ident.TaskID { return t.MasterTask }

// DiffOp names the kind of mutation a TaskDiff applies.
type DiffOp string

const (
	DiffSetStatus  DiffOp = "set_status"
	DiffAppendLog  DiffOp = "append_log"
	DiffSetOutputs DiffOp = "set_outputs"
	DiffIncAttempt DiffOp = "inc_attempt"
)

// TaskDiff is a single atomic mutation applied to a Task by the state
// adapter's apply_task_diff (§4.1). Diffs, not whole-task overwrites, are the
// unit of mutation so concurrent dispatch of sibling matrix children never
// clobbers each other's log/output writes.
type TaskDiff struct {
	TaskID  ident.TaskID      `json:"task_id"`
	Op      DiffOp            `json:"op"`
	Status  Status            `json:"status,omitempty"`
	LogLine string            `json:"log_line,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// RetrySeparator is appended to a task's preserved log before it is reset
// from Failed back to Pending by a matrix recompilation, so the prior
// attempt's output is never silently discarded (SPEC_FULL.md §4).
const RetrySeparator = "\n--- retrying after matrix recompilation ---\n"
