// Package state defines the durable state adapter contract (spec §4.1): the
// boundary between the scheduler/engine and whatever persists workflow runs,
// tasks, and the run's state map. Two implementations are provided: inmem
// (tests, local development) and mongo (durable production backend, §4.1/§6).
package state

import (
	"context"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
)

// Adapter is the storage boundary the engine and scheduler depend on.
// Implementations must give per-task-id linearizability (two concurrent
// ApplyTaskDiff calls against the same task never interleave their
// read-modify-write) and serialize concurrent state mutations for a given
// run (two concurrent UpdateState calls against the same run never lose an
// update). All methods return a *workflowerr.Error; NotFound for unknown
// ids, Storage for backend failures.
type Adapter interface {
	SaveWorkflowRun(ctx context.Context, run *task.WorkflowRun) error
	GetWorkflowRun(ctx context.Context, id ident.RunID) (*task.WorkflowRun, error)
	// ListWorkflowRuns returns at most limit runs, newest-first by
	// CreatedAt (spec §4.1). limit <= 0 means no cap.
	ListWorkflowRuns(ctx context.Context, limit int) ([]*task.WorkflowRun, error)

	SaveTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id ident.TaskID) (*task.Task, error)
	// GetTasks returns every task belonging to runID in a stable order:
	// CreatedAt ascending, ID ascending as a tiebreaker (spec §4.1).
	GetTasks(ctx context.Context, runID ident.RunID) ([]*task.Task, error)
	ApplyTaskDiff(ctx context.Context, diff task.TaskDiff) error

	// GetState returns the run's current state map. A run with no state yet
	// returns an empty, non-nil map.
	GetState(ctx context.Context, runID ident.RunID) (map[string]any, error)
	// UpdateState merges patch into the run's state map (shallow, top-level
	// key replacement) and returns the map after merging.
	UpdateState(ctx context.Context, runID ident.RunID, patch map[string]any) (map[string]any, error)
}
