package engine

import (
	"context"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
)

// GetWorkflowRun returns the persisted WorkflowRun for id.
func (e *Engine) GetWorkflowRun(ctx context.Context, id ident.RunID) (*task.WorkflowRun, error) {
	return e.adapter.GetWorkflowRun(ctx, id)
}

// GetWorkflowStatus returns just the run's current status.
func (e *Engine) GetWorkflowStatus(ctx context.Context, id ident.RunID) (task.RunStatus, error) {
	run, err := e.adapter.GetWorkflowRun(ctx, id)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// GetTasks returns every task belonging to runID.
func (e *Engine) GetTasks(ctx context.Context, runID ident.RunID) ([]*task.Task, error) {
	return e.adapter.GetTasks(ctx, runID)
}

// ListWorkflowRuns returns at most limit runs known to the adapter,
// newest-first by creation time. limit <= 0 means no cap.
func (e *Engine) ListWorkflowRuns(ctx context.Context, limit int) ([]*task.WorkflowRun, error) {
	return e.adapter.ListWorkflowRuns(ctx, limit)
}
