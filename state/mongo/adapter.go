package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/state"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflowerr"
)

// adapter implements state.Adapter by delegating to a Mongo Client for
// durable storage and a RunLocker for the per-task/per-run serialization
// the interface contract requires across concurrent engine processes.
type adapter struct {
	client Client
	locker RunLocker
}

// NewAdapter returns a state.Adapter backed by client for storage and locker
// for cross-process serialization.
func NewAdapter(client Client, locker RunLocker) (state.Adapter, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if locker == nil {
		return nil, errors.New("locker is required")
	}
	return &adapter{client: client, locker: locker}, nil
}

func (a *adapter) SaveWorkflowRun(ctx context.Context, run *task.WorkflowRun) error {
	if err := a.client.UpsertRun(ctx, run); err != nil {
		return workflowerr.Storagef("state.SaveWorkflowRun", run.ID.String(), err)
	}
	return nil
}

func (a *adapter) GetWorkflowRun(ctx context.Context, id ident.RunID) (*task.WorkflowRun, error) {
	run, err := a.client.LoadRun(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, workflowerr.NotFound("state.GetWorkflowRun", id.String())
		}
		return nil, workflowerr.Storagef("state.GetWorkflowRun", id.String(), err)
	}
	return run, nil
}

func (a *adapter) ListWorkflowRuns(ctx context.Context, limit int) ([]*task.WorkflowRun, error) {
	runs, err := a.client.ListRuns(ctx, limit)
	if err != nil {
		return nil, workflowerr.Storagef("state.ListWorkflowRuns", "", err)
	}
	return runs, nil
}

func (a *adapter) SaveTask(ctx context.Context, t *task.Task) error {
	if err := a.client.UpsertTask(ctx, t); err != nil {
		return workflowerr.Storagef("state.SaveTask", t.ID.String(), err)
	}
	return nil
}

func (a *adapter) GetTask(ctx context.Context, id ident.TaskID) (*task.Task, error) {
	t, err := a.client.LoadTask(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, workflowerr.NotFound("state.GetTask", id.String())
		}
		return nil, workflowerr.Storagef("state.GetTask", id.String(), err)
	}
	return t, nil
}

func (a *adapter) GetTasks(ctx context.Context, runID ident.RunID) ([]*task.Task, error) {
	tasks, err := a.client.ListTasks(ctx, runID)
	if err != nil {
		return nil, workflowerr.Storagef("state.GetTasks", runID.String(), err)
	}
	return tasks, nil
}

// ApplyTaskDiff locks the task's id, not its run: sibling matrix children
// dispatched concurrently touch different tasks and must not serialize
// behind each other the way state.inmem's per-run lock would force them to.
func (a *adapter) ApplyTaskDiff(ctx context.Context, diff task.TaskDiff) error {
	unlock, err := a.locker.Lock(ctx, "task:"+diff.TaskID.String())
	if err != nil {
		return workflowerr.Storagef("state.ApplyTaskDiff", diff.TaskID.String(), err)
	}
	defer unlock(context.WithoutCancel(ctx))

	t, err := a.client.LoadTask(ctx, diff.TaskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return workflowerr.NotFound("state.ApplyTaskDiff", diff.TaskID.String())
		}
		return workflowerr.Storagef("state.ApplyTaskDiff", diff.TaskID.String(), err)
	}

	if err := task.ApplyDiff(t, diff); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	if err := a.client.UpsertTask(ctx, t); err != nil {
		return workflowerr.Storagef("state.ApplyTaskDiff", diff.TaskID.String(), err)
	}
	return nil
}

func (a *adapter) GetState(ctx context.Context, runID ident.RunID) (map[string]any, error) {
	s, err := a.client.LoadState(ctx, runID)
	if err != nil {
		return nil, workflowerr.Storagef("state.GetState", runID.String(), err)
	}
	return s, nil
}

// UpdateState locks the run (not a task) since the patch applies to state
// shared by every task in the run, the same scope state/inmem/adapter.go's
// runMu guards.
func (a *adapter) UpdateState(ctx context.Context, runID ident.RunID, patch map[string]any) (map[string]any, error) {
	unlock, err := a.locker.Lock(ctx, "run:"+runID.String())
	if err != nil {
		return nil, workflowerr.Storagef("state.UpdateState", runID.String(), err)
	}
	defer unlock(context.WithoutCancel(ctx))

	current, err := a.client.LoadState(ctx, runID)
	if err != nil {
		return nil, workflowerr.Storagef("state.UpdateState", runID.String(), err)
	}
	for k, v := range patch {
		current[k] = v
	}
	if err := a.client.SaveState(ctx, runID, current); err != nil {
		return nil, workflowerr.Storagef("state.UpdateState", runID.String(), err)
	}
	return current, nil
}
