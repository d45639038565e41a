package engine

import (
	"context"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
)

// CancelWorkflow marks runID Cancelled, transitions every non-terminal task
// to its cancelled terminal state, and signals in-flight executors to stop
// cooperatively. Tasks already terminal are left untouched: a Completed or
// Failed task's outcome is not retroactively erased by a later cancel.
func (e *Engine) CancelWorkflow(ctx context.Context, runID ident.RunID) error {
	ctx, span := e.tracer.Start(ctx, "engine.cancel_workflow")
	defer span.End()

	run, err := e.adapter.GetWorkflowRun(ctx, runID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if isFinal(run.Status) {
		return nil
	}

	run.Status = task.RunCancelled
	run.UpdatedAt = time.Now().UTC()
	if err := e.adapter.SaveWorkflowRun(ctx, run); err != nil {
		return err
	}

	tasks, err := e.adapter.GetTasks(ctx, runID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{
			TaskID: t.ID,
			Op:     task.DiffSetStatus,
			Status: task.StatusCancelled,
		}); err != nil {
			return err
		}
	}

	e.mu.Lock()
	ch, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}

	e.stopLoopFor(runID)
	e.logger.Info(ctx, "workflow run cancelled", "run_id", runID.String())
	e.metrics.IncCounter("engine.run.cancelled", 1)
	return nil
}

// ResumeWorkflow transitions the named tasks from AwaitingTrigger to
// Pending and dispatches them. Task ids not currently AwaitingTrigger
// (including unknown ones) are silently ignored, per spec §4.5.
func (e *Engine) ResumeWorkflow(ctx context.Context, runID ident.RunID, taskIDs []ident.TaskID) error {
	ctx, span := e.tracer.Start(ctx, "engine.resume_workflow")
	defer span.End()

	resumed := 0
	for _, id := range taskIDs {
		t, err := e.adapter.GetTask(ctx, id)
		if err != nil || t.RunID != runID || t.Status != task.StatusAwaitingTrigger {
			continue
		}
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{
			TaskID: id,
			Op:     task.DiffSetStatus,
			Status: task.StatusPending,
		}); err != nil {
			span.RecordError(err)
			return err
		}
		// A Pending task of a manual node is gated again by the next tick,
		// so the released task is moved to Running and dispatched here.
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{
			TaskID: id,
			Op:     task.DiffSetStatus,
			Status: task.StatusRunning,
		}); err != nil {
			span.RecordError(err)
			return err
		}
		e.metrics.IncCounter("engine.task.dispatched", 1)
		e.spawnDispatch(runID, id)
		resumed++
	}
	e.metrics.IncCounter("engine.task.resumed", float64(resumed))
	e.kick(runID)
	return nil
}

// TriggerAll resumes every AwaitingTrigger task in runID.
func (e *Engine) TriggerAll(ctx context.Context, runID ident.RunID) error {
	tasks, err := e.adapter.GetTasks(ctx, runID)
	if err != nil {
		return err
	}
	var ids []ident.TaskID
	for _, t := range tasks {
		if t.Status == task.StatusAwaitingTrigger {
			ids = append(ids, t.ID)
		}
	}
	return e.ResumeWorkflow(ctx, runID, ids)
}
