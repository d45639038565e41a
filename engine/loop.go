package engine

import (
	"context"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/scheduler"
	"github.com/flowforge/codeflow-engine/task"
)

// startLoop spawns the background goroutine that drives runID's scheduling
// loop until the run reaches Completed or Cancelled (see isFinal) or is
// explicitly stopped. A Failed run keeps ticking.
func (e *Engine) startLoop(runID ident.RunID) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.stopLoop[runID] = cancel
	kick := make(chan struct{}, 1)
	e.kicks[runID] = kick
	e.mu.Unlock()

	go e.runLoop(ctx, runID, kick)
}

func (e *Engine) stopLoopFor(runID ident.RunID) {
	e.mu.Lock()
	cancel, ok := e.stopLoop[runID]
	delete(e.stopLoop, runID)
	delete(e.kicks, runID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) runLoop(ctx context.Context, runID ident.RunID, kick <-chan struct{}) {
	ticker := timeTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		terminal, err := e.tick(ctx, runID)
		if err != nil {
			e.logger.Warn(ctx, "scheduling tick failed", "run_id", runID.String(), "error", err.Error())
			e.metrics.IncCounter("engine.tick.error", 1)
		} else if terminal {
			e.mu.Lock()
			delete(e.stopLoop, runID)
			delete(e.kicks, runID)
			e.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
	}
}

// tick runs one iteration of the scheduling loop (spec §4.5): refresh tasks
// and state, recompile matrix nodes, re-derive master task status, compute
// newly runnable tasks and dispatch them without blocking, then classify the
// run's overall status. It returns true once the run has reached Completed
// or Cancelled (isFinal); Failed does not stop the loop.
func (e *Engine) tick(ctx context.Context, runID ident.RunID) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "engine.tick")
	defer span.End()
	start := time.Now()
	defer func() {
		e.metrics.RecordTimer("engine.tick.duration", time.Since(start), "run_id", runID.String())
	}()

	run, err := e.adapter.GetWorkflowRun(ctx, runID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if isFinal(run.Status) {
		return true, nil
	}

	wf, err := e.loadWorkflow(ctx, runID)
	if err != nil {
		return false, err
	}

	tasks, err := e.adapter.GetTasks(ctx, runID)
	if err != nil {
		return false, err
	}
	state, err := e.adapter.GetState(ctx, runID)
	if err != nil {
		return false, err
	}

	changes, err := scheduler.CalculateMatrixTaskChanges(runID, wf, tasks, state)
	if err != nil {
		return false, err
	}
	if err := e.applyMatrixChanges(ctx, changes); err != nil {
		return false, err
	}

	tasks, err = e.adapter.GetTasks(ctx, runID)
	if err != nil {
		return false, err
	}
	if err := e.refreshMasterStatuses(ctx, tasks, changes.ResolvedMasters); err != nil {
		return false, err
	}

	tasks, err = e.adapter.GetTasks(ctx, runID)
	if err != nil {
		return false, err
	}
	runnable, err := scheduler.FindRunnableTasks(wf, tasks)
	if err != nil {
		return false, err
	}
	for _, id := range runnable.TasksToAwaitTrigger {
		if err := e.markAwaitingTrigger(ctx, tasks, id); err != nil {
			return false, err
		}
	}
	for _, id := range runnable.RunnableTasks {
		// Flip to Running synchronously, before spawning the dispatch
		// goroutine, so the next tick never sees this task as still Pending
		// and dispatches it a second time.
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: id, Op: task.DiffSetStatus, Status: task.StatusRunning}); err != nil {
			span.RecordError(err)
			return false, err
		}
		e.metrics.IncCounter("engine.task.dispatched", 1)
		e.spawnDispatch(runID, id)
	}

	tasks, err = e.adapter.GetTasks(ctx, runID)
	if err != nil {
		return false, err
	}
	newStatus := classifyRunStatus(run.Status, wf, tasks)
	if newStatus != run.Status {
		run.Status = newStatus
		run.UpdatedAt = timeNow()
		if err := e.adapter.SaveWorkflowRun(ctx, run); err != nil {
			span.RecordError(err)
			return false, err
		}
		e.logger.Info(ctx, "run status changed", "run_id", runID.String(), "status", string(newStatus))
		e.metrics.IncCounter("engine.run.status_changed", 1, "status", string(newStatus))
	}

	if newStatus == task.RunCancelled {
		e.stopLoopFor(runID)
	}
	return isFinal(newStatus), nil
}

// isFinal reports whether s is a status the scheduling loop never needs to
// revisit. Failed is deliberately excluded: a matrix recompilation can reset
// a Failed child to Pending (spec §5), which can bring a Failed run back to
// Running on the next tick, so the loop keeps ticking a Failed run rather
// than abandoning it the way it abandons Completed/Cancelled runs.
func isFinal(s task.RunStatus) bool {
	return s == task.RunCompleted || s == task.RunCancelled
}

func (e *Engine) applyMatrixChanges(ctx context.Context, changes *scheduler.MatrixTaskChanges) error {
	for _, t := range changes.NewTasks {
		if err := e.adapter.SaveTask(ctx, t); err != nil {
			return err
		}
	}
	for _, id := range changes.TasksToResetToPending {
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: id, Op: task.DiffSetStatus, Status: task.StatusPending}); err != nil {
			return err
		}
	}
	for _, id := range changes.TasksToMarkWontDo {
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: id, Op: task.DiffSetStatus, Status: task.StatusWontDo}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) refreshMasterStatuses(ctx context.Context, tasks []*task.Task, resolvedMasters []ident.TaskID) error {
	resolved := make(map[ident.TaskID]bool, len(resolvedMasters))
	for _, id := range resolvedMasters {
		resolved[id] = true
	}
	for _, t := range tasks {
		if !t.IsMaster {
			continue
		}
		want := deriveMasterStatus(childrenOf(tasks, t.ID), resolved[t.ID])
		if want == t.Status {
			continue
		}
		if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: t.ID, Op: task.DiffSetStatus, Status: want}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) markAwaitingTrigger(ctx context.Context, tasks []*task.Task, id ident.TaskID) error {
	for _, t := range tasks {
		if t.ID == id {
			if t.Status == task.StatusAwaitingTrigger {
				return nil
			}
			break
		}
	}
	return e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: id, Op: task.DiffSetStatus, Status: task.StatusAwaitingTrigger})
}

// spawnDispatch starts a task's execution on its own goroutine so the
// scheduling loop never blocks on in-flight work; MaxConcurrentDispatch caps
// how many of these run at once across every managed run.
func (e *Engine) spawnDispatch(runID ident.RunID, taskID ident.TaskID) {
	go func() {
		ctx := context.Background()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		if err := e.executeTask(ctx, runID, taskID); err != nil {
			e.logger.Warn(ctx, "task execution failed", "run_id", runID.String(), "task_id", taskID.String(), "error", err.Error())
		}
		e.kick(runID)
	}()
}
