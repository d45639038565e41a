package engine

import (
	"context"
	"os"
	"time"

	"github.com/flowforge/codeflow-engine/dispatch"
	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/variable"
	"github.com/flowforge/codeflow-engine/workflow"
	"github.com/flowforge/codeflow-engine/workflowerr"
)

// executeTask runs a single task's steps in order (spec §4.5): resolve the
// node's environment, then each step's environment on top of it, skip steps
// whose condition resolves falsy, dispatch the rest to the runtime executor,
// and mark the task Failed and stop at the first step failure.
func (e *Engine) executeTask(ctx context.Context, runID ident.RunID, taskID ident.TaskID) error {
	ctx, span := e.tracer.Start(ctx, "engine.execute_task")
	defer span.End()
	start := time.Now()
	defer func() {
		e.metrics.RecordTimer("engine.task.duration", time.Since(start))
	}()

	t, err := e.adapter.GetTask(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	run, err := e.adapter.GetWorkflowRun(ctx, runID)
	if err != nil {
		return err
	}
	wf, err := e.loadWorkflow(ctx, runID)
	if err != nil {
		return err
	}
	node, ok := wf.NodeByID(t.NodeID)
	if !ok {
		return e.failTask(ctx, taskID, "node "+t.NodeID+" no longer exists in the workflow definition")
	}

	liveState, err := e.adapter.GetState(ctx, runID)
	if err != nil {
		return err
	}

	baseScopes := variable.Scopes{
		Params: paramsScope(wf, run.Params),
		State:  liveState,
		Matrix: matrixScope(t),
	}

	nodeEnv := variable.ResolveEnv(node.Env, baseScopes)

	cancel := e.cancelChan(runID)

	for _, step := range node.Steps {
		stepScopes := baseScopes
		stepScopes.Inputs = inputsScope(step.Action.Inputs)

		if !variable.EvalCondition(step.Condition, stepScopes) {
			continue
		}

		stepEnv := mergeEnv(nodeEnv, variable.ResolveEnv(step.Env, stepScopes))
		stepEnv["CODEMOD_TASK_ID"] = taskID.String()
		stepEnv["CODEMOD_WORKFLOW_RUN_ID"] = runID.String()

		sinkPath, err := newStateOutputsSink(taskID)
		if err != nil {
			return err
		}
		stepEnv[e.cfg.StateOutputsEnv] = sinkPath

		req := dispatch.Request{
			ActionKind: step.Action.Kind,
			Command:    variable.Resolve(step.Action.Command, stepScopes),
			Config:     configBytes(step.Action.Config),
			Env:        stepEnv,
			Runtime:    node.Runtime,
			LogSink: func(line string) {
				_ = e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: taskID, Op: task.DiffAppendLog, LogLine: line + "\n"})
			},
			Cancel: cancel,
		}

		execErr := e.dispatcher.Execute(ctx, req)

		patch, strPatch, readErr := readStateOutputs(sinkPath)
		_ = os.Remove(sinkPath)
		if readErr == nil && len(patch) > 0 {
			merged, err := e.adapter.UpdateState(ctx, runID, patch)
			if err != nil {
				return err
			}
			if err := e.schemaFor(runID).Validate(merged); err != nil {
				return e.failTask(ctx, taskID, "state after step "+stepName(step)+" violates state schema: "+err.Error())
			}
			if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: taskID, Op: task.DiffSetOutputs, Outputs: strPatch}); err != nil {
				return err
			}
			baseScopes.State = merged
		}

		if execErr != nil {
			span.RecordError(execErr)
			return e.failTask(ctx, taskID, stepFailureMessage(step, execErr))
		}
	}

	if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: taskID, Op: task.DiffSetStatus, Status: task.StatusCompleted}); err != nil {
		span.RecordError(err)
		return err
	}
	e.metrics.IncCounter("engine.task.completed", 1)
	return nil
}

func (e *Engine) failTask(ctx context.Context, taskID ident.TaskID, message string) error {
	e.metrics.IncCounter("engine.task.failed", 1)
	e.logger.Warn(ctx, "task failed", "task_id", taskID.String(), "reason", message)
	if err := e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: taskID, Op: task.DiffAppendLog, LogLine: message + "\n"}); err != nil {
		return err
	}
	return e.adapter.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: taskID, Op: task.DiffSetStatus, Status: task.StatusFailed})
}

func stepFailureMessage(step workflow.Step, err error) string {
	name := stepName(step)
	if we, ok := workflowerr.As(err); ok {
		return "step " + name + " failed: " + we.Error()
	}
	return "step " + name + " failed: " + err.Error()
}

func stepName(step workflow.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.ID
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
