package engine

import (
	"context"
	"time"

	"github.com/flowforge/codeflow-engine/expander"
	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/scheduler"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflow"
	"github.com/flowforge/codeflow-engine/workflowerr"
)

// RunWorkflow validates wf, inlines its templates, allocates a fresh run,
// persists the initial task set, and starts the run's scheduling loop. It
// returns the new run's id once the initial state is durably persisted; the
// loop continues asynchronously.
func (e *Engine) RunWorkflow(ctx context.Context, wf *workflow.Workflow, params map[string]string) (ident.RunID, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run_workflow")
	defer span.End()

	if err := wf.Validate(); err != nil {
		span.RecordError(err)
		return "", err
	}
	expanded, err := expander.Expand(wf)
	if err != nil {
		return "", err
	}
	schema, err := workflow.CompileStateSchema(wf.StateSchema)
	if err != nil {
		return "", err
	}

	yamlBytes, err := wf.SerializeYAML()
	if err != nil {
		return "", workflowerr.New(workflowerr.Validation, "engine.RunWorkflow", "", "serializing workflow", err)
	}

	runID := ident.NewRunID()
	now := time.Now().UTC()
	run := &task.WorkflowRun{
		ID:           runID,
		Status:       task.RunPending,
		Params:       params,
		WorkflowYAML: string(yamlBytes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.adapter.SaveWorkflowRun(ctx, run); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.workflows[runID] = expanded
	e.schemas[runID] = schema
	e.mu.Unlock()

	initial, err := scheduler.CalculateInitialTasks(runID, expanded)
	if err != nil {
		return "", err
	}
	for _, t := range initial {
		if err := e.adapter.SaveTask(ctx, t); err != nil {
			return "", err
		}
	}

	run.Status = task.RunRunning
	run.UpdatedAt = time.Now().UTC()
	if err := e.adapter.SaveWorkflowRun(ctx, run); err != nil {
		return "", err
	}

	e.logger.Info(ctx, "workflow run started", "run_id", runID.String(), "node_count", len(initial))
	e.metrics.IncCounter("engine.run.started", 1)

	e.startLoop(runID)
	return runID, nil
}

// loadWorkflow returns the cached expanded Workflow for runID, rehydrating
// it from the run's persisted WorkflowYAML when the engine process was
// restarted and the cache is cold.
func (e *Engine) loadWorkflow(ctx context.Context, runID ident.RunID) (*workflow.Workflow, error) {
	e.mu.Lock()
	wf, ok := e.workflows[runID]
	e.mu.Unlock()
	if ok {
		return wf, nil
	}

	run, err := e.adapter.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	parsed, err := workflow.ParseYAML([]byte(run.WorkflowYAML))
	if err != nil {
		return nil, workflowerr.New(workflowerr.Validation, "engine.loadWorkflow", runID.String(), "parsing persisted workflow", err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	expanded, err := expander.Expand(parsed)
	if err != nil {
		return nil, err
	}
	schema, err := workflow.CompileStateSchema(parsed.StateSchema)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.workflows[runID] = expanded
	e.schemas[runID] = schema
	e.mu.Unlock()
	return expanded, nil
}
