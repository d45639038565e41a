package inmem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflowerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetWorkflowRun(t *testing.T) {
	ctx := context.Background()
	a := New()
	run := &task.WorkflowRun{ID: ident.NewRunID(), Status: task.RunRunning}
	require.NoError(t, a.SaveWorkflowRun(ctx, run))

	got, err := a.GetWorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Status, got.Status)

	// Returned value must be a defensive copy.
	got.Status = task.RunFailed
	got2, err := a.GetWorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, task.RunRunning, got2.Status)
}

func TestGetWorkflowRunNotFound(t *testing.T) {
	_, err := New().GetWorkflowRun(context.Background(), ident.NewRunID())
	require.Error(t, err)
	we, ok := workflowerr.As(err)
	require.True(t, ok)
	assert.Equal(t, workflowerr.NotFound, we.Kind())
}

func TestApplyTaskDiffSetStatusPreservesLogOnRetry(t *testing.T) {
	ctx := context.Background()
	a := New()
	tk := &task.Task{ID: ident.NewTaskID(), RunID: ident.NewRunID(), Status: task.StatusFailed, Log: "attempt 1 failed"}
	require.NoError(t, a.SaveTask(ctx, tk))

	require.NoError(t, a.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: tk.ID, Op: task.DiffSetStatus, Status: task.StatusPending}))

	got, err := a.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Contains(t, got.Log, "attempt 1 failed")
	assert.Contains(t, got.Log, task.RetrySeparator)
}

func TestApplyTaskDiffAppendLogAndOutputs(t *testing.T) {
	ctx := context.Background()
	a := New()
	tk := &task.Task{ID: ident.NewTaskID(), RunID: ident.NewRunID(), Status: task.StatusRunning}
	require.NoError(t, a.SaveTask(ctx, tk))

	require.NoError(t, a.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: tk.ID, Op: task.DiffAppendLog, LogLine: "line one\n"}))
	require.NoError(t, a.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: tk.ID, Op: task.DiffAppendLog, LogLine: "line two\n"}))
	require.NoError(t, a.ApplyTaskDiff(ctx, task.TaskDiff{TaskID: tk.ID, Op: task.DiffSetOutputs, Outputs: map[string]string{"a": "1"}}))

	got, err := a.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", got.Log)
	assert.Equal(t, "1", got.Outputs["a"])
}

func TestApplyTaskDiffUnknownTask(t *testing.T) {
	err := New().ApplyTaskDiff(context.Background(), task.TaskDiff{TaskID: ident.NewTaskID(), Op: task.DiffIncAttempt})
	require.Error(t, err)
	assert.True(t, workflowerr.Is(err, workflowerr.NotFound))
}

func TestUpdateStateMergeIsShallow(t *testing.T) {
	ctx := context.Background()
	a := New()
	runID := ident.NewRunID()

	s1, err := a.UpdateState(ctx, runID, map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, s1["a"])

	s2, err := a.UpdateState(ctx, runID, map[string]any{"b": "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, s2["a"], "prior keys survive a partial patch")
	assert.Equal(t, "y", s2["b"])
}

func TestUpdateStateConcurrentWritesDoNotLoseKeys(t *testing.T) {
	ctx := context.Background()
	a := New()
	runID := ident.NewRunID()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			_, _ = a.UpdateState(ctx, runID, map[string]any{key: i})
		}()
	}
	wg.Wait()

	s, err := a.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, s, 50)
}

func TestGetTasksFiltersByRun(t *testing.T) {
	ctx := context.Background()
	a := New()
	run1, run2 := ident.NewRunID(), ident.NewRunID()
	require.NoError(t, a.SaveTask(ctx, &task.Task{ID: ident.NewTaskID(), RunID: run1}))
	require.NoError(t, a.SaveTask(ctx, &task.Task{ID: ident.NewTaskID(), RunID: run1}))
	require.NoError(t, a.SaveTask(ctx, &task.Task{ID: ident.NewTaskID(), RunID: run2}))

	tasks, err := a.GetTasks(ctx, run1)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestGetTasksReturnsStableCreationOrder(t *testing.T) {
	ctx := context.Background()
	a := New()
	runID := ident.NewRunID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &task.Task{ID: ident.NewTaskID(), RunID: runID, CreatedAt: base}
	second := &task.Task{ID: ident.NewTaskID(), RunID: runID, CreatedAt: base.Add(time.Second)}
	third := &task.Task{ID: ident.NewTaskID(), RunID: runID, CreatedAt: base.Add(2 * time.Second)}
	for _, tk := range []*task.Task{third, first, second} {
		require.NoError(t, a.SaveTask(ctx, tk))
	}

	tasks, err := a.GetTasks(ctx, runID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []ident.TaskID{first.ID, second.ID, third.ID}, []ident.TaskID{tasks[0].ID, tasks[1].ID, tasks[2].ID})

	// Calling again must reproduce the exact same order (stability, not
	// just correctness of a single call).
	again, err := a.GetTasks(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, tasks, again)
}

func TestListWorkflowRunsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	oldest := &task.WorkflowRun{ID: ident.NewRunID(), CreatedAt: base}
	middle := &task.WorkflowRun{ID: ident.NewRunID(), CreatedAt: base.Add(time.Hour)}
	newest := &task.WorkflowRun{ID: ident.NewRunID(), CreatedAt: base.Add(2 * time.Hour)}
	for _, r := range []*task.WorkflowRun{oldest, newest, middle} {
		require.NoError(t, a.SaveWorkflowRun(ctx, r))
	}

	all, err := a.ListWorkflowRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []ident.RunID{newest.ID, middle.ID, oldest.ID}, []ident.RunID{all[0].ID, all[1].ID, all[2].ID})

	limited, err := a.ListWorkflowRuns(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []ident.RunID{newest.ID, middle.ID}, []ident.RunID{limited[0].ID, limited[1].ID})
}
