package scheduler

import (
	"testing"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateInitialTasksLinear(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}}
	tasks, err := CalculateInitialTasks(ident.NewRunID(), wf)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, tk := range tasks {
		assert.Equal(t, task.StatusPending, tk.Status)
		assert.False(t, tk.IsMaster)
	}
}

func TestCalculateInitialTasksStaticMatrix(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID: "fanout",
		Strategy: &workflow.Strategy{
			Kind: workflow.StrategyMatrix,
			Values: []map[string]workflow.RawValue{
				{"shard": rawString("1/2")},
				{"shard": rawString("2/2")},
			},
		},
	}}}
	tasks, err := CalculateInitialTasks(ident.NewRunID(), wf)
	require.NoError(t, err)
	require.Len(t, tasks, 3) // 1 master + 2 children

	var master *task.Task
	var children []*task.Task
	for _, tk := range tasks {
		if tk.IsMaster {
			master = tk
		} else {
			children = append(children, tk)
		}
	}
	require.NotNil(t, master)
	require.Len(t, children, 2)
	for _, c := range children {
		assert.Equal(t, master.ID, c.MasterTaskID())
		assert.NotEmpty(t, c.MatrixKey)
	}
	assert.NotEqual(t, children[0].MatrixKey, children[1].MatrixKey)
}

func TestFindRunnableTasksLinearDependency(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	runID := ident.NewRunID()
	taskA := task.New(runID, "a", false)
	taskB := task.New(runID, "b", false)

	changes, err := FindRunnableTasks(wf, []*task.Task{taskA, taskB})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ident.TaskID{taskA.ID}, changes.RunnableTasks, "b must wait for a to complete")

	taskA.Status = task.StatusCompleted
	changes, err = FindRunnableTasks(wf, []*task.Task{taskA, taskB})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ident.TaskID{taskB.ID}, changes.RunnableTasks)
}

func TestFindRunnableTasksManualNodeAwaitsTrigger(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{ID: "gate", Kind: workflow.NodeManual}}}
	runID := ident.NewRunID()
	taskGate := task.New(runID, "gate", false)

	changes, err := FindRunnableTasks(wf, []*task.Task{taskGate})
	require.NoError(t, err)
	assert.Empty(t, changes.RunnableTasks)
	assert.ElementsMatch(t, []ident.TaskID{taskGate.ID}, changes.TasksToAwaitTrigger)
}

func TestFindRunnableTasksSkipsMasterAndNonPending(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{ID: "a"}}}
	runID := ident.NewRunID()
	master := task.New(runID, "a", true)
	running := task.New(runID, "a", false)
	running.Status = task.StatusRunning

	changes, err := FindRunnableTasks(wf, []*task.Task{master, running})
	require.NoError(t, err)
	assert.Empty(t, changes.RunnableTasks)
}

func TestCalculateMatrixTaskChangesFromStateAddsAndAbandons(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID:       "shards",
		Strategy: &workflow.Strategy{Kind: workflow.StrategyMatrix, FromState: "shard_list"},
	}}}
	runID := ident.NewRunID()

	initial, err := CalculateInitialTasks(runID, wf)
	require.NoError(t, err)
	require.Len(t, initial, 1) // just the master, no values yet

	state := map[string]any{
		"shard_list": []any{
			map[string]any{"shard": "1/2"},
			map[string]any{"shard": "2/2"},
		},
	}
	changes, err := CalculateMatrixTaskChanges(runID, wf, initial, state)
	require.NoError(t, err)
	assert.Len(t, changes.NewTasks, 2)
	assert.Empty(t, changes.TasksToMarkWontDo)

	allTasks := append(append([]*task.Task{}, initial...), changes.NewTasks...)

	// Recompute with one shard removed: its task should be marked WontDo.
	state2 := map[string]any{"shard_list": []any{map[string]any{"shard": "1/2"}}}
	changes2, err := CalculateMatrixTaskChanges(runID, wf, allTasks, state2)
	require.NoError(t, err)
	assert.Empty(t, changes2.NewTasks)
	assert.Len(t, changes2.TasksToMarkWontDo, 1)
}

func TestCalculateMatrixTaskChangesResetsFailedToPending(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID:       "shards",
		Strategy: &workflow.Strategy{Kind: workflow.StrategyMatrix, FromState: "shard_list"},
	}}}
	runID := ident.NewRunID()
	master := task.New(runID, "shards", true)
	child := task.NewMatrixChild(runID, "shards", master.ID, map[string]any{"shard": "1/2"})
	child.Status = task.StatusFailed
	child.Log = "boom"

	state := map[string]any{"shard_list": []any{map[string]any{"shard": "1/2"}}}
	changes, err := CalculateMatrixTaskChanges(runID, wf, []*task.Task{master, child}, state)
	require.NoError(t, err)
	assert.Empty(t, changes.NewTasks)
	assert.ElementsMatch(t, []ident.TaskID{child.ID}, changes.TasksToResetToPending)
}

func TestCalculateMatrixTaskChangesObjectFromStateIsSkipped(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID:       "shards",
		Strategy: &workflow.Strategy{Kind: workflow.StrategyMatrix, FromState: "shard_map"},
	}}}
	runID := ident.NewRunID()
	state := map[string]any{"shard_map": map[string]any{"a": 1}}

	initial, err := CalculateInitialTasks(runID, wf)
	require.NoError(t, err)
	changes, err := CalculateMatrixTaskChanges(runID, wf, initial, state)
	require.NoError(t, err)
	assert.Empty(t, changes.NewTasks, "object-keyed from_state produces no items")
}

func TestCalculateMatrixTaskChangesMissingStateKeyProducesNoItems(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID:       "shards",
		Strategy: &workflow.Strategy{Kind: workflow.StrategyMatrix, FromState: "missing"},
	}}}
	runID := ident.NewRunID()
	initial, err := CalculateInitialTasks(runID, wf)
	require.NoError(t, err)
	changes, err := CalculateMatrixTaskChanges(runID, wf, initial, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, changes.NewTasks)
}

func TestCalculateMatrixTaskChangesEmptyFromStateArrayResolvesTheMaster(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID:       "shards",
		Strategy: &workflow.Strategy{Kind: workflow.StrategyMatrix, FromState: "shard_list"},
	}}}
	runID := ident.NewRunID()

	initial, err := CalculateInitialTasks(runID, wf)
	require.NoError(t, err)
	require.Len(t, initial, 1) // just the master

	changes, err := CalculateMatrixTaskChanges(runID, wf, initial, map[string]any{"shard_list": []any{}})
	require.NoError(t, err)
	assert.Empty(t, changes.NewTasks)
	assert.ElementsMatch(t, []ident.TaskID{initial[0].ID}, changes.ResolvedMasters,
		"an empty array is a resolved result, distinct from from_state never having populated")
}

func TestCalculateMatrixTaskChangesMalformedFromStateProducesNoItemsAndNoCrash(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{{
		ID:       "shards",
		Strategy: &workflow.Strategy{Kind: workflow.StrategyMatrix, FromState: "shard_list"},
	}}}
	runID := ident.NewRunID()

	initial, err := CalculateInitialTasks(runID, wf)
	require.NoError(t, err)

	changes, err := CalculateMatrixTaskChanges(runID, wf, initial, map[string]any{"shard_list": "not-a-list"})
	require.NoError(t, err)
	assert.Empty(t, changes.NewTasks)
	assert.Empty(t, changes.ResolvedMasters, "a non-array value is not a valid resolution")
}

func TestFindRunnableTasksDependencyWithZeroTasksIsNotRunnable(t *testing.T) {
	wf := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	runID := ident.NewRunID()
	taskB := task.New(runID, "b", false)

	// No task exists for "a" at all yet (e.g. a from_state matrix not yet
	// recompiled), not merely an incomplete one.
	changes, err := FindRunnableTasks(wf, []*task.Task{taskB})
	require.NoError(t, err)
	assert.Empty(t, changes.RunnableTasks)
}

func rawString(s string) workflow.RawValue { return workflow.RawValue(`"` + s + `"`) }
