// Package scheduler computes task generation and runnability for a
// workflow run (spec §4.2). It holds no state of its own: every function
// takes the current workflow definition, task set, and state map as input
// and returns the set of changes the engine should persist. All three
// functions are pure and safe to call repeatedly against the same inputs.
package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/statepath"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflow"
	"github.com/flowforge/codeflow-engine/workflowerr"
)

// MatrixTaskChanges is the result of recompiling matrix nodes against the
// current state map (corresponds to calculate_matrix_task_changes).
type MatrixTaskChanges struct {
	NewTasks              []*task.Task
	TasksToMarkWontDo     []ident.TaskID
	TasksToResetToPending []ident.TaskID
	MasterTasksToUpdate   []ident.TaskID
	// ResolvedMasters lists masters whose from_state path resolved to an
	// array this tick (possibly empty), as opposed to not resolving at all
	// yet. An empty array is a complete, valid result (spec §8: "empty
	// from_state array => zero child tasks; master Completed"), not the
	// same as from_state never having populated.
	ResolvedMasters []ident.TaskID
}

// RunnableTaskChanges is the result of scanning pending tasks for
// runnability (corresponds to find_runnable_tasks).
type RunnableTaskChanges struct {
	TasksToAwaitTrigger []ident.TaskID
	RunnableTasks       []ident.TaskID
}

// CalculateInitialTasks creates the initial task set for a freshly started
// workflow run: one task per non-matrix node, or a master task plus one
// child per static matrix value for matrix nodes. Matrix nodes driven by
// from_state produce only their master task here; children are created by
// CalculateMatrixTaskChanges once state exists.
func CalculateInitialTasks(runID ident.RunID, wf *workflow.Workflow) ([]*task.Task, error) {
	var tasks []*task.Task
	for _, node := range wf.Nodes {
		if node.Strategy != nil && node.Strategy.Kind == workflow.StrategyMatrix {
			master := task.New(runID, node.ID, true)
			tasks = append(tasks, master)
			for _, value := range node.Strategy.Values {
				tasks = append(tasks, task.NewMatrixChild(runID, node.ID, master.ID, rawMapToAny(value)))
			}
			continue
		}
		tasks = append(tasks, task.New(runID, node.ID, false))
	}
	return tasks, nil
}

// rawMapToAny decodes a map of workflow.RawValue (as parsed from a workflow
// definition's static matrix values) into a plain map[string]any suitable
// for hashing and variable substitution.
func rawMapToAny(raw map[string]workflow.RawValue) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			out[k] = decoded
		}
	}
	return out
}

// CalculateMatrixTaskChanges recomputes matrix children for every
// from_state-driven matrix node against the current state map. It diffs the
// freshly resolved item set against existing children (matched by stable
// matrix hash): unseen hashes become new tasks, hashes that persist but are
// Failed get reset to Pending (preserving their log, per the state adapter's
// ApplyTaskDiff), and hashes that disappear get marked WontDo unless already
// terminal-complete.
func CalculateMatrixTaskChanges(runID ident.RunID, wf *workflow.Workflow, tasks []*task.Task, state map[string]any) (*MatrixTaskChanges, error) {
	changes := &MatrixTaskChanges{}

	for _, node := range wf.Nodes {
		if node.Strategy == nil || node.Strategy.Kind != workflow.StrategyMatrix || node.Strategy.FromState == "" {
			continue
		}
		stateKey := node.Strategy.FromState

		var masterID ident.TaskID
		found := false
		for _, t := range tasks {
			if t.NodeID == node.ID && t.IsMaster {
				masterID = t.ID
				found = true
				break
			}
		}
		if !found {
			master := task.New(runID, node.ID, true)
			changes.NewTasks = append(changes.NewTasks, master)
			masterID = master.ID
		}
		if !containsTaskID(changes.MasterTasksToUpdate, masterID) {
			changes.MasterTasksToUpdate = append(changes.MasterTasksToUpdate, masterID)
		}

		resolved, ok := statepath.Resolve(state, stateKey)
		var items []any
		switch {
		case !ok:
			// path does not resolve: no items this round, and the master
			// stays Pending since from_state has never actually populated.
		case isObject(resolved):
			// object-keyed from_state is not supported; spec resolves this
			// to "no items" rather than an error (SPEC_FULL.md §5).
			continue
		default:
			if arr, ok := resolved.([]any); ok {
				items = arr
				changes.ResolvedMasters = append(changes.ResolvedMasters, masterID)
			}
			// A non-nil, non-array, non-object value (malformed from_state)
			// also produces zero items but is not marked resolved: spec only
			// requires this case not to crash, not that the master complete.
		}

		existingByHash := make(map[string]*task.Task)
		for _, t := range tasks {
			if t.MasterTaskID() == masterID && t.MatrixValue != nil {
				existingByHash[t.MatrixKey] = t
			}
		}

		currentHashes := make(map[string]bool, len(items))
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			hash := task.MatrixHash(obj)
			currentHashes[hash] = true
			if _, exists := existingByHash[hash]; !exists {
				changes.NewTasks = append(changes.NewTasks, task.NewMatrixChild(runID, node.ID, masterID, obj))
			}
		}

		for hash, t := range existingByHash {
			if currentHashes[hash] && t.Status == task.StatusFailed {
				changes.TasksToResetToPending = append(changes.TasksToResetToPending, t.ID)
			}
		}
		for hash, t := range existingByHash {
			if !currentHashes[hash] && t.Status != task.StatusCompleted && t.Status != task.StatusWontDo {
				changes.TasksToMarkWontDo = append(changes.TasksToMarkWontDo, t.ID)
			}
		}
	}

	return changes, nil
}

// FindRunnableTasks scans pending, non-master tasks whose dependencies are
// fully satisfied and partitions them into those that must await an explicit
// trigger (their node is Manual or has a Manual Trigger override) and those
// that can be dispatched now. A dependency is satisfied only when every task
// for that dependency node exists and is Completed; an absent dependency
// task (not yet created, e.g. a from_state matrix not yet recompiled) counts
// as unsatisfied.
func FindRunnableTasks(wf *workflow.Workflow, tasks []*task.Task) (*RunnableTaskChanges, error) {
	changes := &RunnableTaskChanges{}

	for _, t := range tasks {
		if t.Status != task.StatusPending || t.IsMaster {
			continue
		}

		node, ok := wf.NodeByID(t.NodeID)
		if !ok {
			return nil, workflowerr.Validation("scheduler.FindRunnableTasks", t.NodeID,
				fmt.Sprintf("task %s references unknown node", t.ID))
		}

		satisfied := true
		for _, depID := range node.DependsOn {
			depTasks := tasksForNode(tasks, depID)
			if len(depTasks) == 0 {
				satisfied = false
				break
			}
			allCompleted := true
			for _, dt := range depTasks {
				if dt.Status != task.StatusCompleted {
					allCompleted = false
					break
				}
			}
			if !allCompleted {
				satisfied = false
				break
			}
		}

		if !satisfied {
			continue
		}
		if node.IsManual() {
			changes.TasksToAwaitTrigger = append(changes.TasksToAwaitTrigger, t.ID)
			continue
		}
		changes.RunnableTasks = append(changes.RunnableTasks, t.ID)
	}

	return changes, nil
}

func tasksForNode(tasks []*task.Task, nodeID string) []*task.Task {
	var out []*task.Task
	for _, t := range tasks {
		if t.NodeID == nodeID {
			out = append(out, t)
		}
	}
	return out
}

func containsTaskID(ids []ident.TaskID, id ident.TaskID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}
