package engine

import (
	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflow"
)

// deriveMasterStatus recomputes a matrix node's synthetic master task status
// from its children (spec §4.5): Running if any child is still active
// (Pending/Running/AwaitingTrigger), Failed if any child Failed and none are
// active, Completed once every child is Completed or WontDo. With no children
// yet, the master is Completed if from_state resolved to an empty array this
// tick (resolved is true) and Pending otherwise (from_state never populated).
func deriveMasterStatus(children []*task.Task, resolved bool) task.Status {
	if len(children) == 0 {
		if resolved {
			return task.StatusCompleted
		}
		return task.StatusPending
	}
	anyActive, anyFailed := false, false
	for _, c := range children {
		switch c.Status {
		case task.StatusPending, task.StatusRunning, task.StatusAwaitingTrigger:
			anyActive = true
		case task.StatusFailed:
			anyFailed = true
		}
	}
	switch {
	case anyActive:
		return task.StatusRunning
	case anyFailed:
		return task.StatusFailed
	default:
		return task.StatusCompleted
	}
}

// childrenOf returns every non-master task belonging to masterID.
func childrenOf(tasks []*task.Task, masterID ident.TaskID) []*task.Task {
	var out []*task.Task
	for _, t := range tasks {
		if !t.IsMaster && t.MasterTaskID() == masterID {
			out = append(out, t)
		}
	}
	return out
}

// representativeStatuses reduces the task set to one status per node: a
// matrix node's master status, or the single task's own status otherwise.
// Nodes with no task yet are omitted (treated as not-yet-started).
func representativeStatuses(wf *workflow.Workflow, tasks []*task.Task) []task.Status {
	byNode := make(map[string][]*task.Task, len(wf.Nodes))
	for _, t := range tasks {
		byNode[t.NodeID] = append(byNode[t.NodeID], t)
	}

	statuses := make([]task.Status, 0, len(wf.Nodes))
	for _, node := range wf.Nodes {
		nodeTasks := byNode[node.ID]
		if len(nodeTasks) == 0 {
			continue
		}
		var master *task.Task
		for _, t := range nodeTasks {
			if t.IsMaster {
				master = t
				break
			}
		}
		if master != nil {
			statuses = append(statuses, master.Status)
			continue
		}
		statuses = append(statuses, nodeTasks[0].Status)
	}
	return statuses
}

// classifyRunStatus derives the overall WorkflowRun status from the current
// per-node statuses (spec §4.5): a Cancelled run stays Cancelled regardless
// of task state; otherwise it is Failed once every node is terminal and at
// least one Failed, Completed once every node is terminal and none Failed,
// AwaitingTrigger while at least one node awaits a trigger and nothing is
// Pending or Running, and Running otherwise.
func classifyRunStatus(current task.RunStatus, wf *workflow.Workflow, tasks []*task.Task) task.RunStatus {
	if current == task.RunCancelled {
		return task.RunCancelled
	}

	statuses := representativeStatuses(wf, tasks)
	if len(statuses) == 0 {
		return task.RunPending
	}

	allTerminal, anyFailed, anyAwait, anyActive := true, false, false, false
	for _, s := range statuses {
		if !s.IsTerminal() {
			allTerminal = false
		}
		switch s {
		case task.StatusFailed:
			anyFailed = true
		case task.StatusAwaitingTrigger:
			anyAwait = true
		case task.StatusPending, task.StatusRunning:
			anyActive = true
		}
	}

	switch {
	case allTerminal && anyFailed:
		return task.RunFailed
	case allTerminal:
		return task.RunCompleted
	case anyAwait && !anyActive:
		return task.RunAwaitingTrigger
	default:
		return task.RunRunning
	}
}
