package task

import (
	"fmt"

	"github.com/flowforge/codeflow-engine/workflowerr"
)

// ApplyDiff mutates t in place according to diff. Every state.Adapter
// implementation funnels its task mutations through this function so the
// retry-log-preservation rule (Failed->Pending appends RetrySeparator) and
// the terminal-status guard only have to be correct in one place. Returns an
// InvalidTransition error (run through workflowerr.Guard) if diff would move
// a terminal task to a non-terminal status outside the one sanctioned
// reversal, Failed->Pending; t is left unmutated in that case. A matrix
// node's synthetic master task is exempt: its status is a derived reflection
// of its children recomputed every tick (deriveMasterStatus), not a
// dispatched task whose history the invariant protects, and a from_state
// master must be free to leave Completed behind when new children appear.
func ApplyDiff(t *Task, diff TaskDiff) error {
	switch diff.Op {
	case DiffSetStatus:
		if !t.IsMaster && t.Status.IsTerminal() && !diff.Status.IsTerminal() {
			sanctioned := t.Status == StatusFailed && diff.Status == StatusPending
			if !sanctioned {
				return workflowerr.Guard(workflowerr.InvalidTransitionf("task.ApplyDiff", string(t.ID),
					fmt.Sprintf("cannot move task from terminal status %s to %s", t.Status, diff.Status)))
			}
		}
		if t.Status == StatusFailed && diff.Status == StatusPending {
			t.Log += RetrySeparator
		}
		t.Status = diff.Status
	case DiffAppendLog:
		t.Log += diff.LogLine
	case DiffSetOutputs:
		if t.Outputs == nil {
			t.Outputs = make(map[string]string, len(diff.Outputs))
		}
		for k, v := range diff.Outputs {
			t.Outputs[k] = v
		}
	case DiffIncAttempt:
		t.Attempt++
	}
	return nil
}
