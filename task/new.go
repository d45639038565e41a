package task

import (
	"encoding/json"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
)

// New creates a fresh task for a node, either its single non-matrix task or
// the synthetic master task of a matrix node.
func New(runID ident.RunID, nodeID string, isMaster bool) *Task {
	now := timeNow().UTC()
	return &Task{
		ID:        ident.NewTaskID(),
		RunID:     runID,
		NodeID:    nodeID,
		Status:    StatusPending,
		IsMaster:  isMaster,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMatrixChild creates one matrix child task under masterID, hashing
// value with MatrixHash to derive its identity key.
func NewMatrixChild(runID ident.RunID, nodeID string, masterID ident.TaskID, value map[string]any) *Task {
	t := New(runID, nodeID, false)
	t.MasterTask = masterID
	t.MatrixKey = MatrixHash(value)
	if raw, err := json.Marshal(value); err == nil {
		t.MatrixValue = raw
	}
	return t
}

// timeNow is overridden in tests that need deterministic timestamps.
var timeNow = time.Now
