// Package inmem provides an in-memory implementation of the state.Adapter
// interface for tests and local development. It is not durable: process
// restart loses all state.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/state"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflowerr"
)

type adapter struct {
	mu    sync.Mutex
	runs  map[ident.RunID]*task.WorkflowRun
	tasks map[ident.TaskID]*task.Task
	// runMu serializes state mutations per run, so two concurrent
	// UpdateState calls against the same run never lose an update.
	runMu   map[ident.RunID]*sync.Mutex
	states  map[ident.RunID]map[string]any
}

// New returns a new in-memory state.Adapter. Suitable for unit tests and
// local development; not durable or safe for multi-process use.
func New() state.Adapter {
	return &adapter{
		runs:   make(map[ident.RunID]*task.WorkflowRun),
		tasks:  make(map[ident.TaskID]*task.Task),
		runMu:  make(map[ident.RunID]*sync.Mutex),
		states: make(map[ident.RunID]map[string]any),
	}
}

func (a *adapter) lockFor(runID ident.RunID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.runMu[runID]
	if !ok {
		m = &sync.Mutex{}
		a.runMu[runID] = m
	}
	return m
}

func (a *adapter) SaveWorkflowRun(_ context.Context, run *task.WorkflowRun) error {
	cp := *run
	a.mu.Lock()
	a.runs[run.ID] = &cp
	a.mu.Unlock()
	return nil
}

func (a *adapter) GetWorkflowRun(_ context.Context, id ident.RunID) (*task.WorkflowRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run, ok := a.runs[id]
	if !ok {
		return nil, workflowerr.NotFound("state.GetWorkflowRun", id.String())
	}
	cp := *run
	return &cp, nil
}

func (a *adapter) ListWorkflowRuns(_ context.Context, limit int) ([]*task.WorkflowRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*task.WorkflowRun, 0, len(a.runs))
	for _, run := range a.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *adapter) SaveTask(_ context.Context, t *task.Task) error {
	cp := *t
	lock := a.lockFor(t.RunID)
	lock.Lock()
	defer lock.Unlock()
	a.mu.Lock()
	a.tasks[t.ID] = &cp
	a.mu.Unlock()
	return nil
}

func (a *adapter) GetTask(_ context.Context, id ident.TaskID) (*task.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return nil, workflowerr.NotFound("state.GetTask", id.String())
	}
	cp := *t
	return &cp, nil
}

func (a *adapter) GetTasks(_ context.Context, runID ident.RunID) ([]*task.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*task.Task
	for _, t := range a.tasks {
		if t.RunID == runID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ApplyTaskDiff mutates a single task under its run's lock, so sibling
// matrix children dispatched concurrently never interleave their
// read-modify-write of the same task.
func (a *adapter) ApplyTaskDiff(_ context.Context, diff task.TaskDiff) error {
	a.mu.Lock()
	t, ok := a.tasks[diff.TaskID]
	a.mu.Unlock()
	if !ok {
		return workflowerr.NotFound("state.ApplyTaskDiff", diff.TaskID.String())
	}

	lock := a.lockFor(t.RunID)
	lock.Lock()
	defer lock.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok = a.tasks[diff.TaskID]
	if !ok {
		return workflowerr.NotFound("state.ApplyTaskDiff", diff.TaskID.String())
	}
	cp := *t
	if err := task.ApplyDiff(&cp, diff); err != nil {
		return err
	}
	cp.UpdatedAt = now()
	a.tasks[diff.TaskID] = &cp
	return nil
}

func (a *adapter) GetState(_ context.Context, runID ident.RunID) (map[string]any, error) {
	lock := a.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.states[runID]
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

func (a *adapter) UpdateState(_ context.Context, runID ident.RunID, patch map[string]any) (map[string]any, error) {
	lock := a.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[runID]
	if !ok {
		s = make(map[string]any)
	}
	for k, v := range patch {
		s[k] = v
	}
	a.states[runID] = s

	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// now is a var so tests can stub it; production uses wall-clock time.
var now = func() time.Time { return time.Now().UTC() }
