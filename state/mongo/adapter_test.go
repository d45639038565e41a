package mongo

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflowerr"
	"github.com/stretchr/testify/require"
)

// fakeClient is a hand-rolled in-memory stand-in for Client, letting the
// adapter's delegation and locking behavior be tested without a live
// MongoDB server.
type fakeClient struct {
	mu    sync.Mutex
	runs  map[ident.RunID]*task.WorkflowRun
	tasks map[ident.TaskID]*task.Task
	state map[ident.RunID]map[string]any
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		runs:  make(map[ident.RunID]*task.WorkflowRun),
		tasks: make(map[ident.TaskID]*task.Task),
		state: make(map[ident.RunID]map[string]any),
	}
}

func (f *fakeClient) Name() string                    { return "fake" }
func (f *fakeClient) Ping(ctx context.Context) error   { return nil }

func (f *fakeClient) UpsertRun(_ context.Context, run *task.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeClient) LoadRun(_ context.Context, id ident.RunID) (*task.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeClient) ListRuns(_ context.Context, limit int) ([]*task.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*task.WorkflowRun, 0, len(f.runs))
	for _, r := range f.runs {
		cp := *r
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

func (f *fakeClient) UpsertTask(_ context.Context, t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeClient) LoadTask(_ context.Context, id ident.TaskID) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeClient) ListTasks(_ context.Context, runID ident.RunID) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*task.Task
	for _, t := range f.tasks {
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

func (f *fakeClient) LoadState(_ context.Context, runID ident.RunID) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state[runID]
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

func (f *fakeClient) SaveState(_ context.Context, runID ident.RunID, state map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[runID] = state
	return nil
}

// fakeLocker grants every lock immediately and tracks how many times each
// key was locked, so tests can assert ApplyTaskDiff/UpdateState actually
// acquire the expected scope.
type fakeLocker struct {
	mu    sync.Mutex
	calls []string
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func(context.Context), error) {
	l.mu.Lock()
	l.calls = append(l.calls, key)
	l.mu.Unlock()
	return func(context.Context) {}, nil
}

func TestNewAdapterRequiresClientAndLocker(t *testing.T) {
	_, err := NewAdapter(nil, &fakeLocker{})
	require.EqualError(t, err, "client is required")

	_, err = NewAdapter(newFakeClient(), nil)
	require.EqualError(t, err, "locker is required")
}

func TestSaveAndGetWorkflowRun(t *testing.T) {
	a, err := NewAdapter(newFakeClient(), &fakeLocker{})
	require.NoError(t, err)

	run := &task.WorkflowRun{ID: ident.NewRunID(), Status: task.RunRunning}
	require.NoError(t, a.SaveWorkflowRun(context.Background(), run))

	got, err := a.GetWorkflowRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, run.Status, got.Status)
}

func TestGetWorkflowRunNotFound(t *testing.T) {
	a, err := NewAdapter(newFakeClient(), &fakeLocker{})
	require.NoError(t, err)

	_, err = a.GetWorkflowRun(context.Background(), ident.NewRunID())
	werr, ok := workflowerr.As(err)
	require.True(t, ok)
	require.Equal(t, workflowerr.NotFound, werr.Kind())
}

func TestApplyTaskDiffLocksTheTaskNotTheRun(t *testing.T) {
	client := newFakeClient()
	locker := &fakeLocker{}
	a, err := NewAdapter(client, locker)
	require.NoError(t, err)

	runID := ident.NewRunID()
	taskID := ident.NewTaskID()
	require.NoError(t, client.UpsertTask(context.Background(), &task.Task{ID: taskID, RunID: runID, Status: task.StatusPending}))

	require.NoError(t, a.ApplyTaskDiff(context.Background(), task.TaskDiff{
		TaskID: taskID,
		Op:     task.DiffSetStatus,
		Status: task.StatusRunning,
	}))

	got, err := a.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, got.Status)
	require.Equal(t, []string{"task:" + taskID.String()}, locker.calls)
}

func TestApplyTaskDiffPreservesLogOnFailedToPendingReset(t *testing.T) {
	client := newFakeClient()
	a, err := NewAdapter(client, &fakeLocker{})
	require.NoError(t, err)

	taskID := ident.NewTaskID()
	require.NoError(t, client.UpsertTask(context.Background(), &task.Task{ID: taskID, Status: task.StatusFailed, Log: "boom"}))

	require.NoError(t, a.ApplyTaskDiff(context.Background(), task.TaskDiff{
		TaskID: taskID,
		Op:     task.DiffSetStatus,
		Status: task.StatusPending,
	}))

	got, err := a.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, got.Status)
	require.Contains(t, got.Log, "boom")
	require.Contains(t, got.Log, task.RetrySeparator)
}

func TestListWorkflowRunsNewestFirstWithLimit(t *testing.T) {
	client := newFakeClient()
	a, err := NewAdapter(client, &fakeLocker{})
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldest := &task.WorkflowRun{ID: ident.NewRunID(), CreatedAt: base}
	middle := &task.WorkflowRun{ID: ident.NewRunID(), CreatedAt: base.Add(time.Hour)}
	newest := &task.WorkflowRun{ID: ident.NewRunID(), CreatedAt: base.Add(2 * time.Hour)}
	for _, r := range []*task.WorkflowRun{oldest, newest, middle} {
		require.NoError(t, a.SaveWorkflowRun(context.Background(), r))
	}

	all, err := a.ListWorkflowRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []ident.RunID{newest.ID, middle.ID, oldest.ID}, []ident.RunID{all[0].ID, all[1].ID, all[2].ID})

	limited, err := a.ListWorkflowRuns(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []ident.RunID{newest.ID, middle.ID}, []ident.RunID{limited[0].ID, limited[1].ID})
}

func TestUpdateStateMergesAndLocksTheRun(t *testing.T) {
	locker := &fakeLocker{}
	a, err := NewAdapter(newFakeClient(), locker)
	require.NoError(t, err)

	runID := ident.NewRunID()
	merged, err := a.UpdateState(context.Background(), runID, map[string]any{"a": 1.0})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1.0}, merged)

	merged, err = a.UpdateState(context.Background(), runID, map[string]any{"b": 2.0})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, merged)
	require.Equal(t, []string{"run:" + runID.String(), "run:" + runID.String()}, locker.calls)
}
