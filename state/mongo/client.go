// Package mongo provides a MongoDB-backed implementation of state.Adapter
// (spec §4.1/§6) for durable, multi-process deployments. Build the
// low-level client via New and pass it, together with a RunLocker, to
// NewAdapter.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/flowforge/codeflow-engine/ident"
	"github.com/flowforge/codeflow-engine/task"
)

const (
	defaultRunsCollection  = "workflow_runs"
	defaultTasksCollection = "tasks"
	defaultOpTimeout       = 5 * time.Second
	clientName             = "codeflow-mongo"
)

// ErrNotFound is returned by LoadRun/LoadTask when no document matches.
var ErrNotFound = errors.New("mongo: not found")

// Client exposes the Mongo-backed operations the state adapter needs.
type Client interface {
	health.Pinger

	UpsertRun(ctx context.Context, run *task.WorkflowRun) error
	LoadRun(ctx context.Context, id ident.RunID) (*task.WorkflowRun, error)
	// ListRuns returns at most limit runs, newest-first by CreatedAt.
	// limit <= 0 means no cap.
	ListRuns(ctx context.Context, limit int) ([]*task.WorkflowRun, error)

	UpsertTask(ctx context.Context, t *task.Task) error
	LoadTask(ctx context.Context, id ident.TaskID) (*task.Task, error)
	ListTasks(ctx context.Context, runID ident.RunID) ([]*task.Task, error)

	LoadState(ctx context.Context, runID ident.RunID) (map[string]any, error)
	SaveState(ctx context.Context, runID ident.RunID, state map[string]any) error
}

// Options configures the Mongo client.
type Options struct {
	Client          *mongodriver.Client
	Database        string
	RunsCollection  string
	TasksCollection string
	StateCollection string
	Timeout         time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	runs    collection
	tasks   collection
	states  collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB, creating the task-lookup indexes
// it depends on.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	runsName := opts.RunsCollection
	if runsName == "" {
		runsName = defaultRunsCollection
	}
	tasksName := opts.TasksCollection
	if tasksName == "" {
		tasksName = defaultTasksCollection
	}
	statesName := opts.StateCollection
	if statesName == "" {
		statesName = "run_state"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	runsColl := mongoCollection{coll: db.Collection(runsName)}
	tasksColl := mongoCollection{coll: db.Collection(tasksName)}
	statesColl := mongoCollection{coll: db.Collection(statesName)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureTaskIndexes(ctx, tasksColl); err != nil {
		return nil, err
	}

	return &client{mongo: opts.Client, runs: runsColl, tasks: tasksColl, states: statesColl, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) UpsertRun(ctx context.Context, run *task.WorkflowRun) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": run.ID}
	update := bson.M{"$set": run}
	_, err := c.runs.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c *client) LoadRun(ctx context.Context, id ident.RunID) (*task.WorkflowRun, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var run task.WorkflowRun
	if err := c.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&run); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (c *client) ListRuns(ctx context.Context, limit int) ([]*task.WorkflowRun, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.runs.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	var runs []*task.WorkflowRun
	if err := cur.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *client) UpsertTask(ctx context.Context, t *task.Task) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": t.ID}
	update := bson.M{"$set": t}
	_, err := c.tasks.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c *client) LoadTask(ctx context.Context, id ident.TaskID) (*task.Task, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var t task.Task
	if err := c.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListTasks returns runID's tasks in stable order: created_at ascending,
// _id ascending as a tiebreaker, matching state.Adapter's GetTasks contract.
func (c *client) ListTasks(ctx context.Context, runID ident.RunID) ([]*task.Task, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := c.tasks.Find(ctx, bson.M{"run_id": runID}, findOpts)
	if err != nil {
		return nil, err
	}
	var tasks []*task.Task
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

type stateDoc struct {
	RunID ident.RunID    `bson:"_id"`
	State map[string]any `bson:"state"`
}

func (c *client) LoadState(ctx context.Context, runID ident.RunID) (map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc stateDoc
	if err := c.states.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if doc.State == nil {
		return map[string]any{}, nil
	}
	return doc.State, nil
}

func (c *client) SaveState(ctx context.Context, runID ident.RunID, state map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": runID}
	update := bson.M{"$set": bson.M{"state": state}}
	_, err := c.states.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureTaskIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

// collection is the subset of *mongodriver.Collection the client depends on,
// narrowed to an interface so tests can substitute a fake without standing
// up a real MongoDB server.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
