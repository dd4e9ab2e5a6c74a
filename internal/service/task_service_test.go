package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tasksync/internal/model"
	"tasksync/internal/repository"
)

// fakeGateway is an in-memory remote API with call counters and injectable
// failures.
type fakeGateway struct {
	mu     sync.Mutex
	tasks  map[string]model.Task
	nextID int

	listCalls   int
	getCalls    int
	createCalls int
	updateCalls int
	deleteCalls int

	// failTitle makes create/update calls for tasks with this title fail.
	failTitle string
	// when set, CreateTask signals createStarted then blocks on releaseCreate.
	createStarted chan struct{}
	releaseCreate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tasks: make(map[string]model.Task), nextID: 1}
}

func (f *fakeGateway) calls() (list, get, create, update, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.getCalls, f.createCalls, f.updateCalls, f.deleteCalls
}

func (f *fakeGateway) put(task model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
}

func (f *fakeGateway) ListTasks(_ context.Context, status model.Status) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []model.Task
	for _, task := range f.tasks {
		if status == "" || task.Status == status {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeGateway) GetTask(_ context.Context, id string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("remote: no task %s", id)
	}
	return &task, nil
}

func (f *fakeGateway) CreateTask(_ context.Context, task model.Task) (*model.Task, error) {
	f.mu.Lock()
	f.createCalls++
	started, release := f.createStarted, f.releaseCreate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if task.Title == f.failTitle {
		return nil, fmt.Errorf("remote: create rejected")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	created := task
	created.ID = fmt.Sprintf("srv-%d", f.nextID)
	f.nextID++
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now
	f.tasks[created.ID] = created
	return &created, nil
}

func (f *fakeGateway) UpdateTask(_ context.Context, id string, task model.Task) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if task.Title == f.failTitle {
		return nil, fmt.Errorf("remote: update rejected")
	}
	if _, ok := f.tasks[id]; !ok {
		return nil, fmt.Errorf("remote: no task %s", id)
	}
	updated := task
	updated.ID = id
	updated.UpdatedAt = time.Now()
	f.tasks[id] = updated
	return &updated, nil
}

func (f *fakeGateway) DeleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	delete(f.tasks, id)
	return nil
}

// fakeNet is a hand-driven connectivity source.
type fakeNet struct {
	mu     sync.Mutex
	online bool
	events chan bool
}

func newFakeNet(online bool) *fakeNet {
	return &fakeNet{online: online, events: make(chan bool, 8)}
}

func (n *fakeNet) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *fakeNet) Subscribe() (<-chan bool, func()) {
	return n.events, func() {}
}

func (n *fakeNet) set(online bool) {
	n.mu.Lock()
	n.online = online
	n.mu.Unlock()
	n.events <- online
}

type harness struct {
	repo *repository.TaskRepository
	gw   *fakeGateway
	net  *fakeNet
	svc  *TaskService
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	db, err := repository.NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)

	h := &harness{
		repo: repository.NewTaskRepository(db),
		gw:   newFakeGateway(),
		net:  newFakeNet(online),
	}
	h.svc = NewTaskService(h.repo, h.gw, h.net, zerolog.Nop())
	return h
}

func TestCreateOfflineStaysLocal(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "pack bags"})
	require.NoError(t, err)

	assert.True(t, model.IsLocalID(task.ID))
	assert.False(t, task.IsSynced)
	_, _, create, _, _ := h.gw.calls()
	assert.Zero(t, create)
}

func TestCreateOnlinePushesAndRewritesID(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "pack bags", Priority: model.PriorityHigh})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", task.ID)
	assert.True(t, task.IsSynced)

	stored, err := h.repo.FindByID(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "pack bags", stored.Title)
}

func TestCreateOnlinePushFailureKeepsLocalRow(t *testing.T) {
	h := newHarness(t, true)
	h.gw.failTitle = "flaky"
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "flaky"})
	require.Error(t, err)

	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.NotNil(t, task, "the local write already succeeded")
	assert.True(t, model.IsLocalID(task.ID))

	queue, err := h.repo.GetUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "flaky", queue[0].Title)
}

func TestCreateValidationWritesNothing(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.svc.CreateTask(ctx, TaskInput{Title: "  "})
	require.Error(t, err)

	all, err := h.repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, _, create, _, _ := h.gw.calls()
	assert.Zero(t, create)
}

func TestOfflineListNeverCallsGateway(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.CreateTask(ctx, TaskInput{Title: "a"})
	require.NoError(t, err)
	_, err = h.svc.CreateTask(ctx, TaskInput{Title: "b"})
	require.NoError(t, err)

	tasks, err := h.svc.ListTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	list, get, create, update, del := h.gw.calls()
	assert.Zero(t, list+get+create+update+del)
}

func TestOnlineListUpsertsWithoutDuplicating(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.repo.Upsert(ctx, model.Task{
		ID: "srv-1", Title: "old title",
		Status: model.StatusPending, Priority: model.PriorityMedium,
	}))
	h.gw.put(model.Task{
		ID: "srv-1", Title: "new title",
		Status: model.StatusPending, Priority: model.PriorityMedium,
	})

	tasks, err := h.svc.ListTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "new title", tasks[0].Title)

	all, err := h.repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert must not duplicate the row")
	assert.Equal(t, "new title", all[0].Title)
	assert.True(t, all[0].IsSynced)
}

func TestOnlineReadsReportSynced(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.gw.put(model.Task{
		ID: "srv-1", Title: "from server",
		Status: model.StatusPending, Priority: model.PriorityMedium,
	})

	// The wire format omits the sync flag, but a row the gateway just served
	// is by definition synced; the caller must not see it as pending.
	tasks, err := h.svc.ListTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].IsSynced)

	task, err := h.svc.GetTask(ctx, "srv-1")
	require.NoError(t, err)
	assert.True(t, task.IsSynced)

	stored, err := h.repo.FindByID(ctx, "srv-1")
	require.NoError(t, err)
	assert.True(t, stored.IsSynced)
}

func TestStatusFilterEquivalence(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	// Identical state on both sides.
	seed := []model.Task{
		{ID: "srv-1", Title: "done a", Status: model.StatusCompleted, Priority: model.PriorityLow},
		{ID: "srv-2", Title: "open b", Status: model.StatusPending, Priority: model.PriorityLow},
		{ID: "srv-3", Title: "done c", Status: model.StatusCompleted, Priority: model.PriorityLow},
	}
	for _, task := range seed {
		require.NoError(t, h.repo.Upsert(ctx, task))
		h.gw.put(task)
	}

	ids := func(tasks []model.Task) map[string]bool {
		set := make(map[string]bool, len(tasks))
		for _, task := range tasks {
			set[task.ID] = true
		}
		return set
	}

	online, err := h.svc.ListTasks(ctx, model.StatusCompleted)
	require.NoError(t, err)

	h.net.online = false
	offline, err := h.svc.ListTasks(ctx, model.StatusCompleted)
	require.NoError(t, err)

	assert.Equal(t, ids(online), ids(offline))
	assert.Equal(t, map[string]bool{"srv-1": true, "srv-3": true}, ids(online))
}

func TestDrainIdempotent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	// One row already synced through an immediate push...
	_, err := h.svc.CreateTask(ctx, TaskInput{Title: "already synced"})
	require.NoError(t, err)

	// ...two created offline.
	h.net.online = false
	_, err = h.svc.CreateTask(ctx, TaskInput{Title: "offline a"})
	require.NoError(t, err)
	_, err = h.svc.CreateTask(ctx, TaskInput{Title: "offline b"})
	require.NoError(t, err)

	h.net.online = true
	res, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 2, Synced: 2}, res)

	_, _, createBefore, updateBefore, delBefore := h.gw.calls()

	res, err = h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res, "second drain has nothing to do")

	_, _, createAfter, updateAfter, delAfter := h.gw.calls()
	assert.Equal(t, createBefore, createAfter, "idempotent drain makes zero gateway calls")
	assert.Equal(t, updateBefore, updateAfter)
	assert.Equal(t, delBefore, delAfter)
}

func TestDrainRewritesPlaceholderID(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "born offline"})
	require.NoError(t, err)
	oldID := task.ID
	require.True(t, model.IsLocalID(oldID))

	h.net.online = true
	res, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	_, err = h.repo.FindByID(ctx, oldID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "old id no longer resolves")

	stored, err := h.repo.FindByID(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "born offline", stored.Title)
	assert.True(t, stored.IsSynced)
}

func TestDrainPartialFailureIsolation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	for _, title := range []string{"row one", "row two", "row three"} {
		_, err := h.svc.CreateTask(ctx, TaskInput{Title: title})
		require.NoError(t, err)
	}
	h.gw.failTitle = "row two"

	h.net.online = true
	res, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Synced, "one failure must not abort the batch")

	queue, err := h.repo.GetUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "row two", queue[0].Title)
}

func TestDrainSingleFlight(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.CreateTask(ctx, TaskInput{Title: "slow"})
	require.NoError(t, err)

	h.gw.createStarted = make(chan struct{}, 1)
	h.gw.releaseCreate = make(chan struct{})
	h.net.online = true

	done := make(chan DrainResult, 1)
	go func() {
		res, err := h.svc.Drain(ctx)
		require.NoError(t, err)
		done <- res
	}()

	select {
	case <-h.gw.createStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("first drain never reached the gateway")
	}

	res, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped, "concurrent drain must be a no-op")

	close(h.gw.releaseCreate)
	select {
	case res := <-done:
		assert.Equal(t, DrainResult{Attempted: 1, Synced: 1}, res)
	case <-time.After(2 * time.Second):
		t.Fatal("first drain never finished")
	}
}

func TestDeleteOfflineThenDrain(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	// Created and deleted without ever reaching the server.
	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "ephemeral"})
	require.NoError(t, err)
	require.NoError(t, h.svc.DeleteTask(ctx, task.ID))

	h.net.online = true
	res, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	_, _, create, update, del := h.gw.calls()
	assert.Zero(t, create+update+del, "the server never saw this row")

	stored, err := h.repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, stored.Status)
	assert.True(t, stored.IsSynced)
}

func TestDeleteRemoteRowReplaysAsGatewayDelete(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "doomed"})
	require.NoError(t, err)
	require.Equal(t, "srv-1", task.ID)

	h.net.online = false
	require.NoError(t, h.svc.DeleteTask(ctx, task.ID))

	h.net.online = true
	res, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	_, _, _, _, del := h.gw.calls()
	assert.Equal(t, 1, del)

	stored, err := h.repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, stored.Status)
	assert.True(t, stored.IsSynced)
}

func TestCompleteTaskOnline(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "finish report"})
	require.NoError(t, err)

	completed, err := h.svc.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, completed.Status)
	assert.True(t, completed.IsSynced)

	_, _, _, update, _ := h.gw.calls()
	assert.Equal(t, 1, update)
}

func TestEditOfflineCreatedRowWhileOnlinePushesCreate(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, TaskInput{Title: "draft"})
	require.NoError(t, err)

	h.net.online = true
	title := "draft, revised"
	updated, err := h.svc.UpdateTask(ctx, task.ID, repository.TaskUpdate{Title: &title})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", updated.ID, "a never-synced row pushes as a create")
	assert.True(t, updated.IsSynced)
}

func TestWatchDrainsOnReconnect(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.svc.CreateTask(ctx, TaskInput{Title: "waiting"})
	require.NoError(t, err)

	results := make(chan DrainResult, 1)
	h.svc.SetDrainHook(func(res DrainResult) { results <- res })

	go h.svc.Watch(ctx)

	h.net.set(true)

	select {
	case res := <-results:
		assert.Equal(t, DrainResult{Attempted: 1, Synced: 1}, res)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never triggered a drain")
	}
}
