package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tasksync/internal/model"
	"tasksync/internal/repository"
)

// Gateway is the remote task API the reconciler pulls from and pushes to.
type Gateway interface {
	ListTasks(ctx context.Context, status model.Status) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CreateTask(ctx context.Context, task model.Task) (*model.Task, error)
	UpdateTask(ctx context.Context, id string, task model.Task) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Connectivity reports whether the gateway is reachable and notifies on
// transitions.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// PushError wraps a failed immediate gateway push. The local write already
// succeeded; the row stays unsynced and will be replayed on the next drain.
type PushError struct {
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("saved locally, push to server failed: %v", e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// DrainResult summarizes one replay pass over the unsynced queue. Partial
// success is a normal outcome: Synced may be less than Attempted.
type DrainResult struct {
	Attempted int
	Synced    int
	// Skipped is true when another drain was already running and this call
	// was a no-op.
	Skipped bool
}

// TaskInput is what a user submits to create a task.
type TaskInput struct {
	Title       string
	Description string
	Status      model.Status
	Priority    model.Priority
	DueDate     *time.Time
}

// TaskService reconciles the local store with the remote API. Reads come
// from the gateway while online and from the store while offline; writes
// always land in the store first and are pushed to the gateway immediately
// when online, or replayed later by Drain.
type TaskService struct {
	repo     *repository.TaskRepository
	gw       Gateway
	net      Connectivity
	log      zerolog.Logger
	draining atomic.Bool
	onDrain  func(DrainResult)
}

func NewTaskService(repo *repository.TaskRepository, gw Gateway, net Connectivity, log zerolog.Logger) *TaskService {
	return &TaskService{repo: repo, gw: gw, net: net, log: log}
}

// SetDrainHook registers a callback invoked after every completed drain
// pass, with the result. Used by the surface layer to tell the user how
// many rows made it.
func (s *TaskService) SetDrainHook(fn func(DrainResult)) {
	s.onDrain = fn
}

// ListTasks serves a task-list read. Online, the gateway's list is
// authoritative: it is upserted into the store (rows marked synced) and
// returned as-is. Offline, the store serves the read with the filter
// applied client-side. A gateway failure while online degrades to the
// offline path.
func (s *TaskService) ListTasks(ctx context.Context, status model.Status) ([]model.Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	if !s.net.Online() {
		return s.repo.List(ctx, status)
	}

	remote, err := s.gw.ListTasks(ctx, status)
	if err != nil {
		s.log.Warn().Err(err).Msg("gateway list failed, serving local store")
		return s.repo.List(ctx, status)
	}
	for i := range remote {
		if err := s.repo.Upsert(ctx, remote[i]); err != nil {
			return nil, err
		}
		// The wire format never carries the sync flag; these rows were just
		// confirmed by the gateway.
		remote[i].IsSynced = true
	}
	return remote, nil
}

// GetTask reads a single task, gateway-first while online.
func (s *TaskService) GetTask(ctx context.Context, id string) (*model.Task, error) {
	if s.net.Online() && !model.IsLocalID(id) {
		remote, err := s.gw.GetTask(ctx, id)
		if err == nil {
			if err := s.repo.Upsert(ctx, *remote); err != nil {
				return nil, err
			}
			remote.IsSynced = true
			return remote, nil
		}
		s.log.Warn().Err(err).Str("id", id).Msg("gateway get failed, serving local store")
	}
	return s.repo.FindByID(ctx, id)
}

// CreateTask stores the task locally and, when online, pushes it to the
// gateway right away. On a push failure the task is returned together with
// a *PushError: the row exists, flagged unsynced, and will be replayed.
func (s *TaskService) CreateTask(ctx context.Context, input TaskInput) (*model.Task, error) {
	task := model.Task{
		ID:          model.NewLocalID(),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      input.Status,
		Priority:    input.Priority,
		DueDate:     input.DueDate,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &task); err != nil {
		return nil, err
	}
	if !s.net.Online() {
		return &task, nil
	}

	synced, err := s.pushCreate(ctx, task)
	if err != nil {
		s.log.Warn().Err(err).Str("id", task.ID).Msg("immediate create push failed")
		return &task, &PushError{Err: err}
	}
	return synced, nil
}

// UpdateTask merges the fields into the local row and pushes when online.
func (s *TaskService) UpdateTask(ctx context.Context, id string, upd repository.TaskUpdate) (*model.Task, error) {
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", *upd.Status)
	}
	if upd.Priority != nil && !upd.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", *upd.Priority)
	}
	upd.Synced = nil

	task, err := s.repo.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if !s.net.Online() {
		return task, nil
	}

	synced, err := s.pushRow(ctx, *task)
	if err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg("immediate update push failed")
		return task, &PushError{Err: err}
	}
	return synced, nil
}

// CompleteTask marks the task COMPLETED.
func (s *TaskService) CompleteTask(ctx context.Context, id string) (*model.Task, error) {
	status := model.StatusCompleted
	return s.UpdateTask(ctx, id, repository.TaskUpdate{Status: &status})
}

// DeleteTask cancels the task locally (the row is kept so the mutation can
// be replayed) and calls the gateway's delete endpoint when online.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	status := model.StatusCanceled
	task, err := s.repo.Update(ctx, id, repository.TaskUpdate{Status: &status})
	if err != nil {
		return err
	}
	if !s.net.Online() {
		return nil
	}

	if model.IsLocalID(task.ID) {
		// Never reached the server; nothing to delete remotely.
		return s.repo.MarkSynced(ctx, task.ID)
	}
	if err := s.gw.DeleteTask(ctx, task.ID); err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg("immediate delete push failed")
		return &PushError{Err: err}
	}
	return s.repo.MarkSynced(ctx, task.ID)
}

// Drain replays every unsynced row to the gateway, sequentially and in
// creation order. A row's failure is logged and skipped so the rest of the
// queue still drains; the row stays unsynced for the next pass. Only one
// drain runs at a time: a concurrent call is a no-op with Skipped set.
func (s *TaskService) Drain(ctx context.Context) (DrainResult, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer s.draining.Store(false)

	rows, err := s.repo.GetUnsynced(ctx)
	if err != nil {
		return DrainResult{}, err
	}

	res := DrainResult{Attempted: len(rows)}
	for _, row := range rows {
		if err := s.replay(ctx, row); err != nil {
			s.log.Error().Err(err).Str("id", row.ID).Msg("replay failed, row stays unsynced")
			continue
		}
		res.Synced++
	}

	if res.Attempted > 0 {
		s.log.Info().Int("attempted", res.Attempted).Int("synced", res.Synced).Msg("drain finished")
	}
	if s.onDrain != nil {
		s.onDrain(res)
	}
	return res, nil
}

// replay pushes a single unsynced row. Rows created offline carry a
// placeholder id and become remote creates; their id is rewritten in place
// to the server-assigned one. CANCELED rows map to the delete endpoint, or
// to nothing at all if the server never saw them.
func (s *TaskService) replay(ctx context.Context, row model.Task) error {
	switch {
	case model.IsLocalID(row.ID) && row.Status == model.StatusCanceled:
		return s.repo.MarkSynced(ctx, row.ID)
	case model.IsLocalID(row.ID):
		_, err := s.pushCreate(ctx, row)
		return err
	case row.Status == model.StatusCanceled:
		if err := s.gw.DeleteTask(ctx, row.ID); err != nil {
			return err
		}
		return s.repo.MarkSynced(ctx, row.ID)
	default:
		_, err := s.pushRow(ctx, row)
		return err
	}
}

// pushCreate sends a local row to the gateway as a new task and rewrites
// the placeholder id to the server-assigned one. Consumers holding the old
// id should treat this as a rename, not a delete plus insert.
func (s *TaskService) pushCreate(ctx context.Context, row model.Task) (*model.Task, error) {
	remote, err := s.gw.CreateTask(ctx, row)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceID(ctx, row.ID, remote.ID); err != nil {
		return nil, fmt.Errorf("rewrite id %s -> %s: %w", row.ID, remote.ID, err)
	}
	if err := s.repo.MarkSynced(ctx, remote.ID); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, remote.ID)
}

// pushRow replays an edit of a row the server already knows.
func (s *TaskService) pushRow(ctx context.Context, row model.Task) (*model.Task, error) {
	if model.IsLocalID(row.ID) {
		return s.pushCreate(ctx, row)
	}
	if _, err := s.gw.UpdateTask(ctx, row.ID, row); err != nil {
		return nil, err
	}
	if err := s.repo.MarkSynced(ctx, row.ID); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, row.ID)
}

// Watch drains on every transition to online until ctx is cancelled. If
// already online at entry it drains once immediately, picking up anything
// left over from a previous run.
func (s *TaskService) Watch(ctx context.Context) {
	events, cancel := s.net.Subscribe()
	defer cancel()

	if s.net.Online() {
		if _, err := s.Drain(ctx); err != nil {
			s.log.Error().Err(err).Msg("initial drain failed")
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-events:
			if !online {
				continue
			}
			if _, err := s.Drain(ctx); err != nil {
				s.log.Error().Err(err).Msg("drain after reconnect failed")
			}
		}
	}
}
