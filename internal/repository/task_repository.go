package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tasksync/internal/model"
)

// TaskUpdate carries a partial set of fields to merge into a task row. Nil
// pointers leave the column untouched. Synced defaults to false on every
// update unless the caller explicitly overrides it, which only happens when
// mirroring a write the remote API has already confirmed.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *model.Status
	Priority    *model.Priority
	DueDate     *time.Time
	ClearDue    bool
	Synced      *bool
}

// TaskRepository handles durable CRUD for tasks, including the unsynced
// replay queue.
type TaskRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db, now: time.Now}
}

// Create inserts a new row. A missing id gets a local placeholder, missing
// timestamps get the current time, and the row starts unsynced unless the
// caller says otherwise.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = model.NewLocalID()
	}
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// List returns tasks newest first. An empty status returns everything except
// CANCELED rows, which are deleted from the user's point of view; filtering
// by CANCELED explicitly still finds them.
func (r *TaskRepository) List(ctx context.Context, status model.Status) ([]model.Task, error) {
	var tasks []model.Task
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status == "" {
		q = q.Where("status <> ?", model.StatusCanceled)
	} else {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListAll returns every row including CANCELED ones, newest first.
func (r *TaskRepository) ListAll(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Update merges the given fields into the row, always refreshing updated_at.
// The row is flagged unsynced unless upd.Synced overrides it.
func (r *TaskRepository) Update(ctx context.Context, id string, upd TaskUpdate) (*model.Task, error) {
	fields := map[string]interface{}{
		"updated_at": r.now(),
		"is_synced":  false,
	}
	if upd.Title != nil {
		fields["title"] = *upd.Title
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.Priority != nil {
		fields["priority"] = *upd.Priority
	}
	if upd.DueDate != nil {
		fields["due_date"] = *upd.DueDate
	} else if upd.ClearDue {
		fields["due_date"] = nil
	}
	if upd.Synced != nil {
		fields["is_synced"] = *upd.Synced
	}

	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindByID(ctx, id)
}

// GetUnsynced returns the replay queue in creation order.
func (r *TaskRepository) GetUnsynced(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("is_synced = ?", false).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list unsynced tasks: %w", err)
	}
	return tasks, nil
}

// MarkSynced flags the row as confirmed by the remote API. Idempotent, and
// deliberately leaves updated_at alone.
func (r *TaskRepository) MarkSynced(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).
		Update("is_synced", true).Error; err != nil {
		return fmt.Errorf("mark task synced: %w", err)
	}
	return nil
}

// ReplaceID rewrites the primary key in place, keeping every other column.
// Used when the remote API assigns the real id for a locally created row.
func (r *TaskRepository) ReplaceID(ctx context.Context, oldID, newID string) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", oldID).
		Update("id", newID)
	if res.Error != nil {
		return fmt.Errorf("replace task id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Upsert inserts or overwrites the row for task.ID with the remote API's
// version of the task, marking it synced. Timestamps come from the task as
// given.
func (r *TaskRepository) Upsert(ctx context.Context, task model.Task) error {
	task.IsSynced = true
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&task).Error
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// Delete removes a row physically. User-facing deletion goes through a
// CANCELED status update instead; this exists for internal cleanup.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
