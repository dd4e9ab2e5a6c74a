package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task. Deletion is modeled as a
// transition to StatusCanceled so the mutation survives locally until the
// remote API has acknowledged it.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const localIDPrefix = "local-"

// NewLocalID returns a placeholder id for a task created before the remote
// API has assigned one. The row keeps a unique primary key until its first
// sync replaces the id.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a placeholder not yet known to the remote API.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Task represents a single item in the user's task list. Timestamps are
// managed by the repository, not by ORM hooks, so rows mirrored from the
// remote API keep the server's values.
type Task struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime:false" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime:false" json:"updatedAt"`
	IsSynced    bool       `gorm:"default:false;index" json:"-"`
}

// Validate checks the fields a user can set. It runs before any store or
// gateway write so a bad submit leaves no partial state.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	return nil
}

// Overdue reports whether the task has a due date in the past and is still open.
func (t *Task) Overdue(now time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	if t.Status == StatusCompleted || t.Status == StatusCanceled {
		return false
	}
	return now.After(*t.DueDate)
}
