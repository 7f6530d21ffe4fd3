package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// Task is a staff task independent of deliveries. Overdue is derived at read
// time (now > due_date && status != COMPLETED), never stored.
type Task struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type              string             `gorm:"column:type;not null"`
	Title             string             `gorm:"column:title;not null"`
	AssigneeID        *uuid.UUID         `gorm:"column:assignee_id;type:uuid"`
	Status            enums.TaskStatus   `gorm:"column:status;type:text;not null;default:'PENDING'"`
	Priority          enums.TaskPriority `gorm:"column:priority;type:text;not null;default:'NORMAL'"`
	DueDate           *time.Time         `gorm:"column:due_date"`
	CompletedAt       *time.Time         `gorm:"column:completed_at"`
	Version           int64              `gorm:"column:version;not null;default:0"`
	OverdueNotifiedAt *time.Time         `gorm:"column:overdue_notified_at"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// IsOverdue derives the overdue flag at the supplied instant.
func (t Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	return now.After(*t.DueDate) && t.Status != enums.TaskStatusCompleted
}
