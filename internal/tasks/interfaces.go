package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

// Repository defines persistence operations for the tasks table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, task *models.Task) error
	FindTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	UpdateStatusGuarded(ctx context.Context, taskID uuid.UUID, expectedVersion int64, updates map[string]any) (int64, error)
	ListTasks(ctx context.Context, params pagination.Params, filters TaskFilters) (*TaskList, error)
	FindOverdueUnnotified(ctx context.Context, now time.Time, limit int) ([]models.Task, error)
	MarkOverdueNotified(ctx context.Context, taskID uuid.UUID, at time.Time) error
}
