package tasks

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// TaskFilters describe the inputs supported by the tasks list. Overdue is
// derived from due_date at query time, never read from a column.
type TaskFilters struct {
	Status     *enums.TaskStatus
	Priority   *enums.TaskPriority
	AssigneeID *uuid.UUID
	Overdue    bool
}

// TaskList wraps the paginated tasks plus the next page cursor.
type TaskList struct {
	Tasks      []models.Task `json:"tasks"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// CreateTaskInput opens a staff task.
type CreateTaskInput struct {
	Type       string
	Title      string
	AssigneeID *uuid.UUID
	Priority   enums.TaskPriority
	DueDate    *time.Time
}

// TransitionTaskInput moves a task through its machine.
type TransitionTaskInput struct {
	TaskID uuid.UUID
	Target enums.TaskStatus
	Actor  string
}

// BulkTransitionInput applies one target status across many tasks.
type BulkTransitionInput struct {
	TaskIDs []uuid.UUID
	Target  enums.TaskStatus
	Actor   string
}

// BulkFailure records why one task in a bulk call was skipped.
type BulkFailure struct {
	TaskID uuid.UUID `json:"task_id"`
	Reason string    `json:"reason"`
}

// BulkResult reports partial success; bulk calls are never all-or-nothing.
type BulkResult struct {
	SucceededIDs []uuid.UUID   `json:"succeeded_ids"`
	Failed       []BulkFailure `json:"failed"`
}
