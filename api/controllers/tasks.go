package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	internaltasks "github.com/angelmondragon/dispatch-backend/internal/tasks"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type createTaskRequest struct {
	Type       string     `json:"type" validate:"required,max=100"`
	Title      string     `json:"title" validate:"required,max=300"`
	AssigneeID *string    `json:"assignee_id"`
	Priority   *string    `json:"priority"`
	DueDate    *time.Time `json:"due_date"`
}

type transitionTaskRequest struct {
	Target string `json:"target" validate:"required"`
}

type bulkTaskRequest struct {
	TaskIDs []string `json:"task_ids" validate:"required,min=1"`
	Target  string   `json:"target" validate:"required"`
}

// CreateTask opens a staff task, defaulting priority to NORMAL.
func CreateTask(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internaltasks.CreateTaskInput{
			Type:    validators.SanitizeString(req.Type, 100),
			Title:   validators.SanitizeString(req.Title, 300),
			DueDate: req.DueDate,
		}
		assigneeID, err := parseOptionalUUID(req.AssigneeID, "assignee_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.AssigneeID = assigneeID
		if req.Priority != nil {
			priority, err := enums.ParseTaskPriority(strings.TrimSpace(*req.Priority))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid priority"))
				return
			}
			input.Priority = priority
		}

		task, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, task)
	}
}

// ListTasks returns a cursor page of tasks with optional filters.
func ListTasks(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filters internaltasks.TaskFilters
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseTaskStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filters.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("priority")); raw != "" {
			priority, err := enums.ParseTaskPriority(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid priority filter"))
				return
			}
			filters.Priority = &priority
		}
		if filters.AssigneeID, err = parseQueryUUID(r, "assignee_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.Overdue = strings.EqualFold(r.URL.Query().Get("overdue"), "true")

		list, err := svc.List(r.Context(), params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// TaskDetail returns one task.
func TaskDetail(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := parseUUIDParam(r, "taskId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		task, err := svc.Get(r.Context(), taskID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, task)
	}
}

// TransitionTask applies one lifecycle transition to a task.
func TransitionTask(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		taskID, err := parseUUIDParam(r, "taskId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transitionTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseTaskStatus(strings.TrimSpace(req.Target))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		task, err := svc.Transition(r.Context(), internaltasks.TransitionTaskInput{
			TaskID: taskID,
			Target: target,
			Actor:  actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, task)
	}
}

// BulkTransitionTasks applies one transition to many tasks and reports
// per-task failures without failing the whole request.
func BulkTransitionTasks(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req bulkTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseTaskStatus(strings.TrimSpace(req.Target))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		taskIDs := make([]uuid.UUID, 0, len(req.TaskIDs))
		for _, raw := range req.TaskIDs {
			taskID, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid task id"))
				return
			}
			taskIDs = append(taskIDs, taskID)
		}

		result, err := svc.BulkTransition(r.Context(), internaltasks.BulkTransitionInput{
			TaskIDs: taskIDs,
			Target:  target,
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
