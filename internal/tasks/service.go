package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

// bulkChunkSize bounds how many tasks one transaction touches during a bulk
// update.
const bulkChunkSize = 25

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines staff task operations.
type Service interface {
	Create(ctx context.Context, input CreateTaskInput) (*models.Task, error)
	Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	List(ctx context.Context, params pagination.Params, filters TaskFilters) (*TaskList, error)
	Transition(ctx context.Context, input TransitionTaskInput) (*models.Task, error)
	BulkTransition(ctx context.Context, input BulkTransitionInput) (*BulkResult, error)
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	cfg  config.TransitionConfig
}

// NewService builds a task service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger, cfg config.TransitionConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("tasks repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &service{repo: repo, tx: tx, logg: logg, cfg: cfg}, nil
}

func (s *service) Create(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	if strings.TrimSpace(input.Type) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task type required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task title required")
	}
	priority := input.Priority
	if priority == "" {
		priority = enums.TaskPriorityNormal
	}
	if !priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid task priority")
	}

	task := &models.Task{
		Type:       strings.TrimSpace(input.Type),
		Title:      strings.TrimSpace(input.Title),
		AssigneeID: input.AssigneeID,
		Status:     enums.TaskStatusPending,
		Priority:   priority,
		DueDate:    input.DueDate,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create task")
	}
	return task, nil
}

func (s *service) Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	if taskID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task id required")
	}
	task, err := s.repo.FindTask(ctx, taskID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load task")
	}
	return task, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters TaskFilters) (*TaskList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if filters.Priority != nil && !filters.Priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid priority filter")
	}
	list, err := s.repo.ListTasks(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tasks")
	}
	return list, nil
}

func (s *service) Transition(ctx context.Context, input TransitionTaskInput) (*models.Task, error) {
	var result *models.Task
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 && s.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryBackoff):
			}
		}

		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			task, err := s.transitionTx(ctx, tx, input)
			if err != nil {
				return err
			}
			result = task
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
			if s.logg != nil {
				s.logg.Warn(ctx, "task transition lost version race, retrying")
			}
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (s *service) transitionTx(ctx context.Context, tx *gorm.DB, input TransitionTaskInput) (*models.Task, error) {
	if input.TaskID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	repo := s.repo.WithTx(tx)
	task, err := repo.FindTask(ctx, input.TaskID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load task")
	}

	if task.Status == input.Target {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "task already in target status").
			WithCurrentStatus(task.Status.String())
	}
	if !task.Status.CanTransitionTo(input.Target) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "task transition disallowed").
			WithCurrentStatus(task.Status.String())
	}

	updates := map[string]any{"status": input.Target}
	switch input.Target {
	case enums.TaskStatusCompleted:
		updates["completed_at"] = time.Now()
	case enums.TaskStatusPending:
		// pause clears any prior completion stamp
		updates["completed_at"] = nil
	}

	affected, err := repo.UpdateStatusGuarded(ctx, task.ID, task.Version, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update task status")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "task changed concurrently")
	}

	task.Status = input.Target
	task.Version++
	return task, nil
}

// BulkTransition applies the target status per task and reports partial
// success. Individual failures never abort the rest of the batch.
func (s *service) BulkTransition(ctx context.Context, input BulkTransitionInput) (*BulkResult, error) {
	if len(input.TaskIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one task id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	result := &BulkResult{
		SucceededIDs: make([]uuid.UUID, 0, len(input.TaskIDs)),
	}
	var combined error

	for start := 0; start < len(input.TaskIDs); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(input.TaskIDs) {
			end = len(input.TaskIDs)
		}
		for _, taskID := range input.TaskIDs[start:end] {
			_, err := s.Transition(ctx, TransitionTaskInput{
				TaskID: taskID,
				Target: input.Target,
				Actor:  input.Actor,
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				combined = multierr.Append(combined, fmt.Errorf("task %s: %w", taskID, err))
				result.Failed = append(result.Failed, BulkFailure{
					TaskID: taskID,
					Reason: bulkFailureReason(err),
				})
				continue
			}
			result.SucceededIDs = append(result.SucceededIDs, taskID)
		}
	}

	if combined != nil && s.logg != nil {
		logCtx := s.logg.WithField(ctx, "failed_count", len(multierr.Errors(combined)))
		s.logg.Warn(logCtx, "bulk task update completed with failures")
	}
	return result, nil
}

func bulkFailureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}
