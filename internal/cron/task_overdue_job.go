package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/tasks"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox/payloads"
)

const taskOverdueBatchSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type TaskOverdueJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository tasks.Repository
	Outbox     outboxEmitter
	BatchSize  int
}

// NewTaskOverdueJob scans for tasks past their due date and emits one overdue
// event per task. The notified stamp guarantees at most one alert per task.
func NewTaskOverdueJob(params TaskOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("tasks repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = taskOverdueBatchSize
	}
	return &taskOverdueJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		outbox:    params.Outbox,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type taskOverdueJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      tasks.Repository
	outbox    outboxEmitter
	batchSize int
	now       func() time.Time
}

func (j *taskOverdueJob) Name() string { return "task-overdue" }

func (j *taskOverdueJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	overdue, err := j.repo.FindOverdueUnnotified(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("find overdue tasks: %w", err)
	}

	notified := 0
	for _, task := range overdue {
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := j.repo.WithTx(tx)
			event := outbox.DomainEvent{
				EventType:     enums.EventTaskOverdue,
				AggregateType: enums.AggregateTask,
				AggregateID:   task.ID,
				Version:       1,
				Data: payloads.TaskOverdueEvent{
					TaskID:     task.ID,
					Title:      task.Title,
					AssigneeID: task.AssigneeID,
					Priority:   task.Priority.String(),
					DueDate:    derefTime(task.DueDate),
					DetectedAt: now,
				},
			}
			if err := j.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
			return txRepo.MarkOverdueNotified(ctx, task.ID, now)
		})
		if err != nil {
			// one bad task should not starve the rest of the batch
			logCtx := j.logg.WithField(ctx, "task_id", task.ID.String())
			j.logg.Error(logCtx, "task overdue notification failed", err)
			continue
		}
		notified++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":  len(overdue),
		"notified": notified,
	})
	j.logg.Info(logCtx, "task overdue scan complete")
	return nil
}

func derefTime(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return *value
}
