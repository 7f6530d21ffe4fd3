package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/tasks"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

func TestTaskOverdueJobNotifiesEachTaskOnce(t *testing.T) {
	due := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	overdue := models.Task{
		ID:       uuid.New(),
		Title:    "Restock shelf B4",
		Status:   enums.TaskStatusPending,
		Priority: enums.TaskPriorityHigh,
		DueDate:  &due,
	}
	repo := &fakeTaskOverdueRepo{overdue: []models.Task{overdue}}
	emitter := &fakeOverdueEmitter{}
	job := newTaskOverdueJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType != enums.EventTaskOverdue {
		t.Fatalf("unexpected event type %s", emitter.events[0].EventType)
	}
	if len(repo.notified) != 1 || repo.notified[0] != overdue.ID {
		t.Fatalf("expected task %s marked notified, got %v", overdue.ID, repo.notified)
	}

	// second cycle finds nothing unnotified
	repo.overdue = nil
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected no further events, got %d", len(emitter.events))
	}
}

func TestTaskOverdueJobContinuesPastFailures(t *testing.T) {
	bad := models.Task{ID: uuid.New(), Title: "bad", Priority: enums.TaskPriorityNormal}
	good := models.Task{ID: uuid.New(), Title: "good", Priority: enums.TaskPriorityNormal}
	repo := &fakeTaskOverdueRepo{overdue: []models.Task{bad, good}}
	emitter := &fakeOverdueEmitter{failFor: bad.ID}
	job := newTaskOverdueJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.notified) != 1 || repo.notified[0] != good.ID {
		t.Fatalf("expected only %s notified, got %v", good.ID, repo.notified)
	}
}

func newTaskOverdueJob(t *testing.T, repo tasks.Repository, emitter outboxEmitter) Job {
	t.Helper()
	job, err := NewTaskOverdueJob(TaskOverdueJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         overdueTxRunner{},
		Repository: repo,
		Outbox:     emitter,
	})
	if err != nil {
		t.Fatalf("NewTaskOverdueJob: %v", err)
	}
	return job
}

type overdueTxRunner struct{}

func (overdueTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeOverdueEmitter struct {
	events  []outbox.DomainEvent
	failFor uuid.UUID
}

func (f *fakeOverdueEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if f.failFor != uuid.Nil && event.AggregateID == f.failFor {
		return errors.New("publish refused")
	}
	f.events = append(f.events, event)
	return nil
}

type fakeTaskOverdueRepo struct {
	overdue  []models.Task
	notified []uuid.UUID
}

func (f *fakeTaskOverdueRepo) WithTx(tx *gorm.DB) tasks.Repository { return f }

func (f *fakeTaskOverdueRepo) Create(ctx context.Context, task *models.Task) error { return nil }

func (f *fakeTaskOverdueRepo) FindTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTaskOverdueRepo) UpdateStatusGuarded(ctx context.Context, taskID uuid.UUID, expectedVersion int64, updates map[string]any) (int64, error) {
	return 0, nil
}

func (f *fakeTaskOverdueRepo) ListTasks(ctx context.Context, params pagination.Params, filters tasks.TaskFilters) (*tasks.TaskList, error) {
	return &tasks.TaskList{}, nil
}

func (f *fakeTaskOverdueRepo) FindOverdueUnnotified(ctx context.Context, now time.Time, limit int) ([]models.Task, error) {
	return f.overdue, nil
}

func (f *fakeTaskOverdueRepo) MarkOverdueNotified(ctx context.Context, taskID uuid.UUID, at time.Time) error {
	f.notified = append(f.notified, taskID)
	return nil
}
