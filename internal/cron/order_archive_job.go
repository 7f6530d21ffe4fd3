package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

const defaultOrderArchiveAge = 90 * 24 * time.Hour

type OrderArchiveJobParams struct {
	Logger     *logger.Logger
	Repository orderArchiveRepo
	ArchiveAge time.Duration
}

type orderArchiveRepo interface {
	ArchiveDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewOrderArchiveJob stamps archived_at on terminal orders older than the
// archive age so the default listings stay small.
func NewOrderArchiveJob(params OrderArchiveJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	age := params.ArchiveAge
	if age <= 0 {
		age = defaultOrderArchiveAge
	}
	return &orderArchiveJob{
		logg: params.Logger,
		repo: params.Repository,
		age:  age,
		now:  time.Now,
	}, nil
}

type orderArchiveJob struct {
	logg *logger.Logger
	repo orderArchiveRepo
	age  time.Duration
	now  func() time.Time
}

func (j *orderArchiveJob) Name() string { return "order-archive" }

func (j *orderArchiveJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	archived, err := j.repo.ArchiveDeliveredBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("order archive: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"rows_archived": archived,
	})
	j.logg.Info(logCtx, "order archive sweep complete")
	return nil
}
