package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/partner-dispatch/internal/archive"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

const locationHistoryEvery = time.Hour

type historyArchiver interface {
	Run(ctx context.Context) (archive.Result, error)
}

type LocationHistoryJobParams struct {
	Logger   *logger.Logger
	Archiver historyArchiver
}

type locationHistoryJob struct {
	logg     *logger.Logger
	archiver historyArchiver
}

func NewLocationHistoryJob(params LocationHistoryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Archiver == nil {
		return nil, fmt.Errorf("archiver required")
	}
	return &locationHistoryJob{logg: params.Logger, archiver: params.Archiver}, nil
}

func (j *locationHistoryJob) Name() string         { return "location-history-export" }
func (j *locationHistoryJob) Every() time.Duration { return locationHistoryEvery }

func (j *locationHistoryJob) Run(ctx context.Context) error {
	res, err := j.archiver.Run(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        res.Cutoff,
		"rows_archived": res.Archived,
		"files":         len(res.Files),
		"watermark_at":  res.Watermark.RecordedAt,
		"watermark_id":  res.Watermark.ID,
	})
	if err != nil {
		j.logg.Warn(logCtx, "location history export stopped early")
		return fmt.Errorf("location history export: %w", err)
	}
	j.logg.Info(logCtx, "location history exported")
	return nil
}
