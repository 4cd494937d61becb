package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

const defaultStaleAfter = 10 * time.Minute

type staleMarker interface {
	MarkStaleOffline(ctx context.Context, staleAfter time.Duration) (int64, error)
}

type StalePartnerJobParams struct {
	Logger     *logger.Logger
	Locations  staleMarker
	StaleAfter time.Duration
}

// stalePartnerJob flips partners offline once their last ping is older than
// staleAfter. It runs on every cycle.
type stalePartnerJob struct {
	logg       *logger.Logger
	locations  staleMarker
	staleAfter time.Duration
}

func NewStalePartnerJob(params StalePartnerJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locations == nil {
		return nil, fmt.Errorf("location service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &stalePartnerJob{logg: params.Logger, locations: params.Locations, staleAfter: staleAfter}, nil
}

func (j *stalePartnerJob) Name() string { return "stale-partner-sweep" }

func (j *stalePartnerJob) Run(ctx context.Context) error {
	n, err := j.locations.MarkStaleOffline(ctx, j.staleAfter)
	if err != nil {
		return fmt.Errorf("stale partner sweep: %w", err)
	}
	if n > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"stale_after":      j.staleAfter.String(),
			"partners_offline": n,
		}), "stale partners marked offline")
	}
	return nil
}
