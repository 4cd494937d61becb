package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Name() string
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies map[string]pinger
	Consumers    []consumer
}

// Service runs every subscription consumer until the context ends or one of
// them fails.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers []consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for _, c := range params.Consumers {
		if c == nil {
			return nil, errors.New("consumer must not be nil")
		}
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pingDependency(ctx, s.logg, name, s.deps[name].Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is cancelled. A consumer that stops early cancels the
// rest; their errors are combined.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		runErr error
	)
	for _, c := range s.consumers {
		wg.Add(1)
		go func(c consumer) {
			defer wg.Done()
			consumerCtx := s.logg.WithField(runCtx, "consumer", c.Name())
			s.logg.Info(consumerCtx, "consumer started")
			err := c.Run(consumerCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(consumerCtx, "consumer stopped unexpectedly", err)
				mu.Lock()
				runErr = multierr.Append(runErr, fmt.Errorf("%s: %w", c.Name(), err))
				mu.Unlock()
			}
			cancel()
		}(c)
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}
