package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"microhub-redistribution-api/internal/repository"
	"microhub-redistribution-api/internal/retry"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// SchedulerConfig holds configuration for the background jobs.
type SchedulerConfig struct {
	// RetryInterval is how often a retry pass runs. Zero disables the job.
	RetryInterval time.Duration

	// Escalation is the discount increase per scheduled pass. Zero uses the service default.
	Escalation int

	// PurgeAfterDays removes units that expired more than this many days ago. Zero disables the job.
	PurgeAfterDays int

	// PurgeInterval is how often the purge runs.
	// Default: 1 hour
	PurgeInterval time.Duration

	// PassTimeout bounds a single scheduled pass.
	// Default: 5 minutes
	PassTimeout time.Duration
}

// Scheduler runs periodic retry passes and inventory purges.
type Scheduler struct {
	scheduler gocron.Scheduler
	svc       *RedistributionService
	repo      repository.InventoryRepository
	config    SchedulerConfig
	jobs      map[string]gocron.Job
	stopOnce  sync.Once

	mu        sync.Mutex
	isRunning bool
	lastPass  *retry.PassResult
	lastRunAt time.Time
}

// NewScheduler creates the scheduler and registers its jobs. repo may be nil, in which
// case the purge job is not registered.
func NewScheduler(svc *RedistributionService, repo repository.InventoryRepository, config SchedulerConfig) (*Scheduler, error) {
	if config.PurgeInterval == 0 {
		config.PurgeInterval = time.Hour
	}
	if config.PassTimeout == 0 {
		config.PassTimeout = 5 * time.Minute
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: scheduler,
		svc:       svc,
		repo:      repo,
		config:    config,
		jobs:      make(map[string]gocron.Job),
	}
	if err := s.registerJobs(); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs() error {
	if s.config.RetryInterval > 0 {
		job, err := s.scheduler.NewJob(
			gocron.DurationJob(s.config.RetryInterval),
			gocron.NewTask(s.runPass),
			gocron.WithName("retry-pass"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create retry pass job: %w", err)
		}
		s.jobs["retry-pass"] = job
	}

	if s.config.PurgeAfterDays > 0 && s.repo != nil {
		job, err := s.scheduler.NewJob(
			gocron.DurationJob(s.config.PurgeInterval),
			gocron.NewTask(s.runPurge),
			gocron.WithName("inventory-purge"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create purge job: %w", err)
		}
		s.jobs["inventory-purge"] = job
	}

	log.Info().Str("component", "scheduler").Int("jobs", len(s.jobs)).Msg("registered background jobs")
	return nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.scheduler.Start()

	log.Info().Str("component", "scheduler").Dur("retry_interval", s.config.RetryInterval).
		Int("purge_after_days", s.config.PurgeAfterDays).Msg("scheduler started")
}

// Stop shuts the scheduler down and waits for running jobs. Only the first call has effect.
func (s *Scheduler) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		if err = s.scheduler.Shutdown(); err != nil {
			err = fmt.Errorf("failed to stop scheduler: %w", err)
			return
		}
		log.Info().Str("component", "scheduler").Msg("scheduler stopped")
	})
	return err
}

func (s *Scheduler) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.PassTimeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		log.Error().Str("component", "scheduler").Err(err).Msg("scheduled retry pass failed")
	}
}

// RunNow triggers an immediate retry pass. Empty queues are skipped.
func (s *Scheduler) RunNow(ctx context.Context) (retry.PassResult, error) {
	if s.svc.Queue().Len() == 0 {
		return retry.PassResult{}, nil
	}

	res, err := s.svc.RetryPass(ctx, s.config.Escalation)

	s.mu.Lock()
	s.lastPass = &res
	s.lastRunAt = time.Now().UTC()
	s.mu.Unlock()

	return res, err
}

func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.PassTimeout)
	defer cancel()

	if _, err := s.Purge(ctx); err != nil {
		log.Error().Str("component", "scheduler").Err(err).Msg("inventory purge failed")
	}
}

// Purge deletes units that expired more than PurgeAfterDays before today.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	if s.repo == nil || s.config.PurgeAfterDays <= 0 {
		return 0, nil
	}
	cutoff := s.svc.Today().AddDate(0, 0, -s.config.PurgeAfterDays)
	return s.repo.DeleteExpiredBefore(ctx, cutoff)
}

// Status returns information about scheduled jobs.
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}

	status := map[string]interface{}{
		"running":    s.isRunning,
		"jobs":       names,
		"total_jobs": len(s.jobs),
	}
	if s.lastPass != nil {
		status["last_pass"] = map[string]interface{}{
			"at":          s.lastRunAt,
			"resolved":    len(s.lastPass.Resolved),
			"failed":      len(s.lastPass.Failed),
			"stale":       len(s.lastPass.Stale),
			"stock_saved": s.lastPass.StockSaved,
		}
	}
	return status
}
