// Package scheduler runs the periodic cache clear and store maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/config"
)

// CacheClearer drops cached results.
type CacheClearer interface {
	ClearCache()
}

// Optimizer runs store maintenance.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Job names.
const (
	JobCacheClear  = "cache_clear"
	JobMaintenance = "maintenance"
)

// maintenanceTimeout bounds one scheduled optimize run.
const maintenanceTimeout = 5 * time.Minute

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run,omitzero"`
}

type job struct {
	schedule string
	entryID  cron.EntryID
	lastRun  time.Time
}

// Scheduler owns a cron instance and the jobs registered on it.
type Scheduler struct {
	cron      *cron.Cron
	cache     CacheClearer
	optimizer Optimizer

	mu      sync.RWMutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler. Either target may be nil, in which case its job
// is never registered.
func New(cache CacheClearer, optimizer Optimizer) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		cache:     cache,
		optimizer: optimizer,
		jobs:      make(map[string]*job),
	}
}

// Configure (re)registers the jobs from opts. An empty schedule removes the job.
func (s *Scheduler) Configure(opts config.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		if err := s.setJob(JobCacheClear, opts.CacheClearSchedule, s.clearCache); err != nil {
			return err
		}
	}
	if s.optimizer != nil {
		if err := s.setJob(JobMaintenance, opts.MaintenanceSchedule, s.optimize); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()

	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	log.Info().Msg("Scheduler stopped")
}

// Status lists the registered jobs.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, name := range []string{JobCacheClear, JobMaintenance} {
		j, ok := s.jobs[name]
		if !ok {
			continue
		}
		out = append(out, JobStatus{
			Name:     name,
			Schedule: j.schedule,
			NextRun:  s.cron.Entry(j.entryID).Next,
			LastRun:  j.lastRun,
		})
	}
	return out
}

// setJob must be called with mu held.
func (s *Scheduler) setJob(name, schedule string, fn func()) error {
	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, name)
	}
	if schedule == "" {
		return nil
	}

	id, err := s.cron.AddFunc(schedule, fn)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
	}
	s.jobs[name] = &job{schedule: schedule, entryID: id}
	log.Info().Str("job", name).Str("schedule", schedule).Msg("Job scheduled")
	return nil
}

func (s *Scheduler) markRun(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		j.lastRun = time.Now()
	}
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) clearCache() {
	s.cache.ClearCache()
	s.markRun(JobCacheClear)
	log.Debug().Msg("Scheduled cache clear done")
}

func (s *Scheduler) optimize() {
	ctx, cancel := context.WithTimeout(s.runContext(), maintenanceTimeout)
	defer cancel()

	if err := s.optimizer.Optimize(ctx); err != nil {
		log.Warn().Err(err).Msg("Scheduled maintenance failed")
	}
	s.markRun(JobMaintenance)
}
