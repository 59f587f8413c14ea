// Package jobs runs periodic maintenance work next to the HTTP server.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is a periodic task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job      Job
	interval time.Duration
	running  bool
}

// Scheduler runs each registered job on its own ticker. A job never overlaps
// with itself: a tick that arrives while the previous run is active is skipped.
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	entries   []*entry
	isRunning bool
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{logger: logger, ctx: ctx, cancel: cancel}
}

// Register adds job to run every interval. It must be called before Start.
func (s *Scheduler) Register(job Job, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{job: job, interval: interval})
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.isRunning = true

	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(e)
	}

	s.logger.Info("Background jobs started", slog.Int("jobs", len(s.entries)))
	return nil
}

func (s *Scheduler) loop(e *entry) {
	defer s.wg.Done()

	s.logger.Info("Starting job", slog.String("job", e.job.Name()), slog.Duration("interval", e.interval))
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	s.executeJobSafely(e)
	for {
		select {
		case <-ticker.C:
			s.executeJobSafely(e)
		case <-s.ctx.Done():
			s.logger.Info("Job stopped", slog.String("job", e.job.Name()))
			return
		}
	}
}

// executeJobSafely runs a job unless its previous run is still active.
func (s *Scheduler) executeJobSafely(e *entry) {
	s.mu.Lock()
	if e.running {
		s.logger.Debug("Skipping job execution - previous run still active", slog.String("job", e.job.Name()))
		s.mu.Unlock()
		return
	}
	e.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", e.job.Name()),
				slog.Any("panic", r))
		}
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
	}()

	if err := e.job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", e.job.Name()), slog.Any("error", err))
	}
}

// Stop halts all background jobs and waits for running ones to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
