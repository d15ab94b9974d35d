package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/database"
	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/pipeline"
	"github.com/meridianhq/meridian/internal/process"
)

// Scheduler handles scheduled analysis runs with distributed locking
type Scheduler struct {
	cfg          *config.Config
	runner       *pipeline.Runner
	machine      *process.Machine
	lockRepo     *database.LockRepository
	analysisRepo *database.AnalysisRepository
	podID        string
	ticker       *time.Ticker
	stopChan     chan struct{}
	wg           sync.WaitGroup
	semaphore    chan struct{} // Limits concurrent executions
}

// NewScheduler creates a new scheduler instance
func NewScheduler(
	cfg *config.Config,
	runner *pipeline.Runner,
	machine *process.Machine,
	lockRepo *database.LockRepository,
	analysisRepo *database.AnalysisRepository,
) *Scheduler {
	// Get pod identifier (hostname in Kubernetes)
	podID, err := os.Hostname()
	if err != nil {
		podID = uuid.New().String() // Fallback to UUID
		slog.Warn("Failed to get hostname, using UUID as pod ID", "pod_id", podID)
	}

	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		machine:      machine,
		lockRepo:     lockRepo,
		analysisRepo: analysisRepo,
		podID:        podID,
		stopChan:     make(chan struct{}),
		semaphore:    make(chan struct{}, cfg.SchedulerConcurrency),
	}
}

// Start begins the scheduler tick loop
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.SchedulerEnabled {
		slog.Info("Scheduler is disabled by configuration")
		return
	}

	slog.Info("Starting scheduler",
		"pod_id", s.podID,
		"tick_interval", s.cfg.SchedulerTickInterval,
		"lock_ttl", s.cfg.SchedulerLockTTL,
		"concurrency", s.cfg.SchedulerConcurrency,
	)

	s.ticker = time.NewTicker(s.cfg.SchedulerTickInterval)
	s.wg.Add(1)

	go s.run(ctx)
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop(ctx context.Context) {
	if !s.cfg.SchedulerEnabled {
		return
	}

	slog.Info("Stopping scheduler", "pod_id", s.podID)

	// Signal stop
	close(s.stopChan)

	// Stop ticker
	if s.ticker != nil {
		s.ticker.Stop()
	}

	// Wait for in-flight runs with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All scheduled runs completed")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for scheduled runs to complete")
	}

	// Release all locks owned by this pod
	if err := s.lockRepo.ReleaseAllLocks(context.Background(), s.podID); err != nil {
		slog.Error("Failed to release locks during shutdown", "error", err)
	}

	slog.Info("Scheduler stopped", "pod_id", s.podID)
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.tick(ctx)
		case <-s.stopChan:
			slog.Info("Scheduler stopped", "pod_id", s.podID)
			return
		case <-ctx.Done():
			slog.Info("Scheduler context done", "pod_id", s.podID)
			return
		}
	}
}

// tick processes one scheduler tick
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	slog.Debug("Scheduler tick", "pod_id", s.podID, "time", now.Format(time.RFC3339))

	// Clean expired locks first
	if _, err := s.lockRepo.CleanExpiredLocks(ctx); err != nil {
		slog.Error("Failed to clean expired locks", "error", err)
	}

	// Find analyses that are due
	analyses, err := s.analysisRepo.FindScheduledAnalyses(ctx, now)
	if err != nil {
		slog.Error("Failed to find scheduled analyses", "error", err)
		return
	}

	if len(analyses) == 0 {
		return
	}

	slog.Info("Found scheduled analyses due for execution",
		"pod_id", s.podID,
		"count", len(analyses),
	)

	for _, analysis := range analyses {
		// Try to acquire lock
		acquired, err := s.lockRepo.AcquireLock(ctx, analysis.ID, s.podID, s.cfg.SchedulerLockTTL)
		if err != nil {
			slog.Error("Failed to acquire lock",
				"analysis_id", analysis.ID.Hex(),
				"analysis_title", analysis.Title,
				"error", err,
			)
			continue
		}

		if !acquired {
			slog.Debug("Lock already held by another pod",
				"analysis_id", analysis.ID.Hex(),
				"analysis_title", analysis.Title,
			)
			continue
		}

		slog.Info("Acquired lock for scheduled run",
			"analysis_id", analysis.ID.Hex(),
			"analysis_title", analysis.Title,
			"pod_id", s.podID,
		)

		// Execute asynchronously with concurrency control
		s.wg.Add(1)
		go s.executeAnalysis(ctx, analysis)
	}
}

// executeAnalysis runs a single scheduled analysis with lock management
func (s *Scheduler) executeAnalysis(ctx context.Context, analysis model.Analysis) {
	defer s.wg.Done()

	// Acquire semaphore slot (limit concurrent runs)
	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-s.stopChan:
		// Scheduler is stopping, release lock and return
		s.releaseLock(ctx, analysis.ID)
		return
	case <-ctx.Done():
		s.releaseLock(ctx, analysis.ID)
		return
	}

	analysisID := analysis.ID.Hex()
	correlationID := uuid.New().String()

	slog.Info("Executing scheduled analysis",
		"analysis_id", analysisID,
		"analysis_title", analysis.Title,
		"correlation_id", correlationID,
		"pod_id", s.podID,
	)

	start := time.Now()

	s.machine.Track(analysisID)
	if err := s.analysisRepo.MarkRunStarted(ctx, analysis.ID); err != nil {
		slog.Error("Failed to mark scheduled run started",
			"analysis_id", analysisID,
			"error", err,
		)
	}

	_, err := s.runner.Execute(ctx, analysisID, correlationID, "scheduler")

	duration := time.Since(start)

	if err != nil {
		slog.Error("Scheduled analysis run failed",
			"analysis_id", analysisID,
			"analysis_title", analysis.Title,
			"correlation_id", correlationID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
	} else {
		slog.Info("Scheduled analysis run completed",
			"analysis_id", analysisID,
			"analysis_title", analysis.Title,
			"correlation_id", correlationID,
			"duration_ms", duration.Milliseconds(),
		)
	}

	// Update next scheduled run time
	if err := s.updateNextScheduledRun(ctx, analysis); err != nil {
		slog.Error("Failed to update next scheduled run",
			"analysis_id", analysisID,
			"error", err,
		)
	}

	// Release the lock
	s.releaseLock(ctx, analysis.ID)
}

// updateNextScheduledRun calculates and updates the next scheduled run time
func (s *Scheduler) updateNextScheduledRun(ctx context.Context, analysis model.Analysis) error {
	now := time.Now().UTC()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(analysis.Schedule)
	if err != nil {
		return err
	}

	nextRun := schedule.Next(now)

	return s.analysisRepo.UpdateScheduledRun(
		ctx,
		analysis.ID,
		now,
		nextRun,
	)
}

// releaseLock releases the distributed lock for an analysis
func (s *Scheduler) releaseLock(ctx context.Context, analysisID primitive.ObjectID) {
	if err := s.lockRepo.ReleaseLock(ctx, analysisID, s.podID); err != nil {
		slog.Error("Failed to release lock",
			"analysis_id", analysisID.Hex(),
			"pod_id", s.podID,
			"error", err,
		)
	}
}
