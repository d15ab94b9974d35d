package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/meridianhq/meridian/internal/database"
	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/process"
	"github.com/meridianhq/meridian/internal/realtime"
	"github.com/meridianhq/meridian/internal/worker"
)

// AnalysisService handles analysis definition management and run triggering
type AnalysisService struct {
	repo     *database.AnalysisRepository
	runRepo  *database.RunRepository
	machine  *process.Machine
	registry *realtime.Registry
	pool     *worker.WorkerPool
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(
	repo *database.AnalysisRepository,
	runRepo *database.RunRepository,
	machine *process.Machine,
	registry *realtime.Registry,
	pool *worker.WorkerPool,
) *AnalysisService {
	return &AnalysisService{
		repo:     repo,
		runRepo:  runRepo,
		machine:  machine,
		registry: registry,
		pool:     pool,
	}
}

// Create creates a new analysis definition
func (s *AnalysisService) Create(ctx context.Context, analysis *model.Analysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return s.repo.Create(ctx, analysis)
}

// GetByID retrieves an analysis definition by ID
func (s *AnalysisService) GetByID(ctx context.Context, id string) (*model.Analysis, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ID format", model.ErrNotFound)
	}

	return s.repo.GetByID(ctx, objID)
}

// List retrieves analysis definitions as list items
func (s *AnalysisService) List(ctx context.Context, limit, offset int) ([]model.AnalysisListItem, error) {
	analyses, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]model.AnalysisListItem, len(analyses))
	for i, analysis := range analyses {
		items[i] = analysis.ToListItem()
	}

	return items, nil
}

// Delete removes an analysis, its run history, its machine entry, and evicts
// any live subscribers with a final deleted notice
func (s *AnalysisService) Delete(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: invalid ID format", model.ErrNotFound)
	}

	if err := s.repo.Delete(ctx, objID); err != nil {
		return err
	}

	if deleted, err := s.runRepo.DeleteByAnalysis(ctx, objID); err != nil {
		slog.Error("Failed to delete analysis runs",
			"analysis_id", id,
			"error", err.Error(),
		)
	} else if deleted > 0 {
		slog.Info("Deleted analysis runs",
			"analysis_id", id,
			"count", deleted,
		)
	}

	s.machine.Forget(id)

	env, envErr := model.NewEnvelope(model.MessageError, model.ErrorPayload{
		Code:    model.ErrorCodeDeleted,
		Message: "analysis has been deleted",
	})
	if envErr == nil {
		s.registry.Evict(id, env)
	}

	return nil
}

// StartRun triggers an asynchronous pipeline run for an analysis. The
// returned correlation ID identifies the run.
func (s *AnalysisService) StartRun(ctx context.Context, id string) (string, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ID format", model.ErrNotFound)
	}

	// Verify the analysis exists before queueing
	analysis, err := s.repo.GetByID(ctx, objID)
	if err != nil {
		return "", err
	}

	if current, snapErr := s.machine.Snapshot(id); snapErr == nil && !current.Phase.Terminal() && current.Phase != model.PhasePending {
		return "", fmt.Errorf("%w: analysis run already in progress", model.ErrInvalidTransition)
	}

	correlationID := uuid.New().String()

	s.machine.Track(id)
	if err := s.repo.MarkRunStarted(ctx, objID); err != nil {
		slog.Error("Failed to mark run started",
			"analysis_id", id,
			"error", err.Error(),
		)
	}

	job := worker.Job{
		AnalysisID:    id,
		CorrelationID: correlationID,
		Context:       context.Background(),
		Async:         true,
	}

	if err := s.pool.Submit(job); err != nil {
		return "", fmt.Errorf("failed to submit analysis run: %w", err)
	}

	slog.Info("Analysis run queued",
		"analysis_id", id,
		"analysis_title", analysis.Title,
		"correlation_id", correlationID,
	)

	return correlationID, nil
}

// ReportProgress ingests a phase transition from an external driver and
// mirrors it into the persisted document. Analyses not yet tracked by the
// machine are seeded first, so a driver can report against a fresh restart.
func (s *AnalysisService) ReportProgress(ctx context.Context, id string, phase model.Phase, progress int, detail string) (model.ProcessUpdate, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.ProcessUpdate{}, fmt.Errorf("%w: invalid ID format", model.ErrNotFound)
	}

	if err := s.ensureTracked(ctx, id, objID); err != nil {
		return model.ProcessUpdate{}, err
	}

	if err := s.machine.Advance(id, phase, progress, detail); err != nil {
		return model.ProcessUpdate{}, err
	}

	if err := s.repo.UpdateStatus(ctx, objID, phase, progress, ""); err != nil {
		slog.Error("Failed to persist analysis status",
			"analysis_id", id,
			"phase", string(phase),
			"error", err.Error(),
		)
	}

	snapshot, _ := s.machine.Snapshot(id)
	return snapshot, nil
}

// FailAnalysis ingests a failure from an external driver. Failing an
// already terminal analysis is accepted and changes nothing.
func (s *AnalysisService) FailAnalysis(ctx context.Context, id, message string) (model.ProcessUpdate, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.ProcessUpdate{}, fmt.Errorf("%w: invalid ID format", model.ErrNotFound)
	}

	if err := s.ensureTracked(ctx, id, objID); err != nil {
		return model.ProcessUpdate{}, err
	}

	if err := s.machine.Fail(id, message); err != nil {
		return model.ProcessUpdate{}, err
	}

	snapshot, _ := s.machine.Snapshot(id)
	if snapshot.Phase == model.PhaseError {
		if err := s.repo.UpdateStatus(ctx, objID, model.PhaseError, snapshot.Progress, message); err != nil {
			slog.Error("Failed to persist analysis error status",
				"analysis_id", id,
				"error", err.Error(),
			)
		}
	}

	return snapshot, nil
}

// ensureTracked seeds a machine entry for an analysis that exists in the
// store but has no live snapshot yet
func (s *AnalysisService) ensureTracked(ctx context.Context, id string, objID primitive.ObjectID) error {
	if _, err := s.machine.Snapshot(id); err == nil {
		return nil
	}

	if _, err := s.repo.GetByID(ctx, objID); err != nil {
		return err
	}

	s.machine.Track(id)
	return nil
}

// Status returns the current ProcessUpdate for an analysis. Live machine
// state wins; without one the persisted analysis document is used, so
// status reads survive restarts.
func (s *AnalysisService) Status(ctx context.Context, id string) (model.ProcessUpdate, error) {
	if snapshot, err := s.machine.Snapshot(id); err == nil {
		return snapshot, nil
	}

	analysis, err := s.GetByID(ctx, id)
	if err != nil {
		return model.ProcessUpdate{}, err
	}

	return analysis.CurrentUpdate(), nil
}
