package service

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/meridianhq/meridian/internal/database"
	"github.com/meridianhq/meridian/internal/model"
)

// RunService handles analysis run history queries
type RunService struct {
	runRepo *database.RunRepository
}

// NewRunService creates a new run service
func NewRunService(runRepo *database.RunRepository) *RunService {
	return &RunService{
		runRepo: runRepo,
	}
}

// List retrieves run summaries, optionally filtered by analysis ID
func (s *RunService) List(ctx context.Context, analysisID string, limit, offset int) ([]model.RunSummary, error) {
	var filter *primitive.ObjectID
	if analysisID != "" {
		objID, err := primitive.ObjectIDFromHex(analysisID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid analysis ID format", model.ErrNotFound)
		}
		filter = &objID
	}

	runs, err := s.runRepo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.RunSummary, len(runs))
	for i := range runs {
		summaries[i] = runs[i].ToSummary()
	}

	return summaries, nil
}

// GetByCorrelationID retrieves a full run document
func (s *RunService) GetByCorrelationID(ctx context.Context, correlationID string) (*model.AnalysisRun, error) {
	return s.runRepo.GetByCorrelationID(ctx, correlationID)
}
