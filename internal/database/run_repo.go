package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meridianhq/meridian/internal/model"
)

// RunRepository handles analysis run history operations
type RunRepository struct {
	collection *mongo.Collection
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *MongoDB) *RunRepository {
	return &RunRepository{
		collection: db.GetCollection(CollectionAnalysisRuns),
	}
}

// Create inserts a run record
func (r *RunRepository) Create(ctx context.Context, run *model.AnalysisRun) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.InsertOne(ctxTimeout, run)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		run.ID = oid
	}

	return nil
}

// GetByCorrelationID returns one run by its correlation id
func (r *RunRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*model.AnalysisRun, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run model.AnalysisRun
	err := r.collection.FindOne(ctxTimeout, bson.M{"correlation_id": correlationID}).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}

	return &run, nil
}

// List returns run records, newest first, optionally filtered by analysis id
func (r *RunRepository) List(ctx context.Context, analysisID *primitive.ObjectID, limit, offset int) ([]model.AnalysisRun, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{}
	if analysisID != nil {
		filter["analysis_id"] = *analysisID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	runs := make([]model.AnalysisRun, 0)
	if err := cursor.All(ctxTimeout, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	return runs, nil
}

// DeleteByAnalysis removes all run records for an analysis
func (r *RunRepository) DeleteByAnalysis(ctx context.Context, analysisID primitive.ObjectID) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.collection.DeleteMany(ctxTimeout, bson.M{"analysis_id": analysisID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	return result.DeletedCount, nil
}
