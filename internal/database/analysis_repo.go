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

// AnalysisRepository handles analysis document operations
type AnalysisRepository struct {
	collection *mongo.Collection
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *MongoDB) *AnalysisRepository {
	return &AnalysisRepository{
		collection: db.GetCollection(CollectionAnalyses),
	}
}

// Create inserts a new analysis document
func (r *AnalysisRepository) Create(ctx context.Context, analysis *model.Analysis) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.InsertOne(ctxTimeout, analysis)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		analysis.ID = oid
	}

	return nil
}

// GetByID returns an analysis by its id
func (r *AnalysisRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Analysis, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var analysis model.Analysis
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&analysis)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch analysis: %w", err)
	}

	return &analysis, nil
}

// List returns analyses ordered by creation time, newest first
func (r *AnalysisRepository) List(ctx context.Context, limit, offset int) ([]model.Analysis, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "metadata.created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctxTimeout, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	analyses := make([]model.Analysis, 0)
	if err := cursor.All(ctxTimeout, &analyses); err != nil {
		return nil, fmt.Errorf("failed to decode analyses: %w", err)
	}

	return analyses, nil
}

// Delete removes an analysis document
func (r *AnalysisRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if result.DeletedCount == 0 {
		return model.ErrNotFound
	}

	return nil
}

// UpdateStatus persists the last-known run state so catch-up snapshot
// reads survive process restarts
func (r *AnalysisRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, phase model.Phase, progress int, errorMessage string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"status":              phase,
			"progress":            progress,
			"error":               errorMessage,
			"metadata.updated_at": now,
		},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update analysis status: %w", err)
	}
	if result.MatchedCount == 0 {
		return model.ErrNotFound
	}

	return nil
}

// MarkRunStarted records the start of a run
func (r *AnalysisRepository) MarkRunStarted(ctx context.Context, id primitive.ObjectID) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"status":              model.PhasePending,
			"progress":            0,
			"error":               "",
			"last_run_at":         now,
			"metadata.updated_at": now,
		},
	}

	_, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to mark run started: %w", err)
	}

	return nil
}

// FindScheduledAnalyses returns analyses whose schedule is due at the given time
func (r *AnalysisRepository) FindScheduledAnalyses(ctx context.Context, now time.Time) ([]model.Analysis, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"schedule_enabled":   true,
		"next_scheduled_run": bson.M{"$lte": now},
	}

	cursor, err := r.collection.Find(ctxTimeout, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled analyses: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	analyses := make([]model.Analysis, 0)
	if err := cursor.All(ctxTimeout, &analyses); err != nil {
		return nil, fmt.Errorf("failed to decode scheduled analyses: %w", err)
	}

	return analyses, nil
}

// UpdateScheduledRun stores the last and next scheduled run times
func (r *AnalysisRepository) UpdateScheduledRun(ctx context.Context, id primitive.ObjectID, lastRun, nextRun time.Time) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"last_scheduled_run": lastRun,
			"next_scheduled_run": nextRun,
		},
	}

	_, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update scheduled run: %w", err)
	}

	return nil
}
