package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meridianhq/meridian/internal/model"
)

// NotificationRepository handles notification log operations
type NotificationRepository struct {
	collection *mongo.Collection
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *MongoDB) *NotificationRepository {
	return &NotificationRepository{
		collection: db.GetCollection(CollectionNotificationLogs),
	}
}

// Create inserts a notification delivery log
func (r *NotificationRepository) Create(ctx context.Context, log *model.NotificationLog) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.InsertOne(ctxTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		log.ID = oid
	}

	return nil
}

// ListByAnalysis returns delivery logs for an analysis, newest first
func (r *NotificationRepository) ListByAnalysis(ctx context.Context, analysisID primitive.ObjectID, limit int) ([]model.NotificationLog, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"analysis_id": analysisID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	logs := make([]model.NotificationLog, 0)
	if err := cursor.All(ctxTimeout, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode notification logs: %w", err)
	}

	return logs, nil
}
