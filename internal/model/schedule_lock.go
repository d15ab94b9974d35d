package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScheduleLock represents a distributed lock for scheduled analysis execution
type ScheduleLock struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AnalysisID primitive.ObjectID `json:"analysis_id" bson:"analysis_id"`
	LockedBy   string             `json:"locked_by" bson:"locked_by"`   // Pod identifier (hostname)
	LockedAt   time.Time          `json:"locked_at" bson:"locked_at"`   // Lock acquisition timestamp
	ExpiresAt  time.Time          `json:"expires_at" bson:"expires_at"` // Lock expiration (TTL)
}
