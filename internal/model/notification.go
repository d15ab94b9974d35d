package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationAttempt represents a single webhook delivery attempt
type NotificationAttempt struct {
	AttemptNumber int       `json:"attempt_number" bson:"attempt_number"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	StatusCode    int       `json:"status_code,omitempty" bson:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty" bson:"response_body,omitempty"`
	Error         string    `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms" bson:"duration_ms"`
}

// NotificationPayload represents the payload sent to the webhook
type NotificationPayload struct {
	Text string `json:"text" bson:"text"`
}

// NotificationLog represents a completion notification delivery document
type NotificationLog struct {
	ID            primitive.ObjectID    `json:"id" bson:"_id,omitempty"`
	CorrelationID string                `json:"correlation_id" bson:"correlation_id"`
	AnalysisID    primitive.ObjectID    `json:"analysis_id" bson:"analysis_id"`
	WebhookURL    string                `json:"webhook_url" bson:"webhook_url"`
	FinalPhase    Phase                 `json:"final_phase" bson:"final_phase"`
	Payload       NotificationPayload   `json:"payload" bson:"payload"`
	Attempts      []NotificationAttempt `json:"attempts" bson:"attempts"`
	FinalStatus   string                `json:"final_status" bson:"final_status"` // "delivered", "failed", "retrying"
	CreatedAt     time.Time             `json:"created_at" bson:"created_at"`
	CompletedAt   time.Time             `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}
