package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CollectedDocument represents one fetched source payload
type CollectedDocument struct {
	SourceName string `json:"source_name" bson:"source_name"`
	StatusCode int    `json:"status_code" bson:"status_code"`
	Body       string `json:"body,omitempty" bson:"body,omitempty"`
	Error      string `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs int64  `json:"duration_ms" bson:"duration_ms"`
}

// Finding represents the result of a single insight rule evaluation
type Finding struct {
	RuleName       string      `json:"rule_name" bson:"rule_name"`
	SourceName     string      `json:"source_name" bson:"source_name"`
	Expression     string      `json:"expression" bson:"expression"`
	ExtractedValue interface{} `json:"extracted_value" bson:"extracted_value"`
	ExpectedValue  interface{} `json:"expected_value" bson:"expected_value"`
	Operator       string      `json:"operator" bson:"operator"`
	Matched        bool        `json:"matched" bson:"matched"`
	Error          string      `json:"error,omitempty" bson:"error,omitempty"`
}

// Report is the output assembled during the reporting phase
type Report struct {
	GeneratedAt  time.Time `json:"generated_at" bson:"generated_at"`
	Topic        string    `json:"topic" bson:"topic"`
	SourceCount  int       `json:"source_count" bson:"source_count"`
	FindingCount int       `json:"finding_count" bson:"finding_count"`
	MatchedCount int       `json:"matched_count" bson:"matched_count"`
	Highlights   []string  `json:"highlights,omitempty" bson:"highlights,omitempty"`
	Summary      string    `json:"summary,omitempty" bson:"summary,omitempty"`
}

// AnalysisRun represents one completed (or failed) pipeline run document
type AnalysisRun struct {
	ID            primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	CorrelationID string              `json:"correlation_id" bson:"correlation_id"`
	AnalysisID    primitive.ObjectID  `json:"analysis_id" bson:"analysis_id"`
	AnalysisTitle string              `json:"analysis_title" bson:"analysis_title"`
	StartedAt     time.Time           `json:"started_at" bson:"started_at"`
	CompletedAt   time.Time           `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	DurationMs    int64               `json:"duration_ms" bson:"duration_ms"`
	FinalPhase    Phase               `json:"final_phase" bson:"final_phase"`
	Documents     []CollectedDocument `json:"documents,omitempty" bson:"documents,omitempty"`
	Findings      []Finding           `json:"findings,omitempty" bson:"findings,omitempty"`
	Report        *Report             `json:"report,omitempty" bson:"report,omitempty"`
	Error         string              `json:"error,omitempty" bson:"error,omitempty"`
	TriggeredBy   string              `json:"triggered_by,omitempty" bson:"triggered_by,omitempty"` // "api", "scheduler"
}

// RunSummary represents a summary for list responses
type RunSummary struct {
	CorrelationID string `json:"correlation_id"`
	AnalysisID    string `json:"analysis_id"`
	AnalysisTitle string `json:"analysis_title"`
	StartedAt     string `json:"started_at"`
	DurationMs    int64  `json:"duration_ms"`
	FinalPhase    Phase  `json:"final_phase"`
	FindingCount  int    `json:"finding_count"`
	Error         string `json:"error,omitempty"`
}

// ToSummary converts AnalysisRun to RunSummary
func (ar *AnalysisRun) ToSummary() RunSummary {
	var startedAt string
	if !ar.StartedAt.IsZero() {
		startedAt = ar.StartedAt.Format(time.RFC3339)
	}

	return RunSummary{
		CorrelationID: ar.CorrelationID,
		AnalysisID:    ar.AnalysisID.Hex(),
		AnalysisTitle: ar.AnalysisTitle,
		StartedAt:     startedAt,
		DurationMs:    ar.DurationMs,
		FinalPhase:    ar.FinalPhase,
		FindingCount:  len(ar.Findings),
		Error:         ar.Error,
	}
}
