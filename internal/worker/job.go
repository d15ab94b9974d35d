package worker

import (
	"context"

	"github.com/meridianhq/meridian/internal/model"
)

// Job represents an analysis run job
type Job struct {
	AnalysisID    string
	CorrelationID string
	Context       context.Context
	Async         bool // If true, result won't be sent to results channel
}

// Result represents the result of an analysis run
type Result struct {
	Run   *model.AnalysisRun
	Error error
	JobID string // For async jobs
}
