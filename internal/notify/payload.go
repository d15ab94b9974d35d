package notify

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/model"
)

// CompletionPayloadData contains the completion notification details
type CompletionPayloadData struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Details  map[string]interface{} `json:"details"`
}

// FormatCompletionPayload creates a webhook payload for a terminal analysis run
func FormatCompletionPayload(
	analysisTitle string,
	analysisID string,
	finalPhase model.Phase,
	findingCount int,
	matchedCount int,
	errorMessage string,
	correlationID string,
	durationMs int64,
) CompletionPayloadData {
	var message string
	if finalPhase == model.PhaseError {
		message = fmt.Sprintf("Analysis failed: %s - %s", analysisTitle, errorMessage)
	} else {
		message = fmt.Sprintf(
			"Analysis completed: %s (%d findings, %d matched)",
			analysisTitle,
			findingCount,
			matchedCount,
		)
	}

	return CompletionPayloadData{
		Text: message,
		Metadata: map[string]interface{}{
			"service":        "meridian",
			"analysis_id":    analysisID,
			"analysis_title": analysisTitle,
			"correlation_id": correlationID,
			"timestamp":      "", // Will be set by dispatcher
			"final_phase":    string(finalPhase),
		},
		Details: map[string]interface{}{
			"finding_count": findingCount,
			"matched_count": matchedCount,
			"duration_ms":   durationMs,
			"error":         errorMessage,
		},
	}
}
