package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/meridianhq/meridian/internal/database"
	"github.com/meridianhq/meridian/internal/insight"
	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/notify"
	"github.com/meridianhq/meridian/internal/process"
)

// Progress milestones reported at each phase boundary
const (
	progressCollecting = 10
	progressProcessing = 40
	progressAnalyzing  = 70
	progressReporting  = 90
	progressCompleted  = 100
)

// Summarizer produces a report summary from findings. Implemented by ai.Client.
type Summarizer interface {
	Summarize(ctx context.Context, topic string, findings []model.Finding) (string, error)
}

// Runner drives an analysis run through the pipeline phases, advancing the
// state machine at each boundary and persisting the result
type Runner struct {
	httpClient       *http.Client
	machine          *process.Machine
	engine           *insight.Engine
	summarizer       Summarizer
	dispatcher       *notify.Dispatcher
	analysisRepo     *database.AnalysisRepository
	runRepo          *database.RunRepository
	notificationRepo *database.NotificationRepository
}

// NewRunner creates a new pipeline runner. summarizer may be nil, in which
// case reports are built without an AI summary.
func NewRunner(
	httpClient *http.Client,
	machine *process.Machine,
	summarizer Summarizer,
	dispatcher *notify.Dispatcher,
	analysisRepo *database.AnalysisRepository,
	runRepo *database.RunRepository,
	notificationRepo *database.NotificationRepository,
) *Runner {
	return &Runner{
		httpClient:       httpClient,
		machine:          machine,
		engine:           insight.NewEngine(),
		summarizer:       summarizer,
		dispatcher:       dispatcher,
		analysisRepo:     analysisRepo,
		runRepo:          runRepo,
		notificationRepo: notificationRepo,
	}
}

// Execute runs the full pipeline for an analysis. The analysis must already
// be tracked by the state machine before Execute is called.
func (r *Runner) Execute(ctx context.Context, analysisID, correlationID, triggeredBy string) (*model.AnalysisRun, error) {
	slog.Info("Starting analysis run",
		"correlation_id", correlationID,
		"analysis_id", analysisID,
	)

	start := time.Now()

	objID, err := primitive.ObjectIDFromHex(analysisID)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis ID: %w", err)
	}

	analysis, err := r.analysisRepo.GetByID(ctx, objID)
	if err != nil {
		r.fail(ctx, analysisID, objID, fmt.Sprintf("failed to fetch analysis: %v", err))
		return nil, fmt.Errorf("failed to fetch analysis: %w", err)
	}

	run := &model.AnalysisRun{
		CorrelationID: correlationID,
		AnalysisID:    objID,
		AnalysisTitle: analysis.Title,
		StartedAt:     start.UTC(),
		TriggeredBy:   triggeredBy,
	}

	// Collecting
	if err := r.advance(ctx, analysisID, objID, model.PhaseCollecting, progressCollecting, "fetching sources"); err != nil {
		return nil, err
	}
	documents := r.collectSources(ctx, analysisID, analysis.Sources)
	run.Documents = documents

	fetched := 0
	for _, doc := range documents {
		if doc.Error == "" {
			fetched++
		}
	}
	if fetched == 0 {
		return r.finishFailed(ctx, run, analysis, "all sources failed to fetch")
	}

	// Processing
	if err := r.advance(ctx, analysisID, objID, model.PhaseProcessing, progressProcessing, "normalizing documents"); err != nil {
		return nil, err
	}
	normalizeDocuments(run.Documents)

	// Analyzing
	if err := r.advance(ctx, analysisID, objID, model.PhaseAnalyzing, progressAnalyzing, "evaluating rules"); err != nil {
		return nil, err
	}
	run.Findings = r.engine.EvaluateRules(analysis.Rules, run.Documents)

	// Reporting
	if err := r.advance(ctx, analysisID, objID, model.PhaseReporting, progressReporting, "building report"); err != nil {
		return nil, err
	}
	run.Report = r.buildReport(ctx, analysis, run.Findings, fetched)

	// Completed
	if err := r.advance(ctx, analysisID, objID, model.PhaseCompleted, progressCompleted, ""); err != nil {
		return nil, err
	}

	run.FinalPhase = model.PhaseCompleted
	run.CompletedAt = time.Now().UTC()
	run.DurationMs = time.Since(start).Milliseconds()

	if err := r.runRepo.Create(ctx, run); err != nil {
		slog.Error("Failed to save analysis run",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
	}

	r.notifyCompletion(ctx, analysis, run)

	slog.Info("Analysis run completed",
		"correlation_id", correlationID,
		"analysis_title", analysis.Title,
		"duration_ms", run.DurationMs,
		"findings", len(run.Findings),
	)

	return run, nil
}

// advance moves the state machine forward and mirrors the new state into the
// analysis document so snapshot reads survive restarts
func (r *Runner) advance(ctx context.Context, analysisID string, objID primitive.ObjectID, phase model.Phase, progress int, detail string) error {
	if err := r.machine.Advance(analysisID, phase, progress, detail); err != nil {
		return fmt.Errorf("failed to advance to %s: %w", phase, err)
	}

	if err := r.analysisRepo.UpdateStatus(ctx, objID, phase, progress, ""); err != nil {
		slog.Error("Failed to persist analysis status",
			"analysis_id", analysisID,
			"phase", string(phase),
			"error", err.Error(),
		)
	}

	return nil
}

// fail marks the analysis as errored in both the machine and the store
func (r *Runner) fail(ctx context.Context, analysisID string, objID primitive.ObjectID, message string) {
	if err := r.machine.Fail(analysisID, message); err != nil {
		slog.Error("Failed to mark analysis as failed",
			"analysis_id", analysisID,
			"error", err.Error(),
		)
	}

	progress := 0
	if snapshot, snapErr := r.machine.Snapshot(analysisID); snapErr == nil {
		progress = snapshot.Progress
	}

	if err := r.analysisRepo.UpdateStatus(ctx, objID, model.PhaseError, progress, message); err != nil {
		slog.Error("Failed to persist analysis error status",
			"analysis_id", analysisID,
			"error", err.Error(),
		)
	}
}

// finishFailed records a failed run, marks the analysis errored and sends
// the failure notification
func (r *Runner) finishFailed(ctx context.Context, run *model.AnalysisRun, analysis *model.Analysis, message string) (*model.AnalysisRun, error) {
	analysisID := run.AnalysisID.Hex()
	r.fail(ctx, analysisID, run.AnalysisID, message)

	run.FinalPhase = model.PhaseError
	run.Error = message
	run.CompletedAt = time.Now().UTC()
	run.DurationMs = run.CompletedAt.Sub(run.StartedAt).Milliseconds()

	if err := r.runRepo.Create(ctx, run); err != nil {
		slog.Error("Failed to save failed analysis run",
			"correlation_id", run.CorrelationID,
			"error", err.Error(),
		)
	}

	r.notifyCompletion(ctx, analysis, run)

	return run, fmt.Errorf("analysis run failed: %s", message)
}

// collectSources fetches every configured source, bumping collecting-phase
// progress after each one. Individual source failures are recorded on the
// document, not fatal.
func (r *Runner) collectSources(ctx context.Context, analysisID string, sources []model.Source) []model.CollectedDocument {
	documents := make([]model.CollectedDocument, 0, len(sources))

	span := progressProcessing - progressCollecting
	for i, source := range sources {
		documents = append(documents, r.fetchSource(ctx, source))

		progress := progressCollecting + span*(i+1)/(len(sources)+1)
		detail := fmt.Sprintf("fetched %d/%d sources", i+1, len(sources))
		if err := r.machine.Advance(analysisID, model.PhaseCollecting, progress, detail); err != nil {
			slog.Debug("Skipping collecting progress bump",
				"analysis_id", analysisID,
				"error", err.Error(),
			)
		}
	}

	return documents
}

// fetchSource makes a single HTTP request to a source
func (r *Runner) fetchSource(ctx context.Context, source model.Source) model.CollectedDocument {
	doc := model.CollectedDocument{
		SourceName: source.Name,
	}

	timeout := time.Duration(source.Timeout) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Debug("Fetching source",
		"source", source.Name,
		"url", source.URL,
		"method", source.Method,
		"timeout_seconds", source.Timeout,
	)

	start := time.Now()

	var bodyReader io.Reader
	if source.Body != "" {
		bodyReader = bytes.NewBufferString(source.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, source.Method, source.URL, bodyReader)
	if err != nil {
		doc.Error = fmt.Sprintf("Failed to create request: %v", err)
		doc.DurationMs = time.Since(start).Milliseconds()
		return doc
	}

	for key, value := range source.Headers {
		req.Header.Set(key, value)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		doc.Error = fmt.Sprintf("Request failed: %v", err)
		doc.DurationMs = time.Since(start).Milliseconds()
		return doc
	}
	defer resp.Body.Close()

	// Limit source payloads to 1MB
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		doc.Error = fmt.Sprintf("Failed to read response: %v", err)
		doc.DurationMs = time.Since(start).Milliseconds()
		return doc
	}

	doc.StatusCode = resp.StatusCode
	doc.DurationMs = time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		doc.Error = fmt.Sprintf("Unexpected status code: %d", resp.StatusCode)
		return doc
	}

	doc.Body = string(bodyBytes)

	slog.Debug("Source fetched",
		"source", source.Name,
		"status_code", resp.StatusCode,
		"body_length", len(bodyBytes),
	)

	return doc
}

// normalizeDocuments verifies that successfully fetched documents hold valid
// JSON; invalid bodies are flagged so rule evaluation skips them
func normalizeDocuments(documents []model.CollectedDocument) {
	for i := range documents {
		if documents[i].Error != "" || documents[i].Body == "" {
			continue
		}
		if !json.Valid([]byte(documents[i].Body)) {
			documents[i].Error = "Document body is not valid JSON"
			documents[i].Body = ""
		}
	}
}

// buildReport assembles the reporting-phase output, optionally asking the
// summarizer for a narrative summary
func (r *Runner) buildReport(ctx context.Context, analysis *model.Analysis, findings []model.Finding, sourceCount int) *model.Report {
	matched := 0
	for _, finding := range findings {
		if finding.Matched {
			matched++
		}
	}

	highlights := make([]string, 0)
	for _, finding := range r.engine.MatchedHighlights(findings, analysis.Rules) {
		highlights = append(highlights, fmt.Sprintf("%s (%s): %v", finding.RuleName, finding.SourceName, finding.ExtractedValue))
	}

	report := &model.Report{
		GeneratedAt:  time.Now().UTC(),
		Topic:        analysis.Topic,
		SourceCount:  sourceCount,
		FindingCount: len(findings),
		MatchedCount: matched,
		Highlights:   highlights,
	}

	if r.summarizer != nil && len(findings) > 0 {
		summary, err := r.summarizer.Summarize(ctx, analysis.Topic, findings)
		if err != nil {
			slog.Error("Failed to generate report summary",
				"analysis_id", analysis.ID.Hex(),
				"error", err.Error(),
			)
		} else {
			report.Summary = summary
		}
	}

	return report
}

// notifyCompletion sends the completion webhook, if one is configured
func (r *Runner) notifyCompletion(ctx context.Context, analysis *model.Analysis, run *model.AnalysisRun) {
	if analysis.Webhook == nil || analysis.Webhook.URL == "" {
		return
	}

	matched := 0
	for _, finding := range run.Findings {
		if finding.Matched {
			matched++
		}
	}

	payload := notify.FormatCompletionPayload(
		analysis.Title,
		analysis.ID.Hex(),
		run.FinalPhase,
		len(run.Findings),
		matched,
		run.Error,
		run.CorrelationID,
		run.DurationMs,
	)

	log, err := r.dispatcher.SendCompletion(ctx, *analysis.Webhook, analysis.ID, run.FinalPhase, payload, run.CorrelationID)
	if err != nil {
		slog.Error("Failed to send completion notification",
			"correlation_id", run.CorrelationID,
			"error", err.Error(),
		)
	}

	if log != nil {
		if saveErr := r.notificationRepo.Create(ctx, log); saveErr != nil {
			slog.Error("Failed to save notification log",
				"correlation_id", run.CorrelationID,
				"error", saveErr.Error(),
			)
		}
	}
}
