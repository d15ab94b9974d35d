package notify

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

	"github.com/meridianhq/meridian/internal/model"
)

// Dispatcher delivers completion notifications with retry logic
type Dispatcher struct {
	httpClient     *http.Client
	circuitBreaker *CircuitBreaker
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		circuitBreaker: NewCircuitBreaker(),
	}
}

// SendCompletion sends a terminal-phase notification to a webhook with
// retry logic and returns the delivery log
func (d *Dispatcher) SendCompletion(
	ctx context.Context,
	webhook model.Webhook,
	analysisID primitive.ObjectID,
	finalPhase model.Phase,
	payload CompletionPayloadData,
	correlationID string,
) (*model.NotificationLog, error) {
	payload.Metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	log := &model.NotificationLog{
		ID:            primitive.NewObjectID(),
		CorrelationID: correlationID,
		AnalysisID:    analysisID,
		WebhookURL:    webhook.URL,
		FinalPhase:    finalPhase,
		Payload: model.NotificationPayload{
			Text: payload.Text,
		},
		Attempts:    make([]model.NotificationAttempt, 0),
		FinalStatus: "retrying",
		CreatedAt:   time.Now().UTC(),
	}

	if !d.circuitBreaker.CanAttempt() {
		slog.Warn("Circuit breaker is open, skipping notification delivery",
			"correlation_id", correlationID,
			"webhook_url", webhook.URL,
			"circuit_state", d.circuitBreaker.GetStateName(),
		)
		log.FinalStatus = "failed"
		log.CompletedAt = time.Now().UTC()
		return log, fmt.Errorf("circuit breaker is open")
	}

	retryStrategy := NewRetryStrategy(webhook.RetryConfig)

	for attempt := 1; attempt <= retryStrategy.GetMaxAttempts(); attempt++ {
		slog.Info("Attempting notification delivery",
			"correlation_id", correlationID,
			"webhook_url", webhook.URL,
			"attempt", attempt,
			"max_attempts", retryStrategy.GetMaxAttempts(),
		)

		attemptResult, err := d.deliver(ctx, webhook, payload)
		attemptResult.AttemptNumber = attempt
		log.Attempts = append(log.Attempts, attemptResult)

		if err == nil && attemptResult.StatusCode >= 200 && attemptResult.StatusCode < 300 {
			slog.Info("Notification delivered successfully",
				"correlation_id", correlationID,
				"webhook_url", webhook.URL,
				"attempt", attempt,
				"status_code", attemptResult.StatusCode,
			)

			log.FinalStatus = "delivered"
			log.CompletedAt = time.Now().UTC()
			d.circuitBreaker.RecordSuccess()
			return log, nil
		}

		if !retryStrategy.ShouldRetry(attempt, attemptResult.StatusCode, err) {
			slog.Error("Notification delivery failed, no retry",
				"correlation_id", correlationID,
				"webhook_url", webhook.URL,
				"attempt", attempt,
				"status_code", attemptResult.StatusCode,
				"error", attemptResult.Error,
			)

			log.FinalStatus = "failed"
			log.CompletedAt = time.Now().UTC()
			d.circuitBreaker.RecordFailure()
			return log, fmt.Errorf("notification delivery failed after %d attempts", attempt)
		}

		if attempt < retryStrategy.GetMaxAttempts() {
			delay := retryStrategy.CalculateDelay(attempt)
			slog.Warn("Notification delivery failed, retrying",
				"correlation_id", correlationID,
				"webhook_url", webhook.URL,
				"attempt", attempt,
				"next_retry_ms", delay.Milliseconds(),
				"error", attemptResult.Error,
			)

			select {
			case <-time.After(delay):
				// Continue to next attempt
			case <-ctx.Done():
				log.FinalStatus = "failed"
				log.CompletedAt = time.Now().UTC()
				return log, ctx.Err()
			}
		}
	}

	slog.Error("Notification delivery failed after all retries",
		"correlation_id", correlationID,
		"webhook_url", webhook.URL,
		"attempts", retryStrategy.GetMaxAttempts(),
	)

	log.FinalStatus = "failed"
	log.CompletedAt = time.Now().UTC()
	d.circuitBreaker.RecordFailure()
	return log, fmt.Errorf("notification delivery failed after %d attempts", retryStrategy.GetMaxAttempts())
}

// deliver performs a single delivery attempt
func (d *Dispatcher) deliver(
	ctx context.Context,
	webhook model.Webhook,
	payload CompletionPayloadData,
) (model.NotificationAttempt, error) {
	start := time.Now()
	attempt := model.NotificationAttempt{
		Timestamp: start.UTC(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		attempt.Error = fmt.Sprintf("Failed to marshal payload: %v", err)
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, err
	}

	req, err := http.NewRequestWithContext(ctx, webhook.Method, webhook.URL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		attempt.Error = fmt.Sprintf("Failed to create request: %v", err)
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		attempt.Error = fmt.Sprintf("Request failed: %v", err)
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, err
	}
	defer resp.Body.Close()

	// Limit response body to 1KB
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		slog.Warn("Failed to read notification response body", "error", err)
	}

	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = string(bodyBytes)
	attempt.DurationMs = time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		attempt.Error = fmt.Sprintf("Webhook returned status %d", resp.StatusCode)
		return attempt, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return attempt, nil
}

// GetCircuitBreakerState returns the current circuit breaker state
func (d *Dispatcher) GetCircuitBreakerState() string {
	return d.circuitBreaker.GetStateName()
}
