package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Source represents one data source fetched during the collecting phase
type Source struct {
	Name    string            `json:"name" bson:"name"`
	URL     string            `json:"url" bson:"url"`
	Method  string            `json:"method" bson:"method"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Body    string            `json:"body,omitempty" bson:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty" bson:"timeout,omitempty"` // In seconds
}

// Validate validates source configuration
func (s *Source) Validate() error {
	if s.Name == "" {
		return errors.New("source name is required")
	}
	if s.URL == "" {
		return errors.New("source URL is required")
	}

	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("URL must start with http:// or https://")
	}

	if s.Method == "" {
		s.Method = "GET"
	}
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
	}
	if !validMethods[strings.ToUpper(s.Method)] {
		return fmt.Errorf("invalid HTTP method: %s", s.Method)
	}
	s.Method = strings.ToUpper(s.Method)

	if s.Timeout == 0 {
		s.Timeout = 30
	}

	return nil
}

// InsightRule represents a JSONPath rule evaluated against collected data
// during the analyzing phase
type InsightRule struct {
	Name          string      `json:"name" bson:"name"`
	Description   string      `json:"description,omitempty" bson:"description,omitempty"`
	Expression    string      `json:"expression" bson:"expression"`         // JSONPath expression
	Operator      string      `json:"operator" bson:"operator"`             // eq, ne, gt, lt, gte, lte, contains, exists, regex
	ExpectedValue interface{} `json:"expected_value" bson:"expected_value"` // Expected value
	Highlight     bool        `json:"highlight" bson:"highlight"`           // Promote matched findings into the report highlights
}

// Validate validates rule configuration
func (r *InsightRule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if r.Expression == "" {
		return errors.New("rule expression is required")
	}

	validOperators := map[string]bool{
		"eq": true, "ne": true, "gt": true, "lt": true,
		"gte": true, "lte": true, "contains": true, "exists": true, "regex": true,
	}
	if !validOperators[strings.ToLower(r.Operator)] {
		return fmt.Errorf("invalid operator: %s", r.Operator)
	}
	r.Operator = strings.ToLower(r.Operator)

	return nil
}

// RetryConfig represents webhook retry configuration
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" bson:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms" bson:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" bson:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier" bson:"multiplier"`
}

// SetDefaults sets default values for retry configuration
func (rc *RetryConfig) SetDefaults() {
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelayMs == 0 {
		rc.InitialDelayMs = 1000
	}
	if rc.MaxDelayMs == 0 {
		rc.MaxDelayMs = 30000
	}
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
}

// Webhook represents a completion notification target
type Webhook struct {
	URL         string            `json:"url" bson:"url"`
	Method      string            `json:"method" bson:"method"`
	Headers     map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	RetryConfig RetryConfig       `json:"retry_config,omitempty" bson:"retry_config,omitempty"`
}

// Validate validates webhook configuration
func (w *Webhook) Validate() error {
	if w.URL == "" {
		return errors.New("webhook URL is required")
	}

	parsedURL, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("webhook URL must start with http:// or https://")
	}

	if w.Method == "" {
		w.Method = "POST"
	}
	w.Method = strings.ToUpper(w.Method)

	w.RetryConfig.SetDefaults()

	return nil
}

// Metadata represents common metadata fields
type Metadata struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty" bson:"created_by,omitempty"`
	Tags      []string  `json:"tags,omitempty" bson:"tags,omitempty"`
}
