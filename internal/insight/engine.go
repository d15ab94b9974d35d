package insight

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oliveagle/jsonpath"

	"github.com/meridianhq/meridian/internal/model"
)

// Engine evaluates insight rules against collected documents
type Engine struct{}

// NewEngine creates a new engine
func NewEngine() *Engine {
	return &Engine{}
}

// EvaluateRule evaluates a single rule against one collected JSON document
func (e *Engine) EvaluateRule(rule model.InsightRule, sourceName, documentBody string) model.Finding {
	finding := model.Finding{
		RuleName:      rule.Name,
		SourceName:    sourceName,
		Expression:    rule.Expression,
		Operator:      rule.Operator,
		ExpectedValue: rule.ExpectedValue,
		Matched:       false,
	}

	var jsonData interface{}
	if err := json.Unmarshal([]byte(documentBody), &jsonData); err != nil {
		finding.Error = fmt.Sprintf("Failed to parse JSON document: %v", err)
		slog.Error("Failed to parse JSON for rule evaluation",
			"rule", rule.Name,
			"source", sourceName,
			"error", err.Error(),
		)
		return finding
	}

	extractedValue, err := e.extractValue(jsonData, rule.Expression)
	if err != nil {
		finding.Error = err.Error()
		slog.Debug("JSONPath extraction failed",
			"rule", rule.Name,
			"expression", rule.Expression,
			"error", err.Error(),
		)
		return finding
	}

	finding.ExtractedValue = extractedValue

	matched, err := EvaluateOperator(rule.Operator, extractedValue, rule.ExpectedValue)
	if err != nil {
		finding.Error = err.Error()
		slog.Error("Operator evaluation failed",
			"rule", rule.Name,
			"operator", rule.Operator,
			"error", err.Error(),
		)
		return finding
	}

	finding.Matched = matched

	slog.Debug("Rule evaluation completed",
		"rule", rule.Name,
		"source", sourceName,
		"extracted_value", extractedValue,
		"expected_value", rule.ExpectedValue,
		"operator", rule.Operator,
		"matched", matched,
	)

	return finding
}

// EvaluateRules evaluates all rules against all collected documents.
// Documents that failed to fetch are skipped.
func (e *Engine) EvaluateRules(rules []model.InsightRule, documents []model.CollectedDocument) []model.Finding {
	findings := make([]model.Finding, 0, len(rules)*len(documents))

	for _, doc := range documents {
		if doc.Error != "" || doc.Body == "" {
			continue
		}
		for _, rule := range rules {
			findings = append(findings, e.EvaluateRule(rule, doc.SourceName, doc.Body))
		}
	}

	return findings
}

// MatchedHighlights returns findings that matched rules flagged for the
// report highlights
func (e *Engine) MatchedHighlights(findings []model.Finding, rules []model.InsightRule) []model.Finding {
	highlightMap := make(map[string]bool)
	for _, rule := range rules {
		highlightMap[rule.Name] = rule.Highlight
	}

	matched := make([]model.Finding, 0)
	for _, finding := range findings {
		if finding.Matched && highlightMap[finding.RuleName] {
			matched = append(matched, finding)
		}
	}

	return matched
}

// extractValue extracts a value from JSON using a JSONPath expression
func (e *Engine) extractValue(jsonData interface{}, expression string) (interface{}, error) {
	pattern, err := jsonpath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", expression, err)
	}

	result, err := pattern.Lookup(jsonData)
	if err != nil {
		return nil, fmt.Errorf("JSONPath expression '%s' returned no results: %w", expression, err)
	}

	return result, nil
}
