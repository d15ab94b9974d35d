package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/model"
)

const sampleDoc = `{
	"status": "healthy",
	"metrics": {
		"error_rate": 0.25,
		"request_count": 1500
	},
	"tags": ["prod", "eu-west"]
}`

func TestEvaluateRuleMatch(t *testing.T) {
	e := NewEngine()

	rule := model.InsightRule{
		Name:          "error-rate-high",
		Expression:    "$.metrics.error_rate",
		Operator:      "gt",
		ExpectedValue: 0.1,
	}

	finding := e.EvaluateRule(rule, "api", sampleDoc)

	assert.True(t, finding.Matched)
	assert.Empty(t, finding.Error)
	assert.Equal(t, "error-rate-high", finding.RuleName)
	assert.Equal(t, "api", finding.SourceName)
	assert.Equal(t, 0.25, finding.ExtractedValue)
}

func TestEvaluateRuleNoMatch(t *testing.T) {
	e := NewEngine()

	rule := model.InsightRule{
		Name:          "status-degraded",
		Expression:    "$.status",
		Operator:      "eq",
		ExpectedValue: "degraded",
	}

	finding := e.EvaluateRule(rule, "api", sampleDoc)

	assert.False(t, finding.Matched)
	assert.Empty(t, finding.Error)
	assert.Equal(t, "healthy", finding.ExtractedValue)
}

func TestEvaluateRuleInvalidJSON(t *testing.T) {
	e := NewEngine()

	rule := model.InsightRule{
		Name:       "any",
		Expression: "$.status",
		Operator:   "exists",
	}

	finding := e.EvaluateRule(rule, "api", "not json at all")

	assert.False(t, finding.Matched)
	assert.NotEmpty(t, finding.Error)
}

func TestEvaluateRuleMissingPath(t *testing.T) {
	e := NewEngine()

	rule := model.InsightRule{
		Name:       "missing",
		Expression: "$.nonexistent.field",
		Operator:   "exists",
	}

	finding := e.EvaluateRule(rule, "api", sampleDoc)

	assert.False(t, finding.Matched)
	assert.NotEmpty(t, finding.Error)
}

func TestEvaluateRuleContains(t *testing.T) {
	e := NewEngine()

	rule := model.InsightRule{
		Name:          "prod-tagged",
		Expression:    "$.tags",
		Operator:      "contains",
		ExpectedValue: "prod",
	}

	finding := e.EvaluateRule(rule, "api", sampleDoc)
	assert.True(t, finding.Matched)
}

func TestEvaluateRulesSkipsFailedDocuments(t *testing.T) {
	e := NewEngine()

	rules := []model.InsightRule{
		{Name: "status-exists", Expression: "$.status", Operator: "exists"},
	}
	documents := []model.CollectedDocument{
		{SourceName: "ok", Body: sampleDoc},
		{SourceName: "failed", Error: "Request failed: timeout"},
		{SourceName: "empty"},
	}

	findings := e.EvaluateRules(rules, documents)

	require.Len(t, findings, 1)
	assert.Equal(t, "ok", findings[0].SourceName)
	assert.True(t, findings[0].Matched)
}

func TestEvaluateRulesCrossProduct(t *testing.T) {
	e := NewEngine()

	rules := []model.InsightRule{
		{Name: "status-exists", Expression: "$.status", Operator: "exists"},
		{Name: "requests-high", Expression: "$.metrics.request_count", Operator: "gte", ExpectedValue: 1000},
	}
	documents := []model.CollectedDocument{
		{SourceName: "s1", Body: sampleDoc},
		{SourceName: "s2", Body: sampleDoc},
	}

	findings := e.EvaluateRules(rules, documents)
	assert.Len(t, findings, 4)
}

func TestMatchedHighlights(t *testing.T) {
	e := NewEngine()

	rules := []model.InsightRule{
		{Name: "highlighted", Highlight: true},
		{Name: "quiet", Highlight: false},
	}
	findings := []model.Finding{
		{RuleName: "highlighted", Matched: true},
		{RuleName: "highlighted", Matched: false},
		{RuleName: "quiet", Matched: true},
	}

	matched := e.MatchedHighlights(findings, rules)

	require.Len(t, matched, 1)
	assert.Equal(t, "highlighted", matched[0].RuleName)
	assert.True(t, matched[0].Matched)
}

func TestEvaluateOperatorRegex(t *testing.T) {
	matched, err := EvaluateOperator("regex", "v2.14.3", `^v\d+\.\d+\.\d+$`)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = EvaluateOperator("regex", "not-a-version", `^v\d+\.\d+\.\d+$`)
	require.NoError(t, err)
	assert.False(t, matched)

	_, err = EvaluateOperator("regex", "anything", "([")
	assert.Error(t, err)
}

func TestEvaluateOperatorComparisons(t *testing.T) {
	cases := []struct {
		operator  string
		extracted interface{}
		expected  interface{}
		want      bool
	}{
		{"eq", "healthy", "healthy", true},
		{"eq", float64(5), 5, true},
		{"ne", "healthy", "degraded", true},
		{"gt", float64(10), 5, true},
		{"gt", float64(3), 5, false},
		{"lt", float64(3), 5, true},
		{"gte", float64(5), 5, true},
		{"lte", float64(5), 5, true},
		{"contains", "hello world", "world", true},
		{"exists", "anything", nil, true},
		{"exists", nil, nil, false},
	}

	for _, tc := range cases {
		got, err := EvaluateOperator(tc.operator, tc.extracted, tc.expected)
		require.NoError(t, err, "operator %s", tc.operator)
		assert.Equal(t, tc.want, got, "operator %s extracted %v expected %v", tc.operator, tc.extracted, tc.expected)
	}
}

func TestEvaluateOperatorUnknown(t *testing.T) {
	_, err := EvaluateOperator("between", 1, 2)
	assert.Error(t, err)
}
