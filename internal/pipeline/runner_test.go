package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/insight"
	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/process"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, topic string, findings []model.Finding) (string, error) {
	s.calls++
	return s.summary, s.err
}

func TestNormalizeDocuments(t *testing.T) {
	documents := []model.CollectedDocument{
		{SourceName: "valid", Body: `{"ok": true}`},
		{SourceName: "invalid", Body: "<html>not json</html>"},
		{SourceName: "failed", Error: "Request failed: timeout"},
		{SourceName: "empty"},
	}

	normalizeDocuments(documents)

	assert.Empty(t, documents[0].Error)
	assert.Equal(t, `{"ok": true}`, documents[0].Body)

	assert.Equal(t, "Document body is not valid JSON", documents[1].Error)
	assert.Empty(t, documents[1].Body)

	// Already failed or empty documents are untouched
	assert.Equal(t, "Request failed: timeout", documents[2].Error)
	assert.Empty(t, documents[3].Error)
}

func TestFetchSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	r := &Runner{httpClient: server.Client()}

	doc := r.fetchSource(context.Background(), model.Source{
		Name:    "api",
		URL:     server.URL,
		Method:  "GET",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Timeout: 5,
	})

	assert.Empty(t, doc.Error)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, `{"status": "ok"}`, doc.Body)
	assert.Equal(t, "api", doc.SourceName)
}

func TestFetchSourceNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	r := &Runner{httpClient: server.Client()}

	doc := r.fetchSource(context.Background(), model.Source{
		Name: "api", URL: server.URL, Method: "GET", Timeout: 5,
	})

	assert.Equal(t, http.StatusBadGateway, doc.StatusCode)
	assert.NotEmpty(t, doc.Error)
	assert.Empty(t, doc.Body)
}

func TestFetchSourceConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r := &Runner{httpClient: &http.Client{Timeout: time.Second}}

	doc := r.fetchSource(context.Background(), model.Source{
		Name: "down", URL: url, Method: "GET", Timeout: 1,
	})

	assert.NotEmpty(t, doc.Error)
	assert.Zero(t, doc.StatusCode)
}

func TestCollectSourcesBumpsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	machine := process.NewMachine()
	machine.Track("a1")
	require.NoError(t, machine.Advance("a1", model.PhaseCollecting, progressCollecting, ""))

	r := &Runner{httpClient: server.Client(), machine: machine}

	sources := []model.Source{
		{Name: "s1", URL: server.URL, Method: "GET", Timeout: 5},
		{Name: "s2", URL: server.URL, Method: "GET", Timeout: 5},
	}

	documents := r.collectSources(context.Background(), "a1", sources)

	require.Len(t, documents, 2)

	snapshot, err := machine.Snapshot("a1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCollecting, snapshot.Phase)
	assert.Greater(t, snapshot.Progress, progressCollecting)
	assert.Less(t, snapshot.Progress, progressProcessing)
}

func TestBuildReport(t *testing.T) {
	summarizer := &stubSummarizer{summary: "All sources are healthy."}
	r := &Runner{engine: insight.NewEngine(), summarizer: summarizer}

	analysis := &model.Analysis{
		Topic: "service health",
		Rules: []model.InsightRule{
			{Name: "highlighted", Highlight: true},
			{Name: "quiet"},
		},
	}
	findings := []model.Finding{
		{RuleName: "highlighted", SourceName: "api", Matched: true, ExtractedValue: 0.25},
		{RuleName: "quiet", SourceName: "api", Matched: true},
		{RuleName: "highlighted", SourceName: "db", Matched: false},
	}

	report := r.buildReport(context.Background(), analysis, findings, 2)

	require.NotNil(t, report)
	assert.Equal(t, "service health", report.Topic)
	assert.Equal(t, 2, report.SourceCount)
	assert.Equal(t, 3, report.FindingCount)
	assert.Equal(t, 2, report.MatchedCount)
	require.Len(t, report.Highlights, 1)
	assert.Contains(t, report.Highlights[0], "highlighted")
	assert.Equal(t, "All sources are healthy.", report.Summary)
	assert.Equal(t, 1, summarizer.calls)
}

func TestBuildReportWithoutSummarizer(t *testing.T) {
	r := &Runner{engine: insight.NewEngine()}

	analysis := &model.Analysis{Topic: "anything"}
	report := r.buildReport(context.Background(), analysis, []model.Finding{{RuleName: "x"}}, 1)

	require.NotNil(t, report)
	assert.Empty(t, report.Summary)
}

func TestBuildReportSummarizerFailureIsNonFatal(t *testing.T) {
	summarizer := &stubSummarizer{err: assert.AnError}
	r := &Runner{engine: insight.NewEngine(), summarizer: summarizer}

	analysis := &model.Analysis{Topic: "anything"}
	report := r.buildReport(context.Background(), analysis, []model.Finding{{RuleName: "x"}}, 1)

	require.NotNil(t, report)
	assert.Empty(t, report.Summary)
}
