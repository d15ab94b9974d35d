package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/service"
)

// AnalysisHandler handles analysis definition CRUD and run operations
type AnalysisHandler struct {
	service *service.AnalysisService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(service *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
	}
}

// CreateResponse represents the create response
type CreateResponse struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	CreatedAt        string `json:"created_at"`
	ScheduleEnabled  bool   `json:"schedule_enabled"`
	Schedule         string `json:"schedule,omitempty"`
	NextScheduledRun string `json:"next_scheduled_run,omitempty"`
	Message          string `json:"message"`
}

// ListResponse represents the list response
type ListResponse struct {
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
	Results []model.AnalysisListItem `json:"results"`
}

// DeleteResponse represents the delete response
type DeleteResponse struct {
	Message string `json:"message"`
}

// RunResponse represents the run trigger response
type RunResponse struct {
	AnalysisID    string `json:"analysis_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// Create handles POST /api/v1/analyses
func (h *AnalysisHandler) Create(w http.ResponseWriter, r *http.Request) {
	var analysis model.Analysis
	if err := json.NewDecoder(r.Body).Decode(&analysis); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.service.Create(r.Context(), &analysis); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var createdAt, nextScheduledRun string
	if !analysis.Metadata.CreatedAt.IsZero() {
		createdAt = analysis.Metadata.CreatedAt.Format(time.RFC3339)
	}
	if !analysis.NextScheduledRun.IsZero() {
		nextScheduledRun = analysis.NextScheduledRun.Format(time.RFC3339)
	}

	response := CreateResponse{
		ID:               analysis.ID.Hex(),
		Title:            analysis.Title,
		CreatedAt:        createdAt,
		ScheduleEnabled:  analysis.ScheduleEnabled,
		Schedule:         analysis.Schedule,
		NextScheduledRun: nextScheduledRun,
		Message:          "Analysis created successfully",
	}

	writeJSON(w, http.StatusCreated, response)
}

// Get handles GET /api/v1/analyses/{id}
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	analysis, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// List handles GET /api/v1/analyses
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 20)
	offset := parseQueryInt(r, "offset", 0)

	// Enforce max limit
	if limit > 100 {
		limit = 100
	}

	items, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := ListResponse{
		Limit:   limit,
		Offset:  offset,
		Results: items,
	}

	writeJSON(w, http.StatusOK, response)
}

// Delete handles DELETE /api/v1/analyses/{id}
func (h *AnalysisHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	response := DeleteResponse{
		Message: "Analysis deleted successfully",
	}

	writeJSON(w, http.StatusOK, response)
}

// Run handles POST /api/v1/analyses/{id}/run
func (h *AnalysisHandler) Run(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	correlationID, err := h.service.StartRun(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := RunResponse{
		AnalysisID:    id,
		CorrelationID: correlationID,
		Status:        "queued",
	}

	writeJSON(w, http.StatusAccepted, response)
}

// ProgressRequest represents an externally reported phase transition
type ProgressRequest struct {
	Phase    string `json:"phase"`
	Progress int    `json:"progress"`
	Detail   string `json:"detail,omitempty"`
}

// FailRequest represents an externally reported failure
type FailRequest struct {
	Message string `json:"message"`
}

// Progress handles POST /api/v1/analyses/{id}/progress
func (h *AnalysisHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	phase, err := model.ParsePhase(req.Phase)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update, err := h.service.ReportProgress(r.Context(), id, phase, req.Progress, req.Detail)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, update)
}

// Fail handles POST /api/v1/analyses/{id}/fail
func (h *AnalysisHandler) Fail(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	update, err := h.service.FailAnalysis(r.Context(), id, req.Message)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, update)
}

// Status handles GET /api/v1/analyses/{id}/status
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	update, err := h.service.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, update)
}

// pathID extracts the analysis id segment from the request path
func pathID(r *http.Request) string {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")
	return strings.Split(id, "/")[0]
}
