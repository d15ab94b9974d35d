package handler

import (
	"net/http"
	"strings"

	"github.com/meridianhq/meridian/internal/service"
)

// RunHandler handles analysis run history queries
type RunHandler struct {
	service *service.RunService
}

// NewRunHandler creates a new run handler
func NewRunHandler(service *service.RunService) *RunHandler {
	return &RunHandler{
		service: service,
	}
}

// RunListResponse represents the run list response
type RunListResponse struct {
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Results interface{} `json:"results"`
}

// List handles GET /api/v1/runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	analysisID := r.URL.Query().Get("analysis_id")
	limit := parseQueryInt(r, "limit", 20)
	offset := parseQueryInt(r, "offset", 0)

	if limit > 100 {
		limit = 100
	}

	summaries, err := h.service.List(r.Context(), analysisID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := RunListResponse{
		Limit:   limit,
		Offset:  offset,
		Results: summaries,
	}

	writeJSON(w, http.StatusOK, response)
}

// Get handles GET /api/v1/runs/{correlation_id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	correlationID = strings.Split(correlationID, "/")[0]

	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "Correlation ID is required")
		return
	}

	run, err := h.service.GetByCorrelationID(r.Context(), correlationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}
