package handler

import (
	"net/http"
	"strings"

	"github.com/meridianhq/meridian/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	analysisHandler *AnalysisHandler
	runHandler      *RunHandler
	wsHandler       *WSHandler
	healthHandler   *HealthHandler
	corsConfig      middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	analysisHandler *AnalysisHandler,
	runHandler *RunHandler,
	wsHandler *WSHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		analysisHandler: analysisHandler,
		runHandler:      runHandler,
		wsHandler:       wsHandler,
		healthHandler:   healthHandler,
		corsConfig:      corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (no middleware)
	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)

	// WebSocket subscriptions (hijacked connections skip the middleware chain)
	mux.HandleFunc("/ws/", rt.wsHandler.Subscribe)

	// API endpoints
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/v1/analyses", rt.handleAnalyses)
	apiMux.HandleFunc("/api/v1/analyses/", rt.handleAnalysesWithID)
	apiMux.HandleFunc("/api/v1/runs", rt.runHandler.List)
	apiMux.HandleFunc("/api/v1/runs/", rt.runHandler.Get)

	// Apply middleware (CORS first to handle preflight requests)
	api := middleware.CORS(rt.corsConfig)(apiMux)
	api = middleware.Recovery(api)
	api = middleware.Logging(api)
	api = middleware.CorrelationID(api)

	mux.Handle("/api/v1/", api)

	return mux
}

// handleAnalyses routes analysis collection endpoints
func (rt *Router) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.analysisHandler.List(w, r)
	case http.MethodPost:
		rt.analysisHandler.Create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAnalysesWithID routes analysis individual endpoints
func (rt *Router) handleAnalysesWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")

	if strings.HasSuffix(path, "/run") {
		if r.Method != http.MethodPost && r.Method != http.MethodOptions {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.analysisHandler.Run(w, r)
		return
	}

	if strings.HasSuffix(path, "/progress") {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.analysisHandler.Progress(w, r)
		return
	}

	if strings.HasSuffix(path, "/fail") {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.analysisHandler.Fail(w, r)
		return
	}

	if strings.HasSuffix(path, "/status") {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.analysisHandler.Status(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.analysisHandler.Get(w, r)
	case http.MethodDelete:
		rt.analysisHandler.Delete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
