package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Scan control
	mux.HandleFunc("/api/scan", s.app.ScanHandler.TriggerHandler) // POST - trigger scan
	mux.HandleFunc("/api/scan/", s.handleScanRoutes)              // GET status/progress, DELETE cancel

	// Stored results
	mux.HandleFunc("/api/accounts", s.app.AccountsHandler.ListHandler)
	mux.HandleFunc("/api/categories", s.app.AccountsHandler.CategoriesHandler)
	mux.HandleFunc("/api/categories/stats", s.app.AccountsHandler.StatsHandler)

	// Application status
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/status/ratelimits", s.app.StatusHandler.RateLimitHandler)

	// Live progress streaming
	mux.HandleFunc("/ws/scan/", s.handleScanSocket)

	return mux
}

// handleScanRoutes dispatches /api/scan/{job_id} and
// /api/scan/{job_id}/{status|progress}
func (s *Server) handleScanRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scan/")
	jobID, action, _ := strings.Cut(rest, "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "status":
		s.app.ScanHandler.StatusHandler(w, r, jobID)
	case "progress":
		s.app.ScanHandler.ProgressHandler(w, r, jobID)
	case "":
		s.app.ScanHandler.CancelHandler(w, r, jobID)
	default:
		http.NotFound(w, r)
	}
}

// handleScanSocket dispatches /ws/scan/{job_id}
func (s *Server) handleScanSocket(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/ws/scan/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.NotFound(w, r)
		return
	}
	s.app.WSHandler.ScanSocketHandler(w, r, jobID)
}
