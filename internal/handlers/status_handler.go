package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/ratelimit"
)

// StatusHandler serves health, version and rate limit status
type StatusHandler struct {
	limiter   *ratelimit.Window
	logger    arbor.ILogger
	startedAt time.Time
}

func NewStatusHandler(limiter *ratelimit.Window, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		limiter:   limiter,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// RateLimitHandler handles GET /api/status/ratelimits with the remaining
// allowance per capacity key
func (h *StatusHandler) RateLimitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limits := make(map[string]interface{}, 2)
	for _, key := range []string{ratelimit.KeySource, ratelimit.KeyLLM} {
		remaining, reset := h.limiter.Remaining(key)
		entry := map[string]interface{}{
			"remaining": remaining,
		}
		if !reset.IsZero() {
			entry["reset_at"] = reset.Format(time.RFC3339)
		}
		limits[key] = entry
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rate_limits": limits,
	})
}
