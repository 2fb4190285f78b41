package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/interfaces"
)

// AccountsHandler serves the stored scan results to the dashboard
type AccountsHandler struct {
	reader interfaces.AccountReader
	logger arbor.ILogger
}

func NewAccountsHandler(reader interfaces.AccountReader, logger arbor.ILogger) *AccountsHandler {
	return &AccountsHandler{
		reader: reader,
		logger: logger,
	}
}

// ListHandler handles GET /api/accounts with optional ?category= filter and
// pagination
func (h *AccountsHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	page, pageSize := GetPaginationParams(r)
	category := r.URL.Query().Get("category")

	accounts, total, err := h.reader.ListAccounts(r.Context(), category, page*pageSize, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list accounts")
		WriteError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"pagination": PaginationResponse{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	})
}

// CategoriesHandler handles GET /api/categories
func (h *AccountsHandler) CategoriesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	categories, err := h.reader.ListCategories(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list categories")
		WriteError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}

// StatsHandler handles GET /api/categories/stats
func (h *AccountsHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.reader.CategoryStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute category stats")
		WriteError(w, http.StatusInternalServerError, "failed to compute category stats")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}
