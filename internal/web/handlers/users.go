package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ListUsers returns one page of users.
// Query params: page (0-based, default 0), page_size (default from options).
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, ok := h.intParam(w, r, "page", 0)
	if !ok {
		return
	}
	pageSize, ok := h.intParam(w, r, "page_size", h.defaultPageSize)
	if !ok {
		return
	}
	if page < 0 {
		h.jsonError(w, "page must not be negative", http.StatusBadRequest)
		return
	}
	if pageSize <= 0 {
		h.jsonError(w, "page_size must be positive", http.StatusBadRequest)
		return
	}

	list, err := h.users.Page(r.Context(), page, pageSize)
	if err != nil {
		h.jsonStoreError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]any{
		"page":      page,
		"page_size": pageSize,
		"count":     len(list),
		"users":     list,
	})
}

// GetUser returns a single user by ID.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.jsonStoreError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, u)
}

// UpdateEmail sets a user's email from a JSON body {"email": "..."}.
func (h *Handlers) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.jsonError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	payload.Email = strings.TrimSpace(payload.Email)
	if payload.Email == "" {
		h.jsonError(w, "email is required", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateEmail(r.Context(), id, payload.Email); err != nil {
		h.jsonStoreError(w, r, err)
		return
	}

	log.Info().Str("user_id", id).Msg("User email updated via API")
	h.jsonResponse(w, http.StatusOK, map[string]any{"success": true, "user_id": id, "email": payload.Email})
}

// AverageAge returns the mean age over every user.
func (h *Handlers) AverageAge(w http.ResponseWriter, r *http.Request) {
	avg, err := h.users.AverageAge(r.Context())
	if err != nil {
		h.jsonStoreError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]float64{"average_age": avg})
}

// ClearCache drops every cached read.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	before := h.users.Cache().Len()
	h.users.ClearCache()
	h.jsonResponse(w, http.StatusOK, map[string]any{"success": true, "cleared": before})
}

// CacheStats returns hit/miss counters of the result cache.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, h.users.Cache().Stats())
}

func (h *Handlers) intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.jsonError(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}
