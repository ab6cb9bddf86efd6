package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/cache"
	"github.com/saltyorg/dataplow/internal/config"
	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/pager"
	"github.com/saltyorg/dataplow/internal/retry"
	"github.com/saltyorg/dataplow/internal/scheduler"
	"github.com/saltyorg/dataplow/internal/scope"
	"github.com/saltyorg/dataplow/internal/users"
)

// UserService is the part of users.Repository the API needs.
type UserService interface {
	GetUser(ctx context.Context, id string) (users.User, error)
	Page(ctx context.Context, index, pageSize int) ([]users.User, error)
	UpdateEmail(ctx context.Context, id, email string) error
	AverageAge(ctx context.Context) (float64, error)
	ClearCache()
	Cache() *cache.Cache[[]database.Row]
}

// Pinger reports store reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobLister reports scheduled jobs.
type JobLister interface {
	Status() []scheduler.JobStatus
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	users           UserService
	pinger          Pinger
	jobs            JobLister
	defaultPageSize int
}

// New creates the handlers. pinger and jobs may be nil.
func New(svc UserService, pinger Pinger, jobs JobLister, defaultPageSize int) *Handlers {
	if defaultPageSize <= 0 {
		defaultPageSize = config.DefaultPageSize
	}
	return &Handlers{
		users:           svc,
		pinger:          pinger,
		jobs:            jobs,
		defaultPageSize: defaultPageSize,
	}
}

// Health reports whether the store can be reached.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			h.jsonError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Jobs lists the scheduled jobs.
func (h *Handlers) Jobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Status()
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handlers) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// jsonStoreError maps an access-layer error onto an HTTP status.
func (h *Handlers) jsonStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	h.jsonError(w, err.Error(), status)
}

// StatusFor returns the HTTP status for an access-layer error.
func StatusFor(err error) int {
	var (
		exhausted *retry.ExhaustedError
		canceled  *retry.CanceledError
		connErr   *database.ConnectionError
		txErr     *database.TransactionError
		permanent *database.PermanentOperationError
		transient *database.TransientOperationError
	)

	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrEmptyDataset):
		return http.StatusNotFound
	case errors.Is(err, pager.ErrInvalidPageSize), errors.Is(err, pager.ErrInvalidOffset):
		return http.StatusBadRequest
	case errors.As(err, &exhausted), errors.As(err, &connErr), errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.As(err, &txErr), errors.Is(err, scope.ErrBegin):
		return http.StatusInternalServerError
	case errors.As(err, &permanent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
