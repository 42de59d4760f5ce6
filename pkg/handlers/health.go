package handlers

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/store"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Minimal health response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Uptime    int64       `json:"uptime"`
	Version   string      `json:"version"`
	Stats     store.Stats `json:"stats"`
}

// Readiness response with minimal checks
type ReadinessResponse struct {
	Status    string          `json:"status"`
	Ready     bool            `json:"ready"`
	Timestamp string          `json:"timestamp"`
	Checks    map[string]bool `json:"checks"`
}

// ReadinessCheck reports whether one dependency of the collector is usable
type ReadinessCheck func() error

// HealthHandler handles health check operations
type HealthHandler struct {
	startTime time.Time
	store     *store.Store
	checks    map[string]ReadinessCheck
}

// NewHealthHandler creates a new health handler. The store is always checked.
func NewHealthHandler(s *store.Store, checks map[string]ReadinessCheck) *HealthHandler {
	all := map[string]ReadinessCheck{
		"store": func() error {
			if s == nil {
				return errNoStore
			}
			return nil
		},
	}
	for name, check := range checks {
		all[name] = check
	}
	return &HealthHandler{
		startTime: time.Now(),
		store:     s,
		checks:    all,
	}
}

var errNoStore = errors.New("store is not configured")

// HealthCheck returns minimal health information
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Truncate(time.Second).Format(time.RFC3339),
		Uptime:    int64(time.Since(h.startTime).Seconds()),
		Version:   Version,
	}
	if h.store != nil {
		response.Stats = h.store.Stats()
	}

	common.WriteSuccessResponse(w, response)
}

// ReadinessCheck runs every registered check
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	checks := make(map[string]bool, len(names))
	for _, name := range names {
		ok := h.checks[name]() == nil
		checks[name] = ok
		ready = ready && ok
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !ready {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	common.WriteJSONResponse(w, httpStatus, ReadinessResponse{
		Status:    status,
		Ready:     ready,
		Timestamp: time.Now().Truncate(time.Second).Format(time.RFC3339),
		Checks:    checks,
	})
}
