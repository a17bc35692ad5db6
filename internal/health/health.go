// Package health serves liveness and readiness probes for an auction
// replica.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/team-auction/internal/clock"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Role      string            `json:"role,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function. A failing critical check
// takes the replica out of rotation; other failures only report it degraded.
type Checker struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// StoreChecker reports whether the shared store answers.
func StoreChecker(st store.Store) Checker {
	return Checker{Name: "store", Critical: true, Check: st.Ping}
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	role     string
	checkers []Checker
	clock    clock.Clock
	timeout  time.Duration
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, timeout: 5 * time.Second}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetRole records whether this replica currently runs the bot.
func (h *Handler) SetRole(role string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.role = role
}

// Routes mounts /healthz and /readyz on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.LivenessHandler())
	r.Get("/readyz", h.ReadinessHandler())
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{
			Status:    "ok",
			Timestamp: h.now(),
		})
	}
}

// ReadinessHandler returns HTTP 200 if the service is ready.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready, role := h.ready, h.role
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{
				Status:    "not_ready",
				Role:      role,
				Timestamp: h.now(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		checks := make(map[string]string)
		status, code := "ready", http.StatusOK
		for _, c := range h.checkers {
			err := c.Check(ctx)
			if err == nil {
				checks[c.Name] = "ok"
				continue
			}
			checks[c.Name] = err.Error()
			switch {
			case c.Critical:
				status, code = "not_ready", http.StatusServiceUnavailable
			case code == http.StatusOK:
				status = "degraded"
			}
		}

		writeJSON(w, code, Status{
			Status:    status,
			Role:      role,
			Checks:    checks,
			Timestamp: h.now(),
		})
	}
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
