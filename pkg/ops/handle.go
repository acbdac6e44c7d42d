// Package ops exposes a small operational HTTP API: liveness and a
// snapshot of verification activity.
package ops

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rolegate/rolegate/pkg/ratelimit"
	"github.com/rolegate/rolegate/pkg/verification"
)

// Handler serves the ops endpoints.
type Handler struct {
	store   *verification.Store
	service *verification.Service
}

// StatsResponse reports active sessions by state plus cumulative terminal
// outcomes since process start.
type StatsResponse struct {
	ActiveSessions int                        `json:"active_sessions"`
	ByState        map[verification.State]int `json:"by_state"`
	Outcomes       verification.Counts        `json:"outcomes"`
}

// NewHandler creates an ops handler over the given store and service.
func NewHandler(store *verification.Store, service *verification.Service) *Handler {
	return &Handler{
		store:   store,
		service: service,
	}
}

// Routes mounts the ops endpoints behind the given rate limiter.
func (h *Handler) Routes(limiter *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	if limiter != nil {
		r.Use(ratelimit.Middleware(limiter))
	}
	r.Get("/healthz", h.Healthz)
	r.Get("/stats", h.Stats)
	return r
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, StatsResponse{
		ActiveSessions: h.store.Len(),
		ByState:        h.store.StateCounts(),
		Outcomes:       h.service.Stats(),
	})
}
