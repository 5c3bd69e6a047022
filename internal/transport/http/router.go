package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatehouse/internal/gate"
)

// NewRouter mounts the gate pipeline and the public endpoints.
//
// Ordering per request: Recover, RequestID, Metadata, IPAllow globally; then
// per group RateGate (credential-issuance routes only), Authenticate, and the
// Audit record immediately before the handler.
func NewRouter(p *gate.Pipeline, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(p.Recover)
	r.Use(gate.RequestID)
	r.Use(p.Metadata)
	r.Use(p.IPAllow)

	// Credential issuance is rate gated to blunt brute-force attempts.
	r.Group(func(r chi.Router) {
		r.Use(p.RateGate)
		r.Use(p.Authenticate)
		r.Use(p.Audit)

		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(p.Authenticate)
		r.Use(p.Audit)

		r.Group(func(r chi.Router) {
			r.Use(gate.RequireIdentity)

			r.Post("/auth/logout", h.handleLogout)
			r.Get("/me", h.handleMe)
		})
	})

	// Operational endpoints sit behind the same IP gate as everything else,
	// but are neither rate gated nor audited.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
