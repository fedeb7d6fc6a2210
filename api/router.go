// Package api exposes the marketplace over HTTP. Every mutating route is
// authenticated; arbitration routes additionally require the arbitrator role.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gigflow/auth"
)

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(h *Handlers, verifier TokenVerifier, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recovery(log))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/auth/register", h.register)
	r.Post("/api/v1/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(verifier))

		r.Post("/api/v1/jobs", h.postJob)
		r.Get("/api/v1/jobs", h.listJobs)
		r.Get("/api/v1/jobs/{jobID}", h.getJob)
		r.Post("/api/v1/jobs/{jobID}/cancel", h.cancelJob)
		r.Get("/api/v1/jobs/{jobID}/proposals", h.listJobProposals)
		r.Get("/api/v1/jobs/{jobID}/escrow", h.getJobEscrow)
		r.Post("/api/v1/jobs/{jobID}/rating", h.rateJob)

		r.Post("/api/v1/proposals", h.submitProposal)
		r.Post("/api/v1/proposals/{proposalID}/accept", h.acceptProposal)
		r.Post("/api/v1/proposals/{proposalID}/reject", h.rejectProposal)
		r.Post("/api/v1/proposals/{proposalID}/withdraw", h.withdrawProposal)

		r.Get("/api/v1/escrows/{escrowID}", h.getEscrow)
		r.Post("/api/v1/escrows/{escrowID}/fund", h.fundEscrow)
		r.Post("/api/v1/escrows/{escrowID}/release", h.releaseEscrow)
		r.Post("/api/v1/escrows/{escrowID}/refund", h.refundEscrow)
		r.Post("/api/v1/escrows/{escrowID}/disputes", h.raiseDispute)

		r.Get("/api/v1/disputes/{disputeID}", h.getDispute)

		r.Get("/api/v1/freelancers/{freelancerID}/reputation", h.getReputation)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(auth.RoleArbitrator))

			r.Get("/api/v1/disputes", h.listOpenDisputes)
			r.Post("/api/v1/disputes/{disputeID}/resolve", h.resolveDispute)
		})
	})

	return r
}
