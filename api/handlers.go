package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/job"
	"gigflow/money"
	"gigflow/proposal"
	"gigflow/reputation"
)

// Handlers bundles the HTTP surface over the marketplace services.
type Handlers struct {
	Auth       *auth.Service
	Jobs       *job.Service
	Proposals  *proposal.Service
	Escrows    *escrow.Service
	Disputes   *dispute.Service
	Reputation *reputation.Service
}

type userView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type jobView struct {
	ID                 string     `json:"id"`
	ClientID           string     `json:"client_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	BudgetCents        int64      `json:"budget_cents"`
	Currency           string     `json:"currency"`
	Deadline           time.Time  `json:"deadline"`
	Category           string     `json:"category"`
	Remote             bool       `json:"remote"`
	Status             string     `json:"status"`
	AcceptedProposalID *string    `json:"accepted_proposal_id,omitempty"`
	FreelancerID       *string    `json:"freelancer_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func toJobView(j job.Job) jobView {
	return jobView{
		ID:                 j.ID,
		ClientID:           j.ClientID,
		Title:              j.Title,
		Description:        j.Description,
		BudgetCents:        j.Budget.Cents,
		Currency:           j.Budget.Currency,
		Deadline:           j.Deadline,
		Category:           string(j.Category),
		Remote:             j.Remote,
		Status:             string(j.Status),
		AcceptedProposalID: j.AcceptedProposalID,
		FreelancerID:       j.FreelancerID,
		CreatedAt:          j.CreatedAt,
		CompletedAt:        j.CompletedAt,
	}
}

type proposalView struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	FreelancerID string    `json:"freelancer_id"`
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
	DeliveryDays int       `json:"delivery_days"`
	CoverLetter  string    `json:"cover_letter"`
	Status       string    `json:"status"`
	RejectReason *string   `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toProposalView(p proposal.Proposal) proposalView {
	return proposalView{
		ID:           p.ID,
		JobID:        p.JobID,
		FreelancerID: p.FreelancerID,
		AmountCents:  p.Amount.Cents,
		Currency:     p.Amount.Currency,
		DeliveryDays: p.DeliveryDays,
		CoverLetter:  p.CoverLetter,
		Status:       string(p.Status),
		RejectReason: p.RejectReason,
		CreatedAt:    p.CreatedAt,
	}
}

type escrowView struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	ProposalID   string     `json:"proposal_id"`
	ClientID     string     `json:"client_id"`
	FreelancerID string     `json:"freelancer_id"`
	AmountCents  int64      `json:"amount_cents"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	FundRef      *string    `json:"fund_ref,omitempty"`
	ReleaseRef   *string    `json:"release_ref,omitempty"`
	RefundRef    *string    `json:"refund_ref,omitempty"`
	DisputeID    *string    `json:"dispute_id,omitempty"`
	FundedAt     *time.Time `json:"funded_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

func toEscrowView(rec escrow.Record) escrowView {
	return escrowView{
		ID:           rec.ID,
		JobID:        rec.JobID,
		ProposalID:   rec.ProposalID,
		ClientID:     rec.ClientID,
		FreelancerID: rec.FreelancerID,
		AmountCents:  rec.Amount.Cents,
		Currency:     rec.Amount.Currency,
		Status:       string(rec.Status),
		FundRef:      rec.FundRef,
		ReleaseRef:   rec.ReleaseRef,
		RefundRef:    rec.RefundRef,
		DisputeID:    rec.DisputeID,
		FundedAt:     rec.FundedAt,
		SettledAt:    rec.SettledAt,
	}
}

type disputeView struct {
	ID                 string     `json:"id"`
	EscrowID           string     `json:"escrow_id"`
	RaisedBy           string     `json:"raised_by"`
	Reason             string     `json:"reason"`
	Status             string     `json:"status"`
	ResolverID         *string    `json:"resolver_id,omitempty"`
	SplitFreelancerBps *int       `json:"split_freelancer_bps,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toDisputeView(rec dispute.Record) disputeView {
	return disputeView{
		ID:                 rec.ID,
		EscrowID:           rec.EscrowID,
		RaisedBy:           rec.RaisedBy,
		Reason:             rec.Reason,
		Status:             string(rec.Status),
		ResolverID:         rec.ResolverID,
		SplitFreelancerBps: rec.SplitFreelancerBps,
		ResolvedAt:         rec.ResolvedAt,
		CreatedAt:          rec.CreatedAt,
	}
}

type reputationView struct {
	FreelancerID  string  `json:"freelancer_id"`
	CompletedJobs int64   `json:"completed_jobs"`
	EarningsCents int64   `json:"earnings_cents"`
	Currency      string  `json:"currency,omitempty"`
	AverageRating float64 `json:"average_rating"`
	RatingCount   int64   `json:"rating_count"`
}

func toReputationView(rec reputation.Record) reputationView {
	return reputationView{
		FreelancerID:  rec.FreelancerID,
		CompletedJobs: rec.CompletedJobs,
		EarningsCents: rec.EarningsCents,
		Currency:      rec.Currency,
		AverageRating: rec.AverageRating(),
		RatingCount:   rec.RatingCount,
	}
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.Auth.Register(r.Context(), req)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondCreated(w, userView{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, map[string]any{
		"token": result.Token,
		"user": userView{
			ID:       result.User.ID,
			Email:    result.User.Email,
			FullName: result.User.FullName,
			Role:     string(result.User.Role),
		},
	})
}

type postJobRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	BudgetCents int64     `json:"budget_cents"`
	Currency    string    `json:"currency"`
	Deadline    time.Time `json:"deadline"`
	Category    string    `json:"category"`
	Remote      bool      `json:"remote"`
}

func (h *Handlers) postJob(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req postJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := h.Jobs.Post(r.Context(), actor, job.PostRequest{
		Title:       req.Title,
		Description: req.Description,
		Budget:      money.New(req.BudgetCents, req.Currency),
		Deadline:    req.Deadline,
		Category:    job.Category(req.Category),
		Remote:      req.Remote,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondCreated(w, toJobView(j))
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := job.Filters{
		Status:   job.Status(q.Get("status")),
		Category: job.Category(q.Get("category")),
		ClientID: q.Get("client_id"),
	}
	if v := q.Get("remote"); v != "" {
		remote := v == "true"
		filters.Remote = &remote
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	jobs, total, err := h.Jobs.List(r.Context(), filters)
	if err != nil {
		respondFault(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	size := filters.PageSize
	if size <= 0 {
		size = 20
	}
	respondCollection(w, views, PaginationMeta{
		Page:    page,
		Limit:   size,
		Total:   total,
		HasNext: page*size < total,
	})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toJobView(j))
}

func (h *Handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	j, err := h.Jobs.Cancel(r.Context(), actor, chi.URLParam(r, "jobID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toJobView(j))
}

type submitProposalRequest struct {
	JobID        string `json:"job_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	DeliveryDays int    `json:"delivery_days"`
	CoverLetter  string `json:"cover_letter"`
}

func (h *Handlers) submitProposal(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req submitProposalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Proposals.Submit(r.Context(), actor, proposal.SubmitRequest{
		JobID:        req.JobID,
		Amount:       money.New(req.AmountCents, req.Currency),
		DeliveryDays: req.DeliveryDays,
		CoverLetter:  req.CoverLetter,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondCreated(w, toProposalView(p))
}

func (h *Handlers) listJobProposals(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	proposals, err := h.Proposals.ListForJob(r.Context(), actor, chi.URLParam(r, "jobID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	views := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		views = append(views, toProposalView(p))
	}
	respondJSON(w, views)
}

func (h *Handlers) acceptProposal(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	p, err := h.Proposals.Accept(r.Context(), actor, chi.URLParam(r, "proposalID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toProposalView(p))
}

func (h *Handlers) rejectProposal(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Proposals.Reject(r.Context(), actor, chi.URLParam(r, "proposalID"), req.Reason)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toProposalView(p))
}

func (h *Handlers) withdrawProposal(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	p, err := h.Proposals.Withdraw(r.Context(), actor, chi.URLParam(r, "proposalID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toProposalView(p))
}

func (h *Handlers) getEscrow(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	rec, err := h.Escrows.Get(r.Context(), actor, chi.URLParam(r, "escrowID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toEscrowView(rec))
}

func (h *Handlers) getJobEscrow(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	rec, err := h.Escrows.GetByJob(r.Context(), actor, chi.URLParam(r, "jobID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toEscrowView(rec))
}

func (h *Handlers) fundEscrow(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	rec, err := h.Escrows.Fund(r.Context(), actor, chi.URLParam(r, "escrowID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toEscrowView(rec))
}

func (h *Handlers) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	rec, err := h.Escrows.Release(r.Context(), actor, chi.URLParam(r, "escrowID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toEscrowView(rec))
}

func (h *Handlers) refundEscrow(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	rec, err := h.Escrows.Refund(r.Context(), actor, chi.URLParam(r, "escrowID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toEscrowView(rec))
}

func (h *Handlers) raiseDispute(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Disputes.Raise(r.Context(), actor, chi.URLParam(r, "escrowID"), req.Reason)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondCreated(w, toDisputeView(rec))
}

func (h *Handlers) getDispute(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	rec, err := h.Disputes.Get(r.Context(), actor, chi.URLParam(r, "disputeID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toDisputeView(rec))
}

func (h *Handlers) listOpenDisputes(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.Disputes.ListOpen(r.Context(), actor, limit)
	if err != nil {
		respondFault(w, err)
		return
	}
	views := make([]disputeView, 0, len(records))
	for _, rec := range records {
		views = append(views, toDisputeView(rec))
	}
	respondJSON(w, views)
}

type resolveDisputeRequest struct {
	Outcome            string `json:"outcome"`
	SplitFreelancerBps int    `json:"split_freelancer_bps"`
}

func (h *Handlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req resolveDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Disputes.Resolve(r.Context(), actor, chi.URLParam(r, "disputeID"),
		dispute.Outcome(req.Outcome), req.SplitFreelancerBps)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toDisputeView(rec))
}

func (h *Handlers) rateJob(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req struct {
		Score int `json:"score"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Reputation.SubmitRating(r.Context(), actor, chi.URLParam(r, "jobID"), req.Score)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toReputationView(rec))
}

func (h *Handlers) getReputation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Reputation.Profile(r.Context(), chi.URLParam(r, "freelancerID"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, toReputationView(rec))
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}
