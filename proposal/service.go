package proposal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/fault"
	"gigflow/job"
	"gigflow/money"
	"gigflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (Proposal, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proposal, error)
	ListByJob(ctx context.Context, jobID string) ([]Proposal, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, id string, version int64) error
	RejectSiblings(ctx context.Context, tx pgx.Tx, jobID, acceptedID, reason string) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, reason *string, version int64) error
}

// Jobs is the slice of the job repository the proposal flow needs.
type Jobs interface {
	Get(ctx context.Context, id string) (job.Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, jobID, proposalID, freelancerID string, version int64) error
}

// EscrowOpener creates the escrow inside the acceptance transaction, so a
// failed escrow insert rolls the whole acceptance back.
type EscrowOpener interface {
	OpenInTx(ctx context.Context, tx pgx.Tx, jobID, proposalID, clientID, freelancerID string, amount money.Amount) (string, error)
}

// SubmitRequest carries the fields a freelancer submits with a proposal.
type SubmitRequest struct {
	JobID        string
	Amount       money.Amount
	DeliveryDays int
	CoverLetter  string
}

type Service struct {
	pool    TxBeginner
	repo    Repository
	jobs    Jobs
	escrows EscrowOpener
	log     *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, jobs Jobs, escrows EscrowOpener, log *zap.Logger) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		jobs:    jobs,
		escrows: escrows,
		log:     log,
	}
}

// Submit validates and persists a pending proposal against an open job.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, req SubmitRequest) (Proposal, error) {
	if actor.Role != auth.RoleFreelancer {
		return Proposal{}, fault.Unauthorized(actor.ID, "submit proposal")
	}
	if req.DeliveryDays <= 0 {
		return Proposal{}, fault.Validationf("delivery_days", "must be greater than zero")
	}
	if strings.TrimSpace(req.CoverLetter) == "" {
		return Proposal{}, fault.Validationf("cover_letter", "required")
	}

	j, err := s.jobs.Get(ctx, req.JobID)
	if err != nil {
		return Proposal{}, err
	}
	if j.Status != job.StatusOpen {
		return Proposal{}, fault.Validationf("job_id", "job %s is %s, not open", j.ID, j.Status)
	}
	if j.ClientID == actor.ID {
		return Proposal{}, fault.Validationf("job_id", "cannot propose on own job")
	}
	if !req.Amount.Positive() {
		return Proposal{}, fault.Validationf("amount", "must be greater than zero")
	}
	cmp, err := req.Amount.Cmp(j.Budget)
	if err != nil {
		return Proposal{}, err
	}
	if cmp > 0 {
		return Proposal{}, fault.Validationf("amount", "exceeds job budget %s", j.Budget)
	}

	p := Proposal{
		JobID:        j.ID,
		FreelancerID: actor.ID,
		Amount:       req.Amount,
		DeliveryDays: req.DeliveryDays,
		CoverLetter:  req.CoverLetter,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, &p); err != nil {
		return Proposal{}, err
	}

	s.log.Info("proposal submitted",
		zap.String("proposal_id", p.ID),
		zap.String("job_id", p.JobID),
		zap.String("freelancer_id", p.FreelancerID))
	return p, nil
}

// Accept atomically accepts one proposal: the job row lock serializes
// concurrent acceptances, siblings are bulk-rejected, and the escrow is
// opened in the same transaction.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, proposalID string) (Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}

	j, err := s.jobs.GetForUpdate(ctx, tx, p.JobID)
	if err != nil {
		return Proposal{}, err
	}
	if j.ClientID != actor.ID {
		return Proposal{}, fault.Unauthorized(actor.ID, "accept proposal")
	}
	if j.Status != job.StatusOpen {
		return Proposal{}, fault.InvalidState("job", j.ID, string(j.Status), string(job.StatusOpen))
	}
	if p.Status != StatusPending {
		return Proposal{}, fault.InvalidState("proposal", p.ID, string(p.Status), string(StatusPending))
	}

	if err := s.repo.MarkAccepted(ctx, tx, p.ID, p.Version); err != nil {
		return Proposal{}, err
	}
	if err := s.repo.RejectSiblings(ctx, tx, p.JobID, p.ID, ReasonJobAssigned); err != nil {
		return Proposal{}, err
	}
	if err := s.jobs.MarkAccepted(ctx, tx, j.ID, p.ID, p.FreelancerID, j.Version); err != nil {
		return Proposal{}, err
	}

	escrowID, err := s.escrows.OpenInTx(ctx, tx, j.ID, p.ID, j.ClientID, p.FreelancerID, p.Amount)
	if err != nil {
		return Proposal{}, err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicProposalAccepted, map[string]any{
		"proposal_id":   p.ID,
		"job_id":        j.ID,
		"freelancer_id": p.FreelancerID,
		"escrow_id":     escrowID,
		"amount_cents":  p.Amount.Cents,
		"currency":      p.Amount.Currency,
	})
	if err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("proposal: commit: %w", err)
	}

	p.Status = StatusAccepted
	p.Version++
	s.log.Info("proposal accepted",
		zap.String("proposal_id", p.ID),
		zap.String("job_id", j.ID),
		zap.String("escrow_id", escrowID))
	return p, nil
}

// Reject lets the posting client reject a pending proposal.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, proposalID, reason string) (Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	j, err := s.jobs.Get(ctx, p.JobID)
	if err != nil {
		return Proposal{}, err
	}
	if j.ClientID != actor.ID {
		return Proposal{}, fault.Unauthorized(actor.ID, "reject proposal")
	}
	if p.Status != StatusPending {
		return Proposal{}, fault.InvalidState("proposal", p.ID, string(p.Status), string(StatusPending))
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := s.repo.UpdateStatus(ctx, tx, p.ID, StatusPending, StatusRejected, reasonPtr, p.Version); err != nil {
		return Proposal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("proposal: commit: %w", err)
	}

	p.Status = StatusRejected
	p.RejectReason = reasonPtr
	p.Version++
	return p, nil
}

// Withdraw lets the submitting freelancer withdraw a pending proposal.
func (s *Service) Withdraw(ctx context.Context, actor auth.Actor, proposalID string) (Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if p.FreelancerID != actor.ID {
		return Proposal{}, fault.Unauthorized(actor.ID, "withdraw proposal")
	}
	if p.Status != StatusPending {
		return Proposal{}, fault.InvalidState("proposal", p.ID, string(p.Status), string(StatusPending))
	}

	if err := s.repo.UpdateStatus(ctx, tx, p.ID, StatusPending, StatusWithdrawn, nil, p.Version); err != nil {
		return Proposal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("proposal: commit: %w", err)
	}

	p.Status = StatusWithdrawn
	p.Version++
	return p, nil
}

// ListForJob returns the job's proposals. The client sees all of them, a
// freelancer only their own.
func (s *Service) ListForJob(ctx context.Context, actor auth.Actor, jobID string) ([]Proposal, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	proposals, err := s.repo.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.ClientID == actor.ID {
		return proposals, nil
	}
	own := proposals[:0]
	for _, p := range proposals {
		if p.FreelancerID == actor.ID {
			own = append(own, p)
		}
	}
	return own, nil
}
