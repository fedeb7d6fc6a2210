package dispute

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/escrow"
	"gigflow/fault"
	"gigflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	CreateInTx(ctx context.Context, tx pgx.Tx, escrowID, raisedBy, reason string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListOpen(ctx context.Context, limit int) ([]Record, error)
}

// EscrowStore is the slice of the escrow repository the raise flow needs. The
// funded-to-disputed transition is owned here, inside the raise transaction.
type EscrowStore interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (escrow.Record, error)
	TransitionDisputed(ctx context.Context, tx pgx.Tx, id, disputeID string, version int64) error
}

// Settler drives a disputed escrow to its resolved settlement. Each call
// applies the dispute resolution in the same transaction as the escrow commit.
type Settler interface {
	ReleaseResolved(ctx context.Context, escrowID string, res escrow.ResolutionUpdate) (escrow.Record, error)
	RefundResolved(ctx context.Context, escrowID string, res escrow.ResolutionUpdate) (escrow.Record, error)
	SplitResolved(ctx context.Context, escrowID string, res escrow.ResolutionUpdate) (escrow.Record, error)
}

type Service struct {
	pool    TxBeginner
	repo    Repository
	escrows EscrowStore
	settler Settler
	log     *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, escrows EscrowStore, settler Settler, log *zap.Logger) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		escrows: escrows,
		settler: settler,
		log:     log,
	}
}

// Raise opens a dispute on a funded escrow. The escrow moves to disputed and
// the dispute row is created in one transaction, so neither exists without
// the other. A settlement already in flight on the escrow wins over the raise.
func (s *Service) Raise(ctx context.Context, actor auth.Actor, escrowID, reason string) (Record, error) {
	if strings.TrimSpace(reason) == "" {
		return Record{}, fault.Validationf("reason", "required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.escrows.GetForUpdateTx(ctx, tx, escrowID)
	if err != nil {
		return Record{}, err
	}
	if esc.ClientID != actor.ID && esc.FreelancerID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "raise dispute")
	}
	if esc.Status != escrow.StatusFunded {
		return Record{}, fault.InvalidState("escrow", esc.ID, string(esc.Status), string(escrow.StatusFunded))
	}

	rec, err := s.repo.CreateInTx(ctx, tx, esc.ID, actor.ID, reason)
	if err != nil {
		return Record{}, err
	}
	if err := s.escrows.TransitionDisputed(ctx, tx, esc.ID, rec.ID, esc.Version); err != nil {
		return Record{}, err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicDisputeRaised, map[string]any{
		"dispute_id": rec.ID,
		"escrow_id":  esc.ID,
		"job_id":     esc.JobID,
		"raised_by":  actor.ID,
	})
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit: %w", err)
	}

	s.log.Info("dispute raised",
		zap.String("dispute_id", rec.ID),
		zap.String("escrow_id", esc.ID),
		zap.String("raised_by", actor.ID))
	return rec, nil
}

// Resolve settles an open dispute with the arbitrator's outcome. The dispute
// row closes in the same transaction that records the escrow settlement, so a
// crash between the ledger call and the commit never leaves a half-resolved
// pair.
func (s *Service) Resolve(ctx context.Context, actor auth.Actor, disputeID string, outcome Outcome, splitFreelancerBps int) (Record, error) {
	if actor.Role != auth.RoleArbitrator {
		return Record{}, fault.Unauthorized(actor.ID, "resolve dispute")
	}

	status, ok := statusFor(outcome)
	if !ok {
		return Record{}, fault.Validationf("outcome", "unknown outcome %q", outcome)
	}
	if outcome == OutcomeSplit {
		if splitFreelancerBps <= 0 || splitFreelancerBps >= 10000 {
			return Record{}, fault.Validationf("split_freelancer_bps", "must be between 1 and 9999")
		}
	} else if splitFreelancerBps != 0 {
		return Record{}, fault.Validationf("split_freelancer_bps", "only valid for the split outcome")
	}

	rec, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusOpen {
		return Record{}, fault.InvalidState("dispute", rec.ID, string(rec.Status), string(StatusOpen))
	}

	res := escrow.ResolutionUpdate{
		DisputeID:          rec.ID,
		DisputeStatus:      string(status),
		ResolverID:         actor.ID,
		SplitFreelancerBps: splitFreelancerBps,
	}

	switch outcome {
	case OutcomeRelease:
		_, err = s.settler.ReleaseResolved(ctx, rec.EscrowID, res)
	case OutcomeRefund:
		_, err = s.settler.RefundResolved(ctx, rec.EscrowID, res)
	case OutcomeSplit:
		_, err = s.settler.SplitResolved(ctx, rec.EscrowID, res)
	}
	if err != nil {
		return Record{}, err
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", rec.ID),
		zap.String("outcome", string(outcome)),
		zap.String("resolver_id", actor.ID))
	return s.repo.Get(ctx, disputeID)
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, disputeID string) (Record, error) {
	rec, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if actor.Role != auth.RoleArbitrator && rec.RaisedBy != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "view dispute")
	}
	return rec, nil
}

// ListOpen returns the arbitration queue.
func (s *Service) ListOpen(ctx context.Context, actor auth.Actor, limit int) ([]Record, error) {
	if actor.Role != auth.RoleArbitrator {
		return nil, fault.Unauthorized(actor.ID, "list open disputes")
	}
	return s.repo.ListOpen(ctx, limit)
}
