package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/fault"
	"gigflow/ledger"
)

// Repository defines the data access required by the service.
type Repository interface {
	Get(ctx context.Context, id string) (Record, error)
	GetByJob(ctx context.Context, jobID string) (Record, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	BeginSettlement(ctx context.Context, id string, op ledger.Operation, expected Status) error
	AbortSettlement(ctx context.Context, id string, op ledger.Operation) error
	CommitFunded(ctx context.Context, id, ref string) error
	CommitReleased(ctx context.Context, p ReleaseCommit) error
	CommitRefunded(ctx context.Context, p RefundCommit) error
	CommitSplit(ctx context.Context, p SplitCommit) error
	TransitionDisputed(ctx context.Context, tx pgx.Tx, id, disputeID string, version int64) error
}

type Service struct {
	repo Repository
	gw   ledger.Gateway
	log  *zap.Logger

	// waitInterval paces the polling of a caller that lost the settlement
	// claim and is waiting for the winner's outcome.
	waitInterval time.Duration
}

func NewService(repo Repository, gw ledger.Gateway, log *zap.Logger) *Service {
	return &Service{
		repo:         repo,
		gw:           gw,
		log:          log,
		waitInterval: 50 * time.Millisecond,
	}
}

// settlement describes one attempt template for the claim loop.
type settlement struct {
	op       ledger.Operation
	expected Status
	// settled reports whether the escrow already reached the outcome this
	// operation drives, making another attempt a no-op.
	settled func(Record) bool
	// execute performs the ledger call(s) and the success commit while the
	// claim is held. It must abort the claim before returning an error.
	execute func(context.Context, Record) error
}

// settle drives one settlement to its outcome. The ledger is only ever called
// while holding the claim, so a concurrent caller for the same outcome never
// produces a second ledger call: it polls here until the winner commits or
// aborts, then either returns the settled record or retries the claim.
func (s *Service) settle(ctx context.Context, id string, st settlement) (Record, error) {
	for {
		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if st.settled(rec) {
			return rec, nil
		}
		if rec.Status != st.expected {
			return Record{}, fault.InvalidState("escrow", id, string(rec.Status), string(st.expected))
		}
		if rec.SettlementOp != nil {
			if err := s.wait(ctx); err != nil {
				return Record{}, err
			}
			continue
		}

		err = s.repo.BeginSettlement(ctx, id, st.op, st.expected)
		if err != nil {
			var conflict *fault.ConflictError
			if errors.As(err, &conflict) {
				if err := s.wait(ctx); err != nil {
					return Record{}, err
				}
				continue
			}
			return Record{}, err
		}

		if err := st.execute(ctx, rec); err != nil {
			return Record{}, err
		}
		return s.repo.Get(ctx, id)
	}
}

func (s *Service) wait(ctx context.Context) error {
	t := time.NewTimer(s.waitInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// abortOn clears the claim and returns the original error. The ledger gateway
// is idempotent per escrow and operation, so a later retry is safe. The clear
// runs on a detached context and retries: a claim left behind would block
// every later settlement on the row.
func (s *Service) abortOn(ctx context.Context, id string, op ledger.Operation, cause error) error {
	abortCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.repo.AbortSettlement(abortCtx, id, op); err == nil {
			return cause
		}
		time.Sleep(s.waitInterval)
	}
	s.log.Error("abort settlement failed",
		zap.String("escrow_id", id),
		zap.String("op", string(op)),
		zap.Error(err))
	return cause
}

// Fund charges the client and moves the escrow to funded.
func (s *Service) Fund(ctx context.Context, actor auth.Actor, escrowID string) (Record, error) {
	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return Record{}, err
	}
	if rec.ClientID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "fund escrow")
	}

	return s.settle(ctx, escrowID, settlement{
		op:       ledger.OpFund,
		expected: StatusPendingFunding,
		settled:  func(r Record) bool { return r.Status == StatusFunded },
		execute: func(ctx context.Context, r Record) error {
			ref, err := s.gw.Fund(ctx, r.ID, r.Amount)
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpFund, err)
			}
			if err := s.repo.CommitFunded(ctx, r.ID, string(ref)); err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpFund, err)
			}
			s.log.Info("escrow funded", zap.String("escrow_id", r.ID), zap.String("fund_ref", string(ref)))
			return nil
		},
	})
}

// Release pays the full escrow amount to the freelancer and completes the job.
func (s *Service) Release(ctx context.Context, actor auth.Actor, escrowID string) (Record, error) {
	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return Record{}, err
	}
	if rec.ClientID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "release escrow")
	}
	return s.release(ctx, escrowID, StatusFunded, nil)
}

// Refund returns the full escrow amount to the client. Only the freelancer
// may concede a funded engagement; a client who wants funds back must dispute.
func (s *Service) Refund(ctx context.Context, actor auth.Actor, escrowID string) (Record, error) {
	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return Record{}, err
	}
	if rec.FreelancerID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "refund escrow")
	}
	return s.refund(ctx, escrowID, StatusFunded, nil)
}

// ReleaseResolved settles a disputed escrow fully in the freelancer's favor.
// Authorization was already checked by the dispute resolver.
func (s *Service) ReleaseResolved(ctx context.Context, escrowID string, res ResolutionUpdate) (Record, error) {
	return s.release(ctx, escrowID, StatusDisputed, &res)
}

// RefundResolved settles a disputed escrow fully in the client's favor.
func (s *Service) RefundResolved(ctx context.Context, escrowID string, res ResolutionUpdate) (Record, error) {
	return s.refund(ctx, escrowID, StatusDisputed, &res)
}

// SplitResolved settles a disputed escrow by paying the freelancer their
// share and refunding the remainder. Both legs share the claim, so a retry
// after a mid-split failure replays both idempotently.
func (s *Service) SplitResolved(ctx context.Context, escrowID string, res ResolutionUpdate) (Record, error) {
	return s.settle(ctx, escrowID, settlement{
		op:       ledger.OpSplit,
		expected: StatusDisputed,
		settled:  func(r Record) bool { return r.Status == StatusResolved },
		execute: func(ctx context.Context, r Record) error {
			freelancerAmount, clientAmount := r.Amount.Split(res.SplitFreelancerBps)

			relRef, err := s.gw.Release(ctx, r.ID, freelancerAmount, r.FreelancerID)
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpSplit, err)
			}
			refRef, err := s.gw.Refund(ctx, r.ID, clientAmount, r.ClientID)
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpSplit, err)
			}

			err = s.repo.CommitSplit(ctx, SplitCommit{
				ID:         r.ID,
				ReleaseRef: string(relRef),
				RefundRef:  string(refRef),
				Resolution: &res,
			})
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpSplit, err)
			}
			s.log.Info("escrow split settled",
				zap.String("escrow_id", r.ID),
				zap.Int("freelancer_bps", res.SplitFreelancerBps))
			return nil
		},
	})
}

func (s *Service) release(ctx context.Context, escrowID string, from Status, res *ResolutionUpdate) (Record, error) {
	return s.settle(ctx, escrowID, settlement{
		op:       ledger.OpRelease,
		expected: from,
		settled:  func(r Record) bool { return r.Status == StatusReleased },
		execute: func(ctx context.Context, r Record) error {
			ref, err := s.gw.Release(ctx, r.ID, r.Amount, r.FreelancerID)
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpRelease, err)
			}
			err = s.repo.CommitReleased(ctx, ReleaseCommit{
				ID:         r.ID,
				From:       from,
				Op:         ledger.OpRelease,
				ReleaseRef: string(ref),
				Resolution: res,
			})
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpRelease, err)
			}
			s.log.Info("payment released",
				zap.String("escrow_id", r.ID),
				zap.String("release_ref", string(ref)))
			return nil
		},
	})
}

func (s *Service) refund(ctx context.Context, escrowID string, from Status, res *ResolutionUpdate) (Record, error) {
	return s.settle(ctx, escrowID, settlement{
		op:       ledger.OpRefund,
		expected: from,
		settled:  func(r Record) bool { return r.Status == StatusRefunded },
		execute: func(ctx context.Context, r Record) error {
			ref, err := s.gw.Refund(ctx, r.ID, r.Amount, r.ClientID)
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpRefund, err)
			}
			err = s.repo.CommitRefunded(ctx, RefundCommit{
				ID:         r.ID,
				From:       from,
				Op:         ledger.OpRefund,
				RefundRef:  string(ref),
				Resolution: res,
			})
			if err != nil {
				return s.abortOn(ctx, r.ID, ledger.OpRefund, err)
			}
			s.log.Info("escrow refunded",
				zap.String("escrow_id", r.ID),
				zap.String("refund_ref", string(ref)))
			return nil
		},
	})
}

// Get returns the escrow visible to its client, freelancer, or an arbitrator.
func (s *Service) Get(ctx context.Context, actor auth.Actor, escrowID string) (Record, error) {
	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return Record{}, err
	}
	if actor.Role != auth.RoleArbitrator && rec.ClientID != actor.ID && rec.FreelancerID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "view escrow")
	}
	return rec, nil
}

// GetByJob returns the job's escrow under the same visibility rule as Get.
func (s *Service) GetByJob(ctx context.Context, actor auth.Actor, jobID string) (Record, error) {
	rec, err := s.repo.GetByJob(ctx, jobID)
	if err != nil {
		return Record{}, err
	}
	if actor.Role != auth.RoleArbitrator && rec.ClientID != actor.ID && rec.FreelancerID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "view escrow")
	}
	return rec, nil
}
