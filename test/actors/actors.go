// Package actors drives the marketplace services from concurrent goroutines
// the way contending API clients would. Actors pick their targets out of the
// database, call the real service layer, and treat domain faults as expected
// outcomes of contention.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/fault"
	"gigflow/job"
	"gigflow/money"
	"gigflow/outbox"
	"gigflow/proposal"
)

// Marketplace bundles everything an actor needs.
type Marketplace struct {
	Pool      *pgxpool.Pool
	Jobs      *job.Service
	Proposals *proposal.Service
	Escrows   *escrow.Service
	Disputes  *dispute.Service
	Worker    *outbox.Worker
}

// expected reports whether err is a normal outcome under contention rather
// than a bug: domain faults, not-found races, and connection drops injected
// by chaos all qualify.
func expected(err error) bool {
	if err == nil {
		return true
	}
	var (
		ve *fault.ValidationError
		ae *fault.AuthorizationError
		ie *fault.InvalidStateError
		ce *fault.ConflictError
		pe *fault.PaymentError
	)
	if errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &ie) || errors.As(err, &ce) || errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, job.ErrJobNotFound) || errors.Is(err, proposal.ErrProposalNotFound) ||
		errors.Is(err, escrow.ErrEscrowNotFound) || errors.Is(err, dispute.ErrDisputeNotFound) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// chaos terminates backends mid-call; tolerate anything the driver or
	// server reports about a dropped connection.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn") || strings.Contains(msg, "EOF")
}

func pause(lo, spread int) {
	time.Sleep(time.Duration(lo+rand.Intn(spread)) * time.Millisecond)
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Poster keeps a stream of fresh open jobs flowing in.
func Poster(ctx context.Context, m *Marketplace, client auth.Actor, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		if done(ctx, stop) {
			return nil
		}
		_, err := m.Jobs.Post(ctx, client, job.PostRequest{
			Title:       fmt.Sprintf("stress job %d-%d", rand.Int63(), i),
			Description: "load generated",
			Budget:      money.New(int64(1000+rand.Intn(100000)), "USD"),
			Deadline:    time.Now().Add(72 * time.Hour),
			Category:    job.CategoryDevelopment,
			Remote:      true,
		})
		if !expected(err) {
			return fmt.Errorf("poster: %w", err)
		}
		pause(40, 80)
	}
}

// Proposer bids on random open jobs. Duplicate bids and already-closed jobs
// surface as conflicts and validation faults, which is the point.
func Proposer(ctx context.Context, m *Marketplace, freelancer auth.Actor, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		jobID, budget := pickOpenJob(ctx, m.Pool)
		if jobID != "" {
			amount := budget
			if budget > 1 {
				amount = 1 + rand.Int63n(budget)
			}
			_, err := m.Proposals.Submit(ctx, freelancer, proposal.SubmitRequest{
				JobID:        jobID,
				Amount:       money.New(amount, "USD"),
				DeliveryDays: 1 + rand.Intn(30),
				CoverLetter:  "can start immediately",
			})
			if !expected(err) {
				return fmt.Errorf("proposer: %w", err)
			}
		}
		pause(10, 30)
	}
}

// Accepter races to accept pending proposals on the client's open jobs.
// Several accepters on the same job must collapse to exactly one winner.
func Accepter(ctx context.Context, m *Marketplace, client auth.Actor, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		var proposalID string
		_ = m.Pool.QueryRow(ctx, `
			SELECT p.id FROM proposals p
			JOIN jobs j ON j.id = p.job_id
			WHERE p.status = 'pending' AND j.status = 'open' AND j.client_id = $1
			ORDER BY random() LIMIT 1`, client.ID).Scan(&proposalID)
		if proposalID != "" {
			if _, err := m.Proposals.Accept(ctx, client, proposalID); !expected(err) {
				return fmt.Errorf("accepter: %w", err)
			}
		}
		pause(15, 40)
	}
}

// Funder funds freshly opened escrows, retrying into the idempotent path.
func Funder(ctx context.Context, m *Marketplace, client auth.Actor, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		if id := pickEscrow(ctx, m.Pool, client.ID, "client_id", "pending_funding", "funded"); id != "" {
			if _, err := m.Escrows.Fund(ctx, client, id); !expected(err) {
				return fmt.Errorf("funder: %w", err)
			}
		}
		pause(20, 40)
	}
}

// Releaser releases funded escrows as the paying client. Racing releasers on
// the same escrow must produce a single settlement.
func Releaser(ctx context.Context, m *Marketplace, client auth.Actor, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		if id := pickEscrow(ctx, m.Pool, client.ID, "client_id", "funded", "released"); id != "" {
			if _, err := m.Escrows.Release(ctx, client, id); !expected(err) {
				return fmt.Errorf("releaser: %w", err)
			}
		}
		pause(25, 50)
	}
}

// Refunder plays a conceding freelancer, occasionally handing funded escrows
// back while releasers and disputers fight over the same rows.
func Refunder(ctx context.Context, m *Marketplace, freelancer auth.Actor, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		if rand.Intn(4) == 0 {
			if id := pickEscrow(ctx, m.Pool, freelancer.ID, "freelancer_id", "funded", "refunded"); id != "" {
				if _, err := m.Escrows.Refund(ctx, freelancer, id); !expected(err) {
					return fmt.Errorf("refunder: %w", err)
				}
			}
		}
		pause(60, 120)
	}
}

// Disputer raises disputes on funded escrows from either side of the deal.
func Disputer(ctx context.Context, m *Marketplace, party auth.Actor, column string, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		if rand.Intn(3) == 0 {
			if id := pickEscrow(ctx, m.Pool, party.ID, column, "funded", "disputed"); id != "" {
				if _, err := m.Disputes.Raise(ctx, party, id, "work not as described"); !expected(err) {
					return fmt.Errorf("disputer: %w", err)
				}
			}
		}
		pause(80, 120)
	}
}

// Resolver drains open disputes with a random outcome mix.
func Resolver(ctx context.Context, m *Marketplace, arbitrator auth.Actor, stop <-chan struct{}) error {
	outcomes := []dispute.Outcome{dispute.OutcomeRelease, dispute.OutcomeRefund, dispute.OutcomeSplit}
	for {
		if done(ctx, stop) {
			return nil
		}
		open, err := m.Disputes.ListOpen(ctx, arbitrator, 5)
		if err == nil {
			for _, d := range open {
				outcome := outcomes[rand.Intn(len(outcomes))]
				bps := 0
				if outcome == dispute.OutcomeSplit {
					bps = 1 + rand.Intn(9999)
				}
				if _, err := m.Disputes.Resolve(ctx, arbitrator, d.ID, outcome, bps); !expected(err) {
					return fmt.Errorf("resolver: %w", err)
				}
			}
		}
		pause(100, 100)
	}
}

// Drainer pumps the transactional outbox, which also feeds job completion
// events into the reputation handler.
func Drainer(ctx context.Context, m *Marketplace, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		_, _ = m.Worker.DrainOnce(ctx)
		pause(50, 50)
	}
}

func pickOpenJob(ctx context.Context, pool *pgxpool.Pool) (string, int64) {
	var id string
	var budget int64
	_ = pool.QueryRow(ctx, `
		SELECT id, budget_cents FROM jobs
		WHERE status = 'open'
		ORDER BY random() LIMIT 1`).Scan(&id, &budget)
	return id, budget
}

// pickEscrow returns a random escrow for the party in either the actionable
// status or the one the action leads to, so actors also hammer the idempotent
// and already-settled paths.
func pickEscrow(ctx context.Context, pool *pgxpool.Pool, partyID, column, status, settled string) string {
	var id string
	_ = pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id FROM escrows
		WHERE %s = $1 AND status IN ($2, $3)
		ORDER BY random() LIMIT 1`, column), partyID, status, settled).Scan(&id)
	return id
}
