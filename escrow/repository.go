package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/fault"
	"gigflow/ledger"
	"gigflow/metrics"
	"gigflow/money"
	"gigflow/outbox"
)

// ErrEscrowNotFound is returned when no escrow row exists for the provided identifier.
var ErrEscrowNotFound = errors.New("escrow: not found")

const escrowColumns = `id, job_id, proposal_id, client_id, freelancer_id, amount_cents, currency, status,
	fund_ref, release_ref, refund_ref, settlement_op, settlement_started_at,
	dispute_id, version, created_at, updated_at, funded_at, settled_at`

// ReleaseCommit finalizes a confirmed release settlement.
type ReleaseCommit struct {
	ID         string
	From       Status
	Op         ledger.Operation
	ReleaseRef string
	Resolution *ResolutionUpdate
}

// RefundCommit finalizes a confirmed refund settlement.
type RefundCommit struct {
	ID         string
	From       Status
	Op         ledger.Operation
	RefundRef  string
	Resolution *ResolutionUpdate
}

// SplitCommit finalizes a confirmed split settlement, which carries one
// reference per leg.
type SplitCommit struct {
	ID         string
	ReleaseRef string
	RefundRef  string
	Resolution *ResolutionUpdate
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// OpenInTx inserts a pending_funding escrow inside the proposal acceptance
// transaction. The unique index on job_id guarantees at most one escrow per job.
func (r *PGRepository) OpenInTx(ctx context.Context, tx pgx.Tx, jobID, proposalID, clientID, freelancerID string, amount money.Amount) (string, error) {
	const insertSQL = `
INSERT INTO escrows (job_id, proposal_id, client_id, freelancer_id, amount_cents, currency, status)
VALUES ($1,$2,$3,$4,$5,$6,'pending_funding')
RETURNING id
`
	var id string
	err := tx.QueryRow(ctx, insertSQL, jobID, proposalID, clientID, freelancerID, amount.Cents, amount.Currency).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fault.Conflict("escrow", jobID)
		}
		return "", fmt.Errorf("escrow: insert: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id=$1`, id)
	return scanEscrow(row)
}

func (r *PGRepository) GetByJob(ctx context.Context, jobID string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE job_id=$1`, jobID)
	return scanEscrow(row)
}

func (r *PGRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	row := tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id=$1 FOR UPDATE`, id)
	return scanEscrow(row)
}

// BeginSettlement claims the escrow for one settlement attempt. The claim is a
// compare-and-set on status plus an empty settlement_op marker, so exactly one
// caller wins; everyone else gets a conflict and must wait for the outcome.
func (r *PGRepository) BeginSettlement(ctx context.Context, id string, op ledger.Operation, expected Status) error {
	const claimSQL = `
UPDATE escrows
SET settlement_op=$2, settlement_started_at=now(), version=version+1, updated_at=now()
WHERE id=$1 AND status=$3 AND settlement_op IS NULL
`
	tag, err := r.pool.Exec(ctx, claimSQL, id, string(op), expected)
	if err != nil {
		return fmt.Errorf("escrow: begin settlement %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("escrow", id)
	}
	return nil
}

// AbortSettlement clears the claim after a failed ledger call. The status was
// never touched, so the escrow is exactly where it was before the attempt.
func (r *PGRepository) AbortSettlement(ctx context.Context, id string, op ledger.Operation) error {
	const abortSQL = `
UPDATE escrows
SET settlement_op=NULL, settlement_started_at=NULL, version=version+1, updated_at=now()
WHERE id=$1 AND settlement_op=$2
`
	if _, err := r.pool.Exec(ctx, abortSQL, id, string(op)); err != nil {
		return fmt.Errorf("escrow: abort settlement %s: %w", op, err)
	}
	return nil
}

// CommitFunded records a confirmed fund settlement: the escrow becomes funded
// and the job moves to in_progress in the same transaction.
func (r *PGRepository) CommitFunded(ctx context.Context, id, ref string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
UPDATE escrows
SET status='funded', fund_ref=$2, settlement_op=NULL, settlement_started_at=NULL,
    funded_at=now(), version=version+1, updated_at=now()
WHERE id=$1 AND status='pending_funding' AND settlement_op='fund'
RETURNING job_id, client_id, amount_cents, currency
`
	var (
		jobID, clientID, currency string
		amountCents               int64
	)
	if err := tx.QueryRow(ctx, updateSQL, id, ref).Scan(&jobID, &clientID, &amountCents, &currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Conflict("escrow", id)
		}
		return fmt.Errorf("escrow: commit funded: %w", err)
	}

	if err := advanceJob(ctx, tx, jobID, "accepted", "in_progress", false); err != nil {
		return err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicEscrowFunded, map[string]any{
		"escrow_id":    id,
		"job_id":       jobID,
		"client_id":    clientID,
		"amount_cents": amountCents,
		"currency":     currency,
		"fund_ref":     ref,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit tx: %w", err)
	}
	metrics.EscrowTransitions.WithLabelValues(string(StatusPendingFunding), string(StatusFunded)).Inc()
	return nil
}

// CommitReleased records a confirmed release settlement: the escrow becomes
// released, the job completes, and the completion plus payment events are
// enqueued, all in one transaction. A dispute resolution rides along when set.
func (r *PGRepository) CommitReleased(ctx context.Context, p ReleaseCommit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
UPDATE escrows
SET status='released', release_ref=$2, settlement_op=NULL, settlement_started_at=NULL,
    settled_at=now(), version=version+1, updated_at=now()
WHERE id=$1 AND status=$3 AND settlement_op=$4
RETURNING job_id, freelancer_id, amount_cents, currency
`
	var (
		jobID, freelancerID, currency string
		amountCents                   int64
	)
	err = tx.QueryRow(ctx, updateSQL, p.ID, p.ReleaseRef, p.From, string(p.Op)).
		Scan(&jobID, &freelancerID, &amountCents, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Conflict("escrow", p.ID)
		}
		return fmt.Errorf("escrow: commit released: %w", err)
	}

	if err := advanceJob(ctx, tx, jobID, "in_progress", "completed", true); err != nil {
		return err
	}
	if err := applyResolution(ctx, tx, p.Resolution); err != nil {
		return err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicPaymentReleased, map[string]any{
		"escrow_id":     p.ID,
		"job_id":        jobID,
		"freelancer_id": freelancerID,
		"amount_cents":  amountCents,
		"currency":      currency,
		"release_ref":   p.ReleaseRef,
	})
	if err != nil {
		return err
	}
	err = outbox.Enqueue(ctx, tx, outbox.TopicJobCompleted, map[string]any{
		"job_id":        jobID,
		"freelancer_id": freelancerID,
		"amount_cents":  amountCents,
		"currency":      currency,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit tx: %w", err)
	}
	metrics.EscrowTransitions.WithLabelValues(string(p.From), string(StatusReleased)).Inc()
	return nil
}

// CommitRefunded records a confirmed refund settlement. The job is cancelled
// since the engagement ended without payment.
func (r *PGRepository) CommitRefunded(ctx context.Context, p RefundCommit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
UPDATE escrows
SET status='refunded', refund_ref=$2, settlement_op=NULL, settlement_started_at=NULL,
    settled_at=now(), version=version+1, updated_at=now()
WHERE id=$1 AND status=$3 AND settlement_op=$4
RETURNING job_id, client_id, amount_cents, currency
`
	var (
		jobID, clientID, currency string
		amountCents               int64
	)
	err = tx.QueryRow(ctx, updateSQL, p.ID, p.RefundRef, p.From, string(p.Op)).
		Scan(&jobID, &clientID, &amountCents, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Conflict("escrow", p.ID)
		}
		return fmt.Errorf("escrow: commit refunded: %w", err)
	}

	if err := advanceJob(ctx, tx, jobID, "in_progress", "cancelled", false); err != nil {
		return err
	}
	if err := applyResolution(ctx, tx, p.Resolution); err != nil {
		return err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicEscrowRefunded, map[string]any{
		"escrow_id":    p.ID,
		"job_id":       jobID,
		"client_id":    clientID,
		"amount_cents": amountCents,
		"currency":     currency,
		"refund_ref":   p.RefundRef,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit tx: %w", err)
	}
	metrics.EscrowTransitions.WithLabelValues(string(p.From), string(StatusRefunded)).Inc()
	return nil
}

// CommitSplit records a confirmed split settlement: the escrow lands on
// resolved with both leg references, and the job completes for the partially
// paid freelancer.
func (r *PGRepository) CommitSplit(ctx context.Context, p SplitCommit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
UPDATE escrows
SET status='resolved', release_ref=$2, refund_ref=$3, settlement_op=NULL, settlement_started_at=NULL,
    settled_at=now(), version=version+1, updated_at=now()
WHERE id=$1 AND status='disputed' AND settlement_op='split'
RETURNING job_id, freelancer_id, amount_cents, currency
`
	var (
		jobID, freelancerID, currency string
		amountCents                   int64
	)
	err = tx.QueryRow(ctx, updateSQL, p.ID, p.ReleaseRef, p.RefundRef).
		Scan(&jobID, &freelancerID, &amountCents, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Conflict("escrow", p.ID)
		}
		return fmt.Errorf("escrow: commit split: %w", err)
	}

	if err := advanceJob(ctx, tx, jobID, "in_progress", "completed", true); err != nil {
		return err
	}
	if err := applyResolution(ctx, tx, p.Resolution); err != nil {
		return err
	}

	share := 0
	if p.Resolution != nil {
		share = p.Resolution.SplitFreelancerBps
	}
	freelancerAmount, clientAmount := money.New(amountCents, currency).Split(share)
	err = outbox.Enqueue(ctx, tx, outbox.TopicPaymentReleased, map[string]any{
		"escrow_id":     p.ID,
		"job_id":        jobID,
		"freelancer_id": freelancerID,
		"amount_cents":  freelancerAmount.Cents,
		"currency":      currency,
		"release_ref":   p.ReleaseRef,
		"split":         true,
	})
	if err != nil {
		return err
	}
	err = outbox.Enqueue(ctx, tx, outbox.TopicEscrowRefunded, map[string]any{
		"escrow_id":    p.ID,
		"job_id":       jobID,
		"amount_cents": clientAmount.Cents,
		"currency":     currency,
		"refund_ref":   p.RefundRef,
		"split":        true,
	})
	if err != nil {
		return err
	}
	err = outbox.Enqueue(ctx, tx, outbox.TopicJobCompleted, map[string]any{
		"job_id":        jobID,
		"freelancer_id": freelancerID,
		"amount_cents":  freelancerAmount.Cents,
		"currency":      currency,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit tx: %w", err)
	}
	metrics.EscrowTransitions.WithLabelValues(string(StatusDisputed), string(StatusResolved)).Inc()
	return nil
}

// TransitionDisputed moves a funded escrow to disputed inside the caller's
// transaction and links the dispute row.
func (r *PGRepository) TransitionDisputed(ctx context.Context, tx pgx.Tx, id, disputeID string, version int64) error {
	const updateSQL = `
UPDATE escrows
SET status='disputed', dispute_id=$2, version=version+1, updated_at=now()
WHERE id=$1 AND status='funded' AND settlement_op IS NULL AND version=$3
`
	tag, err := tx.Exec(ctx, updateSQL, id, disputeID, version)
	if err != nil {
		return fmt.Errorf("escrow: transition disputed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("escrow", id)
	}
	metrics.EscrowTransitions.WithLabelValues(string(StatusFunded), string(StatusDisputed)).Inc()
	return nil
}

// advanceJob applies the job status move that accompanies an escrow
// transition. A zero-row update means the job drifted from the escrow, which
// must abort the whole commit.
func advanceJob(ctx context.Context, tx pgx.Tx, jobID, from, to string, complete bool) error {
	completedAt := ""
	if complete {
		completedAt = ", completed_at=now()"
	}
	sql := `UPDATE jobs SET status=$3, version=version+1, updated_at=now()` + completedAt +
		` WHERE id=$1 AND status=$2`
	tag, err := tx.Exec(ctx, sql, jobID, from, to)
	if err != nil {
		return fmt.Errorf("escrow: advance job %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("job", jobID)
	}
	return nil
}

// applyResolution closes the dispute row in the same transaction as the
// escrow transition. Zero rows means the dispute was already resolved, which
// aborts the commit rather than resolving twice.
func applyResolution(ctx context.Context, tx pgx.Tx, res *ResolutionUpdate) error {
	if res == nil {
		return nil
	}
	const updateSQL = `
UPDATE disputes
SET status=$2, resolver_id=$3, split_freelancer_bps=NULLIF($4,0), resolved_at=now(),
    version=version+1, updated_at=now()
WHERE id=$1 AND status='open'
`
	tag, err := tx.Exec(ctx, updateSQL, res.DisputeID, res.DisputeStatus, res.ResolverID, res.SplitFreelancerBps)
	if err != nil {
		return fmt.Errorf("escrow: apply resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("dispute", res.DisputeID)
	}
	err = outbox.Enqueue(ctx, tx, outbox.TopicDisputeResolved, map[string]any{
		"dispute_id":           res.DisputeID,
		"status":               res.DisputeStatus,
		"resolver_id":          res.ResolverID,
		"split_freelancer_bps": res.SplitFreelancerBps,
	})
	if err != nil {
		return err
	}
	return nil
}

func scanEscrow(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.ProposalID,
		&rec.ClientID,
		&rec.FreelancerID,
		&rec.Amount.Cents,
		&rec.Amount.Currency,
		&rec.Status,
		&rec.FundRef,
		&rec.ReleaseRef,
		&rec.RefundRef,
		&rec.SettlementOp,
		&rec.SettlementStartedAt,
		&rec.DisputeID,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.FundedAt,
		&rec.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrEscrowNotFound
		}
		return Record{}, fmt.Errorf("escrow: scan: %w", err)
	}
	return rec, nil
}
