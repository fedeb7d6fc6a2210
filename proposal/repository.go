package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/fault"
)

// ErrProposalNotFound is returned when no proposal row exists for the provided identifier.
var ErrProposalNotFound = errors.New("proposal: not found")

const proposalColumns = `id, job_id, freelancer_id, amount_cents, currency, delivery_days, cover_letter,
	status, reject_reason, version, created_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a pending proposal. The partial unique index on
// (job_id, freelancer_id) for live proposals turns a resubmission into a conflict.
func (r *PGRepository) Create(ctx context.Context, p *Proposal) error {
	const insertSQL = `
INSERT INTO proposals (job_id, freelancer_id, amount_cents, currency, delivery_days, cover_letter, status)
VALUES ($1,$2,$3,$4,$5,$6,'pending')
RETURNING id, version, created_at, updated_at
`
	err := r.pool.QueryRow(ctx, insertSQL,
		p.JobID,
		p.FreelancerID,
		p.Amount.Cents,
		p.Amount.Currency,
		p.DeliveryDays,
		p.CoverLetter,
	).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fault.Conflict("proposal", p.JobID+":"+p.FreelancerID)
		}
		return fmt.Errorf("proposal: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Proposal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, id)
	return scanProposal(row)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proposal, error) {
	row := tx.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1 FOR UPDATE`, id)
	return scanProposal(row)
}

func (r *PGRepository) ListByJob(ctx context.Context, jobID string) ([]Proposal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE job_id=$1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list: %w", err)
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: list rows: %w", err)
	}
	return proposals, nil
}

// MarkAccepted moves a pending proposal to accepted.
func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, id string, version int64) error {
	const updateSQL = `
UPDATE proposals SET status='accepted', version=version+1, updated_at=now()
WHERE id=$1 AND status='pending' AND version=$2
`
	tag, err := tx.Exec(ctx, updateSQL, id, version)
	if err != nil {
		return fmt.Errorf("proposal: mark accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("proposal", id)
	}
	return nil
}

// RejectSiblings bulk-rejects every other pending proposal on the job.
func (r *PGRepository) RejectSiblings(ctx context.Context, tx pgx.Tx, jobID, acceptedID, reason string) error {
	const updateSQL = `
UPDATE proposals SET status='rejected', reject_reason=$3, version=version+1, updated_at=now()
WHERE job_id=$1 AND id<>$2 AND status='pending'
`
	if _, err := tx.Exec(ctx, updateSQL, jobID, acceptedID, reason); err != nil {
		return fmt.Errorf("proposal: reject siblings: %w", err)
	}
	return nil
}

// UpdateStatus applies a single-proposal status move with a compare-and-set.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, reason *string, version int64) error {
	const updateSQL = `
UPDATE proposals SET status=$3, reject_reason=$4, version=version+1, updated_at=now()
WHERE id=$1 AND status=$2 AND version=$5
`
	tag, err := tx.Exec(ctx, updateSQL, id, from, to, reason, version)
	if err != nil {
		return fmt.Errorf("proposal: update status %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("proposal", id)
	}
	return nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(
		&p.ID,
		&p.JobID,
		&p.FreelancerID,
		&p.Amount.Cents,
		&p.Amount.Currency,
		&p.DeliveryDays,
		&p.CoverLetter,
		&p.Status,
		&p.RejectReason,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrProposalNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: scan: %w", err)
	}
	return p, nil
}
