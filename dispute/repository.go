package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDisputeNotFound is returned when no dispute row exists for the provided identifier.
var ErrDisputeNotFound = errors.New("dispute: not found")

const disputeColumns = `id, escrow_id, raised_by, reason, status, resolver_id, split_freelancer_bps,
	resolved_at, version, created_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateInTx inserts an open dispute inside the raise transaction, alongside
// the escrow transition to disputed.
func (r *PGRepository) CreateInTx(ctx context.Context, tx pgx.Tx, escrowID, raisedBy, reason string) (Record, error) {
	const insertSQL = `
INSERT INTO disputes (escrow_id, raised_by, reason, status)
VALUES ($1,$2,$3,'open')
RETURNING id, version, created_at, updated_at
`
	rec := Record{
		EscrowID: escrowID,
		RaisedBy: raisedBy,
		Reason:   reason,
		Status:   StatusOpen,
	}
	err := tx.QueryRow(ctx, insertSQL, escrowID, raisedBy, reason).
		Scan(&rec.ID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=$1`, id)
	return scanDispute(row)
}

// ListOpen returns open disputes oldest first, for the arbitration queue.
func (r *PGRepository) ListOpen(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE status='open' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("dispute: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.EscrowID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&rec.ResolverID,
		&rec.SplitFreelancerBps,
		&rec.ResolvedAt,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrDisputeNotFound
		}
		return Record{}, fmt.Errorf("dispute: scan: %w", err)
	}
	return rec, nil
}
