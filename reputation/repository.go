package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/fault"
)

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// MarkCompletionProcessed reserves the job id for reputation crediting.
// Redelivered completion events insert nothing and report false.
func (r *PGRepository) MarkCompletionProcessed(ctx context.Context, tx pgx.Tx, jobID string) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO reputation_completions (job_id) VALUES ($1) ON CONFLICT (job_id) DO NOTHING`, jobID)
	if err != nil {
		return false, fmt.Errorf("reputation: mark processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyCompletion upserts the freelancer aggregate with one more completed job.
func (r *PGRepository) ApplyCompletion(ctx context.Context, tx pgx.Tx, freelancerID string, amountCents int64, currency string) error {
	const upsertSQL = `
INSERT INTO reputation_records (freelancer_id, completed_jobs, earnings_cents, currency)
VALUES ($1, 1, $2, $3)
ON CONFLICT (freelancer_id) DO UPDATE
SET completed_jobs = reputation_records.completed_jobs + 1,
    earnings_cents = reputation_records.earnings_cents + EXCLUDED.earnings_cents,
    currency = EXCLUDED.currency,
    updated_at = now()
`
	if _, err := tx.Exec(ctx, upsertSQL, freelancerID, amountCents, currency); err != nil {
		return fmt.Errorf("reputation: apply completion: %w", err)
	}
	return nil
}

// InsertRating records one rating per job; a second rating for the same job
// conflicts.
func (r *PGRepository) InsertRating(ctx context.Context, tx pgx.Tx, jobID, clientID string, score int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO job_ratings (job_id, client_id, score) VALUES ($1,$2,$3)`, jobID, clientID, score)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fault.Conflict("rating", jobID)
		}
		return fmt.Errorf("reputation: insert rating: %w", err)
	}
	return nil
}

// ApplyRating folds one rating into the freelancer aggregate.
func (r *PGRepository) ApplyRating(ctx context.Context, tx pgx.Tx, freelancerID string, score int) error {
	const upsertSQL = `
INSERT INTO reputation_records (freelancer_id, rating_sum, rating_count)
VALUES ($1, $2, 1)
ON CONFLICT (freelancer_id) DO UPDATE
SET rating_sum = reputation_records.rating_sum + EXCLUDED.rating_sum,
    rating_count = reputation_records.rating_count + 1,
    updated_at = now()
`
	if _, err := tx.Exec(ctx, upsertSQL, freelancerID, score); err != nil {
		return fmt.Errorf("reputation: apply rating: %w", err)
	}
	return nil
}

// Get returns the aggregate, or a zero record for a freelancer nobody
// credited yet.
func (r *PGRepository) Get(ctx context.Context, freelancerID string) (Record, error) {
	const selectSQL = `
SELECT freelancer_id, completed_jobs, earnings_cents, currency, rating_sum, rating_count, updated_at
FROM reputation_records WHERE freelancer_id=$1
`
	var rec Record
	err := r.pool.QueryRow(ctx, selectSQL, freelancerID).Scan(
		&rec.FreelancerID,
		&rec.CompletedJobs,
		&rec.EarningsCents,
		&rec.Currency,
		&rec.RatingSum,
		&rec.RatingCount,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{FreelancerID: freelancerID}, nil
		}
		return Record{}, fmt.Errorf("reputation: get: %w", err)
	}
	return rec, nil
}
