package job

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/fault"
)

// ErrJobNotFound is returned when no job row exists for the provided identifier.
var ErrJobNotFound = errors.New("job: not found")

const jobColumns = `id, client_id, title, description, budget_cents, currency, deadline, category, remote,
	status, accepted_proposal_id, freelancer_id, version, created_at, updated_at, accepted_at, completed_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, j *Job) error {
	const insertSQL = `
INSERT INTO jobs (client_id, title, description, budget_cents, currency, deadline, category, remote, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id, version, created_at, updated_at
`
	err := tx.QueryRow(ctx, insertSQL,
		j.ClientID,
		j.Title,
		j.Description,
		j.Budget.Cents,
		j.Budget.Currency,
		j.Deadline,
		j.Category,
		j.Remote,
		j.Status,
	).Scan(&j.ID, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("job: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	return scanJob(row)
}

// GetForUpdate loads the job row with a row lock. Concurrent proposal
// acceptance for the same job serializes on this lock.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE`, id)
	return scanJob(row)
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.ClientID != "" {
		where = append(where, "client_id="+arg(filters.ClientID))
	}
	if filters.Status != "" {
		where = append(where, "status="+arg(filters.Status))
	}
	if filters.Category != "" {
		where = append(where, "category="+arg(filters.Category))
	}
	if filters.Remote != nil {
		where = append(where, "remote="+arg(*filters.Remote))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("job: count: %w", err)
	}

	listSQL := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + cond +
		` ORDER BY created_at DESC LIMIT ` + arg(filters.PageSize) +
		` OFFSET ` + arg((filters.Page-1)*filters.PageSize)
	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job: list rows: %w", err)
	}
	return jobs, total, nil
}

// MarkAccepted moves an open job to accepted and records the winning proposal.
// The version check makes the update a no-op if the row changed since read.
func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, jobID, proposalID, freelancerID string, version int64) error {
	const updateSQL = `
UPDATE jobs
SET status='accepted', accepted_proposal_id=$2, freelancer_id=$3,
    accepted_at=now(), version=version+1, updated_at=now()
WHERE id=$1 AND status='open' AND version=$4
`
	tag, err := tx.Exec(ctx, updateSQL, jobID, proposalID, freelancerID, version)
	if err != nil {
		return fmt.Errorf("job: mark accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("job", jobID)
	}
	return nil
}

// Transition applies a status move with a compare-and-set on status and version.
func (r *PGRepository) Transition(ctx context.Context, tx pgx.Tx, id string, from, to Status, version int64) error {
	if !CanTransition(from, to) {
		return fault.InvalidState("job", id, string(from), string(to))
	}
	completedAt := ""
	if to == StatusCompleted {
		completedAt = ", completed_at=now()"
	}
	updateSQL := `UPDATE jobs SET status=$3, version=version+1, updated_at=now()` + completedAt +
		` WHERE id=$1 AND status=$2 AND version=$4`
	tag, err := tx.Exec(ctx, updateSQL, id, from, to, version)
	if err != nil {
		return fmt.Errorf("job: transition %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("job", id)
	}
	return nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.ClientID,
		&j.Title,
		&j.Description,
		&j.Budget.Cents,
		&j.Budget.Currency,
		&j.Deadline,
		&j.Category,
		&j.Remote,
		&j.Status,
		&j.AcceptedProposalID,
		&j.FreelancerID,
		&j.Version,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.AcceptedAt,
		&j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("job: scan: %w", err)
	}
	return j, nil
}
