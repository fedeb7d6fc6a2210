package reputation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/fault"
	"gigflow/job"
	"gigflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	MarkCompletionProcessed(ctx context.Context, tx pgx.Tx, jobID string) (bool, error)
	ApplyCompletion(ctx context.Context, tx pgx.Tx, freelancerID string, amountCents int64, currency string) error
	InsertRating(ctx context.Context, tx pgx.Tx, jobID, clientID string, score int) error
	ApplyRating(ctx context.Context, tx pgx.Tx, freelancerID string, score int) error
	Get(ctx context.Context, freelancerID string) (Record, error)
}

// Jobs is the slice of the job repository the rating flow needs.
type Jobs interface {
	Get(ctx context.Context, id string) (job.Job, error)
}

type Service struct {
	pool  TxBeginner
	repo  Repository
	jobs  Jobs
	cache Cache
	log   *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, jobs Jobs, cache Cache, log *zap.Logger) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		jobs:  jobs,
		cache: cache,
		log:   log,
	}
}

// OnJobCompleted credits a completion exactly once per job. The processed-set
// insert and the aggregate upsert share a transaction, so a redelivered event
// either replays as a no-op or not at all.
func (s *Service) OnJobCompleted(ctx context.Context, ev CompletionEvent) error {
	if ev.JobID == "" || ev.FreelancerID == "" {
		return fault.Validationf("event", "job_id and freelancer_id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	fresh, err := s.repo.MarkCompletionProcessed(ctx, tx, ev.JobID)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	if err := s.repo.ApplyCompletion(ctx, tx, ev.FreelancerID, ev.AmountCents, ev.Currency); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reputation: commit: %w", err)
	}

	s.invalidate(ctx, ev.FreelancerID)
	s.log.Info("reputation credited",
		zap.String("job_id", ev.JobID),
		zap.String("freelancer_id", ev.FreelancerID),
		zap.Int64("amount_cents", ev.AmountCents))
	return nil
}

// Handler adapts OnJobCompleted to the outbox worker.
func (s *Service) Handler() outbox.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var ev CompletionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("reputation: decode completion event: %w", err)
		}
		return s.OnJobCompleted(ctx, ev)
	}
}

// SubmitRating lets the client rate the freelancer once per completed job.
func (s *Service) SubmitRating(ctx context.Context, actor auth.Actor, jobID string, score int) (Record, error) {
	if score < 1 || score > 5 {
		return Record{}, fault.Validationf("score", "must be between 1 and 5")
	}

	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return Record{}, err
	}
	if j.ClientID != actor.ID {
		return Record{}, fault.Unauthorized(actor.ID, "rate job")
	}
	if j.Status != job.StatusCompleted {
		return Record{}, fault.InvalidState("job", j.ID, string(j.Status), string(job.StatusCompleted))
	}
	if j.FreelancerID == nil {
		return Record{}, fault.InvalidState("job", j.ID, string(j.Status), "assigned")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertRating(ctx, tx, j.ID, actor.ID, score); err != nil {
		return Record{}, err
	}
	if err := s.repo.ApplyRating(ctx, tx, *j.FreelancerID, score); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("reputation: commit: %w", err)
	}

	s.invalidate(ctx, *j.FreelancerID)
	return s.repo.Get(ctx, *j.FreelancerID)
}

// Profile is a read-through lookup of the freelancer aggregate.
func (s *Service) Profile(ctx context.Context, freelancerID string) (Record, error) {
	if s.cache != nil {
		rec, ok, err := s.cache.GetProfile(ctx, freelancerID)
		if err != nil {
			s.log.Warn("reputation cache read failed", zap.Error(err))
		} else if ok {
			return rec, nil
		}
	}

	rec, err := s.repo.Get(ctx, freelancerID)
	if err != nil {
		return Record{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, rec); err != nil {
			s.log.Warn("reputation cache write failed", zap.Error(err))
		}
	}
	return rec, nil
}

func (s *Service) invalidate(ctx context.Context, freelancerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, freelancerID); err != nil {
		s.log.Warn("reputation cache invalidate failed",
			zap.String("freelancer_id", freelancerID),
			zap.Error(err))
	}
}
