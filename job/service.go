package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/fault"
	"gigflow/money"
	"gigflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, j *Job) error
	Get(ctx context.Context, id string) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error)
	List(ctx context.Context, filters Filters) ([]Job, int, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, jobID, proposalID, freelancerID string, version int64) error
	Transition(ctx context.Context, tx pgx.Tx, id string, from, to Status, version int64) error
}

// PostRequest carries the fields a client submits when posting a job.
type PostRequest struct {
	Title       string
	Description string
	Budget      money.Amount
	Deadline    time.Time
	Category    Category
	Remote      bool
}

type Service struct {
	pool TxBeginner
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewService(pool TxBeginner, repo Repository, log *zap.Logger) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// Post validates and persists a new open job, emitting job.posted.
func (s *Service) Post(ctx context.Context, actor auth.Actor, req PostRequest) (Job, error) {
	if actor.Role != auth.RoleClient {
		return Job{}, fault.Unauthorized(actor.ID, "post job")
	}
	if strings.TrimSpace(req.Title) == "" {
		return Job{}, fault.Validationf("title", "required")
	}
	if strings.TrimSpace(req.Description) == "" {
		return Job{}, fault.Validationf("description", "required")
	}
	if !req.Budget.Positive() {
		return Job{}, fault.Validationf("budget", "must be greater than zero")
	}
	if !req.Deadline.After(s.now()) {
		return Job{}, fault.Validationf("deadline", "must be in the future")
	}
	if !ValidCategory(req.Category) {
		return Job{}, fault.Validationf("category", "unknown category %q", req.Category)
	}

	j := Job{
		ClientID:    actor.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Budget:      req.Budget,
		Deadline:    req.Deadline,
		Category:    req.Category,
		Remote:      req.Remote,
		Status:      StatusOpen,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Create(ctx, tx, &j); err != nil {
		return Job{}, err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicJobPosted, map[string]any{
		"job_id":       j.ID,
		"client_id":    j.ClientID,
		"budget_cents": j.Budget.Cents,
		"currency":     j.Budget.Currency,
		"category":     j.Category,
	})
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit: %w", err)
	}

	s.log.Info("job posted",
		zap.String("job_id", j.ID),
		zap.String("client_id", j.ClientID),
		zap.Int64("budget_cents", j.Budget.Cents))
	return j, nil
}

// Cancel moves an open job to cancelled. Only the posting client may cancel,
// and only while no proposal has been accepted.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, jobID string) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if j.ClientID != actor.ID {
		return Job{}, fault.Unauthorized(actor.ID, "cancel job")
	}
	if j.Status != StatusOpen {
		return Job{}, fault.InvalidState("job", j.ID, string(j.Status), string(StatusOpen))
	}

	if err := s.repo.Transition(ctx, tx, j.ID, StatusOpen, StatusCancelled, j.Version); err != nil {
		return Job{}, err
	}

	err = outbox.Enqueue(ctx, tx, outbox.TopicJobCancelled, map[string]any{
		"job_id":    j.ID,
		"client_id": j.ClientID,
	})
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit: %w", err)
	}

	j.Status = StatusCancelled
	j.Version++
	s.log.Info("job cancelled", zap.String("job_id", j.ID))
	return j, nil
}

func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	return s.repo.List(ctx, filters)
}
