package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/fault"
	"gigflow/money"
)

func validPostRequest() PostRequest {
	return PostRequest{
		Title:       "Build landing page",
		Description: "Responsive marketing page with contact form",
		Budget:      money.New(50000, "USD"),
		Deadline:    time.Now().Add(14 * 24 * time.Hour),
		Category:    CategoryDevelopment,
	}
}

func TestPost_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	j, err := svc.Post(context.Background(), client, validPostRequest())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if j.Status != StatusOpen {
		t.Errorf("expected status open, got %s", j.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if !pool.tx.execContains("job.posted") {
		t.Errorf("expected job.posted outbox message, got %v", pool.tx.execs)
	}
}

func TestPost_OnlyClients(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, zap.NewNop())

	freelancer := auth.Actor{ID: "fl-1", Role: auth.RoleFreelancer}
	_, err := svc.Post(context.Background(), freelancer, validPostRequest())

	var authErr *fault.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}

func TestPost_Validation(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, zap.NewNop())
	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}

	cases := []struct {
		name   string
		mutate func(*PostRequest)
		field  string
	}{
		{"empty title", func(r *PostRequest) { r.Title = "  " }, "title"},
		{"empty description", func(r *PostRequest) { r.Description = "" }, "description"},
		{"zero budget", func(r *PostRequest) { r.Budget = money.New(0, "USD") }, "budget"},
		{"negative budget", func(r *PostRequest) { r.Budget = money.New(-100, "USD") }, "budget"},
		{"past deadline", func(r *PostRequest) { r.Deadline = time.Now().Add(-time.Hour) }, "deadline"},
		{"unknown category", func(r *PostRequest) { r.Category = "plumbing" }, "category"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validPostRequest()
			tc.mutate(&req)
			_, err := svc.Post(context.Background(), client, req)

			var vErr *fault.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, vErr.Field)
			}
		})
	}
}

func TestCancel_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: Job{ID: "job-1", ClientID: "client-1", Status: StatusOpen, Version: 3}}
	svc := NewService(pool, repo, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	j, err := svc.Cancel(context.Background(), client, "job-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if j.Status != StatusCancelled {
		t.Errorf("expected status cancelled, got %s", j.Status)
	}
	if repo.transitionedTo != StatusCancelled {
		t.Errorf("expected transition to cancelled, got %s", repo.transitionedTo)
	}
	if !pool.tx.execContains("job.cancelled") {
		t.Errorf("expected job.cancelled outbox message")
	}
}

func TestCancel_OnlyOwner(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: Job{ID: "job-1", ClientID: "client-1", Status: StatusOpen}}
	svc := NewService(pool, repo, zap.NewNop())

	stranger := auth.Actor{ID: "client-2", Role: auth.RoleClient}
	_, err := svc.Cancel(context.Background(), stranger, "job-1")

	var authErr *fault.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected no commit")
	}
}

func TestCancel_RejectedAfterAcceptance(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: Job{ID: "job-1", ClientID: "client-1", Status: StatusAccepted}}
	svc := NewService(pool, repo, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	_, err := svc.Cancel(context.Background(), client, "job-1")

	var stateErr *fault.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusOpen, StatusAccepted},
		{StatusOpen, StatusCancelled},
		{StatusAccepted, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusCancelled},
	}
	for _, p := range legal {
		if !CanTransition(p[0], p[1]) {
			t.Errorf("expected %s -> %s to be legal", p[0], p[1])
		}
	}

	illegal := [][2]Status{
		{StatusOpen, StatusCompleted},
		{StatusAccepted, StatusCancelled},
		{StatusCompleted, StatusOpen},
		{StatusCancelled, StatusAccepted},
	}
	for _, p := range illegal {
		if CanTransition(p[0], p[1]) {
			t.Errorf("expected %s -> %s to be illegal", p[0], p[1])
		}
	}
}

type fakeRepo struct {
	job            Job
	getErr         error
	transitionedTo Status
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, j *Job) error {
	j.ID = "job-new"
	j.Version = 1
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Job, error) {
	if f.getErr != nil {
		return Job{}, f.getErr
	}
	return f.job, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	if f.getErr != nil {
		return Job{}, f.getErr
	}
	return f.job, nil
}

func (f *fakeRepo) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	return []Job{f.job}, 1, nil
}

func (f *fakeRepo) MarkAccepted(ctx context.Context, tx pgx.Tx, jobID, proposalID, freelancerID string, version int64) error {
	return nil
}

func (f *fakeRepo) Transition(ctx context.Context, tx pgx.Tx, id string, from, to Status, version int64) error {
	f.transitionedTo = to
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
	execs     []string
}

func (f *fakeTx) execContains(substr string) bool {
	for _, e := range f.execs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	rendered := sql
	for _, a := range args {
		if s, ok := a.(string); ok {
			rendered += " " + s
		}
	}
	f.execs = append(f.execs, rendered)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
