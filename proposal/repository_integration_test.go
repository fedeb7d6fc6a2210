package proposal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/escrow"
	"gigflow/fault"
	"gigflow/job"
	"gigflow/money"
)

// TestConcurrentAcceptance_Integration races several acceptances of different
// proposals on the same job against a real PostgreSQL. Exactly one freelancer
// may win: one accepted proposal, the rest rejected, one escrow opened, and
// the job assigned to the winner.
func TestConcurrentAcceptance_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var schemaOK bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'proposals')`).Scan(&schemaOK); err != nil || !schemaOK {
		t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
	}

	seedUser := func(role string, n int) string {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash, role)
			VALUES ($1, $2, 'itest-hash', $3) RETURNING id`,
			fmt.Sprintf("%s%d+%d@example.com", role, n, time.Now().UnixNano()),
			fmt.Sprintf("Integration %s %d", role, n), role).Scan(&id)
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		return id
	}

	clientID := seedUser("client", 0)
	freelancerIDs := make([]string, 4)
	for i := range freelancerIDs {
		freelancerIDs[i] = seedUser("freelancer", i)
	}

	var jobID string
	err = pool.QueryRow(ctx, `
		INSERT INTO jobs (client_id, title, description, budget_cents, currency, deadline, category, status)
		VALUES ($1, 'integration job', 'concurrent acceptance', 80000, 'USD', now() + interval '7 days', 'development', 'open')
		RETURNING id`, clientID).Scan(&jobID)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'job_id' = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM escrows WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM proposals WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM jobs WHERE id = $1`, jobID)
		ids := append([]string{clientID}, freelancerIDs...)
		pool.Exec(ctx2, `DELETE FROM users WHERE id = ANY($1)`, ids)
	})

	jobRepo := job.NewPGRepository(pool)
	svc := NewService(pool, NewPGRepository(pool), jobRepo, escrow.NewPGRepository(pool), zap.NewNop())

	proposalIDs := make([]string, len(freelancerIDs))
	for i, flID := range freelancerIDs {
		p, err := svc.Submit(ctx, auth.Actor{ID: flID, Role: auth.RoleFreelancer}, SubmitRequest{
			JobID:        jobID,
			Amount:       money.New(int64(50000+i*1000), "USD"),
			DeliveryDays: 7,
			CoverLetter:  "ready to start",
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		proposalIDs[i] = p.ID
	}

	client := auth.Actor{ID: clientID, Role: auth.RoleClient}
	var wg sync.WaitGroup
	errs := make([]error, len(proposalIDs))
	for i, pid := range proposalIDs {
		wg.Add(1)
		go func(i int, pid string) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, client, pid)
		}(i, pid)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflict *fault.ConflictError
		var invalid *fault.InvalidStateError
		if !errors.As(err, &conflict) && !errors.As(err, &invalid) {
			t.Fatalf("accept %d: unexpected error: %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning acceptance, got %d", wins)
	}

	var accepted, rejected int
	if err := pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'accepted'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM proposals WHERE job_id = $1`, jobID).Scan(&accepted, &rejected); err != nil {
		t.Fatalf("count proposals: %v", err)
	}
	if accepted != 1 || rejected != len(proposalIDs)-1 {
		t.Fatalf("expected 1 accepted and %d rejected, got %d/%d", len(proposalIDs)-1, accepted, rejected)
	}

	var escrowCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrows WHERE job_id = $1`, jobID).Scan(&escrowCount); err != nil {
		t.Fatalf("count escrows: %v", err)
	}
	if escrowCount != 1 {
		t.Fatalf("expected 1 escrow for the job, got %d", escrowCount)
	}

	var jobStatus string
	var winner *string
	if err := pool.QueryRow(ctx, `SELECT status, freelancer_id FROM jobs WHERE id = $1`, jobID).Scan(&jobStatus, &winner); err != nil {
		t.Fatalf("job state: %v", err)
	}
	if jobStatus != "accepted" || winner == nil {
		t.Fatalf("expected accepted job with assigned freelancer, got status=%q", jobStatus)
	}
	var winningFreelancer string
	if err := pool.QueryRow(ctx, `SELECT freelancer_id FROM proposals WHERE job_id = $1 AND status = 'accepted'`, jobID).Scan(&winningFreelancer); err != nil {
		t.Fatalf("winning proposal: %v", err)
	}
	if *winner != winningFreelancer {
		t.Fatalf("job assigned to %s but accepted proposal belongs to %s", *winner, winningFreelancer)
	}
}
