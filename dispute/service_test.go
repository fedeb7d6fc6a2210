package dispute

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/escrow"
	"gigflow/fault"
	"gigflow/money"
)

func fundedEscrow() escrow.Record {
	return escrow.Record{
		ID:           "esc-1",
		JobID:        "job-1",
		ClientID:     "client-1",
		FreelancerID: "fl-1",
		Amount:       money.New(45000, "USD"),
		Status:       escrow.StatusFunded,
		Version:      2,
	}
}

func openDispute() Record {
	return Record{
		ID:       "disp-1",
		EscrowID: "esc-1",
		RaisedBy: "client-1",
		Reason:   "work not delivered",
		Status:   StatusOpen,
		Version:  1,
	}
}

func TestRaise_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	store := &fakeEscrowStore{rec: fundedEscrow()}
	svc := NewService(pool, repo, store, &fakeSettler{}, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	rec, err := svc.Raise(context.Background(), client, "esc-1", "work not delivered")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if rec.Status != StatusOpen {
		t.Errorf("expected open, got %s", rec.Status)
	}
	if !store.transitioned {
		t.Errorf("expected escrow transitioned to disputed")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if !pool.tx.execContains("dispute.raised") {
		t.Errorf("expected dispute.raised outbox message")
	}
}

func TestRaise_FreelancerMayRaise(t *testing.T) {
	pool := &fakePool{}
	store := &fakeEscrowStore{rec: fundedEscrow()}
	svc := NewService(pool, &fakeRepo{}, store, &fakeSettler{}, zap.NewNop())

	fl := auth.Actor{ID: "fl-1", Role: auth.RoleFreelancer}
	if _, err := svc.Raise(context.Background(), fl, "esc-1", "client unresponsive"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRaise_OutsiderRefused(t *testing.T) {
	pool := &fakePool{}
	store := &fakeEscrowStore{rec: fundedEscrow()}
	svc := NewService(pool, &fakeRepo{}, store, &fakeSettler{}, zap.NewNop())

	stranger := auth.Actor{ID: "someone-else", Role: auth.RoleClient}
	_, err := svc.Raise(context.Background(), stranger, "esc-1", "reason")
	var authErr *fault.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback")
	}
}

func TestRaise_EmptyReason(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, &fakeEscrowStore{rec: fundedEscrow()}, &fakeSettler{}, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	_, err := svc.Raise(context.Background(), client, "esc-1", "  ")
	var vErr *fault.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRaise_EscrowNotFunded(t *testing.T) {
	rec := fundedEscrow()
	rec.Status = escrow.StatusPendingFunding
	svc := NewService(&fakePool{}, &fakeRepo{}, &fakeEscrowStore{rec: rec}, &fakeSettler{}, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	_, err := svc.Raise(context.Background(), client, "esc-1", "reason")
	var stateErr *fault.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestResolve_OnlyArbitrator(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{rec: openDispute()}, &fakeEscrowStore{}, &fakeSettler{}, zap.NewNop())

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	_, err := svc.Resolve(context.Background(), client, "disp-1", OutcomeRelease, 0)
	var authErr *fault.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}

func TestResolve_Release(t *testing.T) {
	repo := &fakeRepo{rec: openDispute()}
	settler := &fakeSettler{repo: repo}
	svc := NewService(&fakePool{}, repo, &fakeEscrowStore{}, settler, zap.NewNop())

	arb := auth.Actor{ID: "arb-1", Role: auth.RoleArbitrator}
	rec, err := svc.Resolve(context.Background(), arb, "disp-1", OutcomeRelease, 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if settler.releases != 1 {
		t.Errorf("expected one release settlement, got %d", settler.releases)
	}
	if settler.lastRes.ResolverID != "arb-1" {
		t.Errorf("expected resolver recorded, got %q", settler.lastRes.ResolverID)
	}
	if settler.lastRes.DisputeStatus != string(StatusResolvedRelease) {
		t.Errorf("expected resolved_release, got %q", settler.lastRes.DisputeStatus)
	}
	if rec.Status != StatusResolvedRelease {
		t.Errorf("expected dispute resolved_release, got %s", rec.Status)
	}
}

func TestResolve_SplitValidation(t *testing.T) {
	repo := &fakeRepo{rec: openDispute()}
	svc := NewService(&fakePool{}, repo, &fakeEscrowStore{}, &fakeSettler{repo: repo}, zap.NewNop())
	arb := auth.Actor{ID: "arb-1", Role: auth.RoleArbitrator}

	cases := []struct {
		name    string
		outcome Outcome
		bps     int
	}{
		{"split zero bps", OutcomeSplit, 0},
		{"split full bps", OutcomeSplit, 10000},
		{"split negative bps", OutcomeSplit, -100},
		{"bps on release", OutcomeRelease, 5000},
		{"unknown outcome", Outcome("escalate"), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Resolve(context.Background(), arb, "disp-1", tc.outcome, tc.bps)
			var vErr *fault.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestResolve_Split(t *testing.T) {
	repo := &fakeRepo{rec: openDispute()}
	settler := &fakeSettler{repo: repo}
	svc := NewService(&fakePool{}, repo, &fakeEscrowStore{}, settler, zap.NewNop())

	arb := auth.Actor{ID: "arb-1", Role: auth.RoleArbitrator}
	rec, err := svc.Resolve(context.Background(), arb, "disp-1", OutcomeSplit, 2500)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if settler.splits != 1 {
		t.Errorf("expected one split settlement, got %d", settler.splits)
	}
	if settler.lastRes.SplitFreelancerBps != 2500 {
		t.Errorf("expected bps 2500, got %d", settler.lastRes.SplitFreelancerBps)
	}
	if rec.Status != StatusResolvedSplit {
		t.Errorf("expected resolved_split, got %s", rec.Status)
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	rec := openDispute()
	rec.Status = StatusResolvedRefund
	svc := NewService(&fakePool{}, &fakeRepo{rec: rec}, &fakeEscrowStore{}, &fakeSettler{}, zap.NewNop())

	arb := auth.Actor{ID: "arb-1", Role: auth.RoleArbitrator}
	_, err := svc.Resolve(context.Background(), arb, "disp-1", OutcomeRefund, 0)
	var stateErr *fault.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

type fakeRepo struct {
	rec Record
}

func (f *fakeRepo) CreateInTx(ctx context.Context, tx pgx.Tx, escrowID, raisedBy, reason string) (Record, error) {
	f.rec = Record{
		ID:       "disp-new",
		EscrowID: escrowID,
		RaisedBy: raisedBy,
		Reason:   reason,
		Status:   StatusOpen,
		Version:  1,
	}
	return f.rec, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Record, error) {
	if f.rec.ID == "" {
		return Record{}, ErrDisputeNotFound
	}
	return f.rec, nil
}

func (f *fakeRepo) ListOpen(ctx context.Context, limit int) ([]Record, error) {
	if f.rec.Status == StatusOpen {
		return []Record{f.rec}, nil
	}
	return nil, nil
}

type fakeEscrowStore struct {
	rec          escrow.Record
	transitioned bool
}

func (f *fakeEscrowStore) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (escrow.Record, error) {
	return f.rec, nil
}

func (f *fakeEscrowStore) TransitionDisputed(ctx context.Context, tx pgx.Tx, id, disputeID string, version int64) error {
	f.transitioned = true
	return nil
}

// fakeSettler mimics the combined commit: it closes the dispute row as part
// of the settlement.
type fakeSettler struct {
	repo     *fakeRepo
	releases int
	refunds  int
	splits   int
	lastRes  escrow.ResolutionUpdate
}

func (f *fakeSettler) apply(res escrow.ResolutionUpdate) {
	f.lastRes = res
	if f.repo != nil {
		f.repo.rec.Status = Status(res.DisputeStatus)
		f.repo.rec.ResolverID = &res.ResolverID
	}
}

func (f *fakeSettler) ReleaseResolved(ctx context.Context, escrowID string, res escrow.ResolutionUpdate) (escrow.Record, error) {
	f.releases++
	f.apply(res)
	return escrow.Record{ID: escrowID, Status: escrow.StatusReleased}, nil
}

func (f *fakeSettler) RefundResolved(ctx context.Context, escrowID string, res escrow.ResolutionUpdate) (escrow.Record, error) {
	f.refunds++
	f.apply(res)
	return escrow.Record{ID: escrowID, Status: escrow.StatusRefunded}, nil
}

func (f *fakeSettler) SplitResolved(ctx context.Context, escrowID string, res escrow.ResolutionUpdate) (escrow.Record, error) {
	f.splits++
	f.apply(res)
	return escrow.Record{ID: escrowID, Status: escrow.StatusResolved}, nil
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
