package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"gigflow/auth"
	"gigflow/job"
)

// routerFixture wires the real router and job service over in-memory fakes so
// requests exercise routing, auth, decoding, and envelope encoding end to end.
func routerFixture(t *testing.T, actor auth.Actor, repo *stubJobRepo) http.Handler {
	t.Helper()
	h := &Handlers{
		Jobs: job.NewService(&stubPool{}, repo, zap.NewNop()),
	}
	return NewRouter(h, &fakeVerifier{actor: actor}, zap.NewNop())
}

func TestPostJob_Created(t *testing.T) {
	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	router := routerFixture(t, client, &stubJobRepo{})

	body, _ := json.Marshal(map[string]any{
		"title":        "Build landing page",
		"description":  "Responsive marketing page",
		"budget_cents": 50000,
		"currency":     "USD",
		"deadline":     time.Now().Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"category":     "development",
		"remote":       true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data jobView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.ID == "" || resp.Data.Status != "open" || resp.Data.BudgetCents != 50000 {
		t.Fatalf("unexpected payload: %+v", resp.Data)
	}
}

func TestPostJob_ValidationEnvelope(t *testing.T) {
	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	router := routerFixture(t, client, &stubJobRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"title":""}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION code, got %q", resp.Error.Code)
	}
}

func TestPostJob_RequiresAuth(t *testing.T) {
	router := routerFixture(t, auth.Actor{}, &stubJobRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	router := routerFixture(t, client, &stubJobRepo{getErr: job.ErrJobNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/00000000-0000-0000-0000-000000000000", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListJobs_Pagination(t *testing.T) {
	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	repo := &stubJobRepo{
		listJobs:  []job.Job{{ID: "job-1", Status: job.StatusOpen}},
		listTotal: 41,
	}
	router := routerFixture(t, client, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page=2&page_size=20&status=open", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data []jobView      `json:"data"`
		Meta PaginationMeta `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Meta.Page != 2 || resp.Meta.Total != 41 || !resp.Meta.HasNext {
		t.Fatalf("unexpected meta: %+v", resp.Meta)
	}
	if repo.listFilters.Status != "open" {
		t.Fatalf("expected status filter to reach repository, got %q", repo.listFilters.Status)
	}
}

func TestHealthz_Public(t *testing.T) {
	router := routerFixture(t, auth.Actor{}, &stubJobRepo{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

type stubJobRepo struct {
	job         job.Job
	getErr      error
	listJobs    []job.Job
	listTotal   int
	listFilters job.Filters
}

func (s *stubJobRepo) Create(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	j.ID = "job-new"
	j.Version = 1
	return nil
}

func (s *stubJobRepo) Get(ctx context.Context, id string) (job.Job, error) {
	if s.getErr != nil {
		return job.Job{}, s.getErr
	}
	return s.job, nil
}

func (s *stubJobRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error) {
	return s.Get(ctx, id)
}

func (s *stubJobRepo) List(ctx context.Context, filters job.Filters) ([]job.Job, int, error) {
	s.listFilters = filters
	return s.listJobs, s.listTotal, nil
}

func (s *stubJobRepo) MarkAccepted(ctx context.Context, tx pgx.Tx, jobID, proposalID, freelancerID string, version int64) error {
	return nil
}

func (s *stubJobRepo) Transition(ctx context.Context, tx pgx.Tx, id string, from, to job.Status, version int64) error {
	return nil
}

type stubPool struct{}

func (s *stubPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &stubTx{}, nil
}

type stubTx struct{}

func (s *stubTx) Begin(context.Context) (pgx.Tx, error) { return nil, pgx.ErrTxClosed }
func (s *stubTx) Commit(context.Context) error          { return nil }
func (s *stubTx) Rollback(context.Context) error        { return nil }
func (s *stubTx) Conn() *pgx.Conn                       { return nil }
func (s *stubTx) LargeObjects() pgx.LargeObjects        { panic("not implemented") }
func (s *stubTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (s *stubTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (s *stubTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (s *stubTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (s *stubTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}
func (s *stubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
