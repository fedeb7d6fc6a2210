package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"gigflow/fault"
	"gigflow/money"
)

func TestClientReleaseSuccess(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/settlements/release" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		w.Write([]byte(`{"ref":"stl_001"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ref, err := c.Release(context.Background(), "esc-1", money.New(45000, "USD"), "freelancer-9")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ref != "stl_001" {
		t.Errorf("expected stl_001, got %s", ref)
	}
	if gotKey != "esc-1:release" {
		t.Errorf("idempotency key must combine escrow id and op, got %q", gotKey)
	}
}

func TestClientServerErrorIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	_, err := c.Fund(context.Background(), "esc-1", money.New(100, "USD"))

	var pe *fault.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PaymentError, got %v", err)
	}
	if !pe.Retriable {
		t.Errorf("5xx must be retriable")
	}
}

func TestClientRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid destination"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	_, err := c.Refund(context.Background(), "esc-1", money.New(100, "USD"), "client-1")

	var pe *fault.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PaymentError, got %v", err)
	}
	if pe.Retriable {
		t.Errorf("4xx must not be retriable")
	}
}
