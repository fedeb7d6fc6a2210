package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gigflow/fault"
	"gigflow/metrics"
	"gigflow/money"
)

// Client is the HTTP adapter over a settlement service implementing the
// gateway contract. Requests carry an idempotency key derived from the escrow
// id and operation kind so a retry is absorbed server-side.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds a Client against baseURL with the given call timeout.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type settlementRequest struct {
	EscrowID    string `json:"escrow_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Payee       string `json:"payee,omitempty"`
}

type settlementResponse struct {
	Ref   string `json:"ref"`
	Error string `json:"error,omitempty"`
}

func (c *Client) Fund(ctx context.Context, escrowID string, amount money.Amount) (SettlementRef, error) {
	return c.call(ctx, OpFund, settlementRequest{
		EscrowID:    escrowID,
		AmountCents: amount.Cents,
		Currency:    amount.Currency,
	})
}

func (c *Client) Release(ctx context.Context, escrowID string, amount money.Amount, payee string) (SettlementRef, error) {
	return c.call(ctx, OpRelease, settlementRequest{
		EscrowID:    escrowID,
		AmountCents: amount.Cents,
		Currency:    amount.Currency,
		Payee:       payee,
	})
}

func (c *Client) Refund(ctx context.Context, escrowID string, amount money.Amount, payee string) (SettlementRef, error) {
	return c.call(ctx, OpRefund, settlementRequest{
		EscrowID:    escrowID,
		AmountCents: amount.Cents,
		Currency:    amount.Currency,
		Payee:       payee,
	})
}

func (c *Client) call(ctx context.Context, op Operation, payload settlementRequest) (SettlementRef, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fault.Payment(string(op), false, fmt.Errorf("ledger: marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/settlements/%s", c.baseURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fault.Payment(string(op), false, fmt.Errorf("ledger: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%s", payload.EscrowID, op))

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures (timeout, refused connection) are retriable.
		metrics.LedgerCalls.WithLabelValues(string(op), "retriable").Inc()
		return "", fault.Payment(string(op), true, fmt.Errorf("ledger: %s: %w", op, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		metrics.LedgerCalls.WithLabelValues(string(op), "retriable").Inc()
		return "", fault.Payment(string(op), true, fmt.Errorf("ledger: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out settlementResponse
		if err := json.Unmarshal(raw, &out); err != nil || out.Ref == "" {
			metrics.LedgerCalls.WithLabelValues(string(op), "permanent").Inc()
			return "", fault.Payment(string(op), false, fmt.Errorf("ledger: malformed settlement response"))
		}
		metrics.LedgerCalls.WithLabelValues(string(op), "ok").Inc()
		return SettlementRef(out.Ref), nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		metrics.LedgerCalls.WithLabelValues(string(op), "retriable").Inc()
		c.log.Warn("ledger call failed",
			zap.String("op", string(op)),
			zap.Int("status", resp.StatusCode),
		)
		return "", fault.Payment(string(op), true, fmt.Errorf("ledger: %s returned %d", op, resp.StatusCode))
	default:
		// 4xx means the instruction itself is bad; retrying will not help.
		metrics.LedgerCalls.WithLabelValues(string(op), "permanent").Inc()
		var out settlementResponse
		detail := string(raw)
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			detail = out.Error
		}
		return "", fault.Payment(string(op), false, fmt.Errorf("ledger: %s rejected (%d): %s", op, resp.StatusCode, detail))
	}
}
