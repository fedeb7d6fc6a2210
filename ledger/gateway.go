// Package ledger defines the capability boundary to the external settlement
// backend that actually moves funds. The core orchestrates calls against this
// interface; it never implements funds movement itself.
package ledger

import (
	"context"

	"gigflow/money"
)

// Operation identifies the kind of settlement instruction. The gateway is
// idempotent keyed by escrow id plus operation kind, so a retried instruction
// returns the original settlement reference instead of moving funds twice.
type Operation string

const (
	OpFund    Operation = "fund"
	OpRelease Operation = "release"
	OpRefund  Operation = "refund"
	// OpSplit marks a dispute split settlement in flight on the escrow row.
	// On the wire it decomposes into a partial release and a partial refund.
	OpSplit Operation = "split"
)

// SettlementRef identifies a completed settlement on the gateway side.
type SettlementRef string

// Gateway executes fund movements. All errors returned by implementations are
// *fault.PaymentError values carrying the retriable flag.
type Gateway interface {
	// Fund moves amount from the client into custody for the escrow.
	Fund(ctx context.Context, escrowID string, amount money.Amount) (SettlementRef, error)
	// Release pays amount out of custody to the payee.
	Release(ctx context.Context, escrowID string, amount money.Amount, payee string) (SettlementRef, error)
	// Refund returns amount out of custody to the payee.
	Refund(ctx context.Context, escrowID string, amount money.Amount, payee string) (SettlementRef, error)
}
