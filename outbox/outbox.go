// Package outbox implements the transactional outbox used for notification
// dispatch. Domain events are written in the same transaction as the state
// change that produced them; a worker later publishes them. Delivery failure
// never rolls back the originating transition.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Topics emitted by the marketplace core.
const (
	TopicJobPosted        = "job.posted"
	TopicJobCancelled     = "job.cancelled"
	TopicJobCompleted     = "job.completed"
	TopicProposalAccepted = "proposal.accepted"
	TopicEscrowFunded     = "escrow.funded"
	TopicEscrowRefunded   = "escrow.refunded"
	TopicPaymentReleased  = "payment.released"
	TopicDisputeRaised    = "dispute.raised"
	TopicDisputeResolved  = "dispute.resolved"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// Message is one transactional outbox entry.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Enqueue appends an event to the outbox inside the caller's transaction.
func Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}
