package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gigflow/metrics"
)

// Handler consumes an outbox message in-process before it is published.
// Handlers must be idempotent: a message whose publish fails is redelivered.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Worker drains pending outbox rows, runs any registered in-process handler,
// and publishes to the notifier. A row only becomes sent once both succeeded;
// otherwise it stays pending and is retried on the next pass.
type Worker struct {
	pool      *pgxpool.Pool
	pub       Publisher
	handlers  map[string]Handler
	log       *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewWorker(pool *pgxpool.Pool, pub Publisher, log *zap.Logger, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		pool:      pool,
		pub:       pub,
		handlers:  make(map[string]Handler),
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Subscribe registers an in-process consumer for a topic.
func (w *Worker) Subscribe(topic string, h Handler) {
	w.handlers[topic] = h
}

// Run drains the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := w.DrainOnce(ctx); err != nil {
				w.log.Warn("outbox drain failed", zap.Error(err))
			} else if n > 0 {
				w.log.Debug("outbox drained", zap.Int("messages", n))
			}
		}
	}
}

// DrainOnce processes at most one batch of pending messages and reports how
// many were sent. Rows are locked with SKIP LOCKED so concurrent workers do
// not double-deliver within a batch.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, w.batchSize)
	if err != nil {
		return 0, err
	}

	type pending struct {
		id       string
		topic    string
		payload  []byte
		attempts int
	}
	batch := make([]pending, 0, w.batchSize)
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.topic, &p.payload, &p.attempts); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range batch {
		if err := w.deliver(ctx, p.topic, p.payload); err != nil {
			w.log.Warn("outbox delivery failed",
				zap.String("topic", p.topic),
				zap.String("id", p.id),
				zap.Int("attempts", p.attempts+1),
				zap.Error(err),
			)
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, p.id); err != nil {
				return sent, err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'sent', attempts = attempts + 1, sent_at = now() WHERE id = $1`, p.id); err != nil {
			return sent, err
		}
		metrics.OutboxMessages.WithLabelValues(p.topic, "sent").Inc()
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return sent, nil
}

func (w *Worker) deliver(ctx context.Context, topic string, payload []byte) error {
	if h, ok := w.handlers[topic]; ok {
		if err := h(ctx, payload); err != nil {
			metrics.OutboxMessages.WithLabelValues(topic, "handler_error").Inc()
			return err
		}
	}
	if w.pub != nil {
		if err := w.pub.Publish(ctx, topic, payload); err != nil {
			metrics.OutboxMessages.WithLabelValues(topic, "publish_error").Inc()
			return err
		}
	}
	return nil
}
