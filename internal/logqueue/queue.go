// Package logqueue decouples request handling from persistence and billing.
// The handler enqueues one LogRecord per request attempt; the worker drains
// the queue in batches. Delivery is at-least-once, so consumers must treat
// record ids as idempotency keys.
package logqueue

import (
	"context"

	"github.com/ledgergate/ledgergate/internal/domain"
)

type Queue interface {
	// Enqueue pushes one record. It must return quickly; callers treat
	// failures as best-effort and only log them.
	Enqueue(ctx context.Context, record domain.LogRecord) error

	// DequeueBatch pops up to max records without blocking. An empty queue
	// returns (nil, nil).
	DequeueBatch(ctx context.Context, max int) ([]domain.LogRecord, error)
}
