package logqueue

import (
	"context"
	"sync"

	"github.com/ledgergate/ledgergate/internal/domain"
)

// MemoryQueue is the process-local backend used by tests and dev mode.
type MemoryQueue struct {
	mu      sync.Mutex
	records []domain.LogRecord
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, record domain.LogRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, record)
	return nil
}

func (q *MemoryQueue) DequeueBatch(ctx context.Context, max int) ([]domain.LogRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return nil, nil
	}
	if max > len(q.records) {
		max = len(q.records)
	}
	batch := make([]domain.LogRecord, max)
	copy(batch, q.records[:max])
	q.records = q.records[max:]
	return batch, nil
}

// Len reports the number of queued records, for tests.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
