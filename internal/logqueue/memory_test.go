package logqueue

import (
	"context"
	"testing"

	"github.com/ledgergate/ledgergate/internal/domain"
)

func TestMemoryQueueOrdering(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, domain.LogRecord{ID: id}); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	batch, err := q.DequeueBatch(ctx, 2)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Fatalf("batch = %+v, want a then b", batch)
	}

	batch, err = q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != "c" {
		t.Fatalf("batch = %+v, want just c", batch)
	}
}

func TestMemoryQueueEmpty(t *testing.T) {
	q := NewMemoryQueue()

	batch, err := q.DequeueBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if batch != nil {
		t.Errorf("batch = %+v, want nil for empty queue", batch)
	}
}
