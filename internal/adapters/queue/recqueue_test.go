package queue

import (
	"testing"

	"github.com/dashlink/dashlink/internal/domain"
)

func rec(path string, v float64) domain.Record {
	return domain.Record{Path: path, At: 1, Value: domain.Float(v)}
}

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	if !q.Enqueue(rec("a", 1)) || !q.Enqueue(rec("b", 2)) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].Path != "a" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].Path != "b" {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	if !q.Enqueue(rec("x", 1)) || !q.Enqueue(rec("x", 2)) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(rec("x", 3)) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(rec("x", 4)) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueEnqueueEvict(t *testing.T) {
	q := NewMemQueue(2)

	q.Enqueue(rec("old", 1))
	q.Enqueue(rec("mid", 2))

	if n := q.EnqueueEvict(rec("new", 3)); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}

	batch := q.DequeueBatch(0)
	if len(batch) != 2 || batch[0].Path != "mid" || batch[1].Path != "new" {
		t.Fatalf("oldest record should have been evicted: %+v", batch)
	}
}
