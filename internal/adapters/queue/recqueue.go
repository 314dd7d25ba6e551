package queue

import (
	"sync"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// MemQueue is a bounded in-memory record queue preserving FIFO ordering. It
// sits between the publish tap and the recorders so cyclic tasks never wait
// on archival I/O.
type MemQueue struct {
	mu   sync.Mutex
	data []domain.Record
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]domain.Record, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(r domain.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, r)
	return true
}

// EnqueueEvict appends r, evicting the oldest record when full. It reports
// how many records were evicted (0 or 1).
func (q *MemQueue) EnqueueEvict(r domain.Record) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := 0
	if len(q.data) >= q.cap {
		q.data = append(q.data[:0], q.data[1:]...)
		evicted = 1
	}
	q.data = append(q.data, r)
	return evicted
}

func (q *MemQueue) DequeueBatch(max int) []domain.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.Record, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.RecordQueue = (*MemQueue)(nil)
