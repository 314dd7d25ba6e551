package ports

import "github.com/dashlink/dashlink/internal/domain"

type RecordQueue interface {
	// Enqueue offers a record; it reports false when the record was not
	// accepted (queue full under a dropping policy).
	Enqueue(r domain.Record) bool
	// EnqueueEvict always accepts, evicting the oldest records to make
	// room. It reports how many were evicted.
	EnqueueEvict(r domain.Record) int
	DequeueBatch(max int) []domain.Record
	Len() int
}
