package domain

import "time"

// Record is the archival unit: one value observed on one path at one instant.
// At is unix nanoseconds so the encoded frame stays fixed-width and the CBOR
// body round-trips without timezone baggage.
type Record struct {
	Path  string `cbor:"p" json:"path"`
	At    int64  `cbor:"t" json:"at"`
	Value Value  `cbor:"v" json:"value"`
}

// NewRecord stamps a record with the current wall clock.
func NewRecord(path string, v Value) Record {
	return Record{Path: path, At: time.Now().UnixNano(), Value: v}
}

// Time converts the stamp back to a time.Time.
func (r Record) Time() time.Time { return time.Unix(0, r.At) }
