package dashlink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dashlink/dashlink/internal/domain"
)

// ErrChannelRecorderClosed is returned when a channel recorder is written to
// after being closed.
var ErrChannelRecorderClosed = errors.New("dashlink: channel recorder closed")

// RecordBatchFunc consumes ordered batches drained from the pipeline.
type RecordBatchFunc func([]Record) error

// NewCallbackRecorder adapts a function into a full Recorder so callers can
// archive records anywhere without defining structs.
func NewCallbackRecorder(name string, fn RecordBatchFunc) Recorder {
	if name == "" {
		name = "callback"
	}
	return &callbackRecorder{name: name, fn: fn}
}

// NewChannelRecorder exposes batches via a channel; it returns the recorder,
// the read-only channel, and a close function the caller should invoke
// during shutdown.
func NewChannelRecorder(name string, buffer int) (Recorder, <-chan []Record, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Record, buffer)
	r := &channelRecorder{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return r, ch, func() { r.close() }
}

type callbackRecorder struct {
	name string
	fn   RecordBatchFunc
}

func (r *callbackRecorder) WriteBatch(records []domain.Record) error {
	if r.fn == nil {
		return fmt.Errorf("callback recorder %q: nil handler", r.name)
	}
	if len(records) == 0 {
		return nil
	}
	return r.fn(cloneBatch(records))
}

func (r *callbackRecorder) Name() string { return r.name }

type channelRecorder struct {
	name   string
	ch     chan []Record
	closed chan struct{}
	once   sync.Once
}

func (r *channelRecorder) WriteBatch(records []domain.Record) error {
	select {
	case <-r.closed:
		return ErrChannelRecorderClosed
	default:
	}

	if len(records) == 0 {
		return nil
	}

	batch := cloneBatch(records)

	select {
	case <-r.closed:
		return ErrChannelRecorderClosed
	case r.ch <- batch:
		return nil
	}
}

func (r *channelRecorder) Name() string { return r.name }

func (r *channelRecorder) close() {
	r.once.Do(func() {
		close(r.closed)
		close(r.ch)
	})
}

func cloneBatch(records []domain.Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
