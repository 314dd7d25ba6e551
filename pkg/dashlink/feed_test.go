package dashlink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// gatedRecorder blocks its first WriteBatch until the gate opens, letting
// tests fill the feed queue while a flush is in flight.
type gatedRecorder struct {
	started   chan struct{}
	gate      chan struct{}
	startOnce sync.Once

	mu      sync.Mutex
	records []Record
}

func newGatedRecorder() *gatedRecorder {
	return &gatedRecorder{
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (r *gatedRecorder) WriteBatch(records []Record) error {
	r.startOnce.Do(func() { close(r.started) })
	<-r.gate
	r.mu.Lock()
	r.records = append(r.records, records...)
	r.mu.Unlock()
	return nil
}

func (r *gatedRecorder) Name() string { return "gated" }

func (r *gatedRecorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Path)
	}
	return out
}

func TestFeedDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Record
	cb := NewCallbackRecorder("capture", func(batch []Record) error {
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
		return nil
	})

	f, err := NewFeed(nil, cb)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}

	for i := 1; i <= 5; i++ {
		if err := f.Publish("Events/count", Float(float64(i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	for i, rec := range got {
		if rec.Path != "Events/count" || rec.Value.Num != float64(i+1) {
			t.Fatalf("record %d out of order: %+v", i, rec)
		}
	}
}

func TestFeedRequiresRecorder(t *testing.T) {
	if _, err := NewFeed(nil); err == nil {
		t.Fatal("expected error with no recorders")
	}
}

func TestFeedPublishAfterClose(t *testing.T) {
	cb := NewCallbackRecorder("", func([]Record) error { return nil })
	f, err := NewFeed(nil, cb)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := f.Publish("Events/late", Str("x")); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
}

func TestFeedQueueFullDropsNew(t *testing.T) {
	rec := newGatedRecorder()
	cfg := &FeedConfig{Policy: Policy{
		MaxQueueLen:  2,
		MaxBatchSize: 1,
		IdleSleep:    time.Millisecond,
		OnQueueFull:  "drop_new",
	}}
	f, err := NewFeed(cfg, rec)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}

	if err := f.Publish("Events/a", Str("a")); err != nil {
		t.Fatalf("publish a: %v", err)
	}
	select {
	case <-rec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder never saw the first record")
	}

	// First record is in flight and blocked; the next two fill the queue.
	if err := f.Publish("Events/b", Str("b")); err != nil {
		t.Fatalf("publish b: %v", err)
	}
	if err := f.Publish("Events/c", Str("c")); err != nil {
		t.Fatalf("publish c: %v", err)
	}
	if err := f.Publish("Events/d", Str("d")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(rec.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []string{"Events/a", "Events/b", "Events/c"}
	got := rec.paths()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
