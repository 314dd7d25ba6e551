package dashlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dashlink/dashlink/internal/adapters/queue"
	"github.com/dashlink/dashlink/internal/app/pipeline"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// ErrFeedClosed is returned when publishing after Close.
var ErrFeedClosed = errors.New("dashlink: feed closed")

// ErrQueueFull indicates the feed rejected a record according to policy.
var ErrQueueFull = errors.New("dashlink: queue full")

// FeedConfig configures the standalone record feed.
type FeedConfig struct {
	Policy Policy
}

func (c *FeedConfig) applyDefaults() {
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 500
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "drop_new"
	}
}

// Feed lets applications push one-off event records (mode changes, match
// markers, alerts) straight into recorders without binding a subsystem. It
// reuses the runtime's queue and drain pipeline but owns both.
type Feed struct {
	policy ports.Policy
	queue  ports.RecordQueue
	obs    ports.Observability

	stopCh   chan struct{}
	doneCh   <-chan struct{}
	stopOnce sync.Once
	closed   chan struct{}
}

// NewFeed wires a bounded queue to the given recorders and starts draining.
// At least one recorder is required.
func NewFeed(cfg *FeedConfig, recorders ...ports.Recorder) (*Feed, error) {
	if cfg == nil {
		cfg = &FeedConfig{}
	}
	if len(recorders) == 0 {
		return nil, fmt.Errorf("at least one recorder is required")
	}
	cfg.applyDefaults()

	f := &Feed{
		policy: cfg.Policy,
		queue:  queue.NewMemQueue(cfg.Policy.MaxQueueLen),
		obs:    ports.NopObservability{},
		stopCh: make(chan struct{}),
		closed: make(chan struct{}),
	}
	f.doneCh = pipeline.RunRecordPipeline(f.queue, recorders, f.policy, f.obs, f.stopCh)
	return f, nil
}

// Publish stamps the value and offers it to the queue under the configured
// policy.
func (f *Feed) Publish(path string, v Value) error {
	select {
	case <-f.closed:
		return ErrFeedClosed
	default:
	}

	if !pipeline.Offer(f.queue, domain.NewRecord(path, v), f.policy, f.obs) {
		return ErrQueueFull
	}
	return nil
}

// Close stops the drain loop after it flushes what is queued, respecting the
// provided context.
func (f *Feed) Close(ctx context.Context) error {
	f.stopOnce.Do(func() {
		close(f.closed)
		close(f.stopCh)
	})

	select {
	case <-f.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
