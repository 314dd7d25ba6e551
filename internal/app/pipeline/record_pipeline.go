package pipeline

import (
	"fmt"
	"time"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Tap returns the hook the channel cache invokes for every published value.
// It stamps the value into a Record and offers it to the archive queue under
// the configured backpressure policy, so cyclic tasks never block on I/O.
func Tap(q ports.RecordQueue, pol ports.Policy, obs ports.Observability) func(path string, v domain.Value) {
	return func(path string, v domain.Value) {
		if !Offer(q, domain.NewRecord(path, v), pol, obs) {
			obs.IncCounter("dashlink_records_dropped_total", 1)
		}
	}
}

// Offer applies the backpressure policy to one record. It reports false
// when the record was rejected (drop_new on a full queue, or an invalid
// policy).
func Offer(q ports.RecordQueue, r domain.Record, pol ports.Policy, obs ports.Observability) bool {
	switch pol.OnQueueFull {
	case "drop_oldest":
		if evicted := q.EnqueueEvict(r); evicted > 0 {
			obs.IncCounter("dashlink_records_dropped_total", float64(evicted))
		}
		return true
	case "drop_new":
		if !q.Enqueue(r) {
			obs.LogError("record queue full", fmt.Errorf("capacity %d exceeded", pol.MaxQueueLen))
			return false
		}
		return true
	default:
		obs.LogError("queue policy invalid", fmt.Errorf("policy=%q", pol.OnQueueFull))
		return false
	}
}

// RunRecordPipeline drains the queue in batches and hands each batch to
// every recorder. A recorder failure is logged and skipped; the batch is
// not replayed for it. The loop exits after a final drain once stop closes,
// and closes the returned channel when done.
func RunRecordPipeline(q ports.RecordQueue, recorders []ports.Recorder, pol ports.Policy, obs ports.Observability, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})

	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	go func() {
		defer close(done)
		for {
			batch := q.DequeueBatch(pol.MaxBatchSize)
			if len(batch) == 0 {
				obs.SetGauge("dashlink_record_queue_length", 0)
				select {
				case <-stop:
					drainQueue(q, recorders, pol, obs)
					return
				case <-time.After(sleep):
				}
				continue
			}

			flushBatch(batch, recorders, obs)
			obs.SetGauge("dashlink_record_queue_length", float64(q.Len()))

			select {
			case <-stop:
				drainQueue(q, recorders, pol, obs)
				return
			default:
			}
		}
	}()

	return done
}

// drainQueue empties what is left so records tapped before shutdown still land.
func drainQueue(q ports.RecordQueue, recorders []ports.Recorder, pol ports.Policy, obs ports.Observability) {
	for {
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		flushBatch(batch, recorders, obs)
	}
}

func flushBatch(batch []domain.Record, recorders []ports.Recorder, obs ports.Observability) {
	start := time.Now()
	delivered := false
	for _, rec := range recorders {
		if err := rec.WriteBatch(batch); err != nil {
			obs.LogError("record write failed", err,
				ports.Field{Key: "recorder", Value: rec.Name()},
				ports.Field{Key: "batch", Value: len(batch)})
			continue
		}
		delivered = true
	}
	if delivered {
		obs.ObserveLatency("dashlink_record_flush_seconds", time.Since(start).Seconds())
		obs.IncCounter("dashlink_records_archived_total", float64(len(batch)))
	}
}
