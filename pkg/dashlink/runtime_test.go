package dashlink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dashlink/dashlink/internal/adapters/membus"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

func memConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Metrics.Addr = ":0"
	cfg.Policy.IdleSleep = time.Millisecond
	cfg.Policy.MaxBatchSize = 16
	return cfg
}

type stubRecordQueue struct{}

func (s *stubRecordQueue) Enqueue(domain.Record) bool        { return true }
func (s *stubRecordQueue) EnqueueEvict(domain.Record) int    { return 0 }
func (s *stubRecordQueue) DequeueBatch(int) []domain.Record  { return nil }
func (s *stubRecordQueue) Len() int                          { return 0 }

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	cfg := memConfig()

	bus := membus.New()
	q := &stubRecordQueue{}
	rec := NewCallbackRecorder("noop", func([]Record) error { return nil })
	obs := ports.NopObservability{}

	rt, err := NewRuntime(cfg,
		WithBus(bus),
		WithQueue(q),
		WithRecorder(rec),
		WithObservability(obs),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	if rt.bus != ports.Bus(bus) {
		t.Fatalf("expected custom bus to be used")
	}
	if rt.queue != ports.RecordQueue(q) {
		t.Fatalf("expected custom queue to be used")
	}
	if len(rt.recorders) != 1 || rt.recorders[0] != rec {
		t.Fatalf("expected the injected recorder only, got %d", len(rt.recorders))
	}
	if rt.db != nil {
		t.Fatalf("expected no db without a history conn string")
	}
	if rt.archive != nil {
		t.Fatalf("expected no archive without a recorder dir")
	}
	if rt.keeper != nil {
		t.Fatalf("expected no housekeeping unless enabled")
	}
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("expected nil config to be rejected")
	}
}

func TestRuntimeEndToEnd(t *testing.T) {
	cfg := memConfig()

	var mu sync.Mutex
	var got []Record
	capture := NewCallbackRecorder("capture", func(batch []Record) error {
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
		return nil
	})

	rt, err := NewRuntime(cfg,
		WithRecorder(capture),
		WithObservability(ports.NopObservability{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	drive := rt.Subsystem("Drive")
	speed := 0.0
	drive.SignalFloat("Speed", func() (float64, error) {
		speed++
		return speed, nil
	})

	for i := 0; i < 3; i++ {
		drive.Tick()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 archived records, got %d: %+v", len(got), got)
	}
	for i, r := range got {
		if r.Path != "Drive/Speed" || r.Value.Num != float64(i+1) {
			t.Fatalf("record %d unexpected: %+v", i, r)
		}
	}
}

func TestRuntimeStartTwiceRejected(t *testing.T) {
	rt, err := NewRuntime(memConfig(), WithObservability(ports.NopObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := rt.Start(); err == nil {
		t.Fatalf("second Start must fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
