package iosync

import (
	"errors"
	"sync"
	"testing"

	"github.com/dashlink/dashlink/internal/adapters/membus"
	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

func (r *tapRig) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, rec := range r.sent {
		out = append(out, rec.Path)
	}
	return out
}

// countObs records counter increments and error logs.
type countObs struct {
	ports.NopObservability

	mu       sync.Mutex
	counters map[string]float64
	errLogs  []string
}

func (o *countObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counters == nil {
		o.counters = make(map[string]float64)
	}
	o.counters[name] += v
}

func (o *countObs) LogError(msg string, err error, fields ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errLogs = append(o.errLogs, msg)
}

func (o *countObs) count(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *countObs) errCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.errLogs)
}

// failBus rejects handle creation for selected paths.
type failBus struct {
	*membus.MemBus
	bad map[string]bool
}

func (b *failBus) Publish(path string, kind domain.Kind) (ports.Publisher, error) {
	if b.bad[path] {
		return nil, errors.New("path rejected")
	}
	return b.MemBus.Publish(path, kind)
}

func (b *failBus) Subscribe(path string, kind domain.Kind, def domain.Value) (ports.Subscriber, error) {
	if b.bad[path] {
		return nil, errors.New("path rejected")
	}
	return b.MemBus.Subscribe(path, kind, def)
}

func TestCompileRunsOnce(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	target := 42.0
	s.TunableFloat("Target", &target)

	for i := 0; i < 10; i++ {
		s.Tick()
	}

	// Seeding is a compile-time effect: it must not repeat per cycle.
	if n := len(rig.sends("Shooter/Target")); n != 1 {
		t.Fatalf("expected exactly one seeding send, got %d", n)
	}
}

func TestTickRunsSignalsInDeclarationOrder(t *testing.T) {
	rig := newTapRig()
	s := New("Drive", rig.cache)

	s.SignalFloat("Left", func() (float64, error) { return 1, nil })
	s.SignalFloat("Right", func() (float64, error) { return 2, nil })
	s.SignalFloat("Heading", func() (float64, error) { return 3, nil })

	s.Tick()
	s.Tick()

	want := []string{
		"Drive/Left", "Drive/Right", "Drive/Heading",
		"Drive/Left", "Drive/Right", "Drive/Heading",
	}
	got := rig.order()
	if len(got) != len(want) {
		t.Fatalf("expected %d sends, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestTickAppliesOutputsBeforeInputsBeforeLogic(t *testing.T) {
	rig := newTapRig()
	rig.bus.Seed("Drive/Gain", domain.Float(5))

	gain := 0.0
	var seenByOutput, seenByLogic []float64
	s := New("Drive", rig.cache, WithLogic(func() {
		seenByLogic = append(seenByLogic, gain)
	}))
	s.SignalFloat("Echo", func() (float64, error) {
		seenByOutput = append(seenByOutput, gain)
		return gain, nil
	})
	s.TunableFloat("Gain", &gain)

	s.Tick()
	if seenByOutput[0] != 5 {
		t.Fatalf("compile must adopt the bus value before the first task, got %v", seenByOutput[0])
	}

	rig.bus.Seed("Drive/Gain", domain.Float(9))
	s.Tick()
	if seenByOutput[1] != 5 {
		t.Fatalf("output must sample before the edit is applied, got %v", seenByOutput[1])
	}
	if seenByLogic[1] != 9 {
		t.Fatalf("logic must observe the freshly applied edit, got %v", seenByLogic[1])
	}
}

func TestDuplicateKeysFirstWins(t *testing.T) {
	rig := newTapRig()
	obs := &countObs{}
	s := New("Drive", rig.cache, WithObservability(obs))

	s.SignalFloat("Speed", func() (float64, error) { return 1, nil })
	s.SignalFloat("Speed", func() (float64, error) { return 2, nil })
	gain := 7.0
	s.TunableFloat("Speed", &gain) // keys are shared across both directions

	s.Tick()

	got := rig.sends("Drive/Speed")
	if len(got) != 1 || got[0].Num != 1 {
		t.Fatalf("first registration must win, got %+v", got)
	}
	if gain != 7.0 {
		t.Fatalf("shadowed tunable must not touch its field, got %v", gain)
	}
	if obs.errCount() != 2 {
		t.Fatalf("expected 2 skip logs, got %d: %v", obs.errCount(), obs.errLogs)
	}
}

func TestUnsupportedKindSkipped(t *testing.T) {
	rig := newTapRig()
	obs := &countObs{}
	s := New("Drive", rig.cache, WithObservability(obs))

	s.AddSignal(SignalSpec{Key: "Weird", Kind: domain.Kind(99)})
	s.SignalFloat("Speed", func() (float64, error) { return 1, nil })

	s.Tick()

	if n := len(rig.sends("Drive/Speed")); n != 1 {
		t.Fatalf("healthy binding must survive an unsupported sibling, got %d sends", n)
	}
	if _, ok := rig.bus.Peek("Drive/Weird"); ok {
		t.Fatalf("unsupported binding must not reach the bus")
	}
	if obs.errCount() == 0 {
		t.Fatalf("unsupported binding must be logged")
	}
}

func TestRegistrationAfterFirstTickIgnored(t *testing.T) {
	rig := newTapRig()
	obs := &countObs{}
	s := New("Drive", rig.cache, WithObservability(obs))

	s.SignalFloat("Speed", func() (float64, error) { return 1, nil })
	s.Tick()

	s.SignalFloat("Late", func() (float64, error) { return 2, nil })
	late := 1.0
	s.TunableFloat("LateGain", &late)
	s.Tick()

	if _, ok := rig.bus.Peek("Drive/Late"); ok {
		t.Fatalf("late signal must not be installed")
	}
	if _, ok := rig.bus.Peek("Drive/LateGain"); ok {
		t.Fatalf("late tunable must not be installed")
	}
	if obs.errCount() != 2 {
		t.Fatalf("expected 2 rejection logs, got %d", obs.errCount())
	}
}

func TestTaskPanicIsContained(t *testing.T) {
	rig := newTapRig()
	obs := &countObs{}
	s := New("Arm", rig.cache, WithObservability(obs))

	s.SignalFloat("Boom", func() (float64, error) { panic("sensor fault") })
	s.SignalFloat("Steady", func() (float64, error) { return 1, nil })

	for i := 0; i < 3; i++ {
		s.Tick()
	}

	if n := len(rig.sends("Arm/Steady")); n != 3 {
		t.Fatalf("later bindings must keep running after a panic, got %d sends", n)
	}
	if got := obs.count(metricTaskPanics); got != 3 {
		t.Fatalf("expected 3 recovered panics, got %v", got)
	}
}

func TestSignalErrorsCounted(t *testing.T) {
	rig := newTapRig()
	obs := &countObs{}
	s := New("Arm", rig.cache, WithObservability(obs))

	s.SignalFloat("Angle", func() (float64, error) { return 0, errors.New("offline") })

	for i := 0; i < 4; i++ {
		s.Tick()
	}

	if got := obs.count(metricSignalErrors); got != 4 {
		t.Fatalf("expected 4 counted errors, got %v", got)
	}
	if rig.sendCount() != 0 {
		t.Fatalf("failed samples must not be published")
	}
}

func TestDegradedBindingsStaySilent(t *testing.T) {
	inner := membus.New()
	bus := &failBus{MemBus: inner, bad: map[string]bool{
		"Drive/Speed": true,
		"Drive/Gain":  true,
	}}
	cache := channels.New(bus)
	s := New("Drive", cache)

	s.SignalFloat("Speed", func() (float64, error) { return 1, nil })
	s.SignalFloat("Heading", func() (float64, error) { return 2, nil })
	gain := 7.0
	s.TunableFloat("Gain", &gain)

	for i := 0; i < 3; i++ {
		s.Tick()
	}

	if _, ok := inner.Peek("Drive/Speed"); ok {
		t.Fatalf("degraded signal must not publish")
	}
	if v, ok := inner.Peek("Drive/Heading"); !ok || v.Num != 2 {
		t.Fatalf("healthy sibling must publish, got %+v ok=%v", v, ok)
	}
	if gain != 7.0 {
		t.Fatalf("degraded tunable must leave its field alone, got %v", gain)
	}
}

func TestCloseBeforeFirstTick(t *testing.T) {
	rig := newTapRig()
	s := New("Drive", rig.cache)
	s.SignalFloat("Speed", func() (float64, error) { return 0, nil })
	s.Close() // nothing compiled yet
}

func TestCloseIsScopedToOneSubsystem(t *testing.T) {
	rig := newTapRig()
	a := New("Drive", rig.cache)
	b := New("Arm", rig.cache)

	a.SignalFloat("Speed", func() (float64, error) { return 1, nil })
	b.SignalFloat("Angle", func() (float64, error) { return 2, nil })
	a.Tick()
	b.Tick()

	a.Close()
	b.Tick()

	if n := len(rig.sends("Arm/Angle")); n != 2 {
		t.Fatalf("sibling subsystem must keep publishing, got %d sends", n)
	}
}

func TestManualSetAndGet(t *testing.T) {
	rig := newTapRig()
	s := New("Drive", rig.cache)

	s.SetFloat("Odometer", 12.5)
	if got := s.Float("Odometer", -1); got != 12.5 {
		t.Fatalf("expected 12.5, got %v", got)
	}
	if got := s.Bool("Missing", true); got != true {
		t.Fatalf("missing key must fall back to the default")
	}
	if v, ok := rig.bus.Peek("Drive/Odometer"); !ok || v.Num != 12.5 {
		t.Fatalf("manual set must reach the bus, got %+v ok=%v", v, ok)
	}
}
