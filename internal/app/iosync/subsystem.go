package iosync

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Metric names emitted through the observability port. The prometheus
// adapter registers matching instruments; other backends may ignore them.
const (
	metricSends         = "dashlink_sends_total"
	metricSuppressed    = "dashlink_sends_suppressed_total"
	metricSignalErrors  = "dashlink_signal_errors_total"
	metricTunableWrites = "dashlink_tunable_writes_total"
	metricTaskPanics    = "dashlink_task_panics_total"
)

var (
	errUnsupportedKind = errors.New("unsupported value kind")
	errDuplicateKey    = errors.New("duplicate binding key")
	errAfterCompile    = errors.New("binding registered after first tick")
)

// task is one compiled update task. Tasks carry their own cycle state and
// are invoked in declaration order, outputs before inputs.
type task interface {
	run()
}

// Subsystem binds a named scope of signals and tunables to a channel cache
// and drives them from Tick. Registration happens at construction time;
// compilation is deferred to the first tick so the owner's fields hold
// their initialized values when defaults are read.
type Subsystem struct {
	name  string
	cache *channels.Cache
	obs   ports.Observability
	logic func()

	signals  []SignalSpec
	tunables []TunableSpec

	initOnce sync.Once
	compiled atomic.Bool

	outTasks []task
	inTasks  []task
}

type Option func(*Subsystem)

func WithObservability(obs ports.Observability) Option {
	return func(s *Subsystem) { s.obs = obs }
}

// WithLogic installs a callback run at the end of every tick, after all
// update tasks.
func WithLogic(fn func()) Option {
	return func(s *Subsystem) { s.logic = fn }
}

func New(name string, cache *channels.Cache, opts ...Option) *Subsystem {
	s := &Subsystem{
		name:  name,
		cache: cache,
		obs:   ports.NopObservability{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subsystem) Name() string { return s.name }

// AddSignal registers an output binding from a descriptor. Typed helpers
// below cover the common cases.
func (s *Subsystem) AddSignal(spec SignalSpec, opts ...SignalOption) {
	for _, opt := range opts {
		opt(&spec)
	}
	if s.compiled.Load() {
		s.obs.LogError("signal binding ignored", errAfterCompile,
			ports.Field{Key: "subsystem", Value: s.name},
			ports.Field{Key: "key", Value: spec.Key})
		return
	}
	s.signals = append(s.signals, spec)
}

func (s *Subsystem) SignalFloat(key string, get func() (float64, error), opts ...SignalOption) {
	s.AddSignal(SignalSpec{Key: key, Kind: domain.KindFloat, GetFloat: get}, opts...)
}

func (s *Subsystem) SignalBool(key string, get func() (bool, error), opts ...SignalOption) {
	s.AddSignal(SignalSpec{Key: key, Kind: domain.KindBool, GetBool: get}, opts...)
}

func (s *Subsystem) SignalString(key string, get func() (string, error), opts ...SignalOption) {
	s.AddSignal(SignalSpec{Key: key, Kind: domain.KindString, GetString: get}, opts...)
}

func (s *Subsystem) SignalFloats(key string, get func() ([]float64, error), opts ...SignalOption) {
	s.AddSignal(SignalSpec{Key: key, Kind: domain.KindFloats, GetFloats: get}, opts...)
}

func (s *Subsystem) SignalStrings(key string, get func() ([]string, error), opts ...SignalOption) {
	s.AddSignal(SignalSpec{Key: key, Kind: domain.KindStrings, GetStrings: get}, opts...)
}

// SignalStruct publishes an arbitrary snapshot with value equality for the
// change filter. Accessors should return a fresh value per cycle; a shared
// mutated pointer always compares equal to itself. A nil snapshot skips the
// cycle.
func (s *Subsystem) SignalStruct(key string, get func() (any, error), opts ...SignalOption) {
	s.AddSignal(SignalSpec{Key: key, Kind: domain.KindStruct, GetStruct: get}, opts...)
}

// AddTunable registers an input binding from a descriptor.
func (s *Subsystem) AddTunable(spec TunableSpec) {
	if s.compiled.Load() {
		s.obs.LogError("tunable binding ignored", errAfterCompile,
			ports.Field{Key: "subsystem", Value: s.name},
			ports.Field{Key: "key", Value: spec.Key})
		return
	}
	s.tunables = append(s.tunables, spec)
}

func (s *Subsystem) TunableFloat(key string, field *float64) {
	s.AddTunable(TunableSpec{Key: key, Kind: domain.KindFloat, FloatPtr: field})
}

func (s *Subsystem) TunableBool(key string, field *bool) {
	s.AddTunable(TunableSpec{Key: key, Kind: domain.KindBool, BoolPtr: field})
}

/// Tick runs one cycle: lazy compilation on the first call, then every
// output task in declaration order, every input task in declaration order,
// and finally the user logic callback.
func (s *Subsystem) Tick() {
	s.initOnce.Do(s.compile)
	for _, t := range s.outTasks {
		s.runTask(t)
	}
	for _, t := range s.inTasks {
		s.runTask(t)
	}
	if s.logic != nil {
		s.logic()
	}
}

// runTask isolates one task invocation: a panic is counted and logged, the
// rest of the cycle continues.
func (s *Subsystem) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			s.obs.IncCounter(metricTaskPanics, 1)
			s.obs.LogError("update task panicked", fmt.Errorf("%v", r),
				ports.Field{Key: "subsystem", Value: s.name})
		}
	}()
	t.run()
}

// compile builds the task lists exactly once. Invalid bindings are logged
// and dropped; compilation always completes with the valid subset. The
// first installed binding wins a key; later duplicates are dropped.
func (s *Subsystem) compile() {
	seen := make(map[string]struct{}, len(s.signals)+len(s.tunables))

	for _, spec := range s.signals {
		if _, dup := seen[spec.Key]; dup {
			s.obs.LogError("signal binding skipped", errDuplicateKey,
				ports.Field{Key: "subsystem", Value: s.name},
				ports.Field{Key: "key", Value: spec.Key})
			continue
		}
		t, ok := s.buildSignalTask(spec)
		if !ok {
			continue
		}
		seen[spec.Key] = struct{}{}
		s.outTasks = append(s.outTasks, t)
	}

	for _, spec := range s.tunables {
		if _, dup := seen[spec.Key]; dup {
			s.obs.LogError("tunable binding skipped", errDuplicateKey,
				ports.Field{Key: "subsystem", Value: s.name},
				ports.Field{Key: "key", Value: spec.Key})
			continue
		}
		t, ok := s.buildTunableTask(spec)
		if !ok {
			continue
		}
		seen[spec.Key] = struct{}{}
		s.inTasks = append(s.inTasks, t)
	}

	s.compiled.Store(true)
	s.obs.LogInfo("subsystem compiled",
		ports.Field{Key: "subsystem", Value: s.name},
		ports.Field{Key: "outputs", Value: len(s.outTasks)},
		ports.Field{Key: "inputs", Value: len(s.inTasks)})
}

// Close releases every bus handle under this subsystem's table. Safe to
// call before any tick.
func (s *Subsystem) Close() {
	released := s.cache.CloseScope(s.name + "/")
	s.obs.LogInfo("subsystem closed",
		ports.Field{Key: "subsystem", Value: s.name},
		ports.Field{Key: "released", Value: released})
}

// Direct table access, bypassing bindings. Handy for one-off values that do
// not deserve a compiled task.

func (s *Subsystem) SetFloat(key string, v float64)    { s.cache.SetFloat(s.name, key, v) }
func (s *Subsystem) SetBool(key string, v bool)        { s.cache.SetBool(s.name, key, v) }
func (s *Subsystem) SetString(key, v string)           { s.cache.SetString(s.name, key, v) }
func (s *Subsystem) SetFloats(key string, v []float64) { s.cache.SetFloats(s.name, key, v) }
func (s *Subsystem) SetStrings(key string, v []string) { s.cache.SetStrings(s.name, key, v) }
func (s *Subsystem) SetStruct(key string, v any)       { s.cache.SetStruct(s.name, key, v) }

func (s *Subsystem) Float(key string, def float64) float64 { return s.cache.Float(s.name, key, def) }
func (s *Subsystem) Bool(key string, def bool) bool        { return s.cache.Bool(s.name, key, def) }
func (s *Subsystem) String(key, def string) string         { return s.cache.String(s.name, key, def) }
