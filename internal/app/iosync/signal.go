package iosync

import (
	"math"
	"slices"

	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// floatEpsilon is the change-filter dead band for float signals. Deltas at
// or below it are treated as noise and suppressed.
const floatEpsilon = 1e-5

// SignalSpec describes one output binding: a keyed accessor sampled on the
// subsystem's cycle and pushed to <subsystem>/<Key>. Exactly one Get
// accessor must be set, matching Kind; mismatches are skipped at compile.
type SignalSpec struct {
	Key      string
	Kind     domain.Kind
	OnChange bool
	Every    int

	GetFloat   func() (float64, error)
	GetBool    func() (bool, error)
	GetString  func() (string, error)
	GetFloats  func() ([]float64, error)
	GetStrings func() ([]string, error)
	GetStruct  func() (any, error)
}

// accessor returns the kind-erased sampling closure, or nil when the spec's
// Kind has no matching accessor (the unsupported-binding case).
func (sp SignalSpec) accessor() func() (domain.Value, error) {
	switch sp.Kind {
	case domain.KindFloat:
		if sp.GetFloat == nil {
			return nil
		}
		get := sp.GetFloat
		return func() (domain.Value, error) {
			v, err := get()
			if err != nil {
				return domain.Value{}, err
			}
			return domain.Float(v), nil
		}
	case domain.KindBool:
		if sp.GetBool == nil {
			return nil
		}
		get := sp.GetBool
		return func() (domain.Value, error) {
			v, err := get()
			if err != nil {
				return domain.Value{}, err
			}
			return domain.Bool(v), nil
		}
	case domain.KindString:
		if sp.GetString == nil {
			return nil
		}
		get := sp.GetString
		return func() (domain.Value, error) {
			v, err := get()
			if err != nil {
				return domain.Value{}, err
			}
			return domain.Str(v), nil
		}
	case domain.KindFloats:
		if sp.GetFloats == nil {
			return nil
		}
		get := sp.GetFloats
		return func() (domain.Value, error) {
			v, err := get()
			if err != nil {
				return domain.Value{}, err
			}
			return domain.FloatSlice(v), nil
		}
	case domain.KindStrings:
		if sp.GetStrings == nil {
			return nil
		}
		get := sp.GetStrings
		return func() (domain.Value, error) {
			v, err := get()
			if err != nil {
				return domain.Value{}, err
			}
			return domain.StrSlice(v), nil
		}
	case domain.KindStruct:
		if sp.GetStruct == nil {
			return nil
		}
		get := sp.GetStruct
		return func() (domain.Value, error) {
			v, err := get()
			if err != nil {
				return domain.Value{}, err
			}
			if v == nil {
				// A nil snapshot means "nothing to report this cycle".
				return domain.Value{}, nil
			}
			return domain.Struct(v), nil
		}
	default:
		return nil
	}
}

// SignalOption tunes one signal binding.
type SignalOption func(*SignalSpec)

// Every samples the accessor only every nth tick. n below 1 behaves as 1.
func Every(n int) SignalOption {
	return func(sp *SignalSpec) { sp.Every = n }
}

// OnChange suppresses sends while the sampled value matches the last one
// pushed (floats within the epsilon dead band). The first sample after
// compile always goes out.
func OnChange() SignalOption {
	return func(sp *SignalSpec) { sp.OnChange = true }
}

// throttle gates accessor evaluation to every nth tick.
type throttle struct {
	every   int
	counter int
}

func (t *throttle) ready() bool {
	t.counter++
	if t.counter < t.every {
		return false
	}
	t.counter = 0
	return true
}

// gate is the per-kind change filter. pass decides whether the sampled
// value goes out; mark records it once the send was attempted.
type gate interface {
	pass(v domain.Value) bool
	mark(v domain.Value)
}

type floatGate struct {
	on     bool
	seeded bool
	last   float64
}

func (g *floatGate) pass(v domain.Value) bool {
	if !g.on || !g.seeded {
		return true
	}
	return math.Abs(v.Num-g.last) > floatEpsilon
}

func (g *floatGate) mark(v domain.Value) {
	g.seeded = true
	g.last = v.Num
}

type boolGate struct {
	on    bool
	first bool
	last  bool
}

func (g *boolGate) pass(v domain.Value) bool {
	return !g.on || g.first || v.Bool != g.last
}

func (g *boolGate) mark(v domain.Value) {
	if !g.on {
		return
	}
	g.first = false
	g.last = v.Bool
}

// eqGate covers string, slice and struct kinds with value equality. The
// recorded snapshot clones slice payloads so accessors may reuse their
// backing arrays between cycles.
type eqGate struct {
	on   bool
	set  bool
	last domain.Value
}

func (g *eqGate) pass(v domain.Value) bool {
	return !g.on || !g.set || !domain.Equal(v, g.last)
}

func (g *eqGate) mark(v domain.Value) {
	if !g.on {
		return
	}
	g.set = true
	switch v.Kind {
	case domain.KindFloats:
		v.Floats = slices.Clone(v.Floats)
	case domain.KindStrings:
		v.Strs = slices.Clone(v.Strs)
	}
	g.last = v
}

func newGate(kind domain.Kind, on bool) gate {
	switch kind {
	case domain.KindFloat:
		return &floatGate{on: on}
	case domain.KindBool:
		return &boolGate{on: on, first: true}
	default:
		return &eqGate{on: on}
	}
}

// signalTask is one compiled output binding. All mutable cycle state lives
// here, private to the owning subsystem's tick goroutine.
type signalTask struct {
	sub  *Subsystem
	key  string
	pub  ports.Publisher // nil when the path is degraded
	get  func() (domain.Value, error)
	th   throttle
	gate gate
}

func (t *signalTask) run() {
	if !t.th.ready() {
		return
	}
	v, err := t.get()
	if err != nil {
		// Accessor failures are local to the cycle: no send, no state change.
		t.sub.obs.IncCounter(metricSignalErrors, 1)
		return
	}
	if v.Kind == domain.KindInvalid {
		return
	}
	if !t.gate.pass(v) {
		t.sub.obs.IncCounter(metricSuppressed, 1)
		return
	}
	if t.pub != nil {
		if err := t.pub.Send(v); err != nil {
			t.sub.obs.IncCounter(metricSignalErrors, 1)
		} else {
			t.sub.obs.IncCounter(metricSends, 1)
		}
	}
	t.gate.mark(v)
}

func (s *Subsystem) buildSignalTask(spec SignalSpec) (*signalTask, bool) {
	get := spec.accessor()
	if get == nil {
		s.obs.LogError("signal binding skipped", errUnsupportedKind,
			ports.Field{Key: "subsystem", Value: s.name},
			ports.Field{Key: "key", Value: spec.Key},
			ports.Field{Key: "kind", Value: spec.Kind.String()})
		return nil, false
	}

	every := spec.Every
	if every < 1 {
		every = 1
	}

	pub, err := s.cache.Out(channels.Join(s.name, spec.Key), spec.Kind)
	if err != nil {
		pub = nil // degraded path, creation failure already logged
	}

	return &signalTask{
		sub:  s,
		key:  spec.Key,
		pub:  pub,
		get:  get,
		th:   throttle{every: every},
		gate: newGate(spec.Kind, spec.OnChange),
	}, true
}
