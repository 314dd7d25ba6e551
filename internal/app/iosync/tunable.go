package iosync

import (
	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// TunableSpec describes one input binding: a field kept in sync with
// <subsystem>/<Key> so it can be edited live from the dashboard side. Only
// float and bool fields are tunable.
type TunableSpec struct {
	Key  string
	Kind domain.Kind

	FloatPtr *float64
	BoolPtr  *bool
}

func (sp TunableSpec) valid() bool {
	switch sp.Kind {
	case domain.KindFloat:
		return sp.FloatPtr != nil
	case domain.KindBool:
		return sp.BoolPtr != nil
	default:
		return false
	}
}

// floatTunableTask applies bus-side edits back onto the bound field. last
// tracks the most recent bus value so an unchanged bus never overwrites
// local writes to the field between edits.
type floatTunableTask struct {
	sub  *Subsystem
	ptr  *float64
	in   ports.Subscriber // nil when the path is degraded
	last float64
}

func (t *floatTunableTask) run() {
	if t.in == nil {
		return
	}
	cur := t.in.Latest().Num
	if cur != t.last {
		*t.ptr = cur
		t.last = cur
		t.sub.obs.IncCounter(metricTunableWrites, 1)
	}
}

type boolTunableTask struct {
	sub  *Subsystem
	ptr  *bool
	in   ports.Subscriber
	last bool
}

func (t *boolTunableTask) run() {
	if t.in == nil {
		return
	}
	cur := t.in.Latest().Bool
	if cur != t.last {
		*t.ptr = cur
		t.last = cur
		t.sub.obs.IncCounter(metricTunableWrites, 1)
	}
}

// buildTunableTask reconciles the field against the bus and installs the
// per-cycle sync task. The tie-break: a path that already exists on the bus
// wins (so live edits survive a program restart); an absent path is seeded
// from the field.
func (s *Subsystem) buildTunableTask(spec TunableSpec) (task, bool) {
	if !spec.valid() {
		s.obs.LogError("tunable binding skipped", errUnsupportedKind,
			ports.Field{Key: "subsystem", Value: s.name},
			ports.Field{Key: "key", Value: spec.Key},
			ports.Field{Key: "kind", Value: spec.Kind.String()})
		return nil, false
	}

	path := channels.Join(s.name, spec.Key)

	var initial domain.Value
	switch spec.Kind {
	case domain.KindFloat:
		initial = domain.Float(*spec.FloatPtr)
	case domain.KindBool:
		initial = domain.Bool(*spec.BoolPtr)
	}

	// Probe before opening handles: creating a publisher can materialize
	// the path on some transports, which would flip the tie-break.
	exists := s.cache.Exists(path)

	pub, pubErr := s.cache.Out(path, spec.Kind)
	in, subErr := s.cache.In(path, spec.Kind, initial)
	if pubErr != nil || subErr != nil {
		// Degraded: the field keeps its value and the task idles.
		switch spec.Kind {
		case domain.KindFloat:
			return &floatTunableTask{sub: s, ptr: spec.FloatPtr}, true
		default:
			return &boolTunableTask{sub: s, ptr: spec.BoolPtr}, true
		}
	}

	if !exists {
		if err := pub.Send(initial); err != nil {
			s.obs.IncCounter(metricSignalErrors, 1)
		}
	} else {
		switch spec.Kind {
		case domain.KindFloat:
			*spec.FloatPtr = in.Latest().Num
		case domain.KindBool:
			*spec.BoolPtr = in.Latest().Bool
		}
	}

	switch spec.Kind {
	case domain.KindFloat:
		return &floatTunableTask{sub: s, ptr: spec.FloatPtr, in: in, last: in.Latest().Num}, true
	default:
		return &boolTunableTask{sub: s, ptr: spec.BoolPtr, in: in, last: in.Latest().Bool}, true
	}
}
