package iosync

import (
	"testing"

	"github.com/dashlink/dashlink/internal/domain"
)

func TestTunableSeedsBusWhenAbsent(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	target := 3200.0
	s.TunableFloat("TargetRPM", &target)

	s.Tick()

	if target != 3200.0 {
		t.Fatalf("field must keep its default when the bus had no value, got %v", target)
	}
	v, ok := rig.bus.Peek("Shooter/TargetRPM")
	if !ok || v.Num != 3200.0 {
		t.Fatalf("bus should carry the field default, got %+v ok=%v", v, ok)
	}
}

func TestTunableAdoptsExistingBusValue(t *testing.T) {
	rig := newTapRig()
	rig.bus.Seed("Shooter/TargetRPM", domain.Float(2800))

	s := New("Shooter", rig.cache)
	target := 3200.0
	s.TunableFloat("TargetRPM", &target)

	s.Tick()

	if target != 2800.0 {
		t.Fatalf("pre-existing bus value must win over the field default, got %v", target)
	}
	if v, _ := rig.bus.Peek("Shooter/TargetRPM"); v.Num != 2800.0 {
		t.Fatalf("bus value must be untouched by adoption, got %v", v.Num)
	}
}

func TestTunableDefaultReadAtFirstTick(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	target := 1000.0
	s.TunableFloat("TargetRPM", &target)
	target = 3200.0 // adjusted between registration and the first cycle

	s.Tick()

	if v, _ := rig.bus.Peek("Shooter/TargetRPM"); v.Num != 3200.0 {
		t.Fatalf("seeding must use the field value at first tick, got %v", v.Num)
	}
}

func TestTunableAppliesLiveEdits(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	target := 3200.0
	s.TunableFloat("TargetRPM", &target)

	s.Tick()
	rig.bus.Seed("Shooter/TargetRPM", domain.Float(2500))
	s.Tick()

	if target != 2500.0 {
		t.Fatalf("edited bus value must land in the field, got %v", target)
	}
}

func TestTunableLocalWriteSurvivesUntilNextEdit(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	target := 3200.0
	s.TunableFloat("TargetRPM", &target)
	s.Tick()

	// Code assigns the field directly. The bus still holds 3200, which
	// matches the last applied value, so the sync must not clobber it.
	target = 4000.0
	s.Tick()
	if target != 4000.0 {
		t.Fatalf("unchanged bus value must not overwrite a local assignment, got %v", target)
	}

	rig.bus.Seed("Shooter/TargetRPM", domain.Float(2500))
	s.Tick()
	if target != 2500.0 {
		t.Fatalf("a fresh edit must still take effect, got %v", target)
	}
}

func TestTunableExactCompareNoDeadBand(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	target := 1.0
	s.TunableFloat("TargetRPM", &target)
	s.Tick()

	// Signals suppress sub-epsilon deltas; tunables must not.
	rig.bus.Seed("Shooter/TargetRPM", domain.Float(1.000000001))
	s.Tick()

	if target != 1.000000001 {
		t.Fatalf("tiny edits must be applied exactly, got %v", target)
	}
}

func TestTunableBoolRoundTrip(t *testing.T) {
	rig := newTapRig()
	rig.bus.Seed("Intake/Enabled", domain.Bool(true))

	s := New("Intake", rig.cache)
	enabled := false
	s.TunableBool("Enabled", &enabled)

	s.Tick()
	if !enabled {
		t.Fatalf("bus true must be adopted")
	}

	rig.bus.Seed("Intake/Enabled", domain.Bool(false))
	s.Tick()
	if enabled {
		t.Fatalf("bus false must be applied")
	}
}

func TestTunableInvalidSpecSkipped(t *testing.T) {
	rig := newTapRig()
	s := New("Shooter", rig.cache)

	s.AddTunable(TunableSpec{Key: "Broken", Kind: domain.KindFloat}) // no field pointer
	target := 10.0
	s.TunableFloat("TargetRPM", &target)

	s.Tick() // must not panic; the valid binding still works

	if v, ok := rig.bus.Peek("Shooter/TargetRPM"); !ok || v.Num != 10.0 {
		t.Fatalf("valid tunable must survive a broken sibling, got %+v ok=%v", v, ok)
	}
	if _, ok := rig.bus.Peek("Shooter/Broken"); ok {
		t.Fatalf("broken spec must not reach the bus")
	}
}
