package dashlink

import (
	"github.com/dashlink/dashlink/internal/app/iosync"
)

// Subsystem binds signals and tunables to the bus under one table and
// drives them from Tick. Mint one per mechanism via Runtime.Subsystem.
type Subsystem = iosync.Subsystem

// SubsystemOption configures a subsystem at construction.
type SubsystemOption = iosync.Option

// SignalOption tunes one signal binding.
type SignalOption = iosync.SignalOption

// SignalSpec is the descriptor form of a signal registration.
type SignalSpec = iosync.SignalSpec

// TunableSpec is the descriptor form of a tunable registration.
type TunableSpec = iosync.TunableSpec

// Every downsamples a signal to every nth tick.
func Every(n int) SignalOption { return iosync.Every(n) }

// OnChange suppresses sends while the sampled value is unchanged.
func OnChange() SignalOption { return iosync.OnChange() }

// WithLogic installs a callback run at the end of every tick, after
// signals and tunables.
func WithLogic(fn func()) SubsystemOption { return iosync.WithLogic(fn) }
