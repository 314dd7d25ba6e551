package ports

import "github.com/dashlink/dashlink/internal/domain"

// Bus is the telemetry transport. Paths are slash-joined "table/key" strings;
// handle creation may fail (disconnected server, kind conflict) and callers
// are expected to treat a failed handle as permanently degraded rather than
// retry in their cyclic path.
type Bus interface {
	// Publish opens a send handle for path with the given kind.
	Publish(path string, kind domain.Kind) (Publisher, error)
	// Subscribe opens a receive handle for path. Latest returns def until a
	// value is observed.
	Subscribe(path string, kind domain.Kind, def domain.Value) (Subscriber, error)
	// Exists reports whether the path already carries a value on the bus.
	// Probed before handle creation, since opening a publisher may itself
	// create the entry on some transports.
	Exists(path string) bool
	Close() error
}

type Publisher interface {
	Send(v domain.Value) error
	Close() error
}

type Subscriber interface {
	// Latest returns the most recent value seen on the path, or the
	// subscription default if none has arrived. It never blocks.
	Latest() domain.Value
	Close() error
}
