package housekeeping

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/dashlink/dashlink/internal/ports"
)

// Options tunes the background chores. Zero values fall back to defaults.
type Options struct {
	Dir       string // archive directory; empty disables the retention sweep
	Pattern   string // file glob inside Dir
	KeepFiles int    // newest files spared by the sweep

	Interval   time.Duration // cadence of the chore loop
	IdleChecks int           // consecutive idle observations before a reclaim
	FreeRatio  float64       // reclaim when free heap ratio drops below this
}

func (o *Options) applyDefaults() {
	if o.Pattern == "" {
		o.Pattern = "*.dlog"
	}
	if o.KeepFiles <= 0 {
		o.KeepFiles = 10
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.IdleChecks <= 0 {
		o.IdleChecks = 3
	}
	if o.FreeRatio <= 0 {
		o.FreeRatio = 0.20
	}
}

// Service runs the retention sweep and the idle memory guard on a single
// background loop. Chores only borrow time the control cycle is not using:
// the memory guard waits for the idle predicate to hold across consecutive
// checks before forcing a collection.
type Service struct {
	opts Options
	idle func() bool
	obs  ports.Observability

	pressure func() bool // memory probe, swapped in tests

	streak int
	stop   chan struct{}
	done   chan struct{}
}

// NewService builds the chore loop. idle reports whether the system is
// quiet right now (nil means never idle, which disables the memory guard).
func NewService(opts Options, idle func() bool, obs ports.Observability) *Service {
	opts.applyDefaults()
	if idle == nil {
		idle = func() bool { return false }
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}
	s := &Service{
		opts: opts,
		idle: idle,
		obs:  obs,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.pressure = s.heapStarved
	return s
}

func (s *Service) Start() {
	go s.loop()
}

func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Service) loop() {
	defer close(s.done)

	// Old archives from previous runs go first, before the cadence kicks in.
	s.sweep()

	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.sweep()
			s.memCheck()
		}
	}
}

// sweep removes all but the newest KeepFiles matching archives. Removal
// failures are logged and skipped so one stuck file never blocks retention.
func (s *Service) sweep() {
	if s.opts.Dir == "" {
		return
	}
	removed, err := SweepDir(s.opts.Dir, s.opts.Pattern, s.opts.KeepFiles, s.obs)
	if err != nil {
		s.obs.LogError("archive sweep failed", err, ports.Field{Key: "dir", Value: s.opts.Dir})
		return
	}
	if removed > 0 {
		s.obs.IncCounter("dashlink_logs_swept_total", float64(removed))
		s.obs.LogInfo("archives swept",
			ports.Field{Key: "dir", Value: s.opts.Dir},
			ports.Field{Key: "removed", Value: removed},
			ports.Field{Key: "kept", Value: s.opts.KeepFiles})
	}
}

// SweepDir deletes all but the keep newest files matching pattern in dir,
// ranked by modification time. It reports how many files were removed.
func SweepDir(dir, pattern string, keep int, obs ports.Observability) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, err
	}
	if len(matches) <= keep {
		return 0, nil
	}

	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			obs.LogError("archive stat failed", err, ports.Field{Key: "file", Value: m})
			continue
		}
		entries = append(entries, entry{path: m, mod: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.After(entries[j].mod) })

	removed := 0
	for _, e := range entries[min(keep, len(entries)):] {
		if err := os.Remove(e.path); err != nil {
			obs.LogError("archive remove failed", err, ports.Field{Key: "file", Value: e.path})
			continue
		}
		removed++
	}
	return removed, nil
}

// memCheck arms on consecutive idle observations and reclaims memory once
// the heap runs short. Any busy observation rearms from zero.
func (s *Service) memCheck() {
	if !s.idle() {
		s.streak = 0
		return
	}
	s.streak++
	if s.streak < s.opts.IdleChecks {
		return
	}
	if !s.pressure() {
		return
	}
	runtime.GC()
	debug.FreeOSMemory()
	s.streak = 0
	s.obs.IncCounter("dashlink_mem_reclaims_total", 1)
	s.obs.LogInfo("idle memory reclaim")
}

func (s *Service) heapStarved() bool {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return shouldReclaim(&m, s.opts.FreeRatio)
}

// shouldReclaim reports whether the free heap ratio has fallen below the
// threshold.
func shouldReclaim(m *runtime.MemStats, threshold float64) bool {
	if m.HeapSys == 0 {
		return false
	}
	free := 1 - float64(m.HeapAlloc)/float64(m.HeapSys)
	return free < threshold
}
