package dashlink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dashlink/dashlink/internal/adapters/history"
	"github.com/dashlink/dashlink/internal/adapters/membus"
	"github.com/dashlink/dashlink/internal/adapters/observability"
	"github.com/dashlink/dashlink/internal/adapters/opcbus"
	"github.com/dashlink/dashlink/internal/adapters/queue"
	"github.com/dashlink/dashlink/internal/adapters/valuelog"
	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/app/housekeeping"
	"github.com/dashlink/dashlink/internal/app/iosync"
	"github.com/dashlink/dashlink/internal/app/pipeline"
	"github.com/dashlink/dashlink/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	bus       ports.Bus
	queue     ports.RecordQueue
	recorders []ports.Recorder
	obs       ports.Observability
}

// WithBus injects a custom telemetry transport instead of the configured
// backend.
func WithBus(b ports.Bus) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.bus = b
	}
}

// WithQueue injects a custom record queue implementation.
func WithQueue(q ports.RecordQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithRecorder appends a recorder to whatever the config wires up, so
// callers can archive records to custom stores alongside the defaults.
func WithRecorder(r ports.Recorder) RuntimeOption {
	return func(o *runtimeOverrides) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.obs = obs
	}
}

// Runtime owns the telemetry plumbing: the bus connection, the channel
// cache, the record pipeline, the metrics endpoint, and housekeeping. The
// caller mints subsystems from it and drives their Tick from its own cycle.
type Runtime struct {
	cfg    *Config
	policy ports.Policy
	obs    ports.Observability
	bus    ports.Bus
	queue  ports.RecordQueue
	cache  *channels.Cache

	recorders []ports.Recorder
	archive   *valuelog.Writer
	db        *sql.DB
	keeper    *housekeeping.Service
	logFile   *lumberjack.Logger

	metricsSrv  *http.Server
	pipeStopCh  chan struct{}
	pipeDoneCh  <-chan struct{}
	gaugeStopCh chan struct{}

	mu      sync.Mutex
	subs    []*iosync.Subsystem
	started bool
}

// NewRuntime bootstraps the default adapters from the config: the configured
// bus backend, an in-memory record queue, the archive writer and SQL history
// sink when configured, and Prometheus observability. RuntimeOption values
// override or extend any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	r := &Runtime{cfg: cfg, policy: cfg.Policy}

	if cfg.Log.File != "" {
		r.logFile = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		log.SetOutput(r.logFile)
	}

	r.obs = overrides.obs
	if r.obs == nil {
		r.obs = observability.NewPromObs()
	}

	var err error
	r.bus = overrides.bus
	if r.bus == nil {
		switch cfg.Bus.Backend {
		case "opcua":
			r.bus, err = opcbus.Dial(cfg.Bus.OPCUA)
			if err != nil {
				return nil, fmt.Errorf("dial opcua: %w", err)
			}
		default:
			r.bus = membus.New()
		}
	}

	r.queue = overrides.queue
	if r.queue == nil {
		r.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	r.recorders = overrides.recorders
	if cfg.Recorder.Dir != "" {
		r.archive, err = valuelog.NewWriter(cfg.Recorder.Dir)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		r.recorders = append(r.recorders, r.archive)
	}
	if cfg.History.ConnString != "" {
		r.db, err = sql.Open("postgres", cfg.History.ConnString)
		if err != nil {
			return nil, fmt.Errorf("open history db: %w", err)
		}
		r.recorders = append(r.recorders, history.NewSink(r.db, cfg.History.Table))
	}

	r.cache = channels.New(r.bus,
		channels.WithObservability(r.obs),
		channels.WithTap(pipeline.Tap(r.queue, r.policy, r.obs)),
	)

	if cfg.Housekeeping.Enabled {
		r.keeper = housekeeping.NewService(housekeeping.Options{
			Dir:        cfg.Recorder.Dir,
			Pattern:    "*" + valuelog.Ext,
			KeepFiles:  cfg.Housekeeping.KeepFiles,
			Interval:   cfg.Housekeeping.Interval,
			IdleChecks: cfg.Housekeeping.IdleChecks,
			FreeRatio:  cfg.Housekeeping.FreeRatio,
		}, func() bool { return r.queue.Len() == 0 }, r.obs)
	}

	return r, nil
}

// Cache exposes the channel cache for callers that want raw path handles
// next to their subsystems.
func (r *Runtime) Cache() *channels.Cache {
	return r.cache
}

// Subsystem mints a subsystem bound to the runtime's cache and
// observability. The runtime closes it during Shutdown.
func (r *Runtime) Subsystem(name string, opts ...iosync.Option) *iosync.Subsystem {
	all := append([]iosync.Option{iosync.WithObservability(r.obs)}, opts...)
	s := iosync.New(name, r.cache, all...)

	r.mu.Lock()
	r.subs = append(r.subs, s)
	r.mu.Unlock()
	return s
}

// Start launches the record pipeline, the metrics endpoint, the resource
// gauges, and housekeeping. It returns immediately; call Run to block on a
// context instead.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}
	r.started = true

	r.pipeStopCh = make(chan struct{})
	r.pipeDoneCh = pipeline.RunRecordPipeline(r.queue, r.recorders, r.policy, r.obs, r.pipeStopCh)

	if r.cfg.Metrics.Addr != "" {
		r.startMetrics()
	}

	r.gaugeStopCh = make(chan struct{})
	go r.recordResourceGauges(r.gaugeStopCh, time.Second)

	if r.keeper != nil {
		r.keeper.Start()
	}

	r.obs.LogInfo("runtime started",
		ports.Field{Key: "backend", Value: r.cfg.Bus.Backend},
		ports.Field{Key: "recorders", Value: len(r.recorders)})
	return nil
}

// Run starts the runtime and blocks until the context is cancelled, then
// shuts down gracefully.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown closes subsystems, drains the pipeline, and releases every
// adapter. Safe to call once after Start.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	started := r.started
	r.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}

	if r.gaugeStopCh != nil {
		close(r.gaugeStopCh)
	}

	if r.pipeStopCh != nil {
		close(r.pipeStopCh)
		select {
		case <-r.pipeDoneCh:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("pipeline drain: %w", ctx.Err()))
		}
	}

	if r.keeper != nil && started {
		r.keeper.Stop()
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := r.bus.Close(); err != nil {
		errs = append(errs, err)
	}

	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}

func (r *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			r.obs.SetGauge("dashlink_heap_alloc_bytes", float64(m.HeapAlloc))
			r.obs.SetGauge("dashlink_goroutines", float64(runtime.NumGoroutine()))
			r.obs.SetGauge("dashlink_record_queue_length", float64(r.queue.Len()))
			if r.archive != nil {
				r.obs.SetGauge("dashlink_archive_size_bytes", float64(r.archive.SizeBytes()))
			}
		}
	}
}
