package dashlink

import (
	base "github.com/dashlink/dashlink/pkg/dashlink"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull             = base.ErrQueueFull
	ErrFeedClosed            = base.ErrFeedClosed
	ErrChannelRecorderClosed = base.ErrChannelRecorderClosed
)

// Type aliases so consumers can import github.com/dashlink/dashlink directly.
type (
	Config             = base.Config
	BusConfig          = base.BusConfig
	OPCUAConfig        = base.OPCUAConfig
	RecorderConfig     = base.RecorderConfig
	HistoryConfig      = base.HistoryConfig
	MetricsConfig      = base.MetricsConfig
	HousekeepingConfig = base.HousekeepingConfig
	LogConfig          = base.LogConfig
	Link               = base.Link
	LinkOption         = base.LinkOption
	Runtime            = base.Runtime
	RuntimeOption      = base.RuntimeOption
	Subsystem          = base.Subsystem
	SubsystemOption    = base.SubsystemOption
	SignalOption       = base.SignalOption
	SignalSpec         = base.SignalSpec
	TunableSpec        = base.TunableSpec
	Feed               = base.Feed
	FeedConfig         = base.FeedConfig
	RecordBatchFunc    = base.RecordBatchFunc
	Value              = base.Value
	Kind               = base.Kind
	Record             = base.Record
	Cache              = base.Cache
	Bus                = base.Bus
	Publisher          = base.Publisher
	Subscriber         = base.Subscriber
	Recorder           = base.Recorder
	RecordQueue        = base.RecordQueue
	Policy             = base.Policy
	Observability      = base.Observability
	Field              = base.Field
)

// Value kinds.
const (
	KindInvalid = base.KindInvalid
	KindFloat   = base.KindFloat
	KindBool    = base.KindBool
	KindString  = base.KindString
	KindFloats  = base.KindFloats
	KindStrings = base.KindStrings
	KindStruct  = base.KindStruct
)

// ArchiveExt is the file extension of value archive segments.
const ArchiveExt = base.ArchiveExt

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Link builder helpers.
func Conf(path string, opts ...LinkOption) (*Link, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...LinkOption) (*Link, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithLinkOptions(opts ...RuntimeOption) LinkOption {
	return base.WithLinkOptions(opts...)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithBus(b Bus) RuntimeOption {
	return base.WithBus(b)
}

func WithQueue(q RecordQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithRecorder(r Recorder) RuntimeOption {
	return base.WithRecorder(r)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Signal and subsystem options.
func Every(n int) SignalOption {
	return base.Every(n)
}

func OnChange() SignalOption {
	return base.OnChange()
}

func WithLogic(fn func()) SubsystemOption {
	return base.WithLogic(fn)
}

// Value constructors.
func Float(v float64) Value { return base.Float(v) }

func Bool(v bool) Value { return base.Bool(v) }

func Str(v string) Value { return base.Str(v) }

func FloatSlice(v []float64) Value { return base.FloatSlice(v) }

func StrSlice(v []string) Value { return base.StrSlice(v) }

func Struct(v any) Value { return base.Struct(v) }

func NewRecord(path string, v Value) Record { return base.NewRecord(path, v) }

// Record feed.
func NewFeed(cfg *FeedConfig, recorders ...Recorder) (*Feed, error) {
	return base.NewFeed(cfg, recorders...)
}

// Recorder adapters.
func NewCallbackRecorder(name string, fn RecordBatchFunc) Recorder {
	return base.NewCallbackRecorder(name, fn)
}

func NewChannelRecorder(name string, buffer int) (Recorder, <-chan []Record, func()) {
	return base.NewChannelRecorder(name, buffer)
}

// Archive replay.
func ReadArchive(path string, fn func(Record) error) error {
	return base.ReadArchive(path, fn)
}

// Choosers.
func NewChooser[T any](cache *Cache, table, key string) *base.Chooser[T] {
	return base.NewChooser[T](cache, table, key)
}
