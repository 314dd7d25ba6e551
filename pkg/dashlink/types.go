package dashlink

import (
	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Value is the tagged union carried on the telemetry bus. It mirrors
// internal/domain.Value but is exported so custom buses and recorders can
// reference it.
type Value = domain.Value

// Kind discriminates the payload held by a Value.
type Kind = domain.Kind

const (
	KindInvalid = domain.KindInvalid
	KindFloat   = domain.KindFloat
	KindBool    = domain.KindBool
	KindString  = domain.KindString
	KindFloats  = domain.KindFloats
	KindStrings = domain.KindStrings
	KindStruct  = domain.KindStruct
)

// Record is one archived value with its path and capture time.
type Record = domain.Record

// Bus is the transport the channel cache opens handles against.
type Bus = ports.Bus

// Cache is the handle cache subsystems and choosers publish through. A
// Runtime owns one; standalone use starts from channels.New.
type Cache = channels.Cache

// Publisher pushes values to one path.
type Publisher = ports.Publisher

// Subscriber retains the latest value of one path.
type Subscriber = ports.Subscriber

// Recorder consumes batches drained from the record queue.
type Recorder = ports.Recorder

// RecordQueue buffers records between the publish tap and the recorders.
type RecordQueue = ports.RecordQueue

// Policy controls queue thresholds and backpressure.
type Policy = ports.Policy

// Observability emits metrics and logs for the whole bridge.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Float wraps a float64 into a bus Value.
func Float(v float64) Value { return domain.Float(v) }

// Bool wraps a bool into a bus Value.
func Bool(v bool) Value { return domain.Bool(v) }

// Str wraps a string into a bus Value.
func Str(v string) Value { return domain.Str(v) }

// FloatSlice wraps a float slice into a bus Value.
func FloatSlice(v []float64) Value { return domain.FloatSlice(v) }

// StrSlice wraps a string slice into a bus Value.
func StrSlice(v []string) Value { return domain.StrSlice(v) }

// Struct wraps an arbitrary snapshot into a bus Value.
func Struct(v any) Value { return domain.Struct(v) }

// NewRecord stamps a value with the current time.
func NewRecord(path string, v Value) Record { return domain.NewRecord(path, v) }
