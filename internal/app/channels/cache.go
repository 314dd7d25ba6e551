package channels

import (
	"strings"
	"sync"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Join builds the canonical bus path for a table/key pair.
func Join(table, key string) string { return table + "/" + key }

// Cache memoizes bus handles by full path so every producer and consumer of
// "Drive/Speed" shares one publisher and one subscriber for the life of the
// scope. It is the only shared-mutation surface in the package: subsystems
// own their task state privately and meet each other only here.
type Cache struct {
	bus ports.Bus
	obs ports.Observability
	tap func(path string, v domain.Value)

	outs sync.Map // path -> *outEntry
	ins  sync.Map // path -> *inEntry
}

type Option func(*Cache)

// WithObservability routes handle-lifecycle logging and counters.
func WithObservability(obs ports.Observability) Option {
	return func(c *Cache) { c.obs = obs }
}

// WithTap mirrors every successful send to fn. The recording pipeline hangs
// off this; fn must not block.
func WithTap(fn func(path string, v domain.Value)) Option {
	return func(c *Cache) { c.tap = fn }
}

func New(bus ports.Bus, opts ...Option) *Cache {
	c := &Cache{bus: bus, obs: ports.NopObservability{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// outEntry is a once-cell: the winning inserter and every racer afterwards
// all run Do, but the bus sees exactly one Publish per path. The sticky
// error marks a permanently degraded path.
type outEntry struct {
	once sync.Once
	pub  ports.Publisher
	err  error
}

type inEntry struct {
	once sync.Once
	sub  ports.Subscriber
	err  error
}

// Out returns the shared publisher for path, creating it on first use.
// After a failed creation the path stays degraded: the same error comes back
// on every call and the bus is not retried.
func (c *Cache) Out(path string, kind domain.Kind) (ports.Publisher, error) {
	v, ok := c.outs.Load(path)
	if !ok {
		v, _ = c.outs.LoadOrStore(path, &outEntry{})
	}
	e := v.(*outEntry)
	e.once.Do(func() {
		pub, err := c.bus.Publish(path, kind)
		if err != nil {
			e.err = err
			c.obs.LogError("publish handle failed", err, ports.Field{Key: "path", Value: path})
			return
		}
		if c.tap != nil {
			pub = &tappedPublisher{pub: pub, path: path, tap: c.tap}
		}
		e.pub = pub
	})
	return e.pub, e.err
}

// In returns the shared subscriber for path. The first caller's default
// sticks: later callers share the handle that was created with it.
func (c *Cache) In(path string, kind domain.Kind, def domain.Value) (ports.Subscriber, error) {
	v, ok := c.ins.Load(path)
	if !ok {
		v, _ = c.ins.LoadOrStore(path, &inEntry{})
	}
	e := v.(*inEntry)
	e.once.Do(func() {
		sub, err := c.bus.Subscribe(path, kind, def)
		if err != nil {
			e.err = err
			c.obs.LogError("subscribe handle failed", err, ports.Field{Key: "path", Value: path})
			return
		}
		e.sub = sub
	})
	return e.sub, e.err
}

// Exists reports whether the path already carries a value on the bus.
func (c *Cache) Exists(path string) bool { return c.bus.Exists(path) }

// CloseScope releases and forgets every handle whose path starts with
// prefix. Individual close failures are logged and skipped; the sweep always
// visits every matching handle. It returns the number of handles released.
func (c *Cache) CloseScope(prefix string) int {
	released := 0

	c.outs.Range(func(k, v any) bool {
		path := k.(string)
		if !strings.HasPrefix(path, prefix) {
			return true
		}
		c.outs.Delete(k)
		e := v.(*outEntry)
		if e.pub != nil {
			if err := e.pub.Close(); err != nil {
				c.obs.LogError("close publisher failed", err, ports.Field{Key: "path", Value: path})
			}
			released++
		}
		return true
	})

	c.ins.Range(func(k, v any) bool {
		path := k.(string)
		if !strings.HasPrefix(path, prefix) {
			return true
		}
		c.ins.Delete(k)
		e := v.(*inEntry)
		if e.sub != nil {
			if err := e.sub.Close(); err != nil {
				c.obs.LogError("close subscriber failed", err, ports.Field{Key: "path", Value: path})
			}
			released++
		}
		return true
	})

	return released
}

// Typed setters. A degraded path is a silent no-op, matching how update
// tasks treat it.

func (c *Cache) SetFloat(table, key string, v float64) {
	c.send(Join(table, key), domain.Float(v))
}

func (c *Cache) SetBool(table, key string, v bool) {
	c.send(Join(table, key), domain.Bool(v))
}

func (c *Cache) SetString(table, key, v string) {
	c.send(Join(table, key), domain.Str(v))
}

func (c *Cache) SetFloats(table, key string, v []float64) {
	c.send(Join(table, key), domain.FloatSlice(v))
}

func (c *Cache) SetStrings(table, key string, v []string) {
	c.send(Join(table, key), domain.StrSlice(v))
}

func (c *Cache) SetStruct(table, key string, v any) {
	c.send(Join(table, key), domain.Struct(v))
}

func (c *Cache) send(path string, v domain.Value) {
	pub, err := c.Out(path, v.Kind)
	if err != nil {
		return
	}
	if err := pub.Send(v); err != nil {
		c.obs.IncCounter("dashlink_signal_errors_total", 1)
	}
}

// Typed getters returning def when the path is degraded or silent.

func (c *Cache) Float(table, key string, def float64) float64 {
	sub, err := c.In(Join(table, key), domain.KindFloat, domain.Float(def))
	if err != nil {
		return def
	}
	return sub.Latest().Num
}

func (c *Cache) Bool(table, key string, def bool) bool {
	sub, err := c.In(Join(table, key), domain.KindBool, domain.Bool(def))
	if err != nil {
		return def
	}
	return sub.Latest().Bool
}

func (c *Cache) String(table, key, def string) string {
	sub, err := c.In(Join(table, key), domain.KindString, domain.Str(def))
	if err != nil {
		return def
	}
	return sub.Latest().Str
}

type tappedPublisher struct {
	pub  ports.Publisher
	path string
	tap  func(string, domain.Value)
}

func (p *tappedPublisher) Send(v domain.Value) error {
	if err := p.pub.Send(v); err != nil {
		return err
	}
	p.tap(p.path, v)
	return nil
}

func (p *tappedPublisher) Close() error { return p.pub.Close() }
