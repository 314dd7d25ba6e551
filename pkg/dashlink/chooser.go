package dashlink

import (
	"sync"

	"github.com/dashlink/dashlink/internal/app/channels"
	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Chooser publishes a pick list to the dashboard and tracks the operator's
// selection. Options keep declaration order; the default applies until a
// valid selection arrives. Paths hang off <table>/<key>: /options, /default,
// /active and the dashboard-written /selected.
type Chooser[T any] struct {
	cache *channels.Cache
	base  string

	mu        sync.Mutex
	names     []string
	values    map[string]T
	defName   string
	hasDef    bool
	published bool
	active    string

	selected  ports.Subscriber
	outActive ports.Publisher
}

// NewChooser builds a chooser rooted at <table>/<key>. Register options with
// Add and Default, then call Publish once the list is complete.
func NewChooser[T any](cache *channels.Cache, table, key string) *Chooser[T] {
	return &Chooser[T]{
		cache:  cache,
		base:   channels.Join(table, key),
		values: make(map[string]T),
	}
}

// Add registers an option. The first registration under a name wins;
// repeats are ignored.
func (c *Chooser[T]) Add(name string, value T) *Chooser[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(name, value)
	return c
}

// Default registers an option and makes it the fallback selection. Only the
// first Default sticks.
func (c *Chooser[T]) Default(name string, value T) *Chooser[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(name, value)
	if !c.hasDef {
		c.defName = name
		c.hasDef = true
	}
	return c
}

func (c *Chooser[T]) add(name string, value T) {
	if _, dup := c.values[name]; dup {
		return
	}
	c.names = append(c.names, name)
	c.values[name] = value
	if !c.hasDef && len(c.names) == 1 {
		c.defName = name
	}
}

// Publish pushes the option list to the bus and opens the selection
// subscription. Later calls refresh the list so options added after the
// first Publish become visible; default and selection handles are opened
// once.
func (c *Chooser[T]) Publish() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := c.cache.Out(c.base+"/options", domain.KindStrings)
	if err != nil {
		return err
	}
	if err := opts.Send(domain.StrSlice(append([]string(nil), c.names...))); err != nil {
		return err
	}

	if c.published {
		return nil
	}

	defOut, err := c.cache.Out(c.base+"/default", domain.KindString)
	if err != nil {
		return err
	}
	if err := defOut.Send(domain.Str(c.defName)); err != nil {
		return err
	}

	c.outActive, err = c.cache.Out(c.base+"/active", domain.KindString)
	if err != nil {
		return err
	}
	if err := c.outActive.Send(domain.Str(c.defName)); err != nil {
		return err
	}

	c.selected, err = c.cache.In(c.base+"/selected", domain.KindString, domain.Str(""))
	if err != nil {
		return err
	}

	c.active = c.defName
	c.published = true
	return nil
}

// SelectedName returns the operator's pick, falling back to the default for
// empty or unknown names. It mirrors the resolved name to /active.
func (c *Chooser[T]) SelectedName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedName()
}

// Selected resolves the pick to its registered value. With nothing
// registered it returns the zero value.
func (c *Chooser[T]) Selected() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[c.selectedName()]
}

func (c *Chooser[T]) selectedName() string {
	name := c.defName
	if c.selected != nil {
		if v := c.selected.Latest(); v.Str != "" {
			name = v.Str
		}
	}
	if _, known := c.values[name]; !known {
		name = c.defName
	}
	if c.outActive != nil && name != c.active {
		if err := c.outActive.Send(domain.Str(name)); err == nil {
			c.active = name
		}
	}
	return name
}
