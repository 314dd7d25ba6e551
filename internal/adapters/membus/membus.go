package membus

import (
	"fmt"
	"sync"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// MemBus is an in-process telemetry table. It is the default transport for
// simulation and the fixture every engine test runs against: values are
// retained per path, so late subscribers observe the last send, matching the
// retained-entry behavior of a live telemetry server.
type MemBus struct {
	mu     sync.RWMutex
	cells  map[string]*cell
	closed bool
}

// cell holds the retained value for one path. kind is fixed by the first
// handle opened on the path; mismatched opens fail.
type cell struct {
	mu   sync.RWMutex
	kind domain.Kind
	has  bool
	val  domain.Value
}

func New() *MemBus {
	return &MemBus{cells: make(map[string]*cell)}
}

func (b *MemBus) Publish(path string, kind domain.Kind) (ports.Publisher, error) {
	c, err := b.cell(path, kind)
	if err != nil {
		return nil, err
	}
	return &memPublisher{cell: c}, nil
}

func (b *MemBus) Subscribe(path string, kind domain.Kind, def domain.Value) (ports.Subscriber, error) {
	c, err := b.cell(path, kind)
	if err != nil {
		return nil, err
	}
	return &memSubscriber{cell: c, def: def}, nil
}

func (b *MemBus) Exists(path string) bool {
	b.mu.RLock()
	c, ok := b.cells[path]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.has
}

func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Seed stores a value directly, bypassing handle creation. Tests and
// simulated dashboards use it to stand in for a peer writing to the table.
func (b *MemBus) Seed(path string, v domain.Value) error {
	c, err := b.cell(path, v.Kind)
	if err != nil {
		return err
	}
	c.store(v)
	return nil
}

// Peek returns the retained value for a path, if any.
func (b *MemBus) Peek(path string) (domain.Value, bool) {
	b.mu.RLock()
	c, ok := b.cells[path]
	b.mu.RUnlock()
	if !ok {
		return domain.Value{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val, c.has
}

func (b *MemBus) cell(path string, kind domain.Kind) (*cell, error) {
	if kind == domain.KindInvalid {
		return nil, fmt.Errorf("membus: invalid kind for %q", path)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("membus: closed")
	}
	c, ok := b.cells[path]
	if !ok {
		c = &cell{kind: kind}
		b.cells[path] = c
		return c, nil
	}
	if c.kind != kind {
		return nil, fmt.Errorf("membus: %q is %s, requested %s", path, c.kind, kind)
	}
	return c, nil
}

func (c *cell) store(v domain.Value) {
	c.mu.Lock()
	c.val = v
	c.has = true
	c.mu.Unlock()
}

type memPublisher struct {
	cell *cell
}

func (p *memPublisher) Send(v domain.Value) error {
	if v.Kind != p.cell.kind {
		return fmt.Errorf("membus: send kind %s on %s handle", v.Kind, p.cell.kind)
	}
	p.cell.store(v)
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memSubscriber struct {
	cell *cell
	def  domain.Value
}

func (s *memSubscriber) Latest() domain.Value {
	s.cell.mu.RLock()
	defer s.cell.mu.RUnlock()
	if !s.cell.has {
		return s.def
	}
	return s.cell.val
}

func (s *memSubscriber) Close() error { return nil }

var _ ports.Bus = (*MemBus)(nil)
