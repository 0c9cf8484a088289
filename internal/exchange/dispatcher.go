package exchange

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// Dispatcher holds the enabled venue adapters. Iteration order is
// registration order, which is also the tie-break order for equal quotes.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewDispatcher returns an empty dispatcher. Call Register to add adapters.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		d.Register(a)
	}
	return d
}

// Register adds an adapter. Registering an id twice replaces the adapter but
// keeps its original position.
func (d *Dispatcher) Register(a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.adapters[a.ID()]; !ok {
		d.order = append(d.order, a.ID())
	}
	d.adapters[a.ID()] = a
}

// Get returns the adapter for id, or domain.ErrUnsupportedExchange.
func (d *Dispatcher) Get(id string) (Adapter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.adapters[id]
	if !ok {
		return nil, fmt.Errorf("exchange: %w: %q", domain.ErrUnsupportedExchange, id)
	}
	return a, nil
}

// List returns the adapters in registration order.
func (d *Dispatcher) List() []Adapter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Adapter, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.adapters[id])
	}
	return out
}

// IDs returns the registered venue ids in registration order.
func (d *Dispatcher) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}
