package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"UCP-Commerce/internal/money"
)

// Instrument carries the raw payment instrument supplied by the buyer.
// Its shape is handler specific; the mock handler only looks at "token".
type Instrument map[string]any

// Result is the outcome of a payment authorization.
type Result struct {
	Status    string
	Reference string
}

// Handler authorizes a payment for a checkout total.
type Handler interface {
	Descriptor() Descriptor
	Authorize(ctx context.Context, total money.Money, instrument Instrument) (Result, error)
}

// Descriptor describes a handler inside the discovery manifest.
type Descriptor struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Spec              string   `json:"spec,omitempty"`
	ConfigSchema      string   `json:"config_schema,omitempty"`
	InstrumentSchemas []string `json:"instrument_schemas,omitempty"`
	Config            any      `json:"config,omitempty"`
}

// Registry keeps track of the payment handlers a merchant accepts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its descriptor id.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return errors.New("payment handler cannot be nil")
	}
	id := h.Descriptor().ID
	if id == "" {
		return errors.New("payment handler id cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("payment handler %s already registered", id)
	}
	r.handlers[id] = h
	r.order = append(r.order, id)
	return nil
}

// Get returns the handler registered under id.
func (r *Registry) Get(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Descriptors lists descriptors in registration order for discovery.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handlers[id].Descriptor())
	}
	return out
}
