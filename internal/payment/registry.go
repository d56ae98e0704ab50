package payment

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps the method names buyers choose ("wallet", "gateway") to the
// strategy that serves them.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(string(s.Rail()), s)
	}
	return r
}

func (r *Registry) Register(method string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[method] = s
}

// Get returns the strategy registered for method.
func (r *Registry) Get(method string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[method]
	if !ok {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}
	return s, nil
}

// Methods lists the registered method names in a stable order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for m := range r.strategies {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Verifier returns the verifier of the strategy registered for method.
func (r *Registry) Verifier(method string) (Verifier, error) {
	s, err := r.Get(method)
	if err != nil {
		return nil, err
	}
	v, ok := s.(Verifier)
	if !ok {
		return nil, fmt.Errorf("payment method %q cannot verify references", method)
	}
	return v, nil
}
