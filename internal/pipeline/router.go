package pipeline

import "fmt"

// Router maps provider names to implementations of one stage interface.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router; fallback names the backend used when an
// unknown name is requested.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend registered under name, or the fallback.
func (r *Router[T]) Route(name string) (T, error) {
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for provider %q", name)
}

func (r *Router[T]) Has(name string) bool {
	_, ok := r.backends[name]
	return ok
}
