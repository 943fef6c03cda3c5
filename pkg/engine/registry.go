package engine

import (
	"fmt"
	"sort"
	"sync"

	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
)

// Factory creates an engine of type T from a Spec.
type Factory[T any] func(spec Spec) (T, error)

// Registry holds named factories for creating engines of type T.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]Factory[T]),
	}
}

// Register adds a named factory, replacing any previous one.
func (r *Registry[T]) Register(name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates an engine using the factory named by spec.Backend.
func (r *Registry[T]) Create(spec Spec) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Backend]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("%w %q (have %v)", tserrors.ErrUnknownBackend, spec.Backend, r.List())
	}

	return factory(spec)
}

// Has returns true if the named factory exists.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered names, sorted.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recognizers returns a registry with the built-in recognizer backends.
func Recognizers() *Registry[Recognizer] {
	r := NewRegistry[Recognizer]()
	r.Register("command", func(spec Spec) (Recognizer, error) { return NewCommandRecognizer(spec) })
	r.Register("http", func(spec Spec) (Recognizer, error) { return NewHTTPRecognizer(spec) })
	r.Register("file", func(spec Spec) (Recognizer, error) { return NewFileRecognizer(spec) })
	return r
}

// Diarizers returns a registry with the built-in diarizer backends.
func Diarizers() *Registry[Diarizer] {
	r := NewRegistry[Diarizer]()
	r.Register("command", func(spec Spec) (Diarizer, error) { return NewCommandDiarizer(spec) })
	r.Register("http", func(spec Spec) (Diarizer, error) { return NewHTTPDiarizer(spec) })
	r.Register("file", func(spec Spec) (Diarizer, error) { return NewFileDiarizer(spec) })
	return r
}
