package waf

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
)

// Factory is a constructor function that backends register to create themselves.
type Factory func(log logr.Logger, opts Options) (Backend, error)

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

// Register is called by backend packages in their init() to self-register.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("waf: backend %q already registered", name))
	}
	factories[name] = f
}

// Registered returns the sorted names of all registered backends.
func Registered() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NewBackend looks up the named backend in the registry and creates it.
func NewBackend(name string, log logr.Logger, opts Options) (Backend, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported WAF backend: %q (registered: %v)", name, Registered())
	}
	return f(log, opts)
}
