package scp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrHandlerExists  = errors.New("scp: handler already registered")
	ErrFactoryNil     = errors.New("scp: handler factory is nil")
	ErrInvalidHandler = errors.New("scp: invalid handler name")
)

// Registry supplies freshly constructed handlers in a stable order. It is
// queried once when an Scp starts and again for every association.
type Registry[C any] interface {
	Handlers() []ServiceHandler[C]
}

// Factory builds one handler instance.
type Factory[C any] func() ServiceHandler[C]

type factoryEntry[C any] struct {
	name    string
	factory Factory[C]
}

// FactoryRegistry is a Registry of named factories kept in registration
// order.
type FactoryRegistry[C any] struct {
	mu      sync.RWMutex
	entries []factoryEntry[C]
}

func NewFactoryRegistry[C any]() *FactoryRegistry[C] {
	return &FactoryRegistry[C]{}
}

// Register appends a named factory.
func (r *FactoryRegistry[C]) Register(name string, factory Factory[C]) error {
	if factory == nil {
		return ErrFactoryNil
	}
	name = strings.TrimSpace(name)
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidHandler, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.name == name {
			return fmt.Errorf("%w: %s", ErrHandlerExists, name)
		}
	}
	r.entries = append(r.entries, factoryEntry[C]{name: name, factory: factory})
	return nil
}

// Names lists registered handlers in registration order.
func (r *FactoryRegistry[C]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.name)
	}
	return out
}

// Handlers constructs one instance of every registered handler. Factories
// returning nil are skipped.
func (r *FactoryRegistry[C]) Handlers() []ServiceHandler[C] {
	r.mu.RLock()
	entries := append([]factoryEntry[C](nil), r.entries...)
	r.mu.RUnlock()

	out := make([]ServiceHandler[C], 0, len(entries))
	for _, e := range entries {
		if h := e.factory(); h != nil {
			out = append(out, h)
		}
	}
	return out
}

// StaticRegistry returns the same fixed handler list on every query.
type StaticRegistry[C any] []ServiceHandler[C]

func (s StaticRegistry[C]) Handlers() []ServiceHandler[C] {
	return append([]ServiceHandler[C](nil), s...)
}

// isValidName accepts lowercase ids separated by single '.', '-' or '_'.
func isValidName(name string) bool {
	if name == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(name)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
