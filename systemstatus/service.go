// Package systemstatus maintains named gauges describing the running hub.
// Values are either constants or zero-arg providers evaluated at snapshot
// time.
package systemstatus

import (
	"sync"

	"github.com/wirehome/core"
)

// Provider computes a status value on demand.
type Provider func() wirehome.Value

type entry struct {
	value    wirehome.Value
	provider Provider
}

// Service holds the name → value-provider mapping.
type Service struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  wirehome.Logger
}

// NewService creates an empty status service.
func NewService(logger wirehome.Logger) *Service {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	return &Service{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Set stores a constant status value.
func (s *Service) Set(name string, value wirehome.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = entry{value: value}
}

// SetProvider stores a provider evaluated on every read.
func (s *Service) SetProvider(name string, provider Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = entry{provider: provider}
}

// Delete removes a status entry.
func (s *Service) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Get returns the current value of a single entry, or nil when absent.
func (s *Service) Get(name string) wirehome.Value {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()

	if !ok {
		return nil
	}
	return s.resolve(name, e)
}

// Snapshot returns all current values. Providers are evaluated outside any
// write lock; a panicking provider yields nil and is logged.
func (s *Service) Snapshot() map[string]wirehome.Value {
	s.mu.RLock()
	entries := make(map[string]entry, len(s.entries))
	for name, e := range s.entries {
		entries[name] = e
	}
	s.mu.RUnlock()

	out := make(map[string]wirehome.Value, len(entries))
	for name, e := range entries {
		out[name] = s.resolve(name, e)
	}
	return out
}

func (s *Service) resolve(name string, e entry) (value wirehome.Value) {
	if e.provider == nil {
		return e.value
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status provider panicked", "name", name, "error", r)
			value = nil
		}
	}()
	return e.provider()
}
