package dlfcn

import (
	"fmt"
	"maps"
	"sync"
)

// StaticOpener serves modules linked into the host binary. A backend
// registered here is picked up exactly like one loaded from disk.
type StaticOpener struct {
	mu      sync.RWMutex
	modules map[string]*staticHandle
}

func NewStaticOpener() *StaticOpener {
	return &StaticOpener{modules: make(map[string]*staticHandle)}
}

// Register makes symbols available under the logical module name. Registering
// a name twice replaces the previous table for later Opens only; handles
// already returned keep their symbols.
func (s *StaticOpener) Register(name string, symbols map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = &staticHandle{name: name, symbols: maps.Clone(symbols)}
}

func (s *StaticOpener) Open(name string) (Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (static)", ErrNotFound, name)
	}
	return h, nil
}

type staticHandle struct {
	name    string
	symbols map[string]any
}

func (h *staticHandle) Name() string { return h.name }

func (h *staticHandle) Path() string { return "static:" + h.name }

func (h *staticHandle) Lookup(symbol string) (any, bool) {
	v, ok := h.symbols[symbol]
	return v, ok
}
