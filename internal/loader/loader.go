// Package loader opens optional trace modules on first use and publishes the
// callbacks they register.
//
// Each logical module goes through Uninitialized → {Absent, Active, Disabled}
// exactly once per Cache, however many goroutines race on first use. Load
// failures never reach the caller: they are logged and leave the module's
// callback table empty.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
)

type State int32

const (
	Uninitialized State = iota
	// Absent: the module does not exist or is disabled by configuration.
	Absent
	// Active: the module was opened and registered its callbacks.
	Active
	// Disabled: the module exists but could not be used.
	Disabled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Absent:
		return "absent"
	case Active:
		return "active"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Outcome int

const (
	NotFound Outcome = iota
	Loaded
	RegistrationFailed
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "not-found"
	case Loaded:
		return "loaded"
	case RegistrationFailed:
		return "registration-failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// RegisterFunc binds the slots of table from the opened module.
type RegisterFunc[T any] func(h dlfcn.Handle, table *T)

// WarnFunc is called once when the module cannot be found.
type WarnFunc func()

// ErrorFunc validates a freshly registered table. A non-nil error disables
// the module.
type ErrorFunc[T any] func(table *T) error

type Option[T any] func(*Module[T])

func WithErrorFunc[T any](fn ErrorFunc[T]) Option[T] {
	return func(m *Module[T]) { m.validate = fn }
}

// Module is the one-shot loader of a single logical module. T is the
// domain's callback table.
type Module[T any] struct {
	name     string
	cache    *Cache
	register RegisterFunc[T]
	warn     WarnFunc
	validate ErrorFunc[T]

	once    sync.Once
	state   atomic.Int32
	table   *T
	handle  dlfcn.Handle
	outcome Outcome
	err     error
}

// Register returns the module called name in c, creating it on the first
// call. Later calls with the same name return the existing module and their
// arguments are ignored, so the module is opened and registered at most once.
//
// Requesting a name already registered with another table type is a
// programming error and panics.
func Register[T any](c *Cache, name string, register RegisterFunc[T], warn WarnFunc, opts ...Option[T]) *Module[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.modules[name]; ok {
		m, ok := existing.(*Module[T])
		if !ok {
			panic(fmt.Sprintf("loader: module %q already registered as %T", name, existing))
		}
		return m
	}

	m := &Module[T]{
		name:     name,
		cache:    c,
		register: register,
		warn:     warn,
	}
	for _, opt := range opts {
		opt(m)
	}
	c.modules[name] = m
	return m
}

func (m *Module[T]) Name() string { return m.name }

// Load runs the open-and-register sequence if it has not run yet and
// returns its outcome.
func (m *Module[T]) Load() Outcome {
	m.once.Do(m.load)
	return m.outcome
}

// Table returns the published callback table, loading the module first if
// needed. The table is never nil; for a module that is not active all of
// its slots are empty.
func (m *Module[T]) Table() *T {
	m.once.Do(m.load)
	return m.table
}

// State reports the current state without triggering a load.
func (m *Module[T]) State() State {
	return State(m.state.Load())
}

// Err returns why the module is not active, after Load.
func (m *Module[T]) Err() error {
	m.once.Do(m.load)
	return m.err
}

// Handle returns the opened module, or nil if the module is not active.
func (m *Module[T]) Handle() dlfcn.Handle {
	m.once.Do(m.load)
	return m.handle
}

func (m *Module[T]) load() {
	logger := m.cache.logger.With("module", m.name)
	outcome, state, handle, table, err := m.open(logger)

	if table == nil {
		table = new(T)
	}
	m.table = table
	m.handle = handle
	m.outcome = outcome
	m.err = err
	m.state.Store(int32(state))
	m.cache.opened(m.name, state)
}

func (m *Module[T]) open(logger *slog.Logger) (outcome Outcome, state State, handle dlfcn.Handle, table *T, err error) {
	if !m.cache.allowed(m.name) {
		logger.Debug("Module disabled by configuration")
		return NotFound, Absent, nil, nil, ErrDisabledByConfig
	}

	h, err := m.cache.opener.Open(m.name)
	if errors.Is(err, dlfcn.ErrNotFound) {
		logger.Debug("Module not found", "error", err)
		if m.warn != nil {
			m.warn()
		}
		return NotFound, Absent, nil, nil, err
	}
	if err != nil {
		logger.Error("Failed to open module", "error", err)
		return RegistrationFailed, Disabled, nil, nil, err
	}

	staging := new(T)
	if err := m.runRegister(h, staging); err != nil {
		logger.Error("Module registration failed", "path", h.Path(), "error", err)
		return RegistrationFailed, Disabled, nil, nil, err
	}
	if m.validate != nil {
		if err := m.validate(staging); err != nil {
			err = fmt.Errorf("%w: %w", ErrRegistrationInvalid, err)
			logger.Error("Module rejected its registration", "path", h.Path(), "error", err)
			return RegistrationFailed, Disabled, nil, nil, err
		}
	}

	logger.Info("Module loaded", "path", h.Path())
	return Loaded, Active, h, staging, nil
}

func (m *Module[T]) runRegister(h dlfcn.Handle, staging *T) (err error) {
	if m.register == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during registration: %v", ErrRegistrationInvalid, r)
		}
	}()
	m.register(h, staging)
	return nil
}
