package loader

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
)

var (
	ErrDisabledByConfig    = errors.New("module disabled by configuration")
	ErrRegistrationInvalid = errors.New("module registration invalid")
)

// Cache is the set of logical modules of one process (or one test). Modules
// registered in a Cache share its opener, logger and filter.
type Cache struct {
	opener dlfcn.Opener
	logger *slog.Logger
	allow  func(name string) bool

	mu      sync.Mutex
	modules map[string]any
	states  map[string]State
}

type CacheOption func(*Cache)

func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithAllow installs a filter consulted before opening a module; modules it
// rejects end up Absent without being opened.
func WithAllow(allow func(name string) bool) CacheOption {
	return func(c *Cache) { c.allow = allow }
}

func NewCache(opener dlfcn.Opener, opts ...CacheOption) *Cache {
	c := &Cache{
		opener:  opener,
		logger:  slog.Default(),
		modules: make(map[string]any),
		states:  make(map[string]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.opener == nil {
		c.opener = dlfcn.NewStaticOpener()
	}
	return c
}

func (c *Cache) Logger() *slog.Logger { return c.logger }

// States returns the state of every module that has finished loading.
func (c *Cache) States() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]State, len(c.states))
	for k, v := range c.states {
		out[k] = v
	}
	return out
}

func (c *Cache) allowed(name string) bool {
	return c.allow == nil || c.allow(name)
}

func (c *Cache) opened(name string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[name] = s
}

var defaultCache atomic.Pointer[Cache]

// Default returns the process-wide cache. Unless SetDefault was called, it
// only knows statically registered modules.
func Default() *Cache {
	if c := defaultCache.Load(); c != nil {
		return c
	}
	defaultCache.CompareAndSwap(nil, NewCache(DefaultStatic))
	return defaultCache.Load()
}

// SetDefault replaces the process-wide cache. It has to happen before the
// first dispatch; domains bind to the default cache on first use.
func SetDefault(c *Cache) {
	defaultCache.Store(c)
}

// DefaultStatic is where in-binary backends register their symbols.
var DefaultStatic = dlfcn.NewStaticOpener()
