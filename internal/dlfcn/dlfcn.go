// Package dlfcn opens trace modules by logical name and resolves the
// functions they export. It knows nothing about what the symbols mean.
package dlfcn

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// ErrNotFound reports that no module with the requested name exists. It is a
// normal outcome: trace modules are optional.
var ErrNotFound = errors.New("module not found")

// Handle is an opened module. It stays valid until process exit; modules are
// never unloaded since their functions may still be executing.
type Handle interface {
	Name() string
	Path() string
	// Lookup returns the exported value for symbol, or false if the module
	// does not export it. It has no side effects on the module.
	Lookup(symbol string) (any, bool)
}

type Opener interface {
	// Open returns an error wrapping ErrNotFound when the module is absent.
	Open(name string) (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(name string) (Handle, error)

func (f OpenerFunc) Open(name string) (Handle, error) { return f(name) }

// Func is an optionally present function of signature F.
type Func[F any] struct {
	fn F
	ok bool
}

func Some[F any](fn F) Func[F] {
	return Func[F]{fn: fn, ok: true}
}

func (f Func[F]) Get() (F, bool) { return f.fn, f.ok }

func (f Func[F]) Present() bool { return f.ok }

// Resolve looks up symbol in h and returns it typed as F. A missing symbol
// yields an empty Func; so does a symbol of another type, which is logged
// since it usually means the module was built against a different ABI.
//
// Both exported functions (F) and exported function variables (*F) are
// accepted.
func Resolve[F any](h Handle, symbol string) Func[F] {
	if h == nil {
		return Func[F]{}
	}
	v, ok := h.Lookup(symbol)
	if !ok || v == nil {
		return Func[F]{}
	}
	switch fn := v.(type) {
	case F:
		if isNilFunc(fn) {
			return Func[F]{}
		}
		return Some(fn)
	case *F:
		if fn == nil || isNilFunc(*fn) {
			return Func[F]{}
		}
		return Some(*fn)
	}
	var want F
	slog.Warn("Symbol has unexpected type, ignoring it",
		"module", h.Name(), "symbol", symbol,
		"got", fmt.Sprintf("%T", v), "want", fmt.Sprintf("%T", want))
	return Func[F]{}
}

func isNilFunc(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Func && rv.IsNil()
}

// Chain returns an Opener trying each opener in order. The first result that
// is not ErrNotFound wins.
func Chain(openers ...Opener) Opener {
	return OpenerFunc(func(name string) (Handle, error) {
		for _, o := range openers {
			if o == nil {
				continue
			}
			h, err := o.Open(name)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return h, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	})
}
