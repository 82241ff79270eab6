// Package registry provides the callback slots that trace domains fill from
// a loaded module.
//
// A domain declares a table struct of Slot fields. The loader hands a fresh
// table to the domain's registration function, which binds each slot to the
// symbol it wants; the table is then published once and never written again.
package registry

import (
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
)

// Slot holds an optional function of signature F.
type Slot[F any] struct {
	fn    dlfcn.Func[F]
	bound bool
}

// Bind resolves symbol from h into the slot and reports whether the module
// provides it. Only the first Bind on a slot has an effect.
func (s *Slot[F]) Bind(h dlfcn.Handle, symbol string) bool {
	if s.bound {
		return s.fn.Present()
	}
	s.bound = true
	s.fn = dlfcn.Resolve[F](h, symbol)
	return s.fn.Present()
}

// Set binds the slot to fn directly. Same first-write-wins rule as Bind.
func (s *Slot[F]) Set(fn dlfcn.Func[F]) {
	if s.bound {
		return
	}
	s.bound = true
	s.fn = fn
}

func (s *Slot[F]) Get() (F, bool) { return s.fn.Get() }

func (s *Slot[F]) Present() bool { return s.fn.Present() }
