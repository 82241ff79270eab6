// Package aie forwards AI Engine device events to the AIE trace plugin.
package aie

import (
	"sync"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
	"github.com/VladMinzatu/xdp-plugins/internal/registry"
)

const ModuleName = "xdp_aie_trace_plugin"

type Callbacks struct {
	UpdateDevice      registry.Slot[abi.DeviceFunc]
	FlushDevice       registry.Slot[abi.DeviceFunc]
	FinishFlushDevice registry.Slot[abi.DeviceFunc]
}

func registerFunctions(h dlfcn.Handle, cb *Callbacks) {
	cb.UpdateDevice.Bind(h, abi.SymUpdateAIEDevice)
	cb.FlushDevice.Bind(h, abi.SymFlushAIEDevice)
	cb.FinishFlushDevice.Bind(h, abi.SymFinishFlushAIEDevice)
}

// Trace drives AIE trace offload. Flushing is two-phase: FlushDevice drains
// the trace buffers, FinishFlushDevice runs once the last flush of the
// device is done.
type Trace struct {
	module *loader.Module[Callbacks]
}

func New(c *loader.Cache) *Trace {
	warn := func() {
		c.Logger().Warn("AIE trace plugin not found, AIE event trace disabled", "module", ModuleName)
	}
	return &Trace{module: loader.Register(c, ModuleName, registerFunctions, warn)}
}

func (t *Trace) Load() loader.Outcome { return t.module.Load() }

func (t *Trace) State() loader.State { return t.module.State() }

func (t *Trace) UpdateDevice(h abi.DeviceHandle) {
	if fn, ok := t.module.Table().UpdateDevice.Get(); ok {
		fn(h.Raw())
	}
}

func (t *Trace) FlushDevice(h abi.DeviceHandle) {
	if fn, ok := t.module.Table().FlushDevice.Get(); ok {
		fn(h.Raw())
	}
}

func (t *Trace) FinishFlushDevice(h abi.DeviceHandle) {
	if fn, ok := t.module.Table().FinishFlushDevice.Get(); ok {
		fn(h.Raw())
	}
}

var std = sync.OnceValue(func() *Trace { return New(loader.Default()) })

func UpdateDevice(h abi.DeviceHandle) { std().UpdateDevice(h) }

func FlushDevice(h abi.DeviceHandle) { std().FlushDevice(h) }

func FinishFlushDevice(h abi.DeviceHandle) { std().FinishFlushDevice(h) }
