package opencl

import (
	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
	"github.com/VladMinzatu/xdp-plugins/internal/registry"
)

const CountersModuleName = "xdp_opencl_counters_plugin"

type CounterCallbacks struct {
	FunctionStart registry.Slot[abi.CounterStartFunc]
	FunctionEnd   registry.Slot[abi.CounterEndFunc]
}

func registerCounterFunctions(h dlfcn.Handle, cb *CounterCallbacks) {
	cb.FunctionStart.Bind(h, abi.SymCounterFunctionStart)
	cb.FunctionEnd.Bind(h, abi.SymCounterFunctionEnd)
}

// Counters feeds the API summary (call counts and durations) plugin.
type Counters struct {
	module *loader.Module[CounterCallbacks]
}

func NewCounters(c *loader.Cache) *Counters {
	return &Counters{module: loader.Register(c, CountersModuleName, registerCounterFunctions, nil)}
}

func (c *Counters) Load() loader.Outcome { return c.module.Load() }

func (c *Counters) FunctionStart(functionName string, queueAddress uint64, isOOO bool) {
	if fn, ok := c.module.Table().FunctionStart.Get(); ok {
		fn(functionName, queueAddress, isOOO)
	}
}

func (c *Counters) FunctionEnd(functionName string) {
	if fn, ok := c.module.Table().FunctionEnd.Get(); ok {
		fn(functionName)
	}
}
