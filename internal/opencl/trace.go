// Package opencl forwards OpenCL API and command events to the OpenCL trace,
// device offload and counters plugins.
package opencl

import (
	"sync"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
	"github.com/VladMinzatu/xdp-plugins/internal/registry"
)

const TraceModuleName = "xdp_opencl_trace_plugin"

// TraceCallbacks are the host trace entry points of the OpenCL trace plugin.
type TraceCallbacks struct {
	FunctionStart registry.Slot[abi.FunctionFunc]
	FunctionEnd   registry.Slot[abi.FunctionFunc]
	Dependency    registry.Slot[abi.DependencyFunc]
	Read          registry.Slot[abi.TransferFunc]
	Write         registry.Slot[abi.TransferFunc]
	Copy          registry.Slot[abi.CopyFunc]
	NDRange       registry.Slot[abi.NDRangeFunc]
}

func registerTraceFunctions(h dlfcn.Handle, cb *TraceCallbacks) {
	cb.FunctionStart.Bind(h, abi.SymFunctionStart)
	cb.FunctionEnd.Bind(h, abi.SymFunctionEnd)
	cb.Dependency.Bind(h, abi.SymAddDependency)
	cb.Read.Bind(h, abi.SymActionRead)
	cb.Write.Bind(h, abi.SymActionWrite)
	cb.Copy.Bind(h, abi.SymActionCopy)
	cb.NDRange.Bind(h, abi.SymActionNDRange)
}

type HostTrace struct {
	module *loader.Module[TraceCallbacks]
}

func NewHostTrace(c *loader.Cache) *HostTrace {
	warn := func() {
		c.Logger().Warn("OpenCL trace plugin not found, host trace disabled", "module", TraceModuleName)
	}
	return &HostTrace{module: loader.Register(c, TraceModuleName, registerTraceFunctions, warn)}
}

func (t *HostTrace) Load() loader.Outcome { return t.module.Load() }

func (t *HostTrace) State() loader.State { return t.module.State() }

func (t *HostTrace) callbacks() *TraceCallbacks { return t.module.Table() }

func (t *HostTrace) FunctionStart(functionName string, queueAddress, functionID uint64) {
	if fn, ok := t.callbacks().FunctionStart.Get(); ok {
		fn(functionName, queueAddress, functionID)
	}
}

func (t *HostTrace) FunctionEnd(functionName string, queueAddress, functionID uint64) {
	if fn, ok := t.callbacks().FunctionEnd.Get(); ok {
		fn(functionName, queueAddress, functionID)
	}
}

func (t *HostTrace) LogDependency(id, dependency uint64) {
	if fn, ok := t.callbacks().Dependency.Get(); ok {
		fn(id, dependency)
	}
}

func (t *HostTrace) Read(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	if fn, ok := t.callbacks().Read.Get(); ok {
		fn(id, isStart, deviceAddress, memoryResource, bufferSize, isP2P)
	}
}

func (t *HostTrace) Write(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	if fn, ok := t.callbacks().Write.Get(); ok {
		fn(id, isStart, deviceAddress, memoryResource, bufferSize, isP2P)
	}
}

func (t *HostTrace) Copy(id uint64, isStart bool, srcDeviceAddress uint64, srcMemoryResource string, dstDeviceAddress uint64, dstMemoryResource string, bufferSize uint64, isP2P bool) {
	if fn, ok := t.callbacks().Copy.Get(); ok {
		fn(id, isStart, srcDeviceAddress, srcMemoryResource, dstDeviceAddress, dstMemoryResource, bufferSize, isP2P)
	}
}

func (t *HostTrace) NDRange(id uint64, isStart bool, deviceName, binaryName, kernelName string, workgroupX, workgroupY, workgroupZ, workgroupSize uint64) {
	if fn, ok := t.callbacks().NDRange.Get(); ok {
		fn(id, isStart, deviceName, binaryName, kernelName, workgroupX, workgroupY, workgroupZ, workgroupSize)
	}
}

var stdTrace = sync.OnceValue(func() *HostTrace { return NewHostTrace(loader.Default()) })

func FunctionStart(functionName string, queueAddress, functionID uint64) {
	stdTrace().FunctionStart(functionName, queueAddress, functionID)
}

func FunctionEnd(functionName string, queueAddress, functionID uint64) {
	stdTrace().FunctionEnd(functionName, queueAddress, functionID)
}

func LogDependency(id, dependency uint64) {
	stdTrace().LogDependency(id, dependency)
}
