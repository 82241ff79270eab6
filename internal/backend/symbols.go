package backend

import (
	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/aie"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/hal"
	"github.com/VladMinzatu/xdp-plugins/internal/opencl"
)

// Symbols returns the export table of every trace module, keyed by logical
// module name, with each entry bound to r.
func (r *Recorder) Symbols() map[string]map[string]any {
	return map[string]map[string]any{
		opencl.TraceModuleName: {
			abi.SymFunctionStart: abi.FunctionFunc(r.FunctionStart),
			abi.SymFunctionEnd:   abi.FunctionFunc(r.FunctionEnd),
			abi.SymAddDependency: abi.DependencyFunc(r.AddDependency),
			abi.SymActionRead:    abi.TransferFunc(r.ActionRead),
			abi.SymActionWrite:   abi.TransferFunc(r.ActionWrite),
			abi.SymActionCopy:    abi.CopyFunc(r.ActionCopy),
			abi.SymActionNDRange: abi.NDRangeFunc(r.ActionNDRange),
		},
		opencl.OffloadModuleName: {
			abi.SymUpdateDeviceOpenCL: abi.DeviceFunc(r.device(opencl.OffloadModuleName, "update")),
			abi.SymFlushDeviceOpenCL:  abi.DeviceFunc(r.device(opencl.OffloadModuleName, "flush")),
		},
		opencl.CountersModuleName: {
			abi.SymCounterFunctionStart: abi.CounterStartFunc(r.CounterFunctionStart),
			abi.SymCounterFunctionEnd:   abi.CounterEndFunc(r.CounterFunctionEnd),
		},
		hal.ModuleName: {
			abi.SymUpdateDeviceHAL: abi.DeviceFunc(r.device(hal.ModuleName, "update")),
			abi.SymFlushDeviceHAL:  abi.DeviceFunc(r.device(hal.ModuleName, "flush")),
		},
		aie.ModuleName: {
			abi.SymUpdateAIEDevice:      abi.DeviceFunc(r.device(aie.ModuleName, "update")),
			abi.SymFlushAIEDevice:       abi.DeviceFunc(r.device(aie.ModuleName, "flush")),
			abi.SymFinishFlushAIEDevice: abi.DeviceFunc(r.device(aie.ModuleName, "finish_flush")),
		},
	}
}

// Register makes r the implementation of every trace module served by s.
func (r *Recorder) Register(s *dlfcn.StaticOpener) {
	for name, symbols := range r.Symbols() {
		s.Register(name, symbols)
	}
}

// DeviceFunc returns the device callback r records for module and op, for
// hosts that export it under their own symbol.
func (r *Recorder) DeviceFunc(module, op string) abi.DeviceFunc {
	return r.device(module, op)
}
