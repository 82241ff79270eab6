// Package abi holds the call signatures and symbol names shared between the
// host runtime and the trace plugins it may load.
//
// The signatures are aliases of unnamed function types: a plugin exporting
// `func UpdateDeviceHAL(handle uintptr)` satisfies DeviceFunc without
// importing this package. Changing any of them breaks every plugin built
// against the previous version.
package abi

import (
	"fmt"
	"unsafe"
)

type (
	DeviceFunc     = func(handle uintptr)
	FunctionFunc   = func(functionName string, queueAddress uint64, functionID uint64)
	DependencyFunc = func(id uint64, dependency uint64)
	TransferFunc   = func(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool)
	CopyFunc       = func(id uint64, isStart bool, srcDeviceAddress uint64, srcMemoryResource string, dstDeviceAddress uint64, dstMemoryResource string, bufferSize uint64, isP2P bool)
	NDRangeFunc    = func(id uint64, isStart bool, deviceName, binaryName, kernelName string, workgroupX, workgroupY, workgroupZ, workgroupSize uint64)

	CounterStartFunc = func(functionName string, queueAddress uint64, isOOO bool)
	CounterEndFunc   = func(functionName string)
)

// Exported symbol names. Go plugins only export capitalised identifiers.
const (
	SymUpdateDeviceHAL = "UpdateDeviceHAL"
	SymFlushDeviceHAL  = "FlushDeviceHAL"

	SymUpdateDeviceOpenCL = "UpdateDeviceOpenCL"
	SymFlushDeviceOpenCL  = "FlushDeviceOpenCL"

	SymFunctionStart = "FunctionStart"
	SymFunctionEnd   = "FunctionEnd"
	SymAddDependency = "AddDependency"
	SymActionRead    = "ActionRead"
	SymActionWrite   = "ActionWrite"
	SymActionCopy    = "ActionCopy"
	SymActionNDRange = "ActionNDRange"

	SymCounterFunctionStart = "CounterFunctionStart"
	SymCounterFunctionEnd   = "CounterFunctionEnd"

	SymUpdateAIEDevice      = "UpdateAIEDevice"
	SymFlushAIEDevice       = "FlushAIEDevice"
	SymFinishFlushAIEDevice = "FinishFlushAIEDevice"
)

// DeviceHandle is an opaque device handle owned by the runtime. The raw
// value only crosses the plugin boundary; nothing here dereferences it.
type DeviceHandle struct {
	raw uintptr
}

func NewDeviceHandle(raw uintptr) DeviceHandle {
	return DeviceHandle{raw: raw}
}

func DeviceHandleFromPointer(p unsafe.Pointer) DeviceHandle {
	return DeviceHandle{raw: uintptr(p)}
}

func (h DeviceHandle) Raw() uintptr { return h.raw }

func (h DeviceHandle) IsNil() bool { return h.raw == 0 }

func (h DeviceHandle) String() string {
	return fmt.Sprintf("device@0x%x", h.raw)
}
