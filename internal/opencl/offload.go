package opencl

import (
	"sync"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
	"github.com/VladMinzatu/xdp-plugins/internal/registry"
)

const OffloadModuleName = "xdp_device_offload_plugin"

type OffloadCallbacks struct {
	UpdateDevice registry.Slot[abi.DeviceFunc]
	FlushDevice  registry.Slot[abi.DeviceFunc]
}

func registerOffloadFunctions(h dlfcn.Handle, cb *OffloadCallbacks) {
	cb.UpdateDevice.Bind(h, abi.SymUpdateDeviceOpenCL)
	cb.FlushDevice.Bind(h, abi.SymFlushDeviceOpenCL)
}

// DeviceOffload forwards device lifecycle events of OpenCL devices.
type DeviceOffload struct {
	module *loader.Module[OffloadCallbacks]
}

func NewDeviceOffload(c *loader.Cache) *DeviceOffload {
	return &DeviceOffload{module: loader.Register(c, OffloadModuleName, registerOffloadFunctions, nil)}
}

func (d *DeviceOffload) Load() loader.Outcome { return d.module.Load() }

func (d *DeviceOffload) UpdateDevice(h abi.DeviceHandle) {
	if fn, ok := d.module.Table().UpdateDevice.Get(); ok {
		fn(h.Raw())
	}
}

func (d *DeviceOffload) FlushDevice(h abi.DeviceHandle) {
	if fn, ok := d.module.Table().FlushDevice.Get(); ok {
		fn(h.Raw())
	}
}

var stdOffload = sync.OnceValue(func() *DeviceOffload { return NewDeviceOffload(loader.Default()) })

func UpdateDevice(h abi.DeviceHandle) { stdOffload().UpdateDevice(h) }

func FlushDevice(h abi.DeviceHandle) { stdOffload().FlushDevice(h) }
