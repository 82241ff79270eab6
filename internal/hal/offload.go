// Package hal forwards HAL-level device events to the device offload plugin.
package hal

import (
	"sync"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
	"github.com/VladMinzatu/xdp-plugins/internal/registry"
)

const ModuleName = "xdp_hal_device_offload_plugin"

type Callbacks struct {
	UpdateDevice registry.Slot[abi.DeviceFunc]
	FlushDevice  registry.Slot[abi.DeviceFunc]
}

func registerFunctions(h dlfcn.Handle, cb *Callbacks) {
	cb.UpdateDevice.Bind(h, abi.SymUpdateDeviceHAL)
	cb.FlushDevice.Bind(h, abi.SymFlushDeviceHAL)
}

type DeviceOffload struct {
	module *loader.Module[Callbacks]
}

func New(c *loader.Cache) *DeviceOffload {
	// the HAL plugin is optional, no warning at this level
	return &DeviceOffload{module: loader.Register(c, ModuleName, registerFunctions, nil)}
}

func (d *DeviceOffload) Load() loader.Outcome { return d.module.Load() }

func (d *DeviceOffload) State() loader.State { return d.module.State() }

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

var std = sync.OnceValue(func() *DeviceOffload { return New(loader.Default()) })

// Load explicitly loads the plugin into the default cache.
func Load() loader.Outcome { return std().Load() }

func UpdateDevice(h abi.DeviceHandle) { std().UpdateDevice(h) }

func FlushDevice(h abi.DeviceHandle) { std().FlushDevice(h) }
