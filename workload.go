package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/aie"
	"github.com/VladMinzatu/xdp-plugins/internal/hal"
	"github.com/VladMinzatu/xdp-plugins/internal/opencl"
)

// The synthetic workload stands in for an OpenCL application running on a
// runtime that calls into the trace modules.

type simDevice struct {
	name   string
	handle abi.DeviceHandle
}

func (d *simDevice) Name() string       { return d.name }
func (d *simDevice) BinaryName() string { return "vadd" }

type simQueue struct {
	address uint64
	ooo     bool
}

func (q *simQueue) Address() uint64  { return q.address }
func (q *simQueue) OutOfOrder() bool { return q.ooo }

type simEvent struct {
	uid    uint64
	device opencl.Device
}

func (e *simEvent) UID() uint64           { return e.uid }
func (e *simEvent) Device() opencl.Device { return e.device }

type simBuffer struct {
	size     uint64
	bank     string
	address  uint64
	resident atomic.Bool
}

func (b *simBuffer) Size() uint64     { return b.size }
func (b *simBuffer) Flags() uint64    { return 0 }
func (b *simBuffer) ExtFlags() uint32 { return 0 }
func (b *simBuffer) AddressBank() (uint64, string, error) {
	if !b.resident.Load() {
		return 0, "", errors.New("buffer not allocated on device")
	}
	return b.address, b.bank, nil
}
func (b *simBuffer) IsResident(opencl.Device) bool { return b.resident.Load() }
func (b *simBuffer) NoHostMemory() bool            { return false }

type simKernel struct {
	name string
	args []opencl.MemObject
}

func (k *simKernel) Name() string                    { return k.name }
func (k *simKernel) WorkGroupSize() uint64           { return 64 }
func (k *simKernel) CompileWorkGroupSize() [3]uint64 { return [3]uint64{} }
func (k *simKernel) Arguments() []opencl.MemObject   { return k.args }

var eventIDs atomic.Uint64

func newEvent(d opencl.Device) *simEvent {
	return &simEvent{uid: eventIDs.Add(1), device: d}
}

// run reports the running and complete status of a command to its actions.
func run(e opencl.Event, actions ...opencl.EventAction) {
	for _, a := range actions {
		a(e, opencl.StatusSubmitted)
	}
	for _, a := range actions {
		a(e, opencl.StatusRunning)
	}
	for _, a := range actions {
		a(e, opencl.StatusComplete)
	}
}

// runWorkload drives workers threads until ctx is done and returns the number
// of traced API calls.
func runWorkload(ctx context.Context, workers int) uint64 {
	dev := &simDevice{name: "xilinx_u250_gen3x16", handle: abi.NewDeviceHandle(0x7f0000001000)}
	hal.UpdateDevice(dev.handle)
	opencl.UpdateDevice(dev.handle)
	aie.UpdateDevice(dev.handle)

	var calls atomic.Uint64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			q := &simQueue{address: 0x5000 + uint64(w)*0x100, ooo: w%2 == 1}
			for i := 0; ctx.Err() == nil; i++ {
				calls.Add(enqueueVadd(dev, q, fmt.Sprintf("DDR[%d]", w%4), i))
			}
		}(w)
	}
	wg.Wait()

	hal.FlushDevice(dev.handle)
	opencl.FlushDevice(dev.handle)
	aie.FlushDevice(dev.handle)
	aie.FinishFlushDevice(dev.handle)
	return calls.Load()
}

// enqueueVadd traces one write, kernel, read round trip and returns the
// number of API calls it made.
func enqueueVadd(dev *simDevice, q *simQueue, bank string, i int) uint64 {
	in := &simBuffer{size: 4096, bank: bank, address: 0x4000_0000 + uint64(i%64)*0x1000}
	out := &simBuffer{size: 4096, bank: bank, address: 0x8000_0000 + uint64(i%64)*0x1000}
	out.resident.Store(true)
	k := &simKernel{name: "krnl_vadd", args: []opencl.MemObject{in, out}}

	call := opencl.StartAPI("clCreateBuffer", nil)
	call.End()

	call = opencl.StartAPI("clEnqueueNDRangeKernel", q)
	launch := newEvent(dev)
	migrate := newEvent(dev)
	migrateAction := opencl.ActionNDRangeMigrate(launch, k)
	run(migrate, migrateAction)
	in.resident.Store(true)
	opencl.LogDependency(launch.UID(), migrate.UID())
	run(launch, opencl.ActionNDRange(launch, k, [3]uint64{64, 1, 1}))
	call.End()

	call = opencl.StartAPI("clEnqueueReadBuffer", q)
	read := newEvent(dev)
	opencl.LogDependency(read.UID(), launch.UID())
	run(read, opencl.ActionRead(out))
	call.End()

	call = opencl.StartAPI("clFinish", q)
	call.End()
	return 4
}
