package opencl

import (
	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/registry"
)

// Status is an OpenCL command execution status.
type Status int32

const (
	StatusComplete  Status = 0
	StatusRunning   Status = 1
	StatusSubmitted Status = 2
	StatusQueued    Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusRunning:
		return "running"
	case StatusSubmitted:
		return "submitted"
	case StatusQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// Memory object and command flag bits the extractors look at.
const (
	MemExtP2PBuffer uint32 = 1 << 30

	MemWriteOnly    uint64 = 1 << 1
	MemHostNoAccess uint64 = 1 << 9

	MapWriteInvalidateRegion uint64 = 1 << 2

	MigrateToHost           uint64 = 1 << 0
	MigrateContentUndefined uint64 = 1 << 1
)

const unknownBank = "Unknown"

type Device interface {
	Name() string
	// BinaryName is the project name of the binary loaded on the device.
	BinaryName() string
}

// Event is an enqueued command whose status changes are reported to an
// EventAction.
type Event interface {
	UID() uint64
	Device() Device
}

type MemObject interface {
	Size() uint64
	Flags() uint64
	ExtFlags() uint32
	// AddressBank returns the device address and memory bank of the object.
	// It fails when the object has no device allocation yet.
	AddressBank() (uint64, string, error)
	IsResident(d Device) bool
	NoHostMemory() bool
}

type Kernel interface {
	Name() string
	WorkGroupSize() uint64
	CompileWorkGroupSize() [3]uint64
	// Arguments returns the memory objects bound to the kernel, nil for
	// arguments that are not memory objects.
	Arguments() []MemObject
}

// EventAction is attached to an event and called on each status change.
type EventAction func(e Event, status Status)

func noAction(Event, Status) {}

func addressBank(m MemObject) (uint64, string) {
	address, bank, err := m.AddressBank()
	if err != nil {
		return 0, unknownBank
	}
	return address, bank
}

func (t *HostTrace) transfer(slot *registry.Slot[abi.TransferFunc], e Event, status Status, mem MemObject, isP2P bool) {
	fn, ok := slot.Get()
	if !ok {
		return
	}
	switch status {
	case StatusRunning:
		address, bank := addressBank(mem)
		fn(e.UID(), true, address, bank, mem.Size(), isP2P)
	case StatusComplete:
		fn(e.UID(), false, 0, "", 0, isP2P)
	}
}

func started(status Status) bool {
	return status == StatusRunning || status == StatusComplete
}

// ActionRead reports a device to host transfer of buffer.
func (t *HostTrace) ActionRead(buffer MemObject) EventAction {
	return func(e Event, status Status) {
		if !started(status) {
			return
		}
		t.transfer(&t.callbacks().Read, e, status, buffer, buffer.ExtFlags()&MemExtP2PBuffer != 0)
	}
}

// ActionWrite reports a host to device transfer of buffer.
func (t *HostTrace) ActionWrite(buffer MemObject) EventAction {
	return func(e Event, status Status) {
		if !started(status) {
			return
		}
		t.transfer(&t.callbacks().Write, e, status, buffer, buffer.ExtFlags()&MemExtP2PBuffer != 0)
	}
}

// ActionMap reports a map as a read, unless the region is invalidated or the
// buffer is not resident on the event's device.
func (t *HostTrace) ActionMap(buffer MemObject, mapFlags uint64) EventAction {
	return func(e Event, status Status) {
		if !started(status) || mapFlags&MapWriteInvalidateRegion != 0 {
			return
		}
		if !buffer.IsResident(e.Device()) {
			return
		}
		t.transfer(&t.callbacks().Read, e, status, buffer, false)
	}
}

// ActionUnmap reports an unmap as a write. P2P buffers and buffers not
// resident on the device are skipped.
func (t *HostTrace) ActionUnmap(buffer MemObject) EventAction {
	return func(e Event, status Status) {
		if !started(status) || buffer.NoHostMemory() {
			return
		}
		if !buffer.IsResident(e.Device()) {
			return
		}
		t.transfer(&t.callbacks().Write, e, status, buffer, false)
	}
}

// ActionMigrate reports a migration as a read when it goes to the host and as
// a write otherwise. Migrations with undefined content report nothing.
func (t *HostTrace) ActionMigrate(mem MemObject, migrationFlags uint64) EventAction {
	if migrationFlags&MigrateContentUndefined != 0 {
		return noAction
	}
	if migrationFlags&MigrateToHost != 0 {
		return func(e Event, status Status) {
			if started(status) {
				t.transfer(&t.callbacks().Read, e, status, mem, false)
			}
		}
	}
	return func(e Event, status Status) {
		if started(status) {
			t.transfer(&t.callbacks().Write, e, status, mem, false)
		}
	}
}

// ActionNDRangeMigrate reports the implicit write of kernel arguments that a
// launch migrates to device. The last argument that is not yet resident and
// is readable by the host stands for the whole migration.
func (t *HostTrace) ActionNDRangeMigrate(launch Event, k Kernel) EventAction {
	device := launch.Device()
	var mem MemObject
	for _, arg := range k.Arguments() {
		if arg == nil || arg.IsResident(device) {
			continue
		}
		if arg.Flags()&(MemWriteOnly|MemHostNoAccess) == 0 {
			mem = arg
		}
	}
	if mem == nil {
		return noAction
	}
	return func(e Event, status Status) {
		if started(status) {
			t.transfer(&t.callbacks().Write, e, status, mem, false)
		}
	}
}

// ActionCopy reports a device to device copy. It is P2P when either side is.
func (t *HostTrace) ActionCopy(src, dst MemObject) EventAction {
	return func(e Event, status Status) {
		fn, ok := t.callbacks().Copy.Get()
		if !ok || !started(status) {
			return
		}
		isP2P := src.ExtFlags()&MemExtP2PBuffer != 0 || dst.ExtFlags()&MemExtP2PBuffer != 0
		if status == StatusComplete {
			fn(e.UID(), false, 0, "", 0, "", 0, isP2P)
			return
		}
		srcAddress, srcBank := addressBank(src)
		dstAddress, dstBank := addressBank(dst)
		fn(e.UID(), true, srcAddress, srcBank, dstAddress, dstBank, src.Size(), isP2P)
	}
}

// ActionNDRange reports a kernel execution. Names and work group dimensions
// are captured when the action is created; the compile-time work group size
// of the kernel wins over localWorkSize unless it is all zero.
func (t *HostTrace) ActionNDRange(launch Event, k Kernel, localWorkSize [3]uint64) EventAction {
	device := launch.Device()
	deviceName := device.Name()
	binaryName := device.BinaryName()
	kernelName := k.Name()
	workGroupSize := k.WorkGroupSize()
	dims := k.CompileWorkGroupSize()
	if dims == [3]uint64{} {
		dims = localWorkSize
	}

	return func(e Event, status Status) {
		fn, ok := t.callbacks().NDRange.Get()
		if !ok {
			return
		}
		switch status {
		case StatusRunning:
			fn(e.UID(), true, deviceName, binaryName, kernelName, dims[0], dims[1], dims[2], workGroupSize)
		case StatusComplete:
			fn(e.UID(), false, deviceName, binaryName, kernelName, 0, 0, 0, 0)
		}
	}
}

func ActionRead(buffer MemObject) EventAction { return stdTrace().ActionRead(buffer) }

func ActionWrite(buffer MemObject) EventAction { return stdTrace().ActionWrite(buffer) }

func ActionMap(buffer MemObject, mapFlags uint64) EventAction {
	return stdTrace().ActionMap(buffer, mapFlags)
}

func ActionUnmap(buffer MemObject) EventAction { return stdTrace().ActionUnmap(buffer) }

func ActionMigrate(mem MemObject, migrationFlags uint64) EventAction {
	return stdTrace().ActionMigrate(mem, migrationFlags)
}

func ActionNDRangeMigrate(launch Event, k Kernel) EventAction {
	return stdTrace().ActionNDRangeMigrate(launch, k)
}

func ActionCopy(src, dst MemObject) EventAction { return stdTrace().ActionCopy(src, dst) }

func ActionNDRange(launch Event, k Kernel, localWorkSize [3]uint64) EventAction {
	return stdTrace().ActionNDRange(launch, k, localWorkSize)
}
