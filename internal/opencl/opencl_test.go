package opencl

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
)

// callLog collects formatted callback invocations from any goroutine.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func traceSymbols(log *callLog) map[string]any {
	return map[string]any{
		abi.SymFunctionStart: func(name string, queue, id uint64) {
			log.add("start %s q=%d id=%d", name, queue, id)
		},
		abi.SymFunctionEnd: func(name string, queue, id uint64) {
			log.add("end %s q=%d id=%d", name, queue, id)
		},
		abi.SymAddDependency: func(id, dep uint64) {
			log.add("dep %d->%d", id, dep)
		},
		abi.SymActionRead: func(id uint64, isStart bool, address uint64, bank string, size uint64, p2p bool) {
			log.add("read %d %t %#x %q %d %t", id, isStart, address, bank, size, p2p)
		},
		abi.SymActionWrite: func(id uint64, isStart bool, address uint64, bank string, size uint64, p2p bool) {
			log.add("write %d %t %#x %q %d %t", id, isStart, address, bank, size, p2p)
		},
		abi.SymActionCopy: func(id uint64, isStart bool, srcAddr uint64, srcBank string, dstAddr uint64, dstBank string, size uint64, p2p bool) {
			log.add("copy %d %t %#x %q %#x %q %d %t", id, isStart, srcAddr, srcBank, dstAddr, dstBank, size, p2p)
		},
		abi.SymActionNDRange: func(id uint64, isStart bool, device, binary, kernel string, x, y, z, wg uint64) {
			log.add("ndrange %d %t %s %s %s %d %d %d %d", id, isStart, device, binary, kernel, x, y, z, wg)
		},
	}
}

func newTestCache(modules map[string]map[string]any) *loader.Cache {
	static := dlfcn.NewStaticOpener()
	for name, symbols := range modules {
		static.Register(name, symbols)
	}
	return loader.NewCache(static, loader.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

type fakeDevice struct{ name string }

func (d *fakeDevice) Name() string       { return d.name }
func (d *fakeDevice) BinaryName() string { return "vadd_project" }

type fakeEvent struct {
	uid    uint64
	device Device
}

func (e *fakeEvent) UID() uint64    { return e.uid }
func (e *fakeEvent) Device() Device { return e.device }

type fakeMem struct {
	size     uint64
	flags    uint64
	extFlags uint32
	address  uint64
	bank     string
	resident bool
	noHost   bool
}

func (m *fakeMem) Size() uint64     { return m.size }
func (m *fakeMem) Flags() uint64    { return m.flags }
func (m *fakeMem) ExtFlags() uint32 { return m.extFlags }
func (m *fakeMem) AddressBank() (uint64, string, error) {
	if m.bank == "" {
		return 0, "", errors.New("no device allocation")
	}
	return m.address, m.bank, nil
}
func (m *fakeMem) IsResident(Device) bool { return m.resident }
func (m *fakeMem) NoHostMemory() bool     { return m.noHost }

type fakeKernel struct {
	name    string
	wg      uint64
	compile [3]uint64
	args    []MemObject
}

func (k *fakeKernel) Name() string                    { return k.name }
func (k *fakeKernel) WorkGroupSize() uint64           { return k.wg }
func (k *fakeKernel) CompileWorkGroupSize() [3]uint64 { return k.compile }
func (k *fakeKernel) Arguments() []MemObject          { return k.args }

type fakeQueue struct {
	address uint64
	ooo     bool
}

func (q *fakeQueue) Address() uint64  { return q.address }
func (q *fakeQueue) OutOfOrder() bool { return q.ooo }

func newTrace(t *testing.T) (*HostTrace, *callLog) {
	t.Helper()
	log := &callLog{}
	c := newTestCache(map[string]map[string]any{TraceModuleName: traceSymbols(log)})
	return NewHostTrace(c), log
}

func TestHostTrace_AbsentModuleIsNoop(t *testing.T) {
	tr := NewHostTrace(newTestCache(nil))

	ev := &fakeEvent{uid: 1, device: &fakeDevice{name: "dev0"}}
	tr.FunctionStart("clFinish", 0, 1)
	tr.FunctionEnd("clFinish", 0, 1)
	tr.LogDependency(1, 2)
	tr.ActionRead(&fakeMem{size: 8})(ev, StatusRunning)

	if tr.Load() != loader.NotFound {
		t.Fatalf("expected NotFound, got %s", tr.Load())
	}
	if tr.State() != loader.Absent {
		t.Fatalf("expected Absent, got %s", tr.State())
	}
}

func TestHostTrace_ForwardsDirectCallbacks(t *testing.T) {
	tr, log := newTrace(t)
	tr.FunctionStart("clEnqueueNDRangeKernel", 0x10, 7)
	tr.LogDependency(7, 3)
	tr.FunctionEnd("clEnqueueNDRangeKernel", 0x10, 7)

	want := []string{
		"start clEnqueueNDRangeKernel q=16 id=7",
		"dep 7->3",
		"end clEnqueueNDRangeKernel q=16 id=7",
	}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActionRead_StartAndEnd(t *testing.T) {
	tr, log := newTrace(t)
	ev := &fakeEvent{uid: 42, device: &fakeDevice{name: "dev0"}}
	buf := &fakeMem{size: 4096, address: 0x4000, bank: "DDR[0]", extFlags: MemExtP2PBuffer}

	action := tr.ActionRead(buf)
	action(ev, StatusQueued)
	action(ev, StatusSubmitted)
	action(ev, StatusRunning)
	action(ev, StatusComplete)

	want := []string{
		`read 42 true 0x4000 "DDR[0]" 4096 true`,
		`read 42 false 0x0 "" 0 true`,
	}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActionWrite_UnknownBank(t *testing.T) {
	tr, log := newTrace(t)
	ev := &fakeEvent{uid: 5, device: &fakeDevice{name: "dev0"}}

	tr.ActionWrite(&fakeMem{size: 16})(ev, StatusRunning)

	want := []string{`write 5 true 0x0 "Unknown" 16 false`}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActionMap_Filters(t *testing.T) {
	ev := &fakeEvent{uid: 9, device: &fakeDevice{name: "dev0"}}
	tests := []struct {
		name  string
		mem   *fakeMem
		flags uint64
		want  []string
	}{
		{"resident", &fakeMem{size: 8, resident: true, bank: "HBM[1]", address: 0x10}, 0,
			[]string{`read 9 true 0x10 "HBM[1]" 8 false`, `read 9 false 0x0 "" 0 false`}},
		{"not resident", &fakeMem{size: 8}, 0, nil},
		{"invalidated region", &fakeMem{size: 8, resident: true}, MapWriteInvalidateRegion, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, log := newTrace(t)
			action := tr.ActionMap(tt.mem, tt.flags)
			action(ev, StatusRunning)
			action(ev, StatusComplete)
			if diff := cmp.Diff(tt.want, log.get()); diff != "" {
				t.Fatalf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestActionUnmap_SkipsP2PAndNonResident(t *testing.T) {
	ev := &fakeEvent{uid: 3, device: &fakeDevice{name: "dev0"}}

	tr, log := newTrace(t)
	tr.ActionUnmap(&fakeMem{size: 8, resident: true, noHost: true})(ev, StatusRunning)
	tr.ActionUnmap(&fakeMem{size: 8})(ev, StatusRunning)
	if len(log.get()) != 0 {
		t.Fatalf("expected no calls, got %v", log.get())
	}

	tr.ActionUnmap(&fakeMem{size: 8, resident: true})(ev, StatusComplete)
	want := []string{`write 3 false 0x0 "" 0 false`}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActionMigrate_Direction(t *testing.T) {
	ev := &fakeEvent{uid: 11, device: &fakeDevice{name: "dev0"}}
	mem := &fakeMem{size: 64, bank: "DDR[1]", address: 0x80}

	tests := []struct {
		name  string
		flags uint64
		want  []string
	}{
		{"to host", MigrateToHost, []string{`read 11 true 0x80 "DDR[1]" 64 false`}},
		{"to device", 0, []string{`write 11 true 0x80 "DDR[1]" 64 false`}},
		{"content undefined", MigrateToHost | MigrateContentUndefined, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, log := newTrace(t)
			tr.ActionMigrate(mem, tt.flags)(ev, StatusRunning)
			if diff := cmp.Diff(tt.want, log.get()); diff != "" {
				t.Fatalf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestActionNDRangeMigrate_PicksLastHostReadableArgument(t *testing.T) {
	tr, log := newTrace(t)
	ev := &fakeEvent{uid: 20, device: &fakeDevice{name: "dev0"}}
	k := &fakeKernel{args: []MemObject{
		&fakeMem{size: 1, bank: "a"},
		nil,
		&fakeMem{size: 2, bank: "b"},
		&fakeMem{size: 3, bank: "c", resident: true},
		&fakeMem{size: 4, bank: "d", flags: MemWriteOnly},
		&fakeMem{size: 5, bank: "e", flags: MemHostNoAccess},
	}}

	tr.ActionNDRangeMigrate(ev, k)(ev, StatusRunning)

	want := []string{`write 20 true 0x0 "b" 2 false`}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActionNDRangeMigrate_NothingToMigrate(t *testing.T) {
	tr, log := newTrace(t)
	ev := &fakeEvent{uid: 21, device: &fakeDevice{name: "dev0"}}
	k := &fakeKernel{args: []MemObject{&fakeMem{resident: true}}}

	action := tr.ActionNDRangeMigrate(ev, k)
	action(ev, StatusRunning)
	action(ev, StatusComplete)

	if len(log.get()) != 0 {
		t.Fatalf("expected no calls, got %v", log.get())
	}
}

func TestActionCopy_P2PFromEitherSide(t *testing.T) {
	tr, log := newTrace(t)
	ev := &fakeEvent{uid: 30, device: &fakeDevice{name: "dev0"}}
	src := &fakeMem{size: 128, address: 0x100, bank: "DDR[0]"}
	dst := &fakeMem{extFlags: MemExtP2PBuffer}

	action := tr.ActionCopy(src, dst)
	action(ev, StatusRunning)
	action(ev, StatusComplete)

	want := []string{
		`copy 30 true 0x100 "DDR[0]" 0x0 "Unknown" 128 true`,
		`copy 30 false 0x0 "" 0x0 "" 0 true`,
	}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActionNDRange_WorkGroupDimensions(t *testing.T) {
	ev := &fakeEvent{uid: 40, device: &fakeDevice{name: "u250"}}
	tests := []struct {
		name    string
		compile [3]uint64
		want    string
	}{
		{"compile time size", [3]uint64{16, 1, 1}, "ndrange 40 true u250 vadd_project vadd 16 1 1 64"},
		{"launch size", [3]uint64{}, "ndrange 40 true u250 vadd_project vadd 4 4 2 64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, log := newTrace(t)
			k := &fakeKernel{name: "vadd", wg: 64, compile: tt.compile}
			action := tr.ActionNDRange(ev, k, [3]uint64{4, 4, 2})
			action(ev, StatusRunning)
			action(ev, StatusComplete)

			want := []string{tt.want, "ndrange 40 false u250 vadd_project vadd 0 0 0 0"}
			if diff := cmp.Diff(want, log.get()); diff != "" {
				t.Fatalf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if StatusRunning.String() != "running" || Status(-5).String() != "unknown" {
		t.Fatalf("unexpected status strings")
	}
}

func TestDeviceOffload_OnlyFlushExported(t *testing.T) {
	log := &callLog{}
	c := newTestCache(map[string]map[string]any{
		OffloadModuleName: {
			abi.SymFlushDeviceOpenCL: func(h uintptr) { log.add("flush %#x", h) },
		},
	})
	d := NewDeviceOffload(c)

	h := abi.NewDeviceHandle(0xd00d)
	d.UpdateDevice(h)
	d.FlushDevice(h)

	if d.Load() != loader.Loaded {
		t.Fatalf("expected Loaded, got %s", d.Load())
	}
	if diff := cmp.Diff([]string{"flush 0xd00d"}, log.get()); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}

func TestCounters_ForwardsStartAndEnd(t *testing.T) {
	log := &callLog{}
	c := newTestCache(map[string]map[string]any{
		CountersModuleName: {
			abi.SymCounterFunctionStart: func(name string, queue uint64, ooo bool) {
				log.add("start %s q=%d ooo=%t", name, queue, ooo)
			},
			abi.SymCounterFunctionEnd: func(name string) { log.add("end %s", name) },
		},
	})
	counters := NewCounters(c)
	counters.FunctionStart("clEnqueueWriteBuffer", 0x20, true)
	counters.FunctionEnd("clEnqueueWriteBuffer")

	want := []string{"start clEnqueueWriteBuffer q=32 ooo=true", "end clEnqueueWriteBuffer"}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}
