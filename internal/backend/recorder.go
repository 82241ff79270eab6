// Package backend is a reference implementation of the trace module side of
// the callback ABI. It records every callback in memory; a Flusher drains the
// recorded data to a Sink at a fixed interval.
package backend

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind int

const (
	KindAPI Kind = iota
	KindRead
	KindWrite
	KindCopy
	KindKernel
)

func (k Kind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindCopy:
		return "copy"
	case KindKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Span is one API call or device command, built from its start and end
// callbacks.
type Span struct {
	Kind      Kind
	ID        uint64
	Name      string
	Queue     uint64
	Start     time.Time
	End       time.Time
	DependsOn []uint64

	Address    uint64
	Bank       string
	DstAddress uint64
	DstBank    string
	Bytes      uint64
	P2P        bool

	Device        string
	Binary        string
	WorkGroup     [3]uint64
	WorkGroupSize uint64
}

func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// DeviceEvent is a device lifecycle callback (update, flush, finish flush).
type DeviceEvent struct {
	Time   time.Time
	Module string
	Op     string
	Handle uintptr
}

// Batch is everything completed since the previous Take.
type Batch struct {
	RunID   uuid.UUID
	Seq     uint64
	Time    time.Time
	Spans   []Span
	Devices []DeviceEvent
}

func (b Batch) Empty() bool { return len(b.Spans) == 0 && len(b.Devices) == 0 }

// APISample is the accumulated host time of one function on one queue.
type APISample struct {
	Function string
	Queue    uint64
	Calls    uint64
	Total    time.Duration
	Last     time.Time
}

// QueueName names a command queue by address; 0 stands for calls not bound
// to a queue.
func QueueName(queue uint64) string {
	if queue == 0 {
		return "host"
	}
	return fmt.Sprintf("queue 0x%x", queue)
}

// APIStats is the counters view of a function, keyed by name only.
type APIStats struct {
	Function   string
	Calls      uint64
	OutOfOrder uint64
	Total      time.Duration
	Max        time.Duration
}

type spanKey struct {
	kind Kind
	id   uint64
}

type apiKey struct {
	function string
	queue    uint64
}

type Option func(*Recorder)

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func WithRunID(id uuid.UUID) Option {
	return func(r *Recorder) { r.runID = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// Recorder is safe for concurrent use; callbacks arrive from any thread of
// the host.
type Recorder struct {
	runID  uuid.UUID
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint64
	open     map[spanKey]*Span
	done     []Span
	devices  []DeviceEvent
	deps     map[uint64][]uint64
	apiTime  map[apiKey]*APISample
	counters map[string]*APIStats
	inFlight map[string][]time.Time
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		runID:    uuid.New(),
		now:      time.Now,
		logger:   slog.Default(),
		open:     make(map[spanKey]*Span),
		deps:     make(map[uint64][]uint64),
		apiTime:  make(map[apiKey]*APISample),
		counters: make(map[string]*APIStats),
		inFlight: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) RunID() uuid.UUID { return r.runID }

func (r *Recorder) begin(s Span) {
	s.Start = r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[spanKey{s.Kind, s.ID}] = &s
}

// finish closes the open span of kind and id and attaches the dependencies
// logged for id so far.
func (r *Recorder) finish(kind Kind, id uint64) {
	end := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	key := spanKey{kind, id}
	s, ok := r.open[key]
	if !ok {
		r.logger.Debug("End without start, ignoring", "kind", kind, "id", id)
		return
	}
	delete(r.open, key)
	s.End = end
	if deps, ok := r.deps[id]; ok {
		s.DependsOn = deps
		delete(r.deps, id)
	}
	r.done = append(r.done, *s)

	if kind == KindAPI {
		k := apiKey{s.Name, s.Queue}
		a, ok := r.apiTime[k]
		if !ok {
			a = &APISample{Function: s.Name, Queue: s.Queue}
			r.apiTime[k] = a
		}
		a.Calls++
		a.Total += s.Duration()
		a.Last = end
	}
}

func (r *Recorder) FunctionStart(functionName string, queueAddress, functionID uint64) {
	r.begin(Span{Kind: KindAPI, ID: functionID, Name: functionName, Queue: queueAddress})
}

func (r *Recorder) FunctionEnd(functionName string, queueAddress, functionID uint64) {
	r.finish(KindAPI, functionID)
}

func (r *Recorder) AddDependency(id, dependency uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps[id] = append(r.deps[id], dependency)
}

func (r *Recorder) transfer(kind Kind, id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	if !isStart {
		r.finish(kind, id)
		return
	}
	r.begin(Span{
		Kind:    kind,
		ID:      id,
		Name:    kind.String(),
		Address: deviceAddress,
		Bank:    memoryResource,
		Bytes:   bufferSize,
		P2P:     isP2P,
	})
}

func (r *Recorder) ActionRead(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	r.transfer(KindRead, id, isStart, deviceAddress, memoryResource, bufferSize, isP2P)
}

func (r *Recorder) ActionWrite(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	r.transfer(KindWrite, id, isStart, deviceAddress, memoryResource, bufferSize, isP2P)
}

func (r *Recorder) ActionCopy(id uint64, isStart bool, srcDeviceAddress uint64, srcMemoryResource string, dstDeviceAddress uint64, dstMemoryResource string, bufferSize uint64, isP2P bool) {
	if !isStart {
		r.finish(KindCopy, id)
		return
	}
	r.begin(Span{
		Kind:       KindCopy,
		ID:         id,
		Name:       KindCopy.String(),
		Address:    srcDeviceAddress,
		Bank:       srcMemoryResource,
		DstAddress: dstDeviceAddress,
		DstBank:    dstMemoryResource,
		Bytes:      bufferSize,
		P2P:        isP2P,
	})
}

func (r *Recorder) ActionNDRange(id uint64, isStart bool, deviceName, binaryName, kernelName string, workgroupX, workgroupY, workgroupZ, workgroupSize uint64) {
	if !isStart {
		r.finish(KindKernel, id)
		return
	}
	r.begin(Span{
		Kind:          KindKernel,
		ID:            id,
		Name:          kernelName,
		Device:        deviceName,
		Binary:        binaryName,
		WorkGroup:     [3]uint64{workgroupX, workgroupY, workgroupZ},
		WorkGroupSize: workgroupSize,
	})
}

func (r *Recorder) CounterFunctionStart(functionName string, queueAddress uint64, isOOO bool) {
	start := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight[functionName] = append(r.inFlight[functionName], start)
	st := r.stats(functionName)
	if isOOO {
		st.OutOfOrder++
	}
}

func (r *Recorder) CounterFunctionEnd(functionName string) {
	end := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	starts := r.inFlight[functionName]
	if len(starts) == 0 {
		r.logger.Debug("Counter end without start, ignoring", "function", functionName)
		return
	}
	start := starts[len(starts)-1]
	r.inFlight[functionName] = starts[:len(starts)-1]

	st := r.stats(functionName)
	d := end.Sub(start)
	st.Calls++
	st.Total += d
	st.Max = max(st.Max, d)
}

func (r *Recorder) stats(functionName string) *APIStats {
	st, ok := r.counters[functionName]
	if !ok {
		st = &APIStats{Function: functionName}
		r.counters[functionName] = st
	}
	return st
}

func (r *Recorder) device(module, op string) func(uintptr) {
	return func(handle uintptr) {
		ev := DeviceEvent{Time: r.now(), Module: module, Op: op, Handle: handle}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.devices = append(r.devices, ev)
	}
}

// Take returns and forgets everything completed so far. Spans still open stay
// in the recorder.
func (r *Recorder) Take() Batch {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	b := Batch{
		RunID:   r.runID,
		Seq:     r.seq,
		Time:    now,
		Spans:   r.done,
		Devices: r.devices,
	}
	r.done = nil
	r.devices = nil
	return b
}

// OpenSpans is the number of spans started and not yet ended.
func (r *Recorder) OpenSpans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// APISamples returns the accumulated host time per function and queue,
// ordered by function then queue.
func (r *Recorder) APISamples() []APISample {
	r.mu.Lock()
	out := make([]APISample, 0, len(r.apiTime))
	for _, a := range r.apiTime {
		out = append(out, *a)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Function == out[j].Function {
			return out[i].Queue < out[j].Queue
		}
		return out[i].Function < out[j].Function
	})
	return out
}

// Summary returns the counters, most expensive function first.
func (r *Recorder) Summary() []APIStats {
	r.mu.Lock()
	out := make([]APIStats, 0, len(r.counters))
	for _, st := range r.counters {
		out = append(out, *st)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].Function < out[j].Function
		}
		return out[i].Total > out[j].Total
	})
	return out
}
