package opencl

import (
	"sync"
	"sync/atomic"

	"github.com/VladMinzatu/xdp-plugins/internal/loader"
)

// Queue is the command queue an API call operates on.
type Queue interface {
	Address() uint64
	OutOfOrder() bool
}

// Plugins groups the OpenCL-level domains of one cache. They are loaded
// together on the first API call and are independent afterwards.
type Plugins struct {
	Trace    *HostTrace
	Offload  *DeviceOffload
	Counters *Counters

	load   func() bool
	nextID atomic.Uint64
}

func NewPlugins(c *loader.Cache) *Plugins {
	p := &Plugins{
		Trace:    NewHostTrace(c),
		Offload:  NewDeviceOffload(c),
		Counters: NewCounters(c),
	}
	p.load = sync.OnceValue(func() bool {
		p.Trace.Load()
		p.Offload.Load()
		p.Counters.Load()
		return true
	})
	return p
}

// LoadAll loads every OpenCL-level module. Only the first call does any work.
func (p *Plugins) LoadAll() bool { return p.load() }

// IssueID returns a process-unique, non-zero correlation id.
func (p *Plugins) IssueID() uint64 { return p.nextID.Add(1) }

// APILogger traces one OpenCL API call from its creation until End.
type APILogger struct {
	plugins  *Plugins
	function string
	address  uint64
	id       uint64
}

// StartAPI records the start of function on queue. q may be nil for calls
// not bound to a queue.
func (p *Plugins) StartAPI(function string, q Queue) *APILogger {
	loaded := p.LoadAll()

	l := &APILogger{plugins: p, function: function}
	isOOO := false
	if q != nil {
		l.address = q.Address()
		isOOO = q.OutOfOrder()
	}

	if fn, ok := p.Trace.callbacks().FunctionStart.Get(); ok && loaded {
		l.id = p.IssueID()
		fn(l.function, l.address, l.id)
	}
	p.Counters.FunctionStart(l.function, l.address, isOOO)
	return l
}

// ID is the correlation id sent with the start event, 0 if none was sent.
func (l *APILogger) ID() uint64 { return l.id }

// End records the end of the call. It must be called exactly once.
func (l *APILogger) End() {
	l.plugins.Trace.FunctionEnd(l.function, l.address, l.id)
	l.plugins.Counters.FunctionEnd(l.function)
}

var stdPlugins = sync.OnceValue(func() *Plugins { return NewPlugins(loader.Default()) })

// StartAPI traces function through the default cache:
//
//	defer opencl.StartAPI("clEnqueueReadBuffer", q).End()
func StartAPI(function string, q Queue) *APILogger {
	return stdPlugins().StartAPI(function, q)
}
