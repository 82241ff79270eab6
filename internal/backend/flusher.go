package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type Source interface {
	Take() Batch
}

type Sink interface {
	WriteBatch(ctx context.Context, b Batch) error
}

// Flusher periodically moves completed trace data from a Source to a Sink,
// the way continuous offload keeps device buffers from filling up.
type Flusher struct {
	interval time.Duration
	source   Source
	sink     Sink
	logger   *slog.Logger

	started bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewFlusher(interval time.Duration, source Source, sink Sink, logger *slog.Logger) (*Flusher, error) {
	if interval <= 1*time.Millisecond {
		return nil, errors.New("invalid interval; must be > 1ms")
	}
	if source == nil || sink == nil {
		return nil, errors.New("source and sink are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		interval: interval,
		source:   source,
		sink:     sink,
		logger:   logger,
	}, nil
}

func (f *Flusher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return errors.New("flusher already started")
	}
	f.started = true
	f.ctx, f.cancel = context.WithCancel(context.Background())

	f.wg.Add(1)
	go f.loop(f.ctx)
	return nil
}

// Stop ends the periodic loop and writes whatever completed since the last
// tick.
func (f *Flusher) Stop() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return errors.New("flusher not started")
	}
	f.cancel()
	f.started = false
	f.mu.Unlock()

	f.wg.Wait()
	return f.flush(context.Background())
}

func (f *Flusher) loop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.flush(ctx); err != nil {
				f.logger.Warn("Failed to write trace batch", "error", err)
			}
		}
	}
}

func (f *Flusher) flush(ctx context.Context) error {
	b := f.source.Take()
	if b.Empty() {
		return nil
	}
	if err := f.sink.WriteBatch(ctx, b); err != nil {
		return err
	}
	f.logger.Debug("Trace batch written", "seq", b.Seq, "spans", len(b.Spans), "devices", len(b.Devices))
	return nil
}
