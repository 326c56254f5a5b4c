// Package stall implements the stall monitor (spec §4.6, C7): each
// worker publishes a {version, source, destination} triple on every
// message it is about to dispatch; a background goroutine samples all
// workers every 5s and marks a destination "endless" if its worker's
// version hasn't moved since the last sample.
package stall

import (
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/skywork/internal/core"
)

// MarkFunc is called with the Handle the monitor decided is stuck.
// The kernel binds this to registry lookups + Service.MarkEndless so
// this package never needs to know about the registry or actor types.
type MarkFunc func(destination core.Handle)

type sample struct {
	mu      sync.Mutex
	version uint64
	source  core.Handle
	dest    core.Handle
}

// Monitor tracks one sample slot per worker index.
type Monitor struct {
	logger   *slog.Logger
	mark     MarkFunc
	interval time.Duration

	mu      sync.Mutex
	samples []*sample
	prev    []uint64

	stop chan struct{}
	done chan struct{}
}

// New creates a Monitor for numWorkers workers, sampling every
// interval (spec's reference interval is 5s).
func New(logger *slog.Logger, numWorkers int, interval time.Duration, mark MarkFunc) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &Monitor{
		logger:   logger,
		mark:     mark,
		interval: interval,
		samples:  make([]*sample, numWorkers),
		prev:     make([]uint64, numWorkers),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range m.samples {
		m.samples[i] = &sample{}
	}
	return m
}

// Trigger records that worker i is about to dispatch a message from
// source to destination, and bumps that worker's version. Called
// once per message, right before the handler runs (spec §4.5 step 4:
// "trigger the stall monitor (source,dest)").
func (m *Monitor) Trigger(worker int, source, dest core.Handle) {
	s := m.samples[worker]
	s.mu.Lock()
	s.version++
	s.source = source
	s.dest = dest
	s.mu.Unlock()
}

// Run samples every worker on m.interval until Stop is called.
func (m *Monitor) Run() {
	defer close(m.done)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	for i, s := range m.samples {
		s.mu.Lock()
		ver, dest := s.version, s.dest
		s.mu.Unlock()

		if ver == m.prev[i] && dest.Valid() {
			if m.logger != nil {
				m.logger.Error("worker stall detected", "worker", i, "destination", dest.String())
			}
			if m.mark != nil {
				m.mark(dest)
			}
		}
		m.prev[i] = ver
	}
}

// Stop halts the sampling goroutine and waits for it to return.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}
