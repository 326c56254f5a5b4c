package actor

import (
	"sync/atomic"

	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/mailbox"
)

// Handler is a service's message handler. retain tells the dispatcher
// not to reclaim payload — by default the dispatcher treats the
// payload as consumed and drops its reference after the call returns.
type Handler func(ctx *Context, msg core.Message) (retain bool)

// LogSink receives one formatted record per dispatched message when
// per-service message logging is enabled (control verb LOGON/LOGOFF).
// Implemented by control's stdout sink and the admin server's tap
// sink; kept as an interface here so actor never has to import them.
type LogSink interface {
	Printf(format string, args ...any)
}

// Service is a logical actor: immutable Handle, its Mailbox, an
// opaque user state managed entirely by Handler, and the stats/flags
// the rest of the core reads (spec §3 "Service").
type Service struct {
	handle core.Handle
	box    *mailbox.Mailbox

	moduleName string
	state      any
	handler    Handler
	release    func()
	signal     func(int)

	session atomic.Int32

	messageCount atomic.Uint64
	cpuCostNanos atomic.Int64

	endless  atomic.Bool
	initDone atomic.Bool
	refs     atomic.Int32

	logSink LogSink // nil unless LOGON was issued
}

// New constructs a Service. The registry assigns handle; the kernel
// is responsible for calling SetLifecycle and MarkInitDone once the
// module's Init hook has run successfully (spec §4.4's creation
// sequence).
func New(handle core.Handle, moduleName string, state any, handler Handler) *Service {
	s := &Service{
		handle:     handle,
		box:        mailbox.New(handle),
		moduleName: moduleName,
		state:      state,
		handler:    handler,
	}
	s.refs.Store(1) // the registry's own reference
	return s
}

// Handle returns the service's immutable identity.
func (s *Service) Handle() core.Handle { return s.handle }

// Mailbox returns the service's mailbox.
func (s *Service) Mailbox() *mailbox.Mailbox { return s.box }

// ModuleName returns the module type this service was launched from.
func (s *Service) ModuleName() string { return s.moduleName }

// State returns the opaque user state the handler closed over at
// creation time. Only the handler itself should mutate it — the
// dispatch invariant (spec §3 "A Service's message handler never runs
// concurrently with itself") is what makes that safe without locks.
func (s *Service) State() any { return s.state }

// NextSession returns a new monotonically increasing session id,
// used by TIMEOUT and by any handler issuing a correlated request.
func (s *Service) NextSession() int32 { return s.session.Add(1) }

// SetLifecycle records the module's release/signal hooks, captured by
// the module loader at Create time so actor never imports module.
func (s *Service) SetLifecycle(release func(), signal func(int)) {
	s.release = release
	s.signal = signal
}

// MarkInitDone flips init_done; Dispatch panics if called before this.
func (s *Service) MarkInitDone() { s.initDone.Store(true) }

// InitDone reports whether Init succeeded.
func (s *Service) InitDone() bool { return s.initDone.Load() }

// Endless reports and is set by the stall monitor (spec §4.6).
func (s *Service) Endless() bool { return s.endless.Load() }

// MarkEndless is called only by the stall monitor.
func (s *Service) MarkEndless() { s.endless.Store(true) }

// ClearEndless implements "STAT endless" returning "1" once and "0"
// thereafter until the next detection (spec §8 S6).
func (s *Service) ClearEndless() bool { return s.endless.CompareAndSwap(true, false) }

// MessageCount and CPUCost are the counters STAT exposes.
func (s *Service) MessageCount() uint64 { return s.messageCount.Load() }
func (s *Service) CPUCost() int64       { return s.cpuCostNanos.Load() }

// Grab increments the reference count. Paired with Release.
func (s *Service) Grab() { s.refs.Add(1) }

// Release decrements the reference count; when it reaches zero the
// module's Release hook runs and the caller (the registry) may
// reclaim the slot. Returns true exactly once, at the 1->0 transition
// (spec §8 invariant 6).
func (s *Service) Release() bool {
	if s.refs.Add(-1) != 0 {
		return false
	}
	if s.release != nil {
		s.release()
	}
	return true
}

// Signal invokes the module's signal hook (control verb SIGNAL).
func (s *Service) Signal(n int) {
	if s.signal != nil {
		s.signal(n)
	}
}

// EnableLog / DisableLog implement LOGON/LOGOFF.
func (s *Service) EnableLog(sink LogSink) { s.logSink = sink }
func (s *Service) DisableLog()            { s.logSink = nil }
func (s *Service) LoggingEnabled() bool   { return s.logSink != nil }
