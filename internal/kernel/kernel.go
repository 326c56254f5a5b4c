// Package kernel is the composition root: it owns one instance each
// of the registry, run queue, scheduler, timer wheel, stall monitor,
// netio engine, harbor stub and control surface, wires them together,
// and is itself the core.Sender every other package calls back
// through.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/control"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/harbor"
	"github.com/webitel/skywork/internal/mailbox"
	"github.com/webitel/skywork/internal/module"
	"github.com/webitel/skywork/internal/netio"
	"github.com/webitel/skywork/internal/registry"
	"github.com/webitel/skywork/internal/runqueue"
	"github.com/webitel/skywork/internal/scheduler"
	"github.com/webitel/skywork/internal/stall"
	"github.com/webitel/skywork/internal/timer"
)

// Config carries the spec's "environment" boot keys (§6 "Environment")
// that shape kernel construction rather than runtime behavior.
type Config struct {
	Threads int
	Harbor  uint8 // local node id
	Profile bool
}

// Kernel is the running system. It implements core.Sender so every
// lower package (actor, timer, netio, harbor, control) can push
// messages without importing anything above itself.
type Kernel struct {
	logger *slog.Logger
	cfg    Config

	reg     *registry.Registry
	runq    *runqueue.Queue
	loader  *module.Loader
	sched   *scheduler.Scheduler
	mon     *stall.Monitor
	wheel   *timer.Wheel
	net     *netio.Engine
	harbor  *harbor.Harbor
	surface *control.Surface

	bootTime time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New assembles a Kernel but does not start any goroutine yet — that
// happens in Start, matching the teacher's fx.Lifecycle split between
// construction and hook registration.
func New(logger *slog.Logger, cfg Config) *Kernel {
	k := &Kernel{
		logger:   logger,
		cfg:      cfg,
		reg:      registry.New(cfg.Harbor),
		runq:     runqueue.New(),
		loader:   module.NewLoader(),
		wheel:    timer.New(),
		harbor:   harbor.New(cfg.Harbor),
		bootTime: time.Now(),
	}
	k.surface = control.New(k.reg, k.wheel, k.Launch, k.bootTime)
	k.mon = stall.New(logger, cfg.Threads, 5*time.Second, func(h core.Handle) {
		if svc, ok := k.reg.Grab(h); ok {
			svc.MarkEndless()
			svc.Release()
		}
	})

	drop := func(msg core.Message) {
		k.deliverError(msg)
	}
	k.sched = scheduler.New(logger, cfg.Threads, k.reg, k.runq, k.mon, k, cfg.Profile, drop, scheduler.DefaultWeightPolicy)

	var err error
	k.net, err = netio.New(func(msg core.Message) { k.pushSynthesized(msg) })
	if err != nil {
		panic(fmt.Sprintf("kernel: netio engine: %v", err))
	}
	return k
}

// Send implements core.Sender. It is the single entry point every
// message in the system flows through: local dispatch appends to the
// destination's mailbox and pushes it onto the global run queue if it
// wasn't already there; remote destinations are classified and handed
// to the harbor delegate instead.
func (k *Kernel) Send(source, dest core.Handle, msgType uint8, session int32, payload []byte) error {
	if err := core.ValidatePayloadLen(len(payload)); err != nil {
		return err
	}
	msg := core.Message{Source: source, Dest: dest, Session: session, Type: msgType, Payload: payload}

	if k.harbor.Classify(dest) {
		return k.harbor.Forward(context.Background(), msg)
	}

	svc, ok := k.reg.Grab(dest)
	if !ok {
		k.deliverError(msg)
		return core.ErrInvalidHandle
	}
	defer svc.Release()

	if svc.Mailbox().Push(msg) {
		k.runq.Push(svc.Mailbox())
	}
	k.runq.Signal()
	return nil
}

// deliverError synthesizes the PTypeError reply a drop produces (spec
// §3: "each such drop sends a PTYPE_ERROR back to the original
// sender").
func (k *Kernel) deliverError(msg core.Message) {
	if !msg.Source.Valid() {
		return
	}
	_ = k.Send(msg.Dest, msg.Source, core.PTypeError, msg.Session, nil)
}

// pushSynthesized routes a netio- or timer-originated message into
// the addressed mailbox the same way Send does for user traffic, and
// wakes a worker.
func (k *Kernel) pushSynthesized(msg core.Message) {
	svc, ok := k.reg.Grab(msg.Dest)
	if !ok {
		return
	}
	defer svc.Release()
	if svc.Mailbox().Push(msg) {
		k.runq.Push(svc.Mailbox())
	}
	k.runq.Signal()
}

// Launch implements control.Launcher: resolve the module factory,
// create+register a Service, then run its Init hook. Per spec §4.4,
// a Service only becomes dispatchable once Init returns successfully.
func (k *Kernel) Launch(modname, args string) (core.Handle, error) {
	factory, err := k.loader.Query(modname)
	if err != nil {
		return 0, err
	}
	inst := factory.Create()

	svc, err := k.reg.Register(func(h core.Handle) *actor.Service {
		handler := func(ctx *actor.Context, msg core.Message) bool {
			return factory.Handle(inst, ctx, msg)
		}
		return actor.New(h, modname, inst, handler)
	})
	if err != nil {
		return 0, err
	}

	svc.SetLifecycle(
		func() { factory.Release(inst) },
		func(n int) { factory.Signal(inst, n) },
	)

	if err := factory.Init(inst, svc, args); err != nil {
		k.reg.Retire(svc.Handle())
		return 0, fmt.Errorf("kernel: module %q init: %w", modname, err)
	}
	svc.MarkInitDone()
	return svc.Handle(), nil
}

// Surface exposes the control command dispatcher for adminhttp and
// any in-process caller.
func (k *Kernel) Surface() *control.Surface { return k.surface }

// Registry exposes the identity registry for adminhttp's STAT routes.
func (k *Kernel) Registry() *registry.Registry { return k.reg }

// Mailbox looks up h's mailbox for diagnostic inspection, without
// taking a lasting reference (it Grabs h and releases it on return).
func (k *Kernel) Mailbox(h core.Handle) (*mailbox.Mailbox, bool) {
	svc, ok := k.reg.Grab(h)
	if !ok {
		return nil, false
	}
	defer svc.Release()
	return svc.Mailbox(), true
}

// Start launches the scheduler, timer, stall monitor and netio engine
// goroutines. It returns once all of them have been started; Stop
// cancels and waits for them to exit.
func (k *Kernel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.done = make(chan struct{})

	go k.mon.Run()
	go k.wheel.Run(runCtx, func(fired []core.Message) {
		for _, m := range fired {
			k.pushSynthesized(m)
		}
	})
	go func() {
		if err := k.net.Run(runCtx); err != nil {
			k.logger.Error("netio engine exited", "error", err)
		}
	}()
	go func() {
		defer close(k.done)
		if err := k.sched.Run(runCtx); err != nil {
			k.logger.Error("scheduler exited", "error", err)
		}
	}()

	k.logger.Info("kernel started", "threads", k.cfg.Threads, "node", k.cfg.Harbor)
	return nil
}

// Stop implements the shutdown sequence of spec §5: cancel every
// goroutine, wait for the scheduler to drain, then stop the stall
// monitor.
func (k *Kernel) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}
	select {
	case <-k.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	k.mon.Stop()
	k.logger.Info("kernel stopped")
	return nil
}
