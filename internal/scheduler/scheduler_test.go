package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/registry"
	"github.com/webitel/skywork/internal/runqueue"
)

// fanoutSender mirrors kernel.Kernel.Send's local-delivery path (push
// into the destination's mailbox, push the mailbox onto the run queue
// exactly on the not-in-global -> in-global transition) closely enough
// to exercise workerLoop's mailbox hand-off without a dependency on
// internal/kernel, which itself depends on this package.
type fanoutSender struct {
	reg  *registry.Registry
	runq *runqueue.Queue
}

func (f *fanoutSender) Send(source, dest core.Handle, msgType uint8, session int32, payload []byte) error {
	svc, ok := f.reg.Grab(dest)
	if !ok {
		return core.ErrInvalidHandle
	}
	defer svc.Release()
	msg := core.Message{Source: source, Dest: dest, Type: msgType, Session: session, Payload: payload}
	if svc.Mailbox().Push(msg) {
		f.runq.Push(svc.Mailbox())
	}
	f.runq.Signal()
	return nil
}

// TestWorkerLoopNeverDispatchesConcurrentlyOrStrandsMessages drives a
// handler that repeatedly sends itself another message — the exact
// shape (a self-send landing mid-batch, sometimes right as the
// mailbox empties) that previously made step 5 of workerLoop either
// push the same mailbox onto the run queue twice (letting two workers
// Grab and dispatch the same Service concurrently) or drop a
// still-non-empty mailbox with in_global stuck true (stranding it
// forever).
func TestWorkerLoopNeverDispatchesConcurrentlyOrStrandsMessages(t *testing.T) {
	reg := registry.New(1)
	runq := runqueue.New()
	sender := &fanoutSender{reg: reg, runq: runq}

	const selfSends = 500
	var dispatched atomic.Int64
	var running atomic.Int32
	var concurrentViolation atomic.Bool
	var remaining atomic.Int64
	remaining.Store(selfSends)

	var handle core.Handle
	handler := func(ctx *actor.Context, msg core.Message) bool {
		if running.Add(1) != 1 {
			concurrentViolation.Store(true)
		}
		defer running.Add(-1)

		dispatched.Add(1)
		if remaining.Add(-1) >= 0 {
			ctx.Sender.Send(handle, handle, core.PTypeUser, 0, nil)
		}
		return false
	}

	svc, err := reg.Register(func(h core.Handle) *actor.Service {
		handle = h
		return actor.New(h, "self-sender", nil, handler)
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.MarkInitDone()

	sched := New(nil, 4, reg, runq, nil, sender, false, func(core.Message) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if err := sender.Send(core.Handle(0), handle, core.PTypeUser, 0, nil); err != nil {
		t.Fatalf("seed send: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for dispatched.Load() < selfSends+1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for delivery: dispatched=%d want=%d (stranded mailbox)",
				dispatched.Load(), selfSends+1)
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	wg.Wait()

	if concurrentViolation.Load() {
		t.Fatal("handler ran concurrently with itself — a mailbox was on the run queue more than once")
	}
	if got := dispatched.Load(); got != selfSends+1 {
		t.Fatalf("expected exactly %d dispatches, got %d (duplicate or dropped delivery)", selfSends+1, got)
	}
	if n := svc.Mailbox().Length(); n != 0 {
		t.Fatalf("expected mailbox fully drained, got length %d", n)
	}
}
