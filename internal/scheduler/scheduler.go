// Package scheduler implements the worker pool (spec §4.5, C6): a
// fixed number of goroutines draining mailboxes off the global run
// queue under a per-worker weight policy, coordinated with
// golang.org/x/sync/errgroup the way the rest of the retrieved pack
// supervises goroutine groups.
package scheduler

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/mailbox"
	"github.com/webitel/skywork/internal/registry"
	"github.com/webitel/skywork/internal/runqueue"
	"github.com/webitel/skywork/internal/stall"
)

// DropFunc is invoked for every message drained from a mailbox whose
// Service could not be resolved (already retired) — it must
// synthesize the PTypeError reply spec §3/§4.4 require.
type DropFunc func(msg core.Message)

// Scheduler owns the fixed worker pool.
type Scheduler struct {
	logger  *slog.Logger
	reg     *registry.Registry
	runq    *runqueue.Queue
	stall   *stall.Monitor
	weight  WeightPolicy
	sender  core.Sender
	profile bool
	drop    DropFunc

	n int
}

// New creates a Scheduler with n workers.
func New(logger *slog.Logger, n int, reg *registry.Registry, runq *runqueue.Queue,
	mon *stall.Monitor, sender core.Sender, profile bool, drop DropFunc, weight WeightPolicy) *Scheduler {
	if weight == nil {
		weight = DefaultWeightPolicy
	}
	return &Scheduler{
		logger: logger, reg: reg, runq: runq, stall: mon,
		weight: weight, sender: sender, profile: profile, drop: drop, n: n,
	}
}

// Run starts all n workers and blocks until ctx is cancelled and
// every worker has observed the global run queue's shutdown broadcast.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.n; i++ {
		i := i
		g.Go(func() error {
			s.workerLoop(ctx, i)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.runq.Broadcast()
		return nil
	})
	return g.Wait()
}

// workerLoop realizes spec §4.5's per-worker dispatch loop.
func (s *Scheduler) workerLoop(ctx context.Context, idx int) {
	weight := s.weight(idx)
	var current *mailbox.Mailbox

	for {
		if ctx.Err() != nil {
			return
		}

		if current == nil {
			box, ok := s.runq.Pop()
			if !ok {
				s.runq.Wait()
				if ctx.Err() != nil {
					return
				}
				box, ok = s.runq.Pop()
				if !ok {
					continue
				}
			}
			current = box
		}

		svc, ok := s.reg.Grab(current.Handle())
		if !ok {
			current.MarkRelease()
			current.DrainWithDrop(s.drop)
			current = nil
			continue
		}

		n := batchSize(weight, current.Length())
		dctx := &actor.Context{Self: svc, Sender: s.sender, Profile: s.profile}

		for i := 0; i < n; i++ {
			msg, ok := current.Pop()
			if !ok {
				break
			}
			if s.stall != nil {
				s.stall.Trigger(idx, msg.Source, svc.Handle())
			}
			actor.Dispatch(dctx, msg)
			s.runq.Signal() // a handler may have fanned out messages; wake a peer
		}

		svc.Release()

		// Step 5: if the mailbox is empty now, release it — whether Pop
		// found it empty mid-batch or the batch's last Pop happened to
		// be the message that emptied it, ReleaseIfEmpty clears
		// in_global exactly once, and any later Push re-enqueues it on
		// its own. Otherwise in_global is still set and no Push call
		// will re-enqueue it for us, so we push it back ourselves; if
		// another mailbox is waiting we hand off to it, otherwise we
		// keep draining this one directly without touching the queue.
		if current.ReleaseIfEmpty() {
			current = nil
			continue
		}
		next, ok := s.runq.Pop()
		if ok {
			s.runq.Push(current)
			current = next
		}
	}
}
