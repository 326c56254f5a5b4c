package timer

import (
	"context"
	"time"

	"github.com/webitel/skywork/internal/core"
)

// Run ticks the wheel every Tick and hands each batch of fired
// messages to deliver, until ctx is cancelled. This is the single
// goroutine spec §4.7 assigns to "the timer thread"; the kernel binds
// deliver to its own mailbox push plus a run-queue Signal.
//
// time.Ticker silently coalesces ticks the receiver doesn't keep up
// with (e.g. after the process is paused or descheduled for a while),
// so a plain one-Advance-per-tick loop would let current_tick lag real
// time. Run instead tracks wall-clock elapsed time against Tick and
// calls Advance once for every whole Tick that has actually passed,
// bounding the catch-up to the elapsed duration rather than letting it
// silently fall behind (spec §4.8).
func (w *Wheel) Run(ctx context.Context, deliver func(fired []core.Message)) {
	t := time.NewTicker(Tick)
	defer t.Stop()

	start := time.Now()
	var ticked int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			due := int64(time.Since(start) / Tick)
			for ticked < due {
				ticked++
				if fired := w.Advance(); len(fired) > 0 {
					deliver(fired)
				}
			}
		}
	}
}
