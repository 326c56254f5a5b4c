package actor

import (
	"fmt"
	"time"

	"github.com/webitel/skywork/internal/core"
)

// Context is threaded into every Handler invocation. It carries the
// Sender seam (so a handler can call Send/Timeout/Command without the
// actor package knowing about the scheduler, registry or timing
// wheel) and the worker's notion of "current handle" (spec §4.3 step 2).
type Context struct {
	Self    *Service
	Sender  core.Sender
	Profile bool
}

// CurrentHandle returns the Handle of the service this Context is
// dispatching for — the Go realization of skynet's
// thread-local current_handle(), exposed without any package-global
// state because each dispatch gets its own *Context value.
func (c *Context) CurrentHandle() core.Handle { return c.Self.Handle() }

// Dispatch runs one message through svc's handler, following spec
// §4.3 steps 1-7 in order. The caller (the scheduler) must already
// have grabbed a reference to svc and must release it only after
// Dispatch returns.
func Dispatch(ctx *Context, msg core.Message) {
	svc := ctx.Self
	if !svc.InitDone() {
		panic(fmt.Sprintf("actor: dispatch on service %s before init_done", svc.Handle()))
	}

	if svc.logSink != nil {
		svc.logSink.Printf("recv type=%d session=%d source=%s size=%d",
			msg.Type, msg.Session, msg.Source, len(msg.Payload))
	}

	svc.messageCount.Add(1)

	var start time.Time
	if ctx.Profile {
		start = time.Now()
	}

	retain := svc.handler(ctx, msg)

	if ctx.Profile {
		svc.cpuCostNanos.Add(int64(time.Since(start)))
	}

	if !retain {
		msg.Payload = nil
	}
}
