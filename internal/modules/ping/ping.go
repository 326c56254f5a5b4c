// Package ping provides a minimal built-in module exercising the
// Create/Init/Handle/Release lifecycle end to end: on every receive of
// its ping type it increments a counter and sends itself another, up
// to a configurable limit — the scenario spec §8 S1 describes. Launch
// alone does not start the loop: the opening self-send is FireFirst,
// which the kernel does not call.
package ping

import (
	"strconv"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/module"
)

// Name is the module name ping registers itself under.
const Name = "ping"

// PingType is the user message type this module pings itself with.
const PingType = core.PTypeUser + 10

const defaultLimit = 1000

type state struct {
	handle core.Handle
	count  int
	limit  int
}

type factory struct{}

// Register installs the ping Factory into the static module registry.
// Call from an init() so it's available before any LAUNCH.
func Register() {
	module.Register(Name, factory{})
}

func (factory) Create() module.Instance {
	return &state{limit: defaultLimit}
}

// Init parses an optional decimal round-trip limit from args. It sends
// nothing; the first self-send is FireFirst.
func (factory) Init(inst module.Instance, svc *actor.Service, args string) error {
	st := inst.(*state)
	st.handle = svc.Handle()
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			st.limit = n
		}
	}
	return nil
}

// FireFirst sends the opening self-ping. It has to run after
// MarkInitDone, since Dispatch panics on any message arriving before
// init_done — Init itself cannot safely call Send. The kernel's Launch
// does not call it; a caller that wants the ping loop running calls it
// directly, as this package's tests do.
func FireFirst(inst module.Instance, sender core.Sender, nextSession func() int32) {
	st := inst.(*state)
	sender.Send(st.handle, st.handle, PingType, nextSession(), []byte("PING"))
}

func (factory) Handle(inst module.Instance, ctx *actor.Context, msg core.Message) bool {
	st := inst.(*state)
	if msg.Type != PingType {
		return false
	}
	st.count++
	if st.count >= st.limit {
		return false
	}
	session := ctx.Self.NextSession()
	ctx.Sender.Send(st.handle, st.handle, PingType, session, []byte("PING"))
	return false
}

// Count exposes the current round-trip count, for tests and STAT-like
// inspection without going through the control surface.
func Count(inst module.Instance) int { return inst.(*state).count }

func (factory) Release(module.Instance)     {}
func (factory) Signal(module.Instance, int) {}
