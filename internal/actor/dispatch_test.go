package actor

import (
	"testing"

	"github.com/webitel/skywork/internal/core"
)

func TestDispatchPanicsBeforeInitDone(t *testing.T) {
	svc := New(core.NewHandle(1, 1), "test", nil, noopHandler)
	ctx := &Context{Self: svc}

	defer func() {
		if recover() == nil {
			t.Fatal("expected Dispatch to panic before MarkInitDone")
		}
	}()
	Dispatch(ctx, core.Message{Dest: svc.Handle()})
}

func TestDispatchIncrementsMessageCount(t *testing.T) {
	svc := New(core.NewHandle(1, 1), "test", nil, noopHandler)
	svc.MarkInitDone()
	ctx := &Context{Self: svc}

	Dispatch(ctx, core.Message{Dest: svc.Handle()})
	Dispatch(ctx, core.Message{Dest: svc.Handle()})

	if svc.MessageCount() != 2 {
		t.Fatalf("expected message count 2, got %d", svc.MessageCount())
	}
}

func TestDispatchPassesPayloadToHandler(t *testing.T) {
	var seen []byte
	retain := false
	handler := func(ctx *Context, msg core.Message) bool {
		seen = msg.Payload
		return retain
	}
	svc := New(core.NewHandle(1, 1), "test", nil, handler)
	svc.MarkInitDone()
	ctx := &Context{Self: svc}

	msg := core.Message{Dest: svc.Handle(), Payload: []byte("data")}
	Dispatch(ctx, msg)
	if string(seen) != "data" {
		t.Fatalf("handler should see the payload, got %q", seen)
	}
}

func TestDispatchProfileAccumulatesCPUCost(t *testing.T) {
	handler := func(ctx *Context, msg core.Message) bool { return false }
	svc := New(core.NewHandle(1, 1), "test", nil, handler)
	svc.MarkInitDone()
	ctx := &Context{Self: svc, Profile: true}

	Dispatch(ctx, core.Message{Dest: svc.Handle()})
	if svc.CPUCost() < 0 {
		t.Fatalf("expected non-negative cpu cost, got %d", svc.CPUCost())
	}
}

func TestDispatchLogsWhenEnabled(t *testing.T) {
	sink := &countingSink{}
	handler := func(ctx *Context, msg core.Message) bool { return false }
	svc := New(core.NewHandle(1, 1), "test", nil, handler)
	svc.MarkInitDone()
	svc.EnableLog(sink)
	ctx := &Context{Self: svc}

	Dispatch(ctx, core.Message{Dest: svc.Handle()})
	if sink.n != 1 {
		t.Fatalf("expected sink to receive exactly 1 record, got %d", sink.n)
	}
}
