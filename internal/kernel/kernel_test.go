package kernel

import (
	"log/slog"
	"testing"

	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/modules/ping"
)

func init() {
	ping.Register()
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	logger := slog.Default()
	return New(logger, Config{Threads: 2, Harbor: 1, Profile: false})
}

func TestLaunchRegistersAndRunsInit(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.Launch("ping", "5")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !h.Valid() {
		t.Fatal("expected a valid handle from Launch")
	}
	if h.Node() != 1 {
		t.Fatalf("expected launched service on node 1, got %d", h.Node())
	}

	svc, ok := k.reg.Grab(h)
	if !ok {
		t.Fatal("expected the launched service to be resolvable via the registry")
	}
	defer svc.Release()
	if !svc.InitDone() {
		t.Fatal("expected InitDone true after a successful Launch")
	}
}

func TestLaunchUnknownModuleReturnsError(t *testing.T) {
	k := newTestKernel(t)
	if _, err := k.Launch("does-not-exist", ""); err == nil {
		t.Fatal("expected an error launching an unregistered module")
	}
}

func TestSendDeliversIntoMailboxAndSignalsRunQueue(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.Launch("ping", "1000")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	if err := k.Send(h, h, ping.PingType, 1, []byte("PING")); err != nil {
		t.Fatalf("send: %v", err)
	}

	svc, ok := k.reg.Grab(h)
	if !ok {
		t.Fatal("expected service to resolve")
	}
	defer svc.Release()
	if svc.Mailbox().Length() == 0 {
		t.Fatal("expected the sent message to land in the destination mailbox")
	}
	if _, ok := k.runq.Pop(); !ok {
		t.Fatal("expected the mailbox to have been pushed onto the run queue")
	}
}

func TestSendToUnknownHandleSynthesizesErrorReply(t *testing.T) {
	k := newTestKernel(t)
	source, err := k.Launch("ping", "1000")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	bogus := core.NewHandle(1, 0xFFFFFE)
	if err := k.Send(source, bogus, core.PTypeUser, 1, nil); err != core.ErrInvalidHandle {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}

	svc, ok := k.reg.Grab(source)
	if !ok {
		t.Fatal("expected source service to resolve")
	}
	defer svc.Release()
	msg, ok := svc.Mailbox().Pop()
	if !ok {
		t.Fatal("expected a synthesized error reply in the source mailbox")
	}
	if msg.Type != core.PTypeError {
		t.Fatalf("expected PTypeError, got %d", msg.Type)
	}
}

// TestSendAcceptsReasonablySizedPayload checks that Send's
// core.ValidatePayloadLen check lets an ordinary payload through
// (MaxPayloadSize itself is far too large to allocate in a test; the
// boundary value is covered directly by
// core.TestValidatePayloadLenBoundary).
func TestSendAcceptsReasonablySizedPayload(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.Launch("ping", "1000")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	reasonable := make([]byte, 4096)
	if err := k.Send(h, h, core.PTypeUser, 1, reasonable); err != nil {
		t.Fatalf("expected a reasonably sized payload to be accepted, got %v", err)
	}
}
