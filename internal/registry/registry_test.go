package registry

import (
	"testing"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
)

func newTestService(t *testing.T, r *Registry) *actor.Service {
	t.Helper()
	svc, err := r.Register(func(h core.Handle) *actor.Service {
		return actor.New(h, "test", nil, func(ctx *actor.Context, msg core.Message) bool { return false })
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return svc
}

func TestRegisterAssignsNodeAndGrabResolves(t *testing.T) {
	r := New(7)
	svc := newTestService(t, r)

	if svc.Handle().Node() != 7 {
		t.Fatalf("expected node 7, got %d", svc.Handle().Node())
	}

	got, ok := r.Grab(svc.Handle())
	if !ok {
		t.Fatal("expected Grab to resolve the just-registered handle")
	}
	if got != svc {
		t.Fatal("Grab returned a different Service than was registered")
	}
	got.Release()
}

func TestHandleNeverZero(t *testing.T) {
	r := New(0)
	svc := newTestService(t, r)
	if !svc.Handle().Valid() {
		t.Fatal("registry must never hand out the reserved zero handle")
	}
}

func TestRetireFreesSlotForReuse(t *testing.T) {
	r := New(1)
	svc := newTestService(t, r)
	h := svc.Handle()

	if !r.Retire(h) {
		t.Fatal("expected Retire to succeed")
	}
	if _, ok := r.Grab(h); ok {
		t.Fatal("expected Grab to fail after Retire")
	}
	if r.Retire(h) {
		t.Fatal("expected second Retire of the same handle to report false")
	}
}

func TestBindNameAndFindRoundTrip(t *testing.T) {
	r := New(1)
	svc := newTestService(t, r)

	if err := r.BindName("echo", svc.Handle()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	h, ok := r.Find("echo")
	if !ok || h != svc.Handle() {
		t.Fatal("Find did not round-trip the bound name")
	}
	if err := r.BindName("echo", svc.Handle()); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken on rebind, got %v", err)
	}
}

func TestRetireDropsBoundNames(t *testing.T) {
	r := New(1)
	svc := newTestService(t, r)
	r.BindName("gone", svc.Handle())
	r.Retire(svc.Handle())

	if _, ok := r.Find("gone"); ok {
		t.Fatal("expected name binding to be dropped on retire")
	}
}

func TestLiveCountTracksRegisterAndRetire(t *testing.T) {
	r := New(1)
	if r.LiveCount() != 0 {
		t.Fatal("expected 0 live services initially")
	}
	svc := newTestService(t, r)
	if r.LiveCount() != 1 {
		t.Fatalf("expected 1 live service, got %d", r.LiveCount())
	}
	r.Retire(svc.Handle())
	if r.LiveCount() != 0 {
		t.Fatalf("expected 0 live services after retire, got %d", r.LiveCount())
	}
}

func TestGrowRehashesExistingServices(t *testing.T) {
	r := New(1) // starts with 4 slots
	handles := make([]core.Handle, 0, 6)
	for i := 0; i < 6; i++ {
		svc := newTestService(t, r)
		handles = append(handles, svc.Handle())
	}
	for _, h := range handles {
		if _, ok := r.Grab(h); !ok {
			t.Fatalf("handle %s lost after grow", h)
		}
	}
}
