package module

import (
	"testing"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
)

type stubFactory struct {
	BaseModule
	handled int
}

func (f *stubFactory) Create() Instance { return &struct{}{} }
func (f *stubFactory) Init(inst Instance, svc *actor.Service, args string) error { return nil }
func (f *stubFactory) Handle(inst Instance, ctx *actor.Context, msg core.Message) bool {
	f.handled++
	return false
}

func TestRegisterAndQueryRoundTrip(t *testing.T) {
	name := "module-test-roundtrip"
	f := &stubFactory{}
	Register(name, f)

	l := NewLoader()
	got, err := l.Query(name)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != f {
		t.Fatal("query returned a different factory than registered")
	}
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	name := "module-test-duplicate"
	Register(name, &stubFactory{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(name, &stubFactory{})
}

func TestQueryUnknownNameReturnsErrModuleNotFound(t *testing.T) {
	l := NewLoader()
	if _, err := l.Query("module-test-never-registered"); err != ErrModuleNotFound {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestQueryPopulatesCacheFromStatic(t *testing.T) {
	name := "module-test-cache"
	f := &stubFactory{}
	Register(name, f)

	l := NewLoader()
	if _, err := l.Query(name); err != nil {
		t.Fatalf("first query: %v", err)
	}
	// second query must hit the cache and return the same factory
	got, err := l.Query(name)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if got != f {
		t.Fatal("cached query returned a different factory")
	}
}

func TestBaseModuleDefaultsAreNoOps(t *testing.T) {
	var b BaseModule
	b.Release(nil) // must not panic
	b.Signal(nil, 3)
}
