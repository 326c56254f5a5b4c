package adminhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/control"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/registry"
	"github.com/webitel/skywork/internal/timer"
)

type testBackend struct {
	reg *registry.Registry
	sur *control.Surface
}

func (b *testBackend) Surface() *control.Surface   { return b.sur }
func (b *testBackend) Registry() *registry.Registry { return b.reg }

func newTestServer(t *testing.T) (*Server, *actor.Service) {
	t.Helper()
	reg := registry.New(1)
	svc, err := reg.Register(func(h core.Handle) *actor.Service {
		return actor.New(h, "test", nil, func(ctx *actor.Context, msg core.Message) bool { return false })
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	launch := func(modname, args string) (core.Handle, error) { return 0, nil }
	sur := control.New(reg, timer.New(), launch, time.Unix(0, 0))
	return New(nil, &testBackend{reg: reg, sur: sur}), svc
}

func TestHandleStatReturnsServiceFields(t *testing.T) {
	srv, svc := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stat/"+svc.Handle().String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["handle"] != svc.Handle().String() {
		t.Fatalf("expected handle %s, got %v", svc.Handle().String(), got["handle"])
	}
	if got["module"] != "test" {
		t.Fatalf("expected module \"test\", got %v", got["module"])
	}
}

func TestHandleStatUnknownHandleReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stat/:00000999", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleControlDispatchesCommand(t *testing.T) {
	srv, svc := newTestServer(t)
	body := strings.NewReader(`{"command":"GETENV region"}`)
	req := httptest.NewRequest(http.MethodPost, "/control/"+svc.Handle().String(), body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp controlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
}

func TestHandleControlMalformedBodyReturns400(t *testing.T) {
	srv, svc := newTestServer(t)
	body := strings.NewReader(`not json`)
	req := httptest.NewRequest(http.MethodPost, "/control/"+svc.Handle().String(), body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTapAndUntapRoundTrip(t *testing.T) {
	srv, svc := newTestServer(t)
	ch := srv.tap(svc.Handle())

	sink := srv.Sink(svc.Handle())
	sink.Printf("hello %d", 1)

	select {
	case line := <-ch:
		if line != "hello 1" {
			t.Fatalf("expected \"hello 1\", got %q", line)
		}
	default:
		t.Fatal("expected a broadcast line to be waiting on the tap channel")
	}

	srv.untap(svc.Handle(), ch)
	if _, open := <-ch; open {
		t.Fatal("expected tap channel closed after untap")
	}
}
