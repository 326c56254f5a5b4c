// Package adminhttp exposes the control surface and per-service
// diagnostics over HTTP with go-chi, plus a websocket log-tail route
// grounded directly on the teacher's WSHandler pump loop.
package adminhttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/control"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/registry"
)

// Backend is the subset of the kernel adminhttp depends on.
type Backend interface {
	Surface() *control.Surface
	Registry() *registry.Registry
}

// Server is the admin HTTP surface: GET /stat/{handle}, POST
// /control/{handle}, GET /ws/log/{handle}.
type Server struct {
	logger   *slog.Logger
	backend  Backend
	upgrader websocket.Upgrader

	logMu sync.RWMutex
	taps  map[core.Handle][]chan string
}

// New builds the chi router. Call Handler().ServeHTTP or pass it to
// http.Server directly.
func New(logger *slog.Logger, backend Backend) *Server {
	return &Server{
		logger:  logger,
		backend: backend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		taps: map[core.Handle][]chan string{},
	}
}

// Handler builds the chi.Router for this Server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/stat/{handle}", s.handleStat)
	r.Post("/control/{handle}", s.handleControl)
	r.Get("/ws/log/{handle}", s.handleLogTail)
	return r
}

type controlRequest struct {
	Command string `json:"command"`
}

type controlResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	h, err := core.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	svc, ok := s.backend.Registry().Grab(h)
	if !ok {
		http.Error(w, "unknown handle", http.StatusNotFound)
		return
	}
	defer svc.Release()

	result, err := s.backend.Surface().Dispatch(svc, req.Command)
	resp := controlResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	h, err := core.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	svc, ok := s.backend.Registry().Grab(h)
	if !ok {
		http.Error(w, "unknown handle", http.StatusNotFound)
		return
	}
	defer svc.Release()

	writeJSON(w, map[string]any{
		"handle":        svc.Handle().String(),
		"module":        svc.ModuleName(),
		"mqlen":         svc.Mailbox().Length(),
		"message_count": svc.MessageCount(),
		"cpu_ns":        svc.CPUCost(),
		"endless":       svc.Endless(),
	})
}

// handleLogTail upgrades to a websocket and streams every record
// LOGON-enabled logging produces for handle, following the teacher's
// upgrade → subscribe → pump-loop shape exactly (internal/handler/ws).
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	h, err := core.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("admin ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.tap(h)
	defer s.untap(h, ch)

	s.logger.Info("admin log tail opened", "handle", h.String())

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				s.logger.Warn("admin ws send failed", "error", err)
				return
			}
		}
	}
}

// tap registers a new subscriber channel for h's log lines; Printf
// below broadcasts to every tap still open.
func (s *Server) tap(h core.Handle) chan string {
	ch := make(chan string, 64)
	s.logMu.Lock()
	s.taps[h] = append(s.taps[h], ch)
	s.logMu.Unlock()
	return ch
}

func (s *Server) untap(h core.Handle, ch chan string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	list := s.taps[h]
	for i, c := range list {
		if c == ch {
			s.taps[h] = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
}

// Sink returns an actor.LogSink broadcasting to every admin websocket
// currently tailing h, for use with Service.EnableLog.
func (s *Server) Sink(h core.Handle) actor.LogSink {
	return tapSink{s: s, h: h}
}

type tapSink struct {
	s *Server
	h core.Handle
}

func (t tapSink) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.s.logMu.RLock()
	defer t.s.logMu.RUnlock()
	for _, ch := range t.s.taps[t.h] {
		select {
		case ch <- line:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
