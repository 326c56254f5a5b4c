package netio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/webitel/skywork/internal/core"
)

// poller is the platform-specific readiness primitive: epoll on Linux,
// kqueue on darwin/freebsd. Exactly one of engine_linux.go /
// engine_kqueue.go supplies an implementation, selected by build tag.
type poller interface {
	// open creates the underlying instance and registers wake (the
	// control pipe's read end) for read-readiness.
	open(wake int) error
	// watch arms/rearms interest for fd: want{Read,Write} govern which
	// events are requested.
	watch(fd int, wantRead, wantWrite bool) error
	// forget removes fd from the instance.
	forget(fd int) error
	// wait blocks until at least one fd is ready (or the wake pipe
	// fires), delivering them to cb(fd, readable, writable, errored).
	wait(cb func(fd int, readable, writable, errored bool)) error
	close() error
}

// reqTag is the control-pipe verb set (spec §4.9: "workers enqueue
// requests into the pipe; the I/O thread executes them serially").
type reqTag int

const (
	reqConnect reqTag = iota
	reqListen
	reqSend
	reqClose
	reqEnableWrite
	reqSetPeer
)

type request struct {
	tag      reqTag
	id       uint32
	addr     string
	payload  []byte
	dest     []byte // UDP destination blob, for reqSend/reqSetPeer
	high     bool   // priority queue, for reqSend
	shutdown bool   // force vs. graceful, for reqClose
	owner    core.Handle
	reply    chan error
}

// Deliver receives every message the engine synthesizes: SOCKET_OPEN,
// SOCKET_DATA, SOCKET_CLOSE, SOCKET_ERR, SOCKET_WARNING, SOCKET_UDP
// (spec §4.9), each as a core.Message addressed to the owning Handle.
type Deliver func(msg core.Message)

// Engine is the I/O thread: one poller, one fixed slot array, one
// control pipe. All mutation of socket lifecycle state happens on the
// single goroutine running Run; everything else talks to it through
// submit, which writes a byte to the control pipe to wake wait().
type Engine struct {
	p       poller
	deliver Deliver

	slots    []atomic.Pointer[Socket]
	nextID   atomic.Uint32

	pipeR, pipeW int

	reqMu sync.Mutex
	reqs  []request
}

// New creates an Engine with the spec's default 65536-socket slot
// array. Call Run to start the I/O thread.
func New(deliver Deliver) (*Engine, error) {
	r, w, err := pipePair()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		deliver: deliver,
		slots:   make([]atomic.Pointer[Socket], maxSockets),
		pipeR:   r,
		pipeW:   w,
	}
	e.p = newPoller()
	if err := e.p.open(r); err != nil {
		return nil, err
	}
	return e, nil
}

// pipePair opens the control pipe (spec §4.9: "a control pipe whose
// read end is registered in the event instance"), using the portable
// unix.Pipe plus an explicit O_NONBLOCK toggle since Pipe2's flag set
// isn't available identically on every platform this engine targets.
func pipePair() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, fmt.Errorf("netio: control pipe: %w", err)
	}
	for _, fd := range fds {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return 0, 0, err
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
			return 0, 0, err
		}
	}
	return fds[0], fds[1], nil
}

// allocate implements spec §4.9's socket-ID allocation: an atomic
// counter masked to 31 bits, retried until the candidate slot is
// Invalid and CAS-wins to Reserved.
func (e *Engine) allocate() (*Socket, error) {
	for attempts := 0; attempts < maxSockets*2; attempts++ {
		id := e.nextID.Add(1) & 0x7fffffff
		slot := id % maxSockets
		cur := e.slots[slot].Load()
		if cur != nil && cur.State() != StateInvalid {
			continue
		}
		s := newSocket(id)
		if e.slots[slot].CompareAndSwap(cur, s) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("netio: no free socket slots (max %d)", maxSockets)
}

func (e *Engine) lookup(id uint32) (*Socket, bool) {
	s := e.slots[id%maxSockets].Load()
	if s == nil || s.id != id || s.State() == StateInvalid {
		return nil, false
	}
	return s, true
}

// submit enqueues req and wakes the I/O thread.
func (e *Engine) submit(req request) error {
	req.reply = make(chan error, 1)
	e.reqMu.Lock()
	e.reqs = append(e.reqs, req)
	e.reqMu.Unlock()
	unix.Write(e.pipeW, []byte{1})
	return <-req.reply
}

// drainRequests executes every queued request serially, on the I/O
// thread (spec §4.9: "the I/O thread executes them serially").
func (e *Engine) drainRequests() {
	var buf [64]byte
	for {
		n, err := unix.Read(e.pipeR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	e.reqMu.Lock()
	reqs := e.reqs
	e.reqs = nil
	e.reqMu.Unlock()

	for _, req := range reqs {
		var err error
		switch req.tag {
		case reqConnect:
			err = e.doConnect(req)
		case reqListen:
			err = e.doListen(req)
		case reqSend:
			err = e.doSend(req)
		case reqClose:
			err = e.doClose(req)
		case reqEnableWrite:
			if s, ok := e.lookup(req.id); ok {
				err = e.p.watch(s.fd, true, true)
			}
		case reqSetPeer:
			if s, ok := e.lookup(req.id); ok {
				s.mu.Lock()
				s.peerAddr = req.dest
				s.mu.Unlock()
			}
		}
		req.reply <- err
	}
}

// Run is the I/O thread's event loop, the sole owner of every
// socket's lifecycle transitions. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		unix.Write(e.pipeW, []byte{1})
	}()
	for ctx.Err() == nil {
		err := e.p.wait(func(fd int, readable, writable, errored bool) {
			if fd == e.pipeR {
				e.drainRequests()
				return
			}
			e.handleReady(fd, readable, writable, errored)
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
	return e.p.close()
}

func (e *Engine) socketByFD(fd int) (*Socket, bool) {
	for i := range e.slots {
		if s := e.slots[i].Load(); s != nil && s.fd == fd && s.State() != StateInvalid {
			return s, true
		}
	}
	return nil, false
}

func (e *Engine) emit(dest core.Handle, ptype uint8, payload []byte) {
	e.deliver(core.Message{Dest: dest, Type: ptype, Payload: payload})
}
