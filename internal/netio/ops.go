package netio

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/webitel/skywork/internal/core"
)

// Connect opens an outbound TCP connection owned by owner. It returns
// the allocated socket id immediately (spec §4.9 "Connect flow"); the
// eventual SOCKET_OPEN or SOCKET_ERR arrives as a message.
func (e *Engine) Connect(owner core.Handle, network, addr string) (uint32, error) {
	s, err := e.allocate()
	if err != nil {
		return 0, err
	}
	s.owner = owner
	s.proto = protoFor(network)
	if err := e.submit(request{tag: reqConnect, id: s.id, addr: addr, owner: owner}); err != nil {
		return 0, err
	}
	return s.id, nil
}

// Listen opens a listening TCP socket owned by owner. Accepted
// connections are delivered as their own SOCKET_OPEN events, each
// under a freshly allocated socket id owned by owner.
func (e *Engine) Listen(owner core.Handle, addr string) (uint32, error) {
	s, err := e.allocate()
	if err != nil {
		return 0, err
	}
	s.owner = owner
	s.proto = ProtoTCP
	if err := e.submit(request{tag: reqListen, id: s.id, addr: addr, owner: owner}); err != nil {
		return 0, err
	}
	return s.id, nil
}

// Send queues payload for socket id, taking the direct-write fast path
// when the socket is idle and inline-writable (spec §4.9 "Send
// policy"). dest is only consulted for UDP sockets.
func (e *Engine) Send(id uint32, high bool, payload []byte, dest []byte) error {
	s, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("netio: send to unknown socket %d", id)
	}

	if s.mu.TryLock() {
		if s.State() == StateConnected && s.queuesEmpty() {
			n, err := e.rawWriteLocked(s, payload, dest)
			if err == nil && n == len(payload) {
				s.bytesWritten += int64(n)
				s.mu.Unlock()
				return nil
			}
			if err == nil {
				remainder := payload[n:]
				s.stageLocked(high, remainder, dest)
				s.mu.Unlock()
				e.submit(request{tag: reqEnableWrite, id: id})
				return nil
			}
			s.mu.Unlock()
			return err
		}
		s.stageLocked(high, payload, dest)
		s.mu.Unlock()
		e.submit(request{tag: reqEnableWrite, id: id})
		return nil
	}

	return e.submit(request{tag: reqSend, id: id, payload: payload, dest: dest, high: high})
}

// stageLocked appends buf to the appropriate priority queue and
// tracks the 1 MiB watermark crossing. Caller holds s.mu.
func (s *Socket) stageLocked(high bool, payload, dest []byte) {
	buf := writeBuf{data: payload, addr: dest}
	if high {
		s.high = append(s.high, buf)
	} else {
		s.low = append(s.low, buf)
	}
	s.writeBufBytes += int64(len(payload))
}

// SetPeer records a UDP socket's "current peer" (spec's `C` verb).
func (e *Engine) SetPeer(id uint32, addr *net.UDPAddr) error {
	return e.submit(request{tag: reqSetPeer, id: id, dest: EncodeAddr(addr)})
}

// Close initiates a graceful (shutdown=false) or forced (shutdown=true)
// close, per spec §4.9's close semantics.
func (e *Engine) Close(id uint32, shutdown bool) error {
	return e.submit(request{tag: reqClose, id: id, shutdown: shutdown})
}

func protoFor(network string) Protocol {
	switch network {
	case "udp", "udp4":
		return ProtoUDP4
	case "udp6":
		return ProtoUDP6
	default:
		return ProtoTCP
	}
}

func (e *Engine) doConnect(req request) error {
	s, ok := e.lookup(req.id)
	if !ok {
		return fmt.Errorf("netio: connect on vanished socket %d", req.id)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		s.setState(StateInvalid)
		return err
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		s.setState(StateInvalid)
		return err
	}
	s.fd = fd
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

	sa, err := resolveSockaddr(req.addr)
	if err != nil {
		unix.Close(fd)
		s.setState(StateInvalid)
		return err
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		s.setState(StateConnected)
		e.p.watch(fd, true, false)
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventOpen, s.id, nil))
		return nil
	}
	if err == unix.EINPROGRESS {
		s.setState(StateConnecting)
		return e.p.watch(fd, false, true)
	}
	s.setState(StateInvalid)
	e.emit(s.owner, core.PTypeSocket, encodeEvent(EventErr, s.id, []byte(err.Error())))
	return err
}

func (e *Engine) doListen(req request) error {
	s, ok := e.lookup(req.id)
	if !ok {
		return fmt.Errorf("netio: listen on vanished socket %d", req.id)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		s.setState(StateInvalid)
		return err
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		s.setState(StateInvalid)
		return err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	sa, err := resolveSockaddr(req.addr)
	if err != nil {
		unix.Close(fd)
		s.setState(StateInvalid)
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		s.setState(StateInvalid)
		return err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		s.setState(StateInvalid)
		return err
	}
	s.fd = fd
	s.setState(StateListen)
	return e.p.watch(fd, true, false)
}

func (e *Engine) doSend(req request) error {
	s, ok := e.lookup(req.id)
	if !ok {
		return fmt.Errorf("netio: send to vanished socket %d", req.id)
	}
	s.mu.Lock()
	s.stageLocked(req.high, req.payload, req.dest)
	s.mu.Unlock()
	return e.p.watch(s.fd, true, true)
}

func (e *Engine) doClose(req request) error {
	s, ok := e.lookup(req.id)
	if !ok {
		return nil
	}
	s.mu.Lock()
	pending := !s.queuesEmpty()
	s.mu.Unlock()

	if req.shutdown || !pending {
		return e.forceClose(s)
	}
	s.shutdownOnDrain = true
	s.closeRequested = true
	unix.Shutdown(s.fd, unix.SHUT_RD)
	s.setState(StateHalfCloseRead)
	e.emitCloseOnce(s)
	return nil
}

func (e *Engine) forceClose(s *Socket) error {
	s.setState(StateInvalid)
	e.p.forget(s.fd)
	unix.Close(s.fd)
	e.emitCloseOnce(s)
	return nil
}

func (e *Engine) emitCloseOnce(s *Socket) {
	s.mu.Lock()
	already := s.closedOnce
	s.closedOnce = true
	s.mu.Unlock()
	if !already {
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventClose, s.id, nil))
	}
}

// handleReady runs on the I/O thread in response to the poller
// reporting activity for fd.
func (e *Engine) handleReady(fd int, readable, writable, errored bool) {
	s, ok := e.socketByFD(fd)
	if !ok {
		return
	}

	if errored {
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventErr, s.id, []byte("socket error")))
		e.forceClose(s)
		return
	}

	if readable {
		switch s.State() {
		case StateListen:
			e.acceptLoop(s)
		case StateConnecting:
			// readable+writable both land here on some kqueue
			// implementations; writable branch below resolves it.
		default:
			e.readOnce(s)
		}
	}

	if writable {
		switch s.State() {
		case StateConnecting:
			e.resolveConnecting(s)
		default:
			e.flushQueues(s)
		}
	}
}

func (e *Engine) resolveConnecting(s *Socket) {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		s.setState(StateInvalid)
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventErr, s.id, []byte("connect failed")))
		e.p.forget(s.fd)
		unix.Close(s.fd)
		return
	}
	s.setState(StateConnected)
	e.p.watch(s.fd, true, false)
	e.emit(s.owner, core.PTypeSocket, encodeEvent(EventOpen, s.id, nil))
}

func (e *Engine) acceptLoop(s *Socket) {
	for {
		fd, _, err := unix.Accept(s.fd)
		if err != nil {
			return
		}
		if err := setNonblock(fd); err != nil {
			unix.Close(fd)
			return
		}
		child, err := e.allocate()
		if err != nil {
			unix.Close(fd)
			return
		}
		child.owner = s.owner
		child.proto = ProtoTCP
		child.fd = fd
		child.setState(StateConnected)
		e.p.watch(fd, true, false)
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventOpen, child.id, nil))
	}
}

func (e *Engine) readOnce(s *Socket) {
	s.mu.Lock()
	hint := s.readHint
	s.mu.Unlock()

	buf := make([]byte, hint)
	var n int
	var err error
	var peer []byte

	if s.proto == ProtoTCP {
		n, err = unix.Read(s.fd, buf)
	} else {
		var sa unix.Sockaddr
		n, _, _, sa, err = unix.Recvmsg(s.fd, buf, nil, 0)
		if sa != nil {
			peer = sockaddrToBlob(sa)
		}
	}

	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventErr, s.id, []byte(err.Error())))
		e.forceClose(s)
		return
	}

	s.mu.Lock()
	s.bytesRead += int64(n)
	s.adjustReadHint(n)
	s.mu.Unlock()

	if n == 0 {
		s.mu.Lock()
		pending := s.closeRequested
		s.mu.Unlock()
		if pending {
			e.forceClose(s)
		} else {
			s.setState(StateHalfCloseRead)
			e.emitCloseOnce(s)
		}
		return
	}

	data := make([]byte, n)
	copy(data, buf[:n])

	if s.proto == ProtoTCP {
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventData, s.id, data))
	} else {
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventUDP, s.id, append(data, peer...)))
	}
}

// flushQueues drains high-then-low priority queues onto the wire,
// disabling writability when both empty (spec §4.9 "Invariant: if
// both lists are empty, writable-event monitoring is disabled").
func (e *Engine) flushQueues(s *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		var q *[]writeBuf
		if len(s.high) > 0 {
			q = &s.high
		} else if len(s.low) > 0 {
			q = &s.low
		} else {
			break
		}
		buf := (*q)[0]
		n, err := e.rawWriteLocked(s, buf.data, buf.addr)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			e.emit(s.owner, core.PTypeSocket, encodeEvent(EventErr, s.id, []byte(err.Error())))
			return
		}
		s.bytesWritten += int64(n)
		s.writeBufBytes -= int64(n)
		if n < len(buf.data) {
			(*q)[0].data = buf.data[n:]
			return
		}
		*q = (*q)[1:]
	}

	e.p.watch(s.fd, true, false)
	if s.shutdownOnDrain {
		// forceClose takes s.mu itself: release it for the call and
		// re-take it for the deferred Unlock.
		s.mu.Unlock()
		e.forceClose(s)
		s.mu.Lock()
		return
	}
	e.checkWarning(s)
}

func (e *Engine) checkWarning(s *Socket) {
	if s.writeBufBytes == 0 && s.warnWatermark > warnStep {
		s.warnWatermark = warnStep
	}
	if s.writeBufBytes >= s.warnWatermark {
		kib := s.warnWatermark / 1024
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(kib))
		e.emit(s.owner, core.PTypeSocket, encodeEvent(EventWarning, s.id, payload))
		s.warnWatermark *= 2
	}
}

func (e *Engine) rawWriteLocked(s *Socket, payload, dest []byte) (int, error) {
	if s.proto == ProtoTCP {
		n, err := unix.Write(s.fd, payload)
		return n, err
	}
	addr := dest
	if addr == nil {
		addr = s.peerAddr
	}
	sa, ok := DecodeAddr(addr)
	if !ok {
		return 0, fmt.Errorf("netio: udp send with no destination")
	}
	usa, err := udpSockaddr(sa)
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(s.fd, payload, 0, usa); err != nil {
		return 0, err
	}
	return len(payload), nil
}
