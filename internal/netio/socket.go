// Package netio implements the non-blocking I/O engine (spec §4.9,
// C9): a single I/O thread owning every socket, a control pipe workers
// submit requests through, and per-socket dual-priority send queues
// with a direct-write fast path. The platform event loop is supplied
// by engine_linux.go (epoll) or engine_kqueue.go (kqueue on darwin and
// freebsd) behind the poller interface in engine.go; this file holds
// the platform-independent socket state machine.
package netio

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/webitel/skywork/internal/core"
)

// Protocol identifies a socket's wire family.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoUDP4
	ProtoUDP6
)

// State is a socket's lifecycle stage (spec §3 Socket).
type State int32

const (
	StateInvalid State = iota
	StateReserved
	StatePreListen
	StateListen
	StateConnecting
	StateConnected
	StateHalfCloseRead
	StateHalfCloseWrite
	StatePreAccept
	StateBind
)

const (
	maxSockets   = 65536
	initialRead  = 64
	warnStep     = 1 << 20 // 1 MiB
)

// writeBuf is one queued send: a payload plus, for UDP, the
// destination address blob (spec §4.9 "19-byte structure").
type writeBuf struct {
	data []byte
	addr []byte
}

// Socket is one entry of the engine's fixed slot array.
type Socket struct {
	mu sync.Mutex // guards everything below except state (atomic) and id (immutable)

	id    uint32
	state atomic.Int32

	fd       int
	proto    Protocol
	owner    core.Handle

	high []writeBuf
	low  []writeBuf

	writeBufBytes int64
	warnWatermark int64

	readHint int
	readFull int // count of consecutive full reads, for hint growth
	readThin int // count of consecutive sub-quarter reads, for hint shrink

	closeRequested bool
	shutdownOnDrain bool
	closedOnce     bool

	peerAddr []byte // UDP "current peer"

	bytesRead    int64
	bytesWritten int64
}

func newSocket(id uint32) *Socket {
	s := &Socket{id: id, readHint: initialRead, warnWatermark: warnStep}
	s.state.Store(int32(StateReserved))
	return s
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State { return State(s.state.Load()) }

func (s *Socket) setState(v State) { s.state.Store(int32(v)) }

func (s *Socket) casState(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Owner returns the Handle that owns this socket.
func (s *Socket) Owner() core.Handle { return s.owner }

// Stats reports the cumulative byte counters (spec's "statistics").
func (s *Socket) Stats() (read, written int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRead, s.bytesWritten
}

// queuesEmpty reports whether both priority queues are empty and no
// direct-write staging remains. Caller holds s.mu.
func (s *Socket) queuesEmpty() bool {
	return len(s.high) == 0 && len(s.low) == 0
}

// adjustReadHint implements spec §4.9's "start 64B,
// double on full read, halve on sub-quarter read" dynamic sizing.
// Caller holds s.mu.
func (s *Socket) adjustReadHint(n int) {
	if n >= s.readHint {
		s.readFull++
		s.readThin = 0
		if s.readFull >= 1 {
			s.readHint *= 2
			s.readFull = 0
		}
		return
	}
	if n < s.readHint/4 {
		s.readThin++
		if s.readThin >= 1 && s.readHint > initialRead {
			s.readHint /= 2
			s.readThin = 0
		}
		return
	}
	s.readFull, s.readThin = 0, 0
}

// EncodeAddr packs a net.Addr into the UDP address blob: 1-byte
// family (1=v4, 2=v6), 2-byte network-order port, then 4 or 16 bytes
// of address — 7 bytes for IPv4, 19 for IPv6.
func EncodeAddr(a *net.UDPAddr) []byte {
	ip4 := a.IP.To4()
	if ip4 != nil {
		buf := make([]byte, 7)
		buf[0] = 1
		buf[1] = byte(a.Port >> 8)
		buf[2] = byte(a.Port)
		copy(buf[3:], ip4)
		return buf
	}
	ip16 := a.IP.To16()
	buf := make([]byte, 19)
	buf[0] = 2
	buf[1] = byte(a.Port >> 8)
	buf[2] = byte(a.Port)
	copy(buf[3:], ip16)
	return buf
}

// DecodeAddr is EncodeAddr's inverse.
func DecodeAddr(b []byte) (*net.UDPAddr, bool) {
	if len(b) < 7 {
		return nil, false
	}
	port := int(b[1])<<8 | int(b[2])
	switch b[0] {
	case 1:
		if len(b) < 7 {
			return nil, false
		}
		return &net.UDPAddr{IP: net.IP(b[3:7]), Port: port}, true
	case 2:
		if len(b) < 19 {
			return nil, false
		}
		return &net.UDPAddr{IP: net.IP(b[3:19]), Port: port}, true
	default:
		return nil, false
	}
}
