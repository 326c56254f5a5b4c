// Package mailbox implements the per-service FIFO (spec §4.2, C2): a
// ring buffer that doubles on growth, with the overload-threshold
// bookkeeping and the in_global flag the global run queue relies on.
//
// Grounded on the teacher's internal/domain/registry.Cell — a
// per-user buffered-channel actor mailbox with idle/overload
// awareness — generalized here into the spec's explicit ring buffer
// (the core needs precise control over capacity doubling and overload
// accounting that a plain `chan` can't expose).
package mailbox

import (
	"sync"

	"github.com/webitel/skywork/internal/core"
)

const (
	initialCapacity = 64
	initialOverload = 1024
)

// Mailbox is a ring buffer of core.Message, owned by exactly one
// Service. All operations are guarded by a single mutex held only for
// the duration of the push/pop itself — never across a handler
// invocation (spec §5 locking discipline).
type Mailbox struct {
	mu sync.Mutex

	handle core.Handle
	buf    []core.Message
	head   int
	tail   int
	count  int

	inGlobal       bool
	releasePending bool
	overloadThresh int
	overload       int
}

// New creates an empty Mailbox for handle with the spec's starting
// capacity (64) and overload threshold (1024).
func New(handle core.Handle) *Mailbox {
	return &Mailbox{
		handle:         handle,
		buf:            make([]core.Message, initialCapacity),
		overloadThresh: initialOverload,
	}
}

// Handle returns the Service this mailbox belongs to.
func (m *Mailbox) Handle() core.Handle { return m.handle }

// Push appends msg to the tail. It reports whether the mailbox
// transitioned from "not in the global run queue" to "in the global
// run queue" — the caller (the runqueue) must enqueue the mailbox
// exactly when this returns true.
func (m *Mailbox) Push(msg core.Message) (becameGlobal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == len(m.buf) {
		m.grow()
	}
	m.buf[m.tail] = msg
	m.tail = (m.tail + 1) % len(m.buf)
	m.count++

	if !m.inGlobal {
		m.inGlobal = true
		return true
	}
	return false
}

// grow doubles capacity, preserving FIFO order. Caller holds m.mu.
func (m *Mailbox) grow() {
	next := make([]core.Message, len(m.buf)*2)
	n := copy(next, m.buf[m.head:])
	copy(next[n:], m.buf[:m.head])
	m.buf = next
	m.head = 0
	m.tail = m.count
}

// Pop removes and returns the oldest message. ok is false when the
// mailbox is empty, in which case Pop also clears in_global — any
// later Push re-sets it and the caller must re-enqueue.
func (m *Mailbox) Pop() (msg core.Message, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		m.inGlobal = false
		m.overloadThresh = initialOverload
		return core.Message{}, false
	}

	msg = m.buf[m.head]
	m.buf[m.head] = core.Message{} // drop the retained payload reference
	m.head = (m.head + 1) % len(m.buf)
	m.count--

	if m.count > m.overloadThresh {
		m.overload = m.count
		m.overloadThresh *= 2
	}
	return msg, true
}

// Length reports the number of queued messages.
func (m *Mailbox) Length() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Overload reports and clears the sticky overload high-water mark
// (0 if no crossing has happened since the last call).
func (m *Mailbox) Overload() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.overload
	m.overload = 0
	return v
}

// InGlobal reports whether the mailbox currently believes itself
// enqueued on the global run queue. Exported for invariant tests only.
func (m *Mailbox) InGlobal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inGlobal
}

// ReleaseIfEmpty clears in_global if the mailbox is currently empty,
// reporting whether it did, atomically with the emptiness check. Pop
// already clears in_global the moment it observes an empty mailbox;
// the scheduler needs this separately for the batch that ends right
// as its last Pop drains the final message, since Pop itself never
// gets called again to notice the mailbox went empty.
func (m *Mailbox) ReleaseIfEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		m.inGlobal = false
		m.overloadThresh = initialOverload
		return true
	}
	return false
}

// MarkRelease flags the mailbox for the drop-on-drain policy used when
// its owning Service has been retired but messages already in flight
// must still be accounted for (each drained message becomes a
// PTypeError reply to its original sender — see DrainWithDrop).
func (m *Mailbox) MarkRelease() {
	m.mu.Lock()
	m.releasePending = true
	m.mu.Unlock()
}

// ReleasePending reports whether MarkRelease was called.
func (m *Mailbox) ReleasePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releasePending
}

// DrainWithDrop empties the mailbox, invoking drop for every message
// still queued (the core uses this to synthesize a PTypeError back to
// each original sender, per spec §3 "drops... each such drop sends a
// PTYPE_ERROR back to the original sender").
func (m *Mailbox) DrainWithDrop(drop func(core.Message)) {
	for {
		msg, ok := m.Pop()
		if !ok {
			return
		}
		drop(msg)
	}
}
