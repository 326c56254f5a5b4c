// Package timer implements the hierarchical timing wheel (spec §4.7,
// C8): one near wheel of 256 slots plus four cascade wheels of 64
// slots each, advanced in 10ms ticks. A fired timer is delivered as a
// core.PTypeResponse message carrying its session id, the same
// contract TIMEOUT uses.
package timer

import (
	"sync"
	"time"

	"github.com/webitel/skywork/internal/core"
)

const (
	nearBits   = 8
	nearSize   = 1 << nearBits // 256
	nearMask   = nearSize - 1
	cascBits   = 6
	cascSize   = 1 << cascBits // 64
	cascMask   = cascSize - 1
	cascLevels = 4

	// Tick is the wheel's fundamental resolution (spec §4.7).
	Tick = 10 * time.Millisecond
)

// node is one pending timer.
type node struct {
	expire  int64 // absolute tick count at which this fires
	target  core.Handle
	session int32
	next    *node
}

// Wheel is a single-mutex hierarchical timing wheel. Advance must be
// called once per Tick by exactly one goroutine (the kernel's timer
// thread); Insert may be called concurrently from any worker.
type Wheel struct {
	mu sync.Mutex

	current int64 // current absolute tick

	near [nearSize]*node
	casc [cascLevels][cascSize]*node
}

// New creates an empty Wheel.
func New() *Wheel {
	return &Wheel{}
}

// Insert schedules target to receive a PTypeResponse/session wakeup
// after delay, rounded up to the next tick boundary (spec §4.7:
// "timeout is expressed in ticks; delay is rounded up").
func (w *Wheel) Insert(delay time.Duration, target core.Handle, session int32) {
	ticks := int64(delay / Tick)
	if delay%Tick != 0 {
		ticks++
	}
	if ticks < 1 {
		ticks = 1
	}

	n := &node{target: target, session: session}

	w.mu.Lock()
	n.expire = w.current + ticks
	w.link(n)
	w.mu.Unlock()
}

// link places n into the correct wheel bucket for its expire tick.
// Caller holds w.mu.
func (w *Wheel) link(n *node) {
	offset := n.expire - w.current
	if offset < nearSize {
		slot := n.expire & nearMask
		n.next = w.near[slot]
		w.near[slot] = n
		return
	}
	for level := 0; level < cascLevels; level++ {
		span := int64(nearSize) << uint(cascBits*(level+1))
		if offset < span || level == cascLevels-1 {
			slot := (n.expire >> uint(nearBits+cascBits*level)) & cascMask
			n.next = w.casc[level][slot]
			w.casc[level][slot] = n
			return
		}
	}
}

// Advance moves the wheel forward one tick and returns every node that
// fired, without holding the lock while the caller delivers them
// (spec §5 locking discipline: never hold a lock across a send).
func (w *Wheel) Advance() []core.Message {
	w.mu.Lock()
	w.current++
	slot := w.current & nearMask

	// When the near wheel wraps, cascade one bucket from each level
	// down into the near wheel — the classic hierarchical-wheel
	// rebucketing step. This runs before the current near bucket is
	// taken, so a node cascaded into it fires on this tick.
	if slot == 0 {
		for level := 0; level < cascLevels; level++ {
			cslot := (w.current >> uint(nearBits+cascBits*level)) & cascMask
			n := w.casc[level][cslot]
			w.casc[level][cslot] = nil
			for n != nil {
				next := n.next
				n.next = nil
				w.link(n)
				n = next
			}
			if cslot != 0 {
				break
			}
		}
	}

	fired := w.near[slot]
	w.near[slot] = nil
	w.mu.Unlock()

	var msgs []core.Message
	for n := fired; n != nil; n = n.next {
		msgs = append(msgs, core.Message{
			Dest:    n.target,
			Type:    core.PTypeResponse,
			Session: n.session,
		})
	}
	return msgs
}
