// Package registry implements the identity registry (spec §4.1, C1):
// Handle allocation over an open-addressed slot array, reference
// counting, and name binding over an immutable radix tree.
//
// The name table is realized with hashicorp/go-immutable-radix
// (promoted here from an indirect dependency of the teacher's
// discovery client) instead of the spec's hand-rolled sorted array:
// every bind_name swaps in a new root under the write lock, and Find
// holds the read lock only to load the current root, then searches
// that consistent snapshot outside the lock.
package registry

import (
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
)

// ErrRegistryFull is returned by Register once the node has handed
// out core.MaxSlots handles without any being retired — the spec §9
// open question ("re-implementation should fail cleanly") resolved.
var ErrRegistryFull = fmt.Errorf("registry: node exhausted its %d local slots", core.MaxSlots)

// ErrNameTaken is returned by BindName when the name is already bound
// (spec: "names are append-only").
var ErrNameTaken = fmt.Errorf("registry: name already bound")

// Registry is the per-node identity table.
type Registry struct {
	mu    sync.RWMutex
	node  uint8
	slots []*actor.Service // index by slot; nil = empty
	next  uint32
	live  int
	names *iradix.Tree // string(name) -> core.Handle stored as uint32 value
}

// New creates a Registry for the given node id, with the spec's
// initial slot-array capacity of 4.
func New(node uint8) *Registry {
	return &Registry{
		node:  node,
		slots: make([]*actor.Service, 4),
		names: iradix.New(),
	}
}

// Node returns this registry's fixed node id.
func (r *Registry) Node() uint8 { return r.node }

// Register reserves a slot, computes its Handle, and calls build(h) to
// construct the Service bound to that exact Handle — so the Service's
// own (immutable) handle and its Mailbox's handle are never out of
// sync with the slot that owns them. Probing starts at next for an
// empty slot, doubling (and rehashing every live service into the new
// modulo) on collision, up to core.MaxSlots. Handle 0 is never
// produced; wrap-around skips it.
func (r *Registry) Register(build func(core.Handle) *actor.Service) (*actor.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint32(r.live) >= core.MaxSlots {
		return nil, ErrRegistryFull
	}

	for {
		slot, ok := r.probe()
		if ok {
			h := core.NewHandle(r.node, slot)
			svc := build(h)
			r.slots[slot] = svc
			r.next = (slot + 1) % uint32(len(r.slots))
			r.live++
			return svc, nil
		}
		if err := r.grow(); err != nil {
			return nil, err
		}
	}
}

// probe looks for the first empty slot starting at next, wrapping
// once. Caller holds the write lock.
func (r *Registry) probe() (uint32, bool) {
	n := uint32(len(r.slots))
	for i := uint32(0); i < n; i++ {
		slot := (r.next + i) % n
		if slot == 0 && r.node == 0 {
			// Handle 0 is reserved; node 0 slot 0 would produce it.
			continue
		}
		if r.slots[slot] == nil {
			return slot, true
		}
	}
	return 0, false
}

// grow doubles the slot array and rehashes every live service's
// Handle into the new modulo, as spec §4.1 requires on collision.
// Caller holds the write lock.
func (r *Registry) grow() error {
	oldLen := uint32(len(r.slots))
	newLen := oldLen * 2
	if newLen > core.MaxSlots {
		newLen = core.MaxSlots
	}
	if newLen == oldLen {
		return ErrRegistryFull
	}
	next := make([]*actor.Service, newLen)
	for slot, svc := range r.slots {
		if svc == nil {
			continue
		}
		newSlot := svc.Handle().Slot() % newLen
		for next[newSlot] != nil {
			newSlot = (newSlot + 1) % newLen
		}
		next[newSlot] = svc
		_ = slot
	}
	r.slots = next
	return nil
}

// Retire clears h's slot, drops every name pointing at it, and
// releases the registry's own reference after unlocking (so the
// module's Release hook, which may call back into the registry,
// never runs while the write lock is held — spec §5 locking
// discipline).
func (r *Registry) Retire(h core.Handle) bool {
	r.mu.Lock()
	slot := h.Slot()
	if slot >= uint32(len(r.slots)) || r.slots[slot] == nil || r.slots[slot].Handle() != h {
		r.mu.Unlock()
		return false
	}
	svc := r.slots[slot]
	r.slots[slot] = nil
	r.live--

	var stale [][]byte
	r.names.Root().Walk(func(k []byte, v any) bool {
		if v.(core.Handle) == h {
			stale = append(stale, k)
		}
		return false
	})
	if len(stale) > 0 {
		txn := r.names.Txn()
		for _, k := range stale {
			txn.Delete(k)
		}
		r.names = txn.Commit()
	}
	r.mu.Unlock()

	svc.Release()
	return true
}

// Grab resolves h to its Service and increments its reference count.
// Returns (nil, false) if h is unregistered or stale.
func (r *Registry) Grab(h core.Handle) (*actor.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot := h.Slot()
	if slot >= uint32(len(r.slots)) {
		return nil, false
	}
	svc := r.slots[slot]
	if svc == nil || svc.Handle() != h {
		return nil, false
	}
	svc.Grab()
	return svc, true
}

// BindName binds name to h. Fails with ErrNameTaken if already bound.
func (r *Registry) BindName(name string, h core.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names.Get([]byte(name)); ok {
		return ErrNameTaken
	}
	r.names, _, _ = r.names.Insert([]byte(name), h)
	return nil
}

// Find resolves a bound name to its Handle.
func (r *Registry) Find(name string) (core.Handle, bool) {
	r.mu.RLock()
	tree := r.names
	r.mu.RUnlock()
	v, ok := tree.Get([]byte(name))
	if !ok {
		return 0, false
	}
	return v.(core.Handle), true
}

// LiveCount reports the number of currently registered services. The
// scheduler does not consult it: workers stop when their context is
// cancelled, not when the count reaches zero.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// RetireAll repeatedly scans all slots retiring each, until a scan
// finds none left — used by the ABORT control command.
func (r *Registry) RetireAll() {
	for {
		r.mu.RLock()
		var h core.Handle
		found := false
		for _, svc := range r.slots {
			if svc != nil {
				h = svc.Handle()
				found = true
				break
			}
		}
		r.mu.RUnlock()
		if !found {
			return
		}
		r.Retire(h)
	}
}
