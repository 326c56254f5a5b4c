// Package module implements the module loader (spec §4.4, C5). Per
// spec §9's design note, the C original's dlopen/dlsym plug-in
// mechanism is replaced with a statically linked registry: module
// packages call Register from their own init(), the way a reflection-
// capable plug-in registry would. The loader never touches the
// filesystem to satisfy spec §4.4's semantics.
package module

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
)

// Instance is the opaque state a Factory.Create returns; it becomes
// the Service's user state.
type Instance any

// Factory is a module "type": the lifecycle hooks spec §4.4 and §6
// describe, plus Handle. BaseModule supplies no-op Release and Signal;
// Create, Init and Handle are always implemented by the Factory.
type Factory interface {
	Create() Instance
	Init(inst Instance, svc *actor.Service, args string) error
	// Handle dispatches one message to inst's logic; its bool result is
	// the dispatcher's retain flag (spec §4.3 step 7).
	Handle(inst Instance, ctx *actor.Context, msg core.Message) bool
	Release(inst Instance)
	Signal(inst Instance, n int)
}

// BaseModule can be embedded by a Factory implementation that only
// needs Create, Init and Handle.
type BaseModule struct{}

func (BaseModule) Release(Instance)     {}
func (BaseModule) Signal(Instance, int) {}

var (
	staticMu sync.RWMutex
	static   = map[string]Factory{}
)

// Register binds a module name to its Factory. Called from each
// module package's init(), the static-registry substitute for
// dlopen'ing a shared object by name.
func Register(name string, f Factory) {
	staticMu.Lock()
	defer staticMu.Unlock()
	if _, exists := static[name]; exists {
		panic(fmt.Sprintf("module: %q already registered", name))
	}
	static[name] = f
}

func lookupStatic(name string) (Factory, bool) {
	staticMu.RLock()
	defer staticMu.RUnlock()
	f, ok := static[name]
	return f, ok
}

// Loader memoizes resolved Factories by name in a fixed-size
// (capacity 32) LRU table, per spec §4.4: "Loaded modules are
// memoized by name in a fixed-size table (capacity 32)". Because
// modules here are never actually unloaded (there is no handle to
// close), eviction just means the next Query falls back to the
// static registry — cheap, unlike the original's dlopen cache.
type Loader struct {
	cache *lru.Cache[string, Factory]
}

// NewLoader creates a Loader with the spec's 32-entry capacity.
func NewLoader() *Loader {
	c, err := lru.New[string, Factory](32)
	if err != nil {
		panic(err) // only fails for non-positive size, which 32 never is
	}
	return &Loader{cache: c}
}

// ErrModuleNotFound is returned by Query when no Factory was
// registered under name (spec §7 ModuleLoadFailed).
var ErrModuleNotFound = fmt.Errorf("module: not found")

// Query resolves name to its Factory, consulting (and populating) the
// memoization cache first.
func (l *Loader) Query(name string) (Factory, error) {
	if f, ok := l.cache.Get(name); ok {
		return f, nil
	}
	f, ok := lookupStatic(name)
	if !ok {
		return nil, ErrModuleNotFound
	}
	l.cache.Add(name, f)
	return f, nil
}
