package timer

import (
	"testing"
	"time"

	"github.com/webitel/skywork/internal/core"
)

func TestInsertFiresNoEarlierThanRequested(t *testing.T) {
	w := New()
	target := core.NewHandle(1, 1)
	w.Insert(5*Tick, target, 42)

	for i := 0; i < 4; i++ {
		if fired := w.Advance(); len(fired) != 0 {
			t.Fatalf("fired early at tick %d", i+1)
		}
	}
	fired := w.Advance()
	if len(fired) != 1 {
		t.Fatalf("expected exactly 1 fired timer at tick 5, got %d", len(fired))
	}
	if fired[0].Dest != target || fired[0].Session != 42 {
		t.Fatalf("fired message mismatch: %+v", fired[0])
	}
	if fired[0].Type != core.PTypeResponse {
		t.Fatalf("expected PTypeResponse, got %d", fired[0].Type)
	}
}

func TestOrderingShorterDelayFiresFirst(t *testing.T) {
	w := New()
	target := core.NewHandle(1, 1)
	w.Insert(10*Tick, target, 1)
	w.Insert(5*Tick, target, 2)

	var order []int32
	for i := 0; i < 10; i++ {
		for _, m := range w.Advance() {
			order = append(order, m.Session)
		}
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected session 2 before 1, got %v", order)
	}
}

func TestCascadeLevelPlacementAtPowerOfTwoBoundary(t *testing.T) {
	w := New()
	target := core.NewHandle(1, 1)
	// 2^14 - 1 ticks lands just inside near+cascade level 0's span;
	// 2^14 spills into level 1 (spec §8 invariant 11's boundary check).
	w.Insert(time.Duration(1<<14-1)*Tick, target, 100)
	w.Insert(time.Duration(1<<14)*Tick, target, 200)

	seen := map[int32]bool{}
	for i := 0; i < 1<<14+5; i++ {
		for _, m := range w.Advance() {
			seen[m.Session] = true
		}
	}
	if !seen[100] || !seen[200] {
		t.Fatalf("expected both timers to eventually fire, saw %v", seen)
	}
}
