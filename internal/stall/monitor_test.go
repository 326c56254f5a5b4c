package stall

import (
	"testing"

	"github.com/webitel/skywork/internal/core"
)

func TestSampleOnceMarksUnmovedVersion(t *testing.T) {
	var marked []core.Handle
	m := New(nil, 2, 0, func(h core.Handle) { marked = append(marked, h) })

	dest := core.NewHandle(1, 5)
	m.Trigger(0, core.NewHandle(1, 1), dest)

	m.sampleOnce() // first sample just records the baseline version
	if len(marked) != 0 {
		t.Fatalf("expected no mark on first sample, got %v", marked)
	}

	m.sampleOnce() // version unchanged since last sample: stalled
	if len(marked) != 1 || marked[0] != dest {
		t.Fatalf("expected dest marked once, got %v", marked)
	}
}

func TestSampleOnceDoesNotMarkAfterProgress(t *testing.T) {
	var marked []core.Handle
	m := New(nil, 1, 0, func(h core.Handle) { marked = append(marked, h) })

	dest := core.NewHandle(1, 9)
	m.Trigger(0, core.NewHandle(1, 1), dest)
	m.sampleOnce()

	m.Trigger(0, core.NewHandle(1, 1), dest) // worker made progress before next sample
	m.sampleOnce()

	if len(marked) != 0 {
		t.Fatalf("expected no mark when version advanced, got %v", marked)
	}
}

func TestSampleOnceIgnoresNeverTriggeredWorker(t *testing.T) {
	var marked []core.Handle
	m := New(nil, 1, 0, func(h core.Handle) { marked = append(marked, h) })

	m.sampleOnce()
	m.sampleOnce()
	if len(marked) != 0 {
		t.Fatalf("expected no mark for a worker with an invalid destination, got %v", marked)
	}
}

func TestStopReturnsAfterRun(t *testing.T) {
	m := New(nil, 1, 1, func(core.Handle) {})
	go m.Run()
	m.Stop() // must not deadlock or hang
}
