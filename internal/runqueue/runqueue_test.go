package runqueue

import (
	"testing"
	"time"

	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/mailbox"
)

func TestPushPopFIFOOrder(t *testing.T) {
	q := New()
	a := mailbox.New(core.NewHandle(1, 1))
	b := mailbox.New(core.NewHandle(1, 2))
	q.Push(a)
	q.Push(b)

	got, ok := q.Pop()
	if !ok || got != a {
		t.Fatal("expected a first")
	}
	got, ok = q.Pop()
	if !ok || got != b {
		t.Fatal("expected b second")
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestWaitWakesOnPush(t *testing.T) {
	q := New()
	woke := make(chan struct{})
	go func() {
		q.Wait()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	box := mailbox.New(core.NewHandle(1, 1))
	q.Push(box)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after Push")
	}
}

func TestBroadcastWakesAllWaiters(t *testing.T) {
	q := New()
	const n = 4
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			q.Wait()
			done <- struct{}{}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Broadcast()

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all waiters woke on Broadcast")
		}
	}
}

func TestLen(t *testing.T) {
	q := New()
	if q.Len() != 0 {
		t.Fatal("expected empty queue length 0")
	}
	q.Push(mailbox.New(core.NewHandle(1, 1)))
	q.Push(mailbox.New(core.NewHandle(1, 2)))
	if q.Len() != 2 {
		t.Fatalf("expected length 2, got %d", q.Len())
	}
}
