package pool

import (
	"sync"
	"testing"
	"time"

	"poold/internal/governor"
)

func newBareWorker(t *testing.T, g *governor.Governor, mb int) *Worker {
	t.Helper()
	guard, ok := g.TryAllocate(mb)
	if !ok {
		t.Fatalf("allocation failed")
	}
	return NewWorker("m1", mb, guard)
}

func TestWorkerIDsAreUnique(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	a := newBareWorker(t, g, 1)
	b := newBareWorker(t, g, 1)
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct ids, both %d", a.ID())
	}
}

func TestPendingNeverGoesNegative(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	w := newBareWorker(t, g, 1)
	w.EndRequest()
	w.EndRequest()
	if got := w.Pending(); got != 0 {
		t.Fatalf("expected pending clamped at 0, got %d", got)
	}
	w.StartRequest()
	if got := w.Pending(); got != 1 {
		t.Fatalf("expected pending 1, got %d", got)
	}
}

func TestStopIsOneShot(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	w := newBareWorker(t, g, 1)
	if !w.Stop() {
		t.Fatalf("first stop must deliver")
	}
	if w.Stop() {
		t.Fatalf("second stop must be a no-op")
	}
	select {
	case <-w.StopCh():
	default:
		t.Fatalf("stop channel must be closed")
	}
}

func TestDestroyReleasesExactlyOnce(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	w := newBareWorker(t, g, 40)
	var wg sync.WaitGroup
	var destroyed sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if w.destroy() {
				destroyed.Store(i, true)
			}
		}(i)
	}
	wg.Wait()
	n := 0
	destroyed.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Fatalf("expected exactly one destroy, got %d", n)
	}
	if g.AllocatedMB() != 0 {
		t.Fatalf("expected memory released once, allocated=%d", g.AllocatedMB())
	}
}

func TestAnswerPingOnlyAfterPing(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	w := newBareWorker(t, g, 1)

	// No ping pending: no pong is produced.
	w.AnswerPing(3)
	if _, ok := w.drainPong(); ok {
		t.Fatalf("unexpected pong without a ping")
	}

	if !w.sendPing(time.Now()) {
		t.Fatalf("ping send failed on empty channel")
	}
	w.AnswerPing(3)
	pong, ok := w.drainPong()
	if !ok {
		t.Fatalf("expected a pong")
	}
	if pong.WorkerID != w.ID() || pong.QueueDepth != 3 {
		t.Fatalf("unexpected pong: %+v", pong)
	}
}

func TestSendPingFailsWhenFull(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	w := newBareWorker(t, g, 1)
	if !w.sendPing(time.Now()) {
		t.Fatalf("first ping must be accepted")
	}
	if w.sendPing(time.Now()) {
		t.Fatalf("second ping must be rejected while the first is unread")
	}
}

func TestIdleFor(t *testing.T) {
	g := governor.New(governor.Config{CeilingMB: 100})
	w := newBareWorker(t, g, 1)
	w.lastActive.Store(time.Now().Add(-time.Minute).UnixNano())
	if d := w.IdleFor(time.Now()); d < 59*time.Second {
		t.Fatalf("expected about a minute idle, got %v", d)
	}
	w.Touch()
	if d := w.IdleFor(time.Now()); d > time.Second {
		t.Fatalf("expected fresh activity, got %v", d)
	}
}
