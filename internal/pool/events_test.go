package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"poold/internal/governor"
)

func TestLifecycleEventsPublished(t *testing.T) {
	pub := NewMemoryPublisher()
	gov := governor.New(governor.Config{CeilingMB: 1000})
	coord := NewCoordinator(pub)
	reg := NewRegistry[*testWorker]("test", Config{}, gov, coord, pub)

	var loads atomic.Int32
	if err := reg.ensureWorker(context.Background(), "m1", 100, countingSpawn(&loads)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// The spawn goroutine publishes after registering the worker; wait for
	// the event before starting shutdown so the order is deterministic.
	waitFor(t, func() bool { return len(pub.Events()) == 1 })
	res := coord.Begin(time.Second)
	if !res.Clean {
		t.Fatalf("expected clean drain")
	}

	var names []string
	for _, e := range pub.Events() {
		names = append(names, e.Name)
	}
	want := []string{"worker_spawned", "shutdown_begin", "worker_removed", "shutdown_done"}
	if len(names) != len(want) {
		t.Fatalf("expected events %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q (all: %v)", i, want[i], names[i], names)
		}
	}
}

func TestSpawnFailureEventCarriesError(t *testing.T) {
	pub := NewMemoryPublisher()
	gov := governor.New(governor.Config{CeilingMB: 1000})
	coord := NewCoordinator(nil)
	reg := NewRegistry[*testWorker]("test", Config{}, gov, coord, pub)

	spawn := func(ctx context.Context, core *Worker) (*testWorker, error) {
		return nil, errTest
	}
	if err := reg.ensureWorker(context.Background(), "m1", 10, spawn); !IsSpawnFailed(err) {
		t.Fatalf("expected spawn failed, got %v", err)
	}
	evs := pub.Events()
	if len(evs) != 1 || evs[0].Name != "spawn_failed" {
		t.Fatalf("expected a spawn_failed event, got %+v", evs)
	}
	if evs[0].Identity != "m1" || evs[0].Fields["error"] != errTest.Error() {
		t.Fatalf("unexpected event payload: %+v", evs[0])
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "load blew up" }
