package capability

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"poold/internal/governor"
	"poold/internal/pool"
)

func newEmbedHarness(t *testing.T, cfg pool.Config) (*EmbedPool, *governor.Governor) {
	t.Helper()
	if cfg.CeilingMB == 0 {
		cfg.CeilingMB = 1000
	}
	gov := governor.New(governor.Config{CeilingMB: cfg.CeilingMB})
	coord := pool.NewCoordinator(nil)
	p := NewEmbedPool(cfg, gov, coord, nil)
	t.Cleanup(func() { coord.Begin(time.Second) })
	return p, gov
}

func TestEmbedDeterministic(t *testing.T) {
	p, _ := newEmbedHarness(t, pool.Config{})
	p.RegisterModel("emb-a", 50, NewStubEmbedder(8, 0))

	a, err := p.Embed(context.Background(), "emb-a", "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := p.Embed(context.Background(), "emb-a", "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("expected 8-dim vectors, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differs at %d", i)
		}
	}
}

func TestBatchEmbedPreservesOrder(t *testing.T) {
	p, _ := newEmbedHarness(t, pool.Config{})
	p.RegisterModel("emb-a", 50, NewStubEmbedder(4, 0))

	inputs := []string{"one", "two", "three"}
	batch, err := p.BatchEmbed(context.Background(), "emb-a", inputs)
	if err != nil {
		t.Fatalf("batch embed: %v", err)
	}
	if len(batch) != len(inputs) {
		t.Fatalf("expected %d vectors, got %d", len(inputs), len(batch))
	}
	for i, in := range inputs {
		single, err := p.Embed(context.Background(), "emb-a", in)
		if err != nil {
			t.Fatalf("embed %q: %v", in, err)
		}
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("vector %d differs from single embedding", i)
			}
		}
	}
}

func TestEmbedUnknownModel(t *testing.T) {
	p, _ := newEmbedHarness(t, pool.Config{})
	_, err := p.Embed(context.Background(), "nope", "hi")
	if !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestEmbedSharesWorkerAcrossOps(t *testing.T) {
	p, gov := newEmbedHarness(t, pool.Config{})
	var loads atomic.Int32
	inner := NewStubEmbedder(4, 0)
	p.RegisterModel("emb-a", 100, func(ctx context.Context, identity string) (EmbedModel, error) {
		loads.Add(1)
		return inner(ctx, identity)
	})

	if _, err := p.Embed(context.Background(), "emb-a", "x"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := p.BatchEmbed(context.Background(), "emb-a", []string{"x", "y"}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if loads.Load() != 1 {
		t.Fatalf("both ops must share one worker, loads=%d", loads.Load())
	}
	if gov.AllocatedMB() != 100 {
		t.Fatalf("expected one reservation, allocated=%d", gov.AllocatedMB())
	}
}

func TestEmbedWorkerAnswersHealthPing(t *testing.T) {
	p, _ := newEmbedHarness(t, pool.Config{})
	p.RegisterModel("emb-a", 50, NewStubEmbedder(4, 0))
	if _, err := p.Embed(context.Background(), "emb-a", "x"); err != nil {
		t.Fatalf("embed: %v", err)
	}

	mon := pool.NewHealthMonitor(p.Registry().Config(), harnessCoordinator(p))
	for i := 0; i < 5; i++ {
		if removed := mon.Tick(); removed != 0 {
			t.Fatalf("live worker removed on tick %d", i)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if p.Registry().WorkerCount() != 1 {
		t.Fatalf("expected worker to survive health checks")
	}
}

// harnessCoordinator builds a coordinator with only this pool attached.
func harnessCoordinator(p *EmbedPool) *pool.Coordinator {
	c := pool.NewCoordinator(nil)
	c.Attach(p.Registry())
	return c
}
