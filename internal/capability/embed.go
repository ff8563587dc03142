package capability

import (
	"context"
	"sync"

	"poold/internal/governor"
	"poold/internal/pool"
)

// CapEmbed is the registry label for embedding workers.
const CapEmbed = "embed"

// EmbedModel is the loaded-model contract for embeddings. Called from a
// single worker goroutine.
type EmbedModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// EmbedLoader loads the embedding model for an identity.
type EmbedLoader func(ctx context.Context, identity string) (EmbedModel, error)

type embedReply struct {
	vector []float32
	err    error
}

type embedRequest struct {
	ctx   context.Context
	text  string
	reply chan embedReply
}

type batchEmbedReply struct {
	vectors [][]float32
	err     error
}

type batchEmbedRequest struct {
	ctx   context.Context
	texts []string
	reply chan batchEmbedReply
}

// EmbedWorker couples a worker record with a loaded embedding model and the
// bounded channels for single and batch embedding.
type EmbedWorker struct {
	core  *pool.Worker
	model EmbedModel

	embedCh chan embedRequest
	batchCh chan batchEmbedRequest
}

func (w *EmbedWorker) Core() *pool.Worker { return w.core }

func (w *EmbedWorker) QueueDepth() int { return len(w.embedCh) + len(w.batchCh) }

func (w *EmbedWorker) run() {
	defer w.core.MarkExited()
	defer w.model.Close()
	for {
		select {
		case req := <-w.embedCh:
			v, err := w.model.Embed(req.ctx, req.text)
			req.reply <- embedReply{vector: v, err: err}
			w.core.AnswerPing(w.QueueDepth())
		case req := <-w.batchCh:
			vs, err := w.model.BatchEmbed(req.ctx, req.texts)
			req.reply <- batchEmbedReply{vectors: vs, err: err}
			w.core.AnswerPing(w.QueueDepth())
		case <-w.core.PingCh():
			w.core.Pong(w.QueueDepth())
		case <-w.core.StopCh():
			return
		}
	}
}

// EmbedPool routes embedding requests to per-identity workers.
type EmbedPool struct {
	reg *pool.Registry[*EmbedWorker]

	mu      sync.RWMutex
	catalog map[string]embedCatalogEntry
}

type embedCatalogEntry struct {
	costMB int
	loader EmbedLoader
}

// NewEmbedPool builds the pool and attaches its registry to the coordinator.
func NewEmbedPool(cfg pool.Config, gov *governor.Governor, coord *pool.Coordinator, events pool.EventPublisher) *EmbedPool {
	return &EmbedPool{
		reg:     pool.NewRegistry[*EmbedWorker](CapEmbed, cfg, gov, coord, events),
		catalog: make(map[string]embedCatalogEntry),
	}
}

// Registry exposes the underlying registry for status and tests.
func (p *EmbedPool) Registry() *pool.Registry[*EmbedWorker] { return p.reg }

// RegisterModel adds an identity to the catalog with its estimated memory
// cost.
func (p *EmbedPool) RegisterModel(identity string, costMB int, loader EmbedLoader) {
	p.mu.Lock()
	p.catalog[identity] = embedCatalogEntry{costMB: costMB, loader: loader}
	p.mu.Unlock()
}

func (p *EmbedPool) lookup(identity string) (embedCatalogEntry, error) {
	p.mu.RLock()
	ce, ok := p.catalog[identity]
	p.mu.RUnlock()
	if !ok {
		return embedCatalogEntry{}, ErrModelNotFound(identity)
	}
	return ce, nil
}

func (p *EmbedPool) spawnFunc(loader EmbedLoader) pool.SpawnFunc[*EmbedWorker] {
	cfg := p.reg.Config()
	return func(ctx context.Context, core *pool.Worker) (*EmbedWorker, error) {
		model, err := loader(ctx, core.Identity())
		if err != nil {
			return nil, err
		}
		w := &EmbedWorker{
			core:    core,
			model:   model,
			embedCh: make(chan embedRequest, cfg.EmbedQueueCap),
			batchCh: make(chan batchEmbedRequest, cfg.BatchEmbedQueueCap),
		}
		go w.run()
		return w, nil
	}
}

// Embed produces the embedding vector for one text.
func (p *EmbedPool) Embed(ctx context.Context, identity, text string) ([]float32, error) {
	ce, err := p.lookup(identity)
	if err != nil {
		return nil, err
	}
	failFast := p.reg.Config().FailFast
	return pool.Dispatch(ctx, p.reg, identity, ce.costMB, p.spawnFunc(ce.loader), "embed",
		func(ctx context.Context, w *EmbedWorker) ([]float32, error) {
			req := embedRequest{ctx: ctx, text: text, reply: make(chan embedReply, 1)}
			if err := send(ctx, w.core, w.embedCh, req, "embed", failFast); err != nil {
				return nil, err
			}
			rep, err := await(ctx, w.core, req.reply)
			if err != nil {
				return nil, err
			}
			return rep.vector, rep.err
		})
}

// BatchEmbed produces embedding vectors for a batch of texts in one worker
// pass.
func (p *EmbedPool) BatchEmbed(ctx context.Context, identity string, texts []string) ([][]float32, error) {
	ce, err := p.lookup(identity)
	if err != nil {
		return nil, err
	}
	failFast := p.reg.Config().FailFast
	return pool.Dispatch(ctx, p.reg, identity, ce.costMB, p.spawnFunc(ce.loader), "batch_embed",
		func(ctx context.Context, w *EmbedWorker) ([][]float32, error) {
			req := batchEmbedRequest{ctx: ctx, texts: texts, reply: make(chan batchEmbedReply, 1)}
			if err := send(ctx, w.core, w.batchCh, req, "batch_embed", failFast); err != nil {
				return nil, err
			}
			rep, err := await(ctx, w.core, req.reply)
			if err != nil {
				return nil, err
			}
			return rep.vectors, rep.err
		})
}
