package capability

import (
	"context"
	"sync"

	"poold/internal/governor"
	"poold/internal/pool"
)

// CapGenerate is the registry label for text-generation workers.
const CapGenerate = "generate"

// GenerateOpts carries per-request generation parameters.
type GenerateOpts struct {
	MaxTokens   int
	Temperature float64
}

// GenerateModel is the loaded-model contract for text generation. The pool
// never inspects model internals: it holds the model for the lifetime of one
// worker and closes it on removal. Implementations are called from a single
// worker goroutine, so they need not be safe for concurrent use.
type GenerateModel interface {
	Generate(ctx context.Context, prompt string, opts GenerateOpts) (string, error)
	// Stream emits tokens through emit as they are produced. A non-nil
	// error from emit aborts the generation.
	Stream(ctx context.Context, prompt string, opts GenerateOpts, emit func(token string) error) error
	Close() error
}

// GenerateLoader loads the model for an identity. It runs on a spawn
// goroutine, off the dispatch path, and may block for as long as the load
// takes.
type GenerateLoader func(ctx context.Context, identity string) (GenerateModel, error)

type generateReply struct {
	text string
	err  error
}

type generateRequest struct {
	ctx    context.Context
	prompt string
	opts   GenerateOpts
	reply  chan generateReply
}

type streamRequest struct {
	ctx    context.Context
	prompt string
	opts   GenerateOpts
	emit   func(string) error
	reply  chan error
}

// GenerateWorker couples a worker record with a loaded generation model and
// the bounded channels for its two operations.
type GenerateWorker struct {
	core  *pool.Worker
	model GenerateModel

	genCh    chan generateRequest
	streamCh chan streamRequest
}

// Core returns the shared worker record.
func (w *GenerateWorker) Core() *pool.Worker { return w.core }

// QueueDepth reports requests queued across both operation channels.
func (w *GenerateWorker) QueueDepth() int { return len(w.genCh) + len(w.streamCh) }

// run is the worker loop: it selects over the operation channels, the
// health-ping channel and the shutdown signal until stopped. Replies go to
// buffered single-use channels, so a caller that gave up never blocks the
// loop. Per-channel FIFO holds; no ordering is promised across channels.
func (w *GenerateWorker) run() {
	defer w.core.MarkExited()
	defer w.model.Close()
	for {
		select {
		case req := <-w.genCh:
			text, err := w.model.Generate(req.ctx, req.prompt, req.opts)
			req.reply <- generateReply{text: text, err: err}
			w.core.AnswerPing(w.QueueDepth())
		case req := <-w.streamCh:
			req.reply <- w.model.Stream(req.ctx, req.prompt, req.opts, req.emit)
			w.core.AnswerPing(w.QueueDepth())
		case <-w.core.PingCh():
			w.core.Pong(w.QueueDepth())
		case <-w.core.StopCh():
			return
		}
	}
}

// GeneratePool routes generation requests to per-identity workers, spawning
// them lazily from the registered catalog.
type GeneratePool struct {
	reg *pool.Registry[*GenerateWorker]

	mu      sync.RWMutex
	catalog map[string]generateCatalogEntry
}

type generateCatalogEntry struct {
	costMB int
	loader GenerateLoader
}

// NewGeneratePool builds the pool and attaches its registry to the
// coordinator.
func NewGeneratePool(cfg pool.Config, gov *governor.Governor, coord *pool.Coordinator, events pool.EventPublisher) *GeneratePool {
	return &GeneratePool{
		reg:     pool.NewRegistry[*GenerateWorker](CapGenerate, cfg, gov, coord, events),
		catalog: make(map[string]generateCatalogEntry),
	}
}

// Registry exposes the underlying registry for status and tests.
func (p *GeneratePool) Registry() *pool.Registry[*GenerateWorker] { return p.reg }

// RegisterModel adds an identity to the catalog with its estimated memory
// cost. Registration replaces any previous entry; it never spawns.
func (p *GeneratePool) RegisterModel(identity string, costMB int, loader GenerateLoader) {
	p.mu.Lock()
	p.catalog[identity] = generateCatalogEntry{costMB: costMB, loader: loader}
	p.mu.Unlock()
}

func (p *GeneratePool) lookup(identity string) (generateCatalogEntry, error) {
	p.mu.RLock()
	ce, ok := p.catalog[identity]
	p.mu.RUnlock()
	if !ok {
		return generateCatalogEntry{}, ErrModelNotFound(identity)
	}
	return ce, nil
}

func (p *GeneratePool) spawnFunc(loader GenerateLoader) pool.SpawnFunc[*GenerateWorker] {
	cfg := p.reg.Config()
	return func(ctx context.Context, core *pool.Worker) (*GenerateWorker, error) {
		model, err := loader(ctx, core.Identity())
		if err != nil {
			return nil, err
		}
		w := &GenerateWorker{
			core:     core,
			model:    model,
			genCh:    make(chan generateRequest, cfg.GenerateQueueCap),
			streamCh: make(chan streamRequest, cfg.StreamQueueCap),
		}
		go w.run()
		return w, nil
	}
}

// Generate runs one completion on a worker for the identity.
func (p *GeneratePool) Generate(ctx context.Context, identity, prompt string, opts GenerateOpts) (string, error) {
	ce, err := p.lookup(identity)
	if err != nil {
		return "", err
	}
	failFast := p.reg.Config().FailFast
	return pool.Dispatch(ctx, p.reg, identity, ce.costMB, p.spawnFunc(ce.loader), "generate",
		func(ctx context.Context, w *GenerateWorker) (string, error) {
			req := generateRequest{ctx: ctx, prompt: prompt, opts: opts, reply: make(chan generateReply, 1)}
			if err := send(ctx, w.core, w.genCh, req, "generate", failFast); err != nil {
				return "", err
			}
			rep, err := await(ctx, w.core, req.reply)
			if err != nil {
				return "", err
			}
			return rep.text, rep.err
		})
}

// Stream runs one streaming completion, delivering tokens through emit from
// the worker goroutine. Dispatch holds the worker's pending count for the
// whole stream.
func (p *GeneratePool) Stream(ctx context.Context, identity, prompt string, opts GenerateOpts, emit func(token string) error) error {
	ce, err := p.lookup(identity)
	if err != nil {
		return err
	}
	failFast := p.reg.Config().FailFast
	_, err = pool.Dispatch(ctx, p.reg, identity, ce.costMB, p.spawnFunc(ce.loader), "stream",
		func(ctx context.Context, w *GenerateWorker) (struct{}, error) {
			req := streamRequest{ctx: ctx, prompt: prompt, opts: opts, emit: emit, reply: make(chan error, 1)}
			if err := send(ctx, w.core, w.streamCh, req, "stream", failFast); err != nil {
				return struct{}{}, err
			}
			res, err := await(ctx, w.core, req.reply)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, res
		})
	return err
}
