package pool

import (
	"context"
	"time"

	"github.com/google/uuid"

	"poold/internal/common/logx"
)

// SendFunc performs the capability-specific channel handshake with a chosen
// worker: enqueue the request, await the reply. It reports a channel-closed
// error when the worker dies mid-request.
type SendFunc[W Handle, R any] func(ctx context.Context, w W) (R, error)

// Dispatch routes one request to an alive worker for the identity, spawning
// one when the identity is cold. A worker death mid-request is treated as a
// single transient fault: the dead worker is removed and the dispatch is
// retried once against another alive worker or a fresh spawn. All other
// errors surface immediately.
func Dispatch[W Handle, R any](ctx context.Context, r *Registry[W], identity string, costMB int, spawn SpawnFunc[W], op string, send SendFunc[W, R]) (R, error) {
	var zero R
	if r.coord.IsShuttingDown() {
		dispatchErrorsTotal.WithLabelValues(r.capability, "shutting_down").Inc()
		return zero, ErrShuttingDown()
	}
	reqID := uuid.NewString()
	start := time.Now()
	var exclude uint64
	for attempt := 0; ; attempt++ {
		w, ok := r.selectWorker(identity, exclude)
		if !ok {
			if err := r.ensureWorker(ctx, identity, costMB, spawn); err != nil {
				dispatchErrorsTotal.WithLabelValues(r.capability, errorKind(err)).Inc()
				return zero, err
			}
			if w, ok = r.selectWorker(identity, exclude); !ok {
				dispatchErrorsTotal.WithLabelValues(r.capability, "no_workers").Inc()
				return zero, ErrNoWorkers(identity)
			}
		} else {
			r.maybeScaleUp(identity, costMB, spawn)
		}

		core := w.Core()
		logx.Log.Debug().
			Str("capability", r.capability).
			Str("identity", identity).
			Str("op", op).
			Str("request_id", reqID).
			Uint64("worker_id", core.ID()).
			Int("pending", core.Pending()).
			Msg("dispatching")

		core.StartRequest()
		res, err := send(ctx, w)
		core.EndRequest()
		if err == nil {
			dispatchDuration.WithLabelValues(r.capability, identity, op).Observe(time.Since(start).Seconds())
			return res, nil
		}
		if IsChannelClosed(err) && attempt == 0 {
			// The worker died under us. Pull it out so the retry cannot
			// land on the same corpse, then go around once more.
			r.remove(identity, core.ID(), reasonClosed)
			exclude = core.ID()
			continue
		}
		dispatchErrorsTotal.WithLabelValues(r.capability, errorKind(err)).Inc()
		return zero, err
	}
}
