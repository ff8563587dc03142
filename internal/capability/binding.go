// Package capability binds loaded models to pool workers. Each capability
// (text generation, embedding) defines its own request/reply channel set and
// worker loop; the generic pool machinery sees only the shared worker record
// through the handle contract.
package capability

import (
	"context"

	"poold/internal/pool"
)

// send offers a request on a bounded operation channel. With failFast set a
// full channel is an immediate overloaded error; otherwise the caller blocks
// until the worker drains the channel, the worker dies, or ctx ends. The
// bounded capacity is the backpressure mechanism: queued memory is capped by
// channel depth, not request volume.
func send[Req any](ctx context.Context, core *pool.Worker, ch chan<- Req, req Req, op string, failFast bool) error {
	if failFast {
		select {
		case ch <- req:
			return nil
		default:
			return pool.ErrOverloaded(core.Identity(), op)
		}
	}
	select {
	case ch <- req:
		return nil
	case <-core.Done():
		return pool.ErrChannelClosed(core.Identity(), core.ID())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await blocks on the single-use reply channel. Worker death is mapped to a
// channel-closed error, with one last non-blocking read first in case the
// reply landed just before the loop exited. A caller whose ctx ends simply
// walks away; the worker still completes and its buffered reply is dropped.
func await[Rep any](ctx context.Context, core *pool.Worker, reply <-chan Rep) (Rep, error) {
	var zero Rep
	select {
	case rep := <-reply:
		return rep, nil
	case <-core.Done():
		select {
		case rep := <-reply:
			return rep, nil
		default:
		}
		return zero, pool.ErrChannelClosed(core.Identity(), core.ID())
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
