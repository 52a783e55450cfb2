package cloudsync

import (
	"context"

	"github.com/pixelartvj/officesync/internal/client/bus"
)

// probeLoop corrects the online flag from the prober every probe interval.
func (e *Engine) probeLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.NewTicker(e.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.SetOnline(ctx, e.prober.Reachable(ctx))
		}
	}
}

// syncLoop is the steady-state convergence task: replay what is queued,
// then run a full sync.
func (e *Engine) syncLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !e.IsOnline() || e.syncing.Load() {
				continue
			}
			if u, _ := e.currentUser(); u == nil {
				continue
			}
			if err := e.ProcessQueue(ctx); err != nil {
				e.logger.Warn(ctx, "queue replay failed", "error", err)
			}
			if err := e.SyncAll(ctx); err != nil {
				e.logger.Warn(ctx, "periodic sync failed", "error", err)
			}
		}
	}
}

func (e *Engine) changeLoop(ctx context.Context, sub *bus.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			e.HandleChange(ctx, ev)
		}
	}
}
