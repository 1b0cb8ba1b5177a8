package batching

import (
	"context"
	"time"

	pkgerrors "hush/pkg/errors"
	"hush/pkg/metrics"
)

// Sweep finalizes groups past their max age and prunes channels idle for
// longer than the idle horizon. A channel whose lock is busy is skipped
// until the next sweep.
func (e *Engine) Sweep(ctx context.Context) []ReadyBatch {
	cfg, _ := e.settings()
	now := e.now()
	out := make([]ReadyBatch, 0)

	for _, id := range e.channelIDs() {
		if ctx.Err() != nil {
			break
		}
		ch := e.lookup(id)
		if ch == nil {
			continue
		}

		lockCtx, cancel := context.WithTimeout(ctx, cfg.LockTimeout)
		err := ch.sem.Acquire(lockCtx, 1)
		cancel()
		if err != nil {
			continue
		}

		if !ch.removed {
			for _, key := range append([]string(nil), ch.order...) {
				g := ch.groups[key]
				if now.Before(g.ExpiresAt) {
					continue
				}
				if batch := e.finalize(ctx, ch, g, ReasonAge, now); batch != nil {
					out = append(out, *batch)
				}
			}

			lastActivity := time.Unix(0, ch.lastActivity.Load())
			if len(ch.groups) == 0 && now.Sub(lastActivity) >= cfg.IdleHorizon {
				e.prune(ch)
			}
		}
		ch.unlock()
	}

	e.publishState()
	return out
}

// prune must be called with the channel lock held.
func (e *Engine) prune(ch *channelState) {
	ch.removed = true
	e.mu.Lock()
	if e.channels[ch.id] == ch {
		delete(e.channels, ch.id)
	}
	e.mu.Unlock()

	metrics.ChannelsEvictedTotal.WithLabelValues("idle").Inc()
	e.logger.Debugw("Pruned idle channel",
		"channel_id", ch.id,
	)
}

// StartSweeper runs Sweep every sweep interval and hands the batches to the
// ready handler until ctx is done.
func (e *Engine) StartSweeper(ctx context.Context) error {
	cfg, _ := e.settings()
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	e.logger.InfowCtx(ctx, "Batch sweeper started",
		"interval", cfg.SweepInterval,
		"idle_horizon", cfg.IdleHorizon,
	)

	for {
		select {
		case <-ticker.C:
			for _, batch := range e.Sweep(ctx) {
				e.handOff(ctx, batch)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) handOff(ctx context.Context, batch ReadyBatch) {
	if e.onReady == nil {
		e.logger.WarnwCtx(ctx, "No ready handler, dropping swept batch",
			"batch_id", batch.ID,
			"channel_id", batch.ChannelID,
		)
		return
	}
	// a panicking handler must not stop the sweeper
	err := pkgerrors.Guard(func() error {
		e.onReady(ctx, batch)
		return nil
	})
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Ready handler panicked",
			"batch_id", batch.ID,
			"channel_id", batch.ChannelID,
			"error", err,
		)
	}
}

