package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

var rlog = logrus.WithField("module", "reaper")

// Reaper periodically evicts vehicles whose last report is older than the
// staleness threshold and re-evaluates the affected intersections.
type Reaper struct {
	engine     *Engine
	interval   time.Duration
	staleAfter time.Duration
}

func NewReaper(engine *Engine, interval, staleAfter time.Duration) *Reaper {
	return &Reaper{engine: engine, interval: interval, staleAfter: staleAfter}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	rlog.Infof("sweeping every %s, evicting entries older than %s", r.interval, r.staleAfter)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.engine.SweepStale(r.staleAfter)
		}
	}
}

// SweepStale removes every tracked entry older than staleAfter. Each
// intersection is swept in its own critical section, and a failure on one
// intersection never stops the sweep of the others.
func (e *Engine) SweepStale(staleAfter time.Duration) {
	now := epoch(e.now())
	threshold := staleAfter.Seconds()
	e.reg.each(func(desc Intersection, qs *QueueState) {
		defer func() {
			if rec := recover(); rec != nil {
				rlog.WithField("intersection", desc.ID).Errorf("sweep panic: %v", rec)
			}
		}()
		e.sweepIntersection(desc, qs, now, threshold)
	})
}

func (e *Engine) sweepIntersection(desc Intersection, qs *QueueState, now, threshold float64) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	removed := 0
	for id, entry := range qs.entries {
		if now-entry.Timestamp > threshold {
			delete(qs.entries, id)
			e.reg.unmarkTracked(id, desc.ID)
			removed++
		}
	}
	if removed == 0 {
		return
	}
	rlog.WithField("intersection", desc.ID).Debugf("evicted %d stale entries", removed)
	e.emitQueueLocked(desc.ID, qs, now)
	e.decideLocked(desc, qs, e.currentRange(desc), now)
}
