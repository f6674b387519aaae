package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepEvictsStaleLeader(t *testing.T) {
	engine, reg, sink := newTestEngine(t, nil)
	mustRegister(t, reg, "I1", 10.0, 10.0, 100)

	base := time.Unix(10000, 0)
	engine.now = func() time.Time { return base }

	// A reported long ago and holds priority; B is fresh.
	engine.HandleReport(&LocationReport{ID: "A", Lat: latAtDistance(10, 20), Lon: 10, PatientScore: 9, Timestamp: epoch(base.Add(-2 * time.Minute))})
	engine.HandleReport(&LocationReport{ID: "B", Lat: latAtDistance(10, 40), Lon: 10, Timestamp: epoch(base)})
	require.Equal(t, "A", reg.queue("I1").activeTop)

	engine.SweepStale(time.Minute)

	// A is gone, B was promoted and named in a preemption event.
	sig := sink.lastSignal(t, "I1")
	assert.True(t, sig.Preempt)
	assert.Equal(t, "B", sig.ID)
	assert.Equal(t, "B", reg.queue("I1").activeTop)

	queues := sink.queuesFor("I1")
	last := queues[len(queues)-1]
	require.Len(t, last.Queue, 1)
	assert.Equal(t, "B", last.Queue[0].ID)
}

func TestSweepEmitsCrossedWhenQueueEmpties(t *testing.T) {
	engine, reg, sink := newTestEngine(t, nil)
	mustRegister(t, reg, "I1", 10.0, 10.0, 100)

	base := time.Unix(10000, 0)
	engine.now = func() time.Time { return base }

	engine.HandleReport(&LocationReport{ID: "A", Lat: latAtDistance(10, 20), Lon: 10, Timestamp: epoch(base.Add(-90 * time.Second))})
	engine.SweepStale(time.Minute)

	sig := sink.lastSignal(t, "I1")
	assert.Equal(t, StatusCrossed, sig.Status)
	assert.Nil(t, sig.Top)
	assert.Equal(t, "", reg.queue("I1").activeTop)
}

func TestSweepIgnoresFreshEntries(t *testing.T) {
	engine, reg, sink := newTestEngine(t, nil)
	mustRegister(t, reg, "I1", 10.0, 10.0, 100)

	base := time.Unix(10000, 0)
	engine.now = func() time.Time { return base }

	engine.HandleReport(&LocationReport{ID: "A", Lat: latAtDistance(10, 20), Lon: 10, Timestamp: epoch(base.Add(-30 * time.Second))})
	before := len(sink.signalsFor("I1"))

	engine.SweepStale(time.Minute)

	// No removal, no extra emission.
	assert.Len(t, sink.signalsFor("I1"), before)
	assert.Equal(t, "A", reg.queue("I1").activeTop)
}

func TestSweepUnmarksTracking(t *testing.T) {
	engine, reg, _ := newTestEngine(t, nil)
	mustRegister(t, reg, "I1", 10.0, 10.0, 100)

	base := time.Unix(10000, 0)
	engine.now = func() time.Time { return base }

	engine.HandleReport(&LocationReport{ID: "A", Lat: latAtDistance(10, 20), Lon: 10, Timestamp: epoch(base.Add(-2 * time.Minute))})
	engine.SweepStale(time.Minute)

	reg.mu.RLock()
	_, stillTracked := reg.tracked["A"]
	reg.mu.RUnlock()
	assert.False(t, stillTracked)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	reaper := NewReaper(engine, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancellation")
	}
}
