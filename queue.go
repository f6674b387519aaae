package main

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var qlog = logrus.WithField("module", "queue")

// QueueState is the mutable per-intersection state: the tracked vehicles and
// the identifier of the vehicle currently holding signal priority. All
// mutation happens under mu, one critical section per intersection.
type QueueState struct {
	mu        sync.Mutex
	entries   map[string]*VehicleEntry
	activeTop string
}

func newQueueState() *QueueState {
	return &QueueState{entries: make(map[string]*VehicleEntry)}
}

// lessRank is the total ranking order: score descending, then ETA ascending
// with undefined ETAs last, then distance, then report time (whoever has
// been waiting longest wins ties), with the id as final determinizer.
func lessRank(a, b *VehicleEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if (a.EtaS == nil) != (b.EtaS == nil) {
		return b.EtaS == nil
	}
	if a.EtaS != nil && *a.EtaS != *b.EtaS {
		return *a.EtaS < *b.EtaS
	}
	if a.DistanceM != b.DistanceM {
		return a.DistanceM < b.DistanceM
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// rankedLocked returns the tracked entries in priority order. Callers must
// hold mu.
func (qs *QueueState) rankedLocked() []*VehicleEntry {
	ranked := lo.Values(qs.entries)
	sort.Slice(ranked, func(i, j int) bool { return lessRank(ranked[i], ranked[j]) })
	return ranked
}

// Engine evaluates location reports against every registered intersection
// and drives the per-intersection queue state machines.
type Engine struct {
	reg   *Registry
	rules *RuleTable
	sink  EventSink

	hysteresisM   float64
	preemptMargin int

	// Process-wide detection-range override set via /set_range. When set it
	// replaces every intersection's registered radius unless the report
	// carries its own override.
	rangeOverride atomic.Pointer[float64]

	now func() time.Time
}

func NewEngine(cfg *Config, reg *Registry, rules *RuleTable, sink EventSink) *Engine {
	return &Engine{
		reg:           reg,
		rules:         rules,
		sink:          sink,
		hysteresisM:   cfg.HysteresisM,
		preemptMargin: cfg.PreemptMargin,
		now:           time.Now,
	}
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// effectiveRange resolves the detection radius for one report at one
// intersection: per-report override, then the global override, then the
// registered radius.
func (e *Engine) effectiveRange(rep *LocationReport, desc Intersection) float64 {
	if rep != nil && rep.RangeM != nil {
		return *rep.RangeM
	}
	return e.currentRange(desc)
}

func (e *Engine) currentRange(desc Intersection) float64 {
	if ov := e.rangeOverride.Load(); ov != nil {
		return *ov
	}
	return desc.RangeM
}

// SetGlobalRange sets the process-wide radius override and notifies every
// subscriber.
func (e *Engine) SetGlobalRange(rangeM float64) error {
	if rangeM < 0 {
		return &ValidationError{Msg: "'range' must be non-negative"}
	}
	e.rangeOverride.Store(&rangeM)
	e.sink.Publish("", EventRangeUpdate, RangeUpdate{RangeM: rangeM})
	qlog.Infof("detection range override set to %.1f m", rangeM)
	return nil
}

// HandleReport runs one location report through every intersection it could
// affect and returns the ids of the intersections it is now in range of.
func (e *Engine) HandleReport(rep *LocationReport) []string {
	now := epoch(e.now())
	ts := rep.Timestamp
	if ts <= 0 {
		ts = now
	}
	score := e.rules.Score(rep.PatientConditions, rep.PatientScore)

	// Size the candidate search by the largest radius any intersection could
	// be evaluated with, plus the exit hysteresis.
	limit := e.reg.MaxRange()
	if ov := e.rangeOverride.Load(); ov != nil && *ov > limit {
		limit = *ov
	}
	if rep.RangeM != nil && *rep.RangeM > limit {
		limit = *rep.RangeM
	}
	limit += e.hysteresisM

	assigned := []string{}
	for _, desc := range e.reg.Candidates(rep.ID, rep.Lat, rep.Lon, limit) {
		qs := e.reg.queue(desc.ID)
		if qs == nil {
			continue
		}
		if e.evaluate(desc, qs, rep, score, ts, now) {
			assigned = append(assigned, desc.ID)
		}
	}
	sort.Strings(assigned)
	return assigned
}

// evaluate applies one report to one intersection: membership decision with
// hysteresis, full-entry upsert or removal, re-ranking, and event emission.
// Returns whether the vehicle is tracked after the report.
func (e *Engine) evaluate(desc Intersection, qs *QueueState, rep *LocationReport, score int, ts, now float64) bool {
	radius := e.effectiveRange(rep, desc)
	dist := distanceMeters(desc.Lat, desc.Lon, rep.Lat, rep.Lon)
	bearing := initialBearing(desc.Lat, desc.Lon, rep.Lat, rep.Lon)
	direction := rep.Direction
	if direction == "" {
		direction = cardinal(bearing)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	_, tracked := qs.entries[rep.ID]
	// A vehicle enters at the radius but only leaves beyond radius plus the
	// hysteresis margin, so it cannot flap at the boundary.
	inLimit := radius
	if tracked {
		inLimit += e.hysteresisM
	}

	if dist <= inLimit {
		var eta *float64
		if rep.SpeedMS != nil && *rep.SpeedMS > 0 {
			v := dist / *rep.SpeedMS
			eta = &v
		}
		qs.entries[rep.ID] = &VehicleEntry{
			ID:                rep.ID,
			Lat:               rep.Lat,
			Lon:               rep.Lon,
			Direction:         direction,
			BearingDeg:        bearing,
			SpeedMS:           rep.SpeedMS,
			Timestamp:         ts,
			PatientConditions: rep.PatientConditions,
			Score:             score,
			DistanceM:         dist,
			EtaS:              eta,
		}
		e.reg.markTracked(rep.ID, desc.ID)
		e.emitQueueLocked(desc.ID, qs, now)
		e.decideLocked(desc, qs, radius, now)
		return true
	}

	if tracked {
		delete(qs.entries, rep.ID)
		e.reg.unmarkTracked(rep.ID, desc.ID)
		e.emitQueueLocked(desc.ID, qs, now)
		e.decideLocked(desc, qs, radius, now)
	}
	return false
}

// emitQueueLocked publishes the ranked snapshot. Callers must hold qs.mu.
func (e *Engine) emitQueueLocked(intersectionID string, qs *QueueState, now float64) {
	queue := lo.Map(qs.rankedLocked(), func(entry *VehicleEntry, _ int) VehicleEntry {
		return *entry
	})
	e.sink.Publish(intersectionID, EventQueueUpdate, QueueUpdate{
		IntersectionID: intersectionID,
		Queue:          queue,
		Timestamp:      now,
	})
}

// decideLocked recomputes leadership and emits the signal decision. Callers
// must hold qs.mu, so the ranking, the holder update, and the emission are
// one atomic step and the holder can never dangle.
func (e *Engine) decideLocked(desc Intersection, qs *QueueState, radius float64, now float64) {
	ranked := qs.rankedLocked()
	if len(ranked) == 0 {
		if qs.activeTop == "" {
			return
		}
		qs.activeTop = ""
		e.sink.Publish(desc.ID, EventSignalUpdate, SignalUpdate{
			IntersectionID: desc.ID,
			Status:         StatusCrossed,
			RangeM:         radius,
			Message:        "No vehicles in range; clearing priority",
			Timestamp:      now,
		})
		return
	}

	top := ranked[0]
	preempt := false
	switch {
	case qs.activeTop == "":
		preempt = true
	case top.ID != qs.activeTop:
		if prev, ok := qs.entries[qs.activeTop]; !ok {
			// The recorded holder just left the queue; promote the new head
			// unconditionally rather than leave a dangling holder.
			preempt = true
		} else if top.Score >= prev.Score+e.preemptMargin {
			preempt = true
		}
	}

	message := ""
	if preempt {
		qs.activeTop = top.ID
		message = "Giving priority to " + top.ID
		qlog.WithField("intersection", desc.ID).Infof("preempt: %s (score=%d dist=%.1fm)", top.ID, top.Score, top.DistanceM)
	}

	entry := *top
	e.sink.Publish(desc.ID, EventSignalUpdate, SignalUpdate{
		IntersectionID: desc.ID,
		Status:         StatusEmergency,
		Top:            &entry,
		Preempt:        preempt,
		ID:             entry.ID,
		Direction:      entry.Direction,
		BearingDeg:     entry.BearingDeg,
		DistanceM:      entry.DistanceM,
		RangeM:         radius,
		Message:        message,
		Timestamp:      now,
	})
}

// JoinSnapshot builds the replay sent to a subscriber that just joined an
// intersection's room: current range, ranked queue, and signal state.
func (e *Engine) JoinSnapshot(intersectionID string) ([]eventMessage, error) {
	desc, err := e.reg.Get(intersectionID)
	if err != nil {
		return nil, err
	}
	qs := e.reg.queue(intersectionID)
	now := epoch(e.now())

	qs.mu.Lock()
	ranked := qs.rankedLocked()
	queue := lo.Map(ranked, func(entry *VehicleEntry, _ int) VehicleEntry { return *entry })
	var top *VehicleEntry
	if len(ranked) > 0 {
		entry := *ranked[0]
		top = &entry
	}
	qs.mu.Unlock()

	signal := SignalUpdate{
		IntersectionID: intersectionID,
		Status:         StatusNormal,
		RangeM:         e.currentRange(desc),
		Timestamp:      now,
	}
	if top != nil {
		signal.Status = StatusEmergency
		signal.Top = top
		signal.ID = top.ID
		signal.Direction = top.Direction
		signal.BearingDeg = top.BearingDeg
		signal.DistanceM = top.DistanceM
	}
	return []eventMessage{
		{Event: EventRangeUpdate, Payload: RangeUpdate{RangeM: e.currentRange(desc)}},
		{Event: EventQueueUpdate, Payload: QueueUpdate{IntersectionID: intersectionID, Queue: queue, Timestamp: now}},
		{Event: EventSignalUpdate, Payload: signal},
	}, nil
}
