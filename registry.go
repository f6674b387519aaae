package main

import (
	"math"
	"sync"

	"github.com/dhconnelly/rtreego"
)

// metersPerDegree is the approximate length of one degree of latitude. Only
// used to size the candidate bounding box; membership itself is decided on
// exact geodesic distance.
const metersPerDegree = 111320.0

type intersectionLeaf struct {
	id   string
	rect rtreego.Rect
}

func (l *intersectionLeaf) Bounds() rtreego.Rect { return l.rect }

type intersectionRecord struct {
	desc  Intersection
	queue *QueueState
	leaf  *intersectionLeaf
}

// Registry holds the registered intersections, their queue states, and a
// spatial index used to pre-filter the intersections near a report. It also
// remembers which intersections currently track each vehicle, so a vehicle
// that jumps far out of range is still swept from the queues it was in.
type Registry struct {
	mu       sync.RWMutex
	items    map[string]*intersectionRecord
	tree     *rtreego.Rtree
	tracked  map[string]map[string]struct{}
	maxSize  int
	maxRange float64
}

func NewRegistry(maxSize int) *Registry {
	return &Registry{
		items:   make(map[string]*intersectionRecord),
		tree:    rtreego.NewTree(2, 8, 16),
		tracked: make(map[string]map[string]struct{}),
		maxSize: maxSize,
	}
}

func pointLeaf(id string, lat, lon float64) *intersectionLeaf {
	const eps = 1e-9
	rect, _ := rtreego.NewRect(rtreego.Point{lat - eps, lon - eps}, []float64{2 * eps, 2 * eps})
	return &intersectionLeaf{id: id, rect: rect}
}

// Register creates or overwrites an intersection descriptor. The queue state
// is created empty on first registration and preserved on overwrite.
func (r *Registry) Register(desc Intersection) (Intersection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.items[desc.ID]
	if !exists {
		if len(r.items) >= r.maxSize {
			return Intersection{}, &CapacityError{Msg: "Max intersections reached"}
		}
		rec = &intersectionRecord{queue: newQueueState()}
		r.items[desc.ID] = rec
	} else {
		r.tree.Delete(rec.leaf)
	}
	rec.desc = desc
	rec.leaf = pointLeaf(desc.ID, desc.Lat, desc.Lon)
	r.tree.Insert(rec.leaf)

	r.maxRange = 0
	for _, it := range r.items {
		r.maxRange = math.Max(r.maxRange, it.desc.RangeM)
	}
	return desc, nil
}

// Get returns the descriptor for an intersection id.
func (r *Registry) Get(id string) (Intersection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	if !ok {
		return Intersection{}, &NotFoundError{Kind: "intersection", ID: id}
	}
	return rec.desc, nil
}

// List returns all registered descriptors in no particular order.
func (r *Registry) List() []Intersection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Intersection, 0, len(r.items))
	for _, rec := range r.items {
		out = append(out, rec.desc)
	}
	return out
}

// Len returns the number of registered intersections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// MaxRange returns the largest registered detection radius.
func (r *Registry) MaxRange() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxRange
}

// queue returns the queue state for an intersection, or nil if unknown.
func (r *Registry) queue(id string) *QueueState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	if !ok {
		return nil
	}
	return rec.queue
}

// Candidates returns the intersections a report could affect: those whose
// location falls inside a bounding box of limit meters around the report,
// plus any intersection currently tracking the vehicle (so departures are
// seen no matter how far the vehicle has moved).
func (r *Registry) Candidates(vehicleID string, lat, lon, limit float64) []Intersection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dLat := limit / metersPerDegree
	dLon := 180.0
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 0.01 {
		dLon = limit / (metersPerDegree * cosLat)
	}
	bb, _ := rtreego.NewRect(
		rtreego.Point{lat - dLat, lon - dLon},
		[]float64{2 * dLat, 2 * dLon},
	)

	seen := make(map[string]struct{})
	var out []Intersection
	for _, s := range r.tree.SearchIntersect(bb) {
		leaf := s.(*intersectionLeaf)
		if rec, ok := r.items[leaf.id]; ok {
			seen[leaf.id] = struct{}{}
			out = append(out, rec.desc)
		}
	}
	for iid := range r.tracked[vehicleID] {
		if _, dup := seen[iid]; dup {
			continue
		}
		if rec, ok := r.items[iid]; ok {
			out = append(out, rec.desc)
		}
	}
	return out
}

// markTracked records that an intersection tracks a vehicle.
func (r *Registry) markTracked(vehicleID, intersectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tracked[vehicleID]
	if !ok {
		set = make(map[string]struct{})
		r.tracked[vehicleID] = set
	}
	set[intersectionID] = struct{}{}
}

// unmarkTracked clears the tracking mark after an entry is removed.
func (r *Registry) unmarkTracked(vehicleID, intersectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tracked[vehicleID]
	if !ok {
		return
	}
	delete(set, intersectionID)
	if len(set) == 0 {
		delete(r.tracked, vehicleID)
	}
}

// each calls f for every intersection with its queue state. f runs without
// the registry lock held, so it may call back into the registry.
func (r *Registry) each(f func(desc Intersection, qs *QueueState)) {
	type pair struct {
		desc  Intersection
		queue *QueueState
	}
	r.mu.RLock()
	recs := make([]pair, 0, len(r.items))
	for _, rec := range r.items {
		recs = append(recs, pair{desc: rec.desc, queue: rec.queue})
	}
	r.mu.RUnlock()

	for _, rec := range recs {
		f(rec.desc, rec.queue)
	}
}
