package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry(10)

	desc, err := reg.Register(Intersection{ID: "I1", Name: "Main & 5th", Lat: 10, Lon: 20, RangeM: 150})
	require.NoError(t, err)
	assert.Equal(t, "Main & 5th", desc.Name)

	got, err := reg.Get("I1")
	require.NoError(t, err)
	assert.Equal(t, desc, got)

	_, err = reg.Get("missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	assert.Len(t, reg.List(), 1)
	assert.Equal(t, 150.0, reg.MaxRange())
}

func TestReregisterPreservesQueue(t *testing.T) {
	reg := NewRegistry(10)
	_, err := reg.Register(Intersection{ID: "I1", Lat: 10, Lon: 20, RangeM: 100})
	require.NoError(t, err)

	qs := reg.queue("I1")
	require.NotNil(t, qs)
	qs.mu.Lock()
	qs.entries["amb-1"] = &VehicleEntry{ID: "amb-1"}
	qs.mu.Unlock()

	// Overwrite with a new location and radius.
	_, err = reg.Register(Intersection{ID: "I1", Lat: 11, Lon: 21, RangeM: 250})
	require.NoError(t, err)

	got, err := reg.Get("I1")
	require.NoError(t, err)
	assert.Equal(t, 11.0, got.Lat)
	assert.Equal(t, 250.0, got.RangeM)

	// Same queue, entry still tracked.
	assert.Same(t, qs, reg.queue("I1"))
	qs.mu.Lock()
	_, ok := qs.entries["amb-1"]
	qs.mu.Unlock()
	assert.True(t, ok)
	assert.Len(t, reg.List(), 1)
}

func TestRegistryCapacity(t *testing.T) {
	reg := NewRegistry(2)
	for i := 0; i < 2; i++ {
		_, err := reg.Register(Intersection{ID: fmt.Sprintf("I%d", i), Lat: float64(i), Lon: 0, RangeM: 100})
		require.NoError(t, err)
	}

	_, err := reg.Register(Intersection{ID: "one-too-many", Lat: 5, Lon: 0, RangeM: 100})
	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Max intersections reached", cerr.Msg)

	// Overwriting an existing id is still allowed at capacity.
	_, err = reg.Register(Intersection{ID: "I0", Lat: 9, Lon: 9, RangeM: 100})
	assert.NoError(t, err)
}

func TestCandidatesSpatialFilter(t *testing.T) {
	reg := NewRegistry(10)
	_, err := reg.Register(Intersection{ID: "near", Lat: 10, Lon: 10, RangeM: 100})
	require.NoError(t, err)
	_, err = reg.Register(Intersection{ID: "far", Lat: 12, Lon: 10, RangeM: 100}) // ~222km away
	require.NoError(t, err)

	ids := func(cands []Intersection) []string {
		var out []string
		for _, c := range cands {
			out = append(out, c.ID)
		}
		return out
	}

	cands := reg.Candidates("v1", 10.0001, 10, 200)
	assert.Equal(t, []string{"near"}, ids(cands))

	// An intersection tracking the vehicle is always a candidate, however
	// far away the vehicle has moved.
	reg.markTracked("v1", "far")
	cands = reg.Candidates("v1", 10.0001, 10, 200)
	assert.ElementsMatch(t, []string{"near", "far"}, ids(cands))

	reg.unmarkTracked("v1", "far")
	cands = reg.Candidates("v1", 10.0001, 10, 200)
	assert.Equal(t, []string{"near"}, ids(cands))
}
