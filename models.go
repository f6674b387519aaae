package main

import "fmt"

// Intersection is the static descriptor of a registered traffic-control
// point. Re-registering the same id overwrites the descriptor but keeps the
// queue that has accumulated for it.
type Intersection struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	RangeM float64 `json:"range_m"`
}

// VehicleEntry is the tracked state of one vehicle at one intersection. The
// same vehicle has an independent entry per intersection it is in range of.
// Every report replaces the whole entry; fields not re-sent are dropped.
type VehicleEntry struct {
	ID                string   `json:"id"`
	Lat               float64  `json:"lat"`
	Lon               float64  `json:"lon"`
	Direction         string   `json:"direction,omitempty"`
	BearingDeg        float64  `json:"bearing_deg"`
	SpeedMS           *float64 `json:"speed_m_s,omitempty"`
	Timestamp         float64  `json:"timestamp"`
	PatientConditions []string `json:"patient_conditions,omitempty"`
	Score             int      `json:"score"`
	DistanceM         float64  `json:"distance_m"`
	EtaS              *float64 `json:"eta_s,omitempty"`
}

// LocationReport is a single position report from a vehicle, before it has
// been evaluated against any intersection.
type LocationReport struct {
	ID                string
	Lat               float64
	Lon               float64
	Direction         string
	SpeedMS           *float64
	Timestamp         float64
	PatientConditions []string
	// PatientScore, when it coerces to an integer, replaces the score
	// computed from the condition tags.
	PatientScore any
	// RangeM overrides the detection radius for this report only.
	RangeM *float64
}

// Signal statuses pushed to subscribers.
const (
	StatusEmergency = "EMERGENCY"
	StatusNormal    = "NORMAL"
	StatusCrossed   = "CROSSED"
)

// Event names on the websocket stream.
const (
	EventSignalUpdate = "signal_update"
	EventQueueUpdate  = "priority_queue_update"
	EventRangeUpdate  = "range_update"
)

// SignalUpdate announces the signal decision for one intersection. Top is
// nil when no vehicle is in range; the flattened id/distance/range fields
// mirror the leader so signal controllers need not unpack the entry.
type SignalUpdate struct {
	IntersectionID string        `json:"intersection_id"`
	Status         string        `json:"status"`
	Top            *VehicleEntry `json:"top_vehicle"`
	Preempt        bool          `json:"preempt"`
	ID             string        `json:"id,omitempty"`
	Direction      string        `json:"direction,omitempty"`
	BearingDeg     float64       `json:"bearing_deg,omitempty"`
	DistanceM      float64       `json:"distance_m,omitempty"`
	RangeM         float64       `json:"range_m"`
	Message        string        `json:"message,omitempty"`
	Timestamp      float64       `json:"timestamp"`
}

// QueueUpdate carries the full ranked queue snapshot for one intersection.
type QueueUpdate struct {
	IntersectionID string         `json:"intersection_id"`
	Queue          []VehicleEntry `json:"queue"`
	Timestamp      float64        `json:"timestamp"`
}

// RangeUpdate announces the global detection-range override.
type RangeUpdate struct {
	RangeM float64 `json:"range"`
}

// EventSink consumes events emitted by the engine. intersectionID selects
// the subscriber group; an empty id broadcasts to every subscriber.
// Delivery is fire-and-forget: implementations must not block the caller.
type EventSink interface {
	Publish(intersectionID, event string, payload any)
}

// ValidationError reports malformed or missing input. Surfaced as HTTP 400
// with the message as-is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func missingField(name string) *ValidationError {
	return &ValidationError{Msg: "Missing field: " + name}
}

// NotFoundError reports a reference to an unknown intersection or vehicle.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// CapacityError reports that the intersection registry is full.
type CapacityError struct {
	Msg string
}

func (e *CapacityError) Error() string { return e.Msg }
