package model

import (
	"fmt"
	"strings"
	"time"
)

// Core domain types for the schedule optimizer.

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a geocoded point, an opaque address string, or both.
// Geocoding happens upstream; the optimizer only needs a stable key per
// place, plus coordinates when the local estimator is in use.
type Location struct {
	Address string    `json:"address,omitempty"`
	Point   *GeoPoint `json:"point,omitempty"`
}

// Key returns the cache/matrix identity of the location.
func (l Location) Key() string {
	if l.Address != "" {
		return l.Address
	}
	if l.Point != nil {
		return fmt.Sprintf("%.6f,%.6f", l.Point.Lat, l.Point.Lng)
	}
	return ""
}

// IsZero reports whether the location carries neither address nor point.
func (l Location) IsZero() bool { return l.Address == "" && l.Point == nil }

// TravelMode selects how travel costs are computed between stops.
type TravelMode string

const (
	ModeDriving   TravelMode = "driving"
	ModeWalking   TravelMode = "walking"
	ModeBicycling TravelMode = "bicycling"
	ModeTransit   TravelMode = "transit"
)

// ParseTravelMode accepts canonical mode names and the legacy aliases used
// by upstream task sources (car, bike, bus_train, rideshare).
func ParseTravelMode(s string) (TravelMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "car", "driving", "rideshare":
		return ModeDriving, nil
	case "walk", "walking":
		return ModeWalking, nil
	case "bike", "bicycling":
		return ModeBicycling, nil
	case "bus_train", "transit":
		return ModeTransit, nil
	}
	return "", fmt.Errorf("unknown travel mode: %s", s)
}

// Priority orders stops of equal cost; HIGH stops also carry the heaviest
// window-violation penalty in the soft-fallback objective.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	}
	return "LOW"
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LOW":
		return PriorityLow, nil
	case "MEDIUM", "MED":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	}
	return PriorityLow, fmt.Errorf("unknown priority: %s", s)
}

// TimeWindow bounds a stop's arrival time: [EarliestStart, LatestStart].
type TimeWindow struct {
	EarliestStart time.Time `json:"earliestStart"`
	LatestStart   time.Time `json:"latestStart"`
}

// Width returns LatestStart - EarliestStart.
func (w TimeWindow) Width() time.Duration { return w.LatestStart.Sub(w.EarliestStart) }

// Intersect returns the overlap of two windows and whether it is non-empty.
func (w TimeWindow) Intersect(o TimeWindow) (TimeWindow, bool) {
	out := w
	if o.EarliestStart.After(out.EarliestStart) {
		out.EarliestStart = o.EarliestStart
	}
	if o.LatestStart.Before(out.LatestStart) {
		out.LatestStart = o.LatestStart
	}
	return out, !out.LatestStart.Before(out.EarliestStart)
}

// TimeRange is the planning horizon for one day.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Stop is one schedulable unit, normalized from a raw task or calendar
// event. Immutable during one optimization run.
type Stop struct {
	ID         string      `json:"id"`
	Title      string      `json:"title,omitempty"`
	Loc        Location    `json:"location"`
	ServiceSec int         `json:"serviceSec"`
	Window     *TimeWindow `json:"window,omitempty"`
	Priority   Priority    `json:"priority"`
	// Fixed stops keep their mandated time (Window.EarliestStart) exactly
	// and act as pinned checkpoints the optimizer routes around.
	Fixed bool `json:"fixed,omitempty"`
}

// TravelLeg describes the travel preceding a stop.
type TravelLeg struct {
	From      Location   `json:"from"`
	To        Location   `json:"to"`
	Mode      TravelMode `json:"mode"`
	TravelSec int        `json:"travelSec"`
	DistanceM int        `json:"distanceM"`
	// Estimated marks legs whose cost came from one-hop repair rather
	// than a direct oracle answer.
	Estimated bool `json:"estimated,omitempty"`
}

// ItineraryStop is one sequenced, timed stop of a plan.
type ItineraryStop struct {
	StopID    string     `json:"stopId"`
	Order     int        `json:"order"`
	Arrival   time.Time  `json:"arrival"`
	Departure time.Time  `json:"departure"`
	WaitSec   int        `json:"waitSec,omitempty"`
	Leg       *TravelLeg `json:"leg,omitempty"`
}

// Itinerary is one day's ordered, timed plan for a user.
type Itinerary struct {
	PlanID         string          `json:"planId"`
	UserID         string          `json:"userId"`
	PlanDate       string          `json:"planDate,omitempty"`
	Anchor         Location        `json:"anchor"`
	Mode           TravelMode      `json:"mode"`
	Stops          []ItineraryStop `json:"stops"`
	TotalTravelSec int             `json:"totalTravelSec"`
	TotalWaitSec   int             `json:"totalWaitSec"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ResultStatus tags an ItineraryResult.
type ResultStatus string

const (
	StatusFeasible   ResultStatus = "feasible"
	StatusBestEffort ResultStatus = "best_effort"
	StatusFailed     ResultStatus = "failed"
)

// ItineraryResult is what planning returns to callers: a feasible plan, a
// best-effort plan annotated with per-stop violation seconds, or a failure.
type ItineraryResult struct {
	Status     ResultStatus   `json:"status"`
	Itinerary  *Itinerary     `json:"itinerary,omitempty"`
	Violations map[string]int `json:"violations,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// EventType discriminates RescheduleEvent variants.
type EventType string

const (
	EventTaskDelayed   EventType = "task_delayed"
	EventTaskCancelled EventType = "task_cancelled"
	EventTaskAdded     EventType = "task_added"
	EventTaskCompleted EventType = "task_completed"
)

// RescheduleEvent is a runtime divergence from plan. Never persisted; its
// effect is a new Itinerary.
type RescheduleEvent struct {
	Type             EventType `json:"type"`
	StopID           string    `json:"stopId,omitempty"`
	NewEarliestStart time.Time `json:"newEarliestStart,omitempty"`
	Stop             *Stop     `json:"stop,omitempty"`
	TS               time.Time `json:"ts,omitempty"`
}

// PlanRequest is the inbound planDay payload.
type PlanRequest struct {
	UserID     string     `json:"userId"`
	Stops      []Stop     `json:"stops"`
	Anchor     Location   `json:"anchor"`
	AnchorTime time.Time  `json:"anchorTime,omitempty"`
	Mode       TravelMode `json:"mode,omitempty"`
	// Modes, when set, enables multi-mode cost comparison: the fastest
	// mode per pair wins and each leg reports the winning mode.
	Modes   []TravelMode `json:"modes,omitempty"`
	Horizon TimeRange    `json:"horizon"`
}

// EventRequest is the inbound applyEvent payload.
type EventRequest struct {
	UserID string          `json:"userId"`
	Event  RescheduleEvent `json:"event"`
}
