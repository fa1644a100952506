package api

import (
	"fmt"

	"calroute/internal/model"
)

func validatePlanRequest(req *model.PlanRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if req.Anchor.IsZero() {
		return fmt.Errorf("anchor is required")
	}
	if !req.Horizon.Start.IsZero() && !req.Horizon.End.IsZero() &&
		!req.Horizon.End.After(req.Horizon.Start) {
		return fmt.Errorf("horizon end must be after start")
	}
	if req.Mode != "" {
		if _, err := model.ParseTravelMode(string(req.Mode)); err != nil {
			return err
		}
	}
	for i, m := range req.Modes {
		if _, err := model.ParseTravelMode(string(m)); err != nil {
			return fmt.Errorf("modes[%d]: %w", i, err)
		}
	}
	seen := map[string]struct{}{}
	for i, s := range req.Stops {
		if s.ID == "" {
			return fmt.Errorf("stops[%d]: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("stops[%d]: duplicate id %s", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Loc.IsZero() {
			return fmt.Errorf("stop %s: location is required", s.ID)
		}
		if s.ServiceSec < 0 {
			return fmt.Errorf("stop %s: serviceSec must be >= 0", s.ID)
		}
		if s.Window != nil && s.Window.LatestStart.Before(s.Window.EarliestStart) {
			return fmt.Errorf("stop %s: window latestStart before earliestStart", s.ID)
		}
		if s.Fixed && s.Window == nil {
			return fmt.Errorf("stop %s: fixed stop requires a window", s.ID)
		}
		if s.Priority < model.PriorityLow || s.Priority > model.PriorityHigh {
			return fmt.Errorf("stop %s: priority out of range", s.ID)
		}
	}
	return nil
}

func validateEventRequest(req *model.EventRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	switch req.Event.Type {
	case model.EventTaskDelayed:
		if req.Event.StopID == "" {
			return fmt.Errorf("task_delayed requires stopId")
		}
		if req.Event.NewEarliestStart.IsZero() {
			return fmt.Errorf("task_delayed requires newEarliestStart")
		}
	case model.EventTaskCancelled, model.EventTaskCompleted:
		if req.Event.StopID == "" {
			return fmt.Errorf("%s requires stopId", req.Event.Type)
		}
	case model.EventTaskAdded:
		if req.Event.Stop == nil || req.Event.Stop.ID == "" {
			return fmt.Errorf("task_added requires a stop with an id")
		}
		if req.Event.Stop.Loc.IsZero() {
			return fmt.Errorf("task_added stop requires a location")
		}
	default:
		return fmt.Errorf("unknown event type %q", req.Event.Type)
	}
	return nil
}
