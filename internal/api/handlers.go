package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"calroute/internal/model"
	"calroute/internal/opt"
	"calroute/internal/store"
)

// PlanHandler handles POST /v1/plan: it runs the full pipeline synchronously
// and returns the feasible or best-effort itinerary.
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validatePlanRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Planner.PlanDay(r.Context(), req)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Plan failed", err.Error(), r.URL.Path)
		return
	}
	s.roundResult(&res)
	if res.Status == model.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	s.publishResult(req.UserID, res)
	writeJSON(w, http.StatusOK, res)
}

// EventsHandler handles POST /v1/events: the event mutates the session and
// a debounced replan is scheduled; the new itinerary arrives via the stream.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateEventRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid event", err.Error(), r.URL.Path)
		return
	}
	if req.Event.TS.IsZero() {
		req.Event.TS = time.Now().UTC()
	}
	if err := s.Planner.ApplyEvent(r.Context(), req); err != nil {
		writeProblem(w, http.StatusConflict, "Event rejected", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// ItineraryHandler handles GET /v1/itineraries/{userId},
// /v1/itineraries/{userId}/history, and the SSE stream at
// /v1/itineraries/{userId}/stream.
func (s *Server) ItineraryHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/itineraries/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing user id", path)
		return
	}
	parts := strings.Split(rest, "/")
	userID := parts[0]

	if len(parts) > 1 && parts[1] == "stream" {
		s.streamPlans(w, r, userID)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(parts) > 1 && parts[1] == "history" {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, err := s.Store.ListItineraries(r.Context(), userID, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List itineraries failed", err.Error(), r.URL.Path)
			return
		}
		for i := range items {
			s.roundItinerary(&items[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	it, err := s.Store.GetItinerary(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "No itinerary", "no plan for user "+userID, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get itinerary failed", err.Error(), r.URL.Path)
		return
	}
	s.roundItinerary(&it)
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) streamPlans(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(userID)
	defer s.Broker.Unsubscribe(userID, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"userId\":\"%s\",\"ts\":\"%s\"}\n\n", userID, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"userId\":\"%s\",\"ts\":\"%s\"}\n\n", userID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// LocationHandler handles POST /v1/location: a live position update moves
// the session anchor so the next replan departs from the user's actual
// location.
func (s *Server) LocationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		UserID   string         `json:"userId"`
		Location model.Location `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.UserID == "" || req.Location.IsZero() {
		writeProblem(w, http.StatusBadRequest, "Invalid location update", "userId and location required", r.URL.Path)
		return
	}
	if err := s.Planner.UpdateAnchor(req.UserID, req.Location); err != nil {
		writeProblem(w, http.StatusConflict, "Location rejected", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// PlanConfigHandler returns the effective solver configuration.
func (s *Server) PlanConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/plan/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	cfg := s.Planner.Config()
	writeJSON(w, 200, map[string]any{
		"solver": map[string]any{
			"timeBudgetMs":   cfg.Solver.TimeBudgetMs,
			"maxIterations":  cfg.Solver.MaxIterations,
			"waitWeight":     cfg.Solver.WaitWeight,
			"penaltyHigh":    cfg.Solver.PenaltyHigh,
			"penaltyMedium":  cfg.Solver.PenaltyMedium,
			"penaltyLow":     cfg.Solver.PenaltyLow,
			"minuteRounding": cfg.Solver.MinuteRounding,
		},
		"cluster": map[string]any{
			"enabled":         cfg.Cluster.Enabled,
			"thresholdFactor": cfg.Cluster.ThresholdFactor,
		},
		"reschedule": map[string]any{
			"debounceMs": cfg.Reschedule.DebounceMs,
		},
	})
}

// PlanMetricsHandler returns solve metrics for one user/day. DB metrics are
// preferred; the in-memory record is the fallback.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/plan-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	userID := r.URL.Query().Get("userId")
	planDate := r.URL.Query().Get("planDate")
	if userID == "" || planDate == "" {
		writeProblem(w, 400, "Missing userId or planDate", "", r.URL.Path)
		return
	}
	items, err := s.Store.ListPlanMetrics(r.Context(), userID, planDate)
	if err != nil || len(items) == 0 {
		if m, ok := opt.GetMetrics(userID, planDate); ok {
			items = []map[string]any{{
				"iterations":   m.Iterations,
				"improvements": m.Improvements,
				"seedCost":     m.SeedCost,
				"finalCost":    m.FinalCost,
				"violationSec": m.ViolationSec,
				"elapsedMs":    m.Elapsed.Milliseconds(),
			}}
		}
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

// publishResult fans a planning result out to SSE/WS subscribers.
func (s *Server) publishResult(userID string, res model.ItineraryResult) {
	s.roundResult(&res)
	data := map[string]any{
		"status": res.Status,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	}
	if res.Itinerary != nil {
		data["itinerary"] = res.Itinerary
	}
	if len(res.Violations) > 0 {
		data["violations"] = res.Violations
	}
	if res.Reason != "" {
		data["reason"] = res.Reason
	}
	s.Broker.Publish(userID, PlanEvent{Type: "plan." + string(res.Status), Data: data})
}

// roundResult rounds reported times to whole minutes when configured.
// Internal schedule math always stays in seconds.
func (s *Server) roundResult(res *model.ItineraryResult) {
	if res.Itinerary != nil {
		s.roundItinerary(res.Itinerary)
	}
}

func (s *Server) roundItinerary(it *model.Itinerary) {
	if !s.Cfg.Solver.MinuteRounding {
		return
	}
	for i := range it.Stops {
		it.Stops[i].Arrival = it.Stops[i].Arrival.Round(time.Minute)
		it.Stops[i].Departure = it.Stops[i].Departure.Round(time.Minute)
	}
}
