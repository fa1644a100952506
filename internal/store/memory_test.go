package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"calroute/internal/model"
)

func itinerary(userID string, stops ...string) model.Itinerary {
	it := model.Itinerary{
		UserID:   userID,
		PlanDate: "2025-06-02",
		Mode:     model.ModeDriving,
	}
	for i, id := range stops {
		it.Stops = append(it.Stops, model.ItineraryStop{StopID: id, Order: i})
	}
	return it
}

func TestMemorySaveAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetItinerary(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := m.SaveItinerary(ctx, itinerary("u1", "a", "b")); err != nil {
		t.Fatalf("SaveItinerary: %v", err)
	}
	got, err := m.GetItinerary(ctx, "u1")
	if err != nil {
		t.Fatalf("GetItinerary: %v", err)
	}
	if got.PlanID == "" {
		t.Fatal("plan id should be assigned on save")
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("createdAt should be assigned on save")
	}
	if len(got.Stops) != 2 {
		t.Fatalf("stops = %+v", got.Stops)
	}
}

func TestMemoryReplaceKeepsHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SaveItinerary(ctx, itinerary("u1", "a", "b")); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := m.SaveItinerary(ctx, itinerary("u1", "a")); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	cur, err := m.GetItinerary(ctx, "u1")
	if err != nil {
		t.Fatalf("GetItinerary: %v", err)
	}
	if len(cur.Stops) != 1 {
		t.Fatalf("current should be the replacement, got %+v", cur.Stops)
	}

	all, err := m.ListItineraries(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListItineraries: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("want current + history, got %d", len(all))
	}
	if len(all[0].Stops) != 1 || len(all[1].Stops) != 2 {
		t.Fatal("history must be newest first")
	}

	limited, _ := m.ListItineraries(ctx, "u1", 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}

func TestMemoryPlanMetrics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SavePlanMetrics(ctx, "u1", "2025-06-02", map[string]any{"iterations": 10}); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}
	if err := m.SavePlanMetrics(ctx, "u1", "2025-06-02", map[string]any{"iterations": 20}); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}

	items, err := m.ListPlanMetrics(ctx, "u1", "2025-06-02")
	if err != nil {
		t.Fatalf("ListPlanMetrics: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	other, _ := m.ListPlanMetrics(ctx, "u1", "2025-06-03")
	if len(other) != 0 {
		t.Fatalf("unexpected metrics for other day: %v", other)
	}
}
