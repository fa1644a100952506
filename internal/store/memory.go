package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"calroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	current map[string]model.Itinerary   // userID -> latest itinerary
	history map[string][]model.Itinerary // userID -> past itineraries, newest first
	planMx  map[string]map[string][]map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		current: map[string]model.Itinerary{},
		history: map[string][]model.Itinerary{},
		planMx:  map[string]map[string][]map[string]any{},
	}
}

func (m *Memory) SaveItinerary(_ context.Context, it model.Itinerary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it.PlanID == "" {
		it.PlanID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	if prev, ok := m.current[it.UserID]; ok {
		m.history[it.UserID] = append([]model.Itinerary{prev}, m.history[it.UserID]...)
	}
	m.current[it.UserID] = it
	return nil
}

func (m *Memory) GetItinerary(_ context.Context, userID string) (model.Itinerary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.current[userID]
	if !ok {
		return model.Itinerary{}, ErrNotFound
	}
	return it, nil
}

func (m *Memory) ListItineraries(_ context.Context, userID string, limit int) ([]model.Itinerary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Itinerary{}
	if it, ok := m.current[userID]; ok {
		out = append(out, it)
	}
	out = append(out, m.history[userID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SavePlanMetrics(_ context.Context, userID, planDate string, metrics map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.planMx[userID] == nil {
		m.planMx[userID] = map[string][]map[string]any{}
	}
	m.planMx[userID][planDate] = append(m.planMx[userID][planDate], metrics)
	return nil
}

func (m *Memory) ListPlanMetrics(_ context.Context, userID, planDate string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.planMx[userID][planDate]
	out := make([]map[string]any, len(items))
	copy(out, items)
	return out, nil
}
