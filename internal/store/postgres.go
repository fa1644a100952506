package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"calroute/internal/model"
)

// Postgres persists itineraries as plan/schedule/route rows. The schedule
// rows carry the optimized_route_order/scheduled_time pairs the surrounding
// application reads; route rows carry the per-leg travel records.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping checks database connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the planner tables (dev helper).
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_date TEXT,
			travel_mode TEXT NOT NULL,
			anchor JSONB,
			total_travel_sec INT NOT NULL DEFAULT 0,
			total_wait_sec INT NOT NULL DEFAULT 0,
			is_current BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS plans_user_current ON plans (user_id) WHERE is_current`,
		`CREATE TABLE IF NOT EXISTS schedules (
			plan_id UUID NOT NULL REFERENCES plans(plan_id) ON DELETE CASCADE,
			stop_id TEXT NOT NULL,
			optimized_route_order INT NOT NULL,
			scheduled_time TIMESTAMPTZ NOT NULL,
			departure_time TIMESTAMPTZ NOT NULL,
			wait_sec INT NOT NULL DEFAULT 0,
			PRIMARY KEY (plan_id, stop_id)
		)`,
		`CREATE TABLE IF NOT EXISTS routes (
			plan_id UUID NOT NULL REFERENCES plans(plan_id) ON DELETE CASCADE,
			seq INT NOT NULL,
			origin JSONB NOT NULL,
			destination JSONB NOT NULL,
			travel_mode TEXT NOT NULL,
			estimated_time_sec INT NOT NULL,
			distance_m INT NOT NULL,
			estimated BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (plan_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS plan_metrics (
			user_id TEXT NOT NULL,
			plan_date TEXT NOT NULL,
			metrics JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveItinerary(ctx context.Context, it model.Itinerary) error {
	if it.PlanID == "" {
		it.PlanID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_current=false WHERE user_id=$1 AND is_current`, it.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plans (plan_id, user_id, plan_date, travel_mode, anchor, total_travel_sec, total_wait_sec, is_current, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,true,$8)`,
		it.PlanID, it.UserID, it.PlanDate, string(it.Mode), toJSON(it.Anchor), it.TotalTravelSec, it.TotalWaitSec, it.CreatedAt); err != nil {
		return err
	}
	for _, s := range it.Stops {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedules (plan_id, stop_id, optimized_route_order, scheduled_time, departure_time, wait_sec)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			it.PlanID, s.StopID, s.Order, s.Arrival, s.Departure, s.WaitSec); err != nil {
			return err
		}
		if s.Leg == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes (plan_id, seq, origin, destination, travel_mode, estimated_time_sec, distance_m, estimated)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.PlanID, s.Order, toJSON(s.Leg.From), toJSON(s.Leg.To), string(s.Leg.Mode), s.Leg.TravelSec, s.Leg.DistanceM, s.Leg.Estimated); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetItinerary(ctx context.Context, userID string) (model.Itinerary, error) {
	var it model.Itinerary
	var anchor []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT plan_id::text, user_id, COALESCE(plan_date,''), travel_mode, anchor, total_travel_sec, total_wait_sec, created_at
		 FROM plans WHERE user_id=$1 AND is_current ORDER BY created_at DESC LIMIT 1`, userID).
		Scan(&it.PlanID, &it.UserID, &it.PlanDate, (*string)(&it.Mode), &anchor, &it.TotalTravelSec, &it.TotalWaitSec, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Itinerary{}, ErrNotFound
	}
	if err != nil {
		return model.Itinerary{}, err
	}
	_ = json.Unmarshal(anchor, &it.Anchor)
	if it.Stops, err = p.loadStops(ctx, it.PlanID); err != nil {
		return model.Itinerary{}, err
	}
	return it, nil
}

func (p *Postgres) loadStops(ctx context.Context, planID string) ([]model.ItineraryStop, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT s.stop_id, s.optimized_route_order, s.scheduled_time, s.departure_time, s.wait_sec,
		        r.origin, r.destination, r.travel_mode, r.estimated_time_sec, r.distance_m, r.estimated
		 FROM schedules s
		 LEFT JOIN routes r ON r.plan_id = s.plan_id AND r.seq = s.optimized_route_order
		 WHERE s.plan_id=$1 ORDER BY s.optimized_route_order`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ItineraryStop{}
	for rows.Next() {
		var s model.ItineraryStop
		var origin, dest []byte
		var mode sql.NullString
		var travelSec, distM sql.NullInt64
		var estimated sql.NullBool
		if err := rows.Scan(&s.StopID, &s.Order, &s.Arrival, &s.Departure, &s.WaitSec,
			&origin, &dest, &mode, &travelSec, &distM, &estimated); err != nil {
			return nil, err
		}
		if mode.Valid {
			leg := &model.TravelLeg{
				Mode:      model.TravelMode(mode.String),
				TravelSec: int(travelSec.Int64),
				DistanceM: int(distM.Int64),
				Estimated: estimated.Bool,
			}
			_ = json.Unmarshal(origin, &leg.From)
			_ = json.Unmarshal(dest, &leg.To)
			s.Leg = leg
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListItineraries(ctx context.Context, userID string, limit int) ([]model.Itinerary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT plan_id::text FROM plans WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := []model.Itinerary{}
	for _, id := range ids {
		it, err := p.getByPlanID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (p *Postgres) getByPlanID(ctx context.Context, planID string) (model.Itinerary, error) {
	var it model.Itinerary
	var anchor []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT plan_id::text, user_id, COALESCE(plan_date,''), travel_mode, anchor, total_travel_sec, total_wait_sec, created_at
		 FROM plans WHERE plan_id=$1`, planID).
		Scan(&it.PlanID, &it.UserID, &it.PlanDate, (*string)(&it.Mode), &anchor, &it.TotalTravelSec, &it.TotalWaitSec, &it.CreatedAt)
	if err != nil {
		return model.Itinerary{}, err
	}
	_ = json.Unmarshal(anchor, &it.Anchor)
	if it.Stops, err = p.loadStops(ctx, it.PlanID); err != nil {
		return model.Itinerary{}, err
	}
	return it, nil
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, userID, planDate string, metrics map[string]any) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO plan_metrics (user_id, plan_date, metrics) VALUES ($1,$2,$3)`,
		userID, planDate, toJSON(metrics))
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, userID, planDate string) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT metrics FROM plan_metrics WHERE user_id=$1 AND plan_date=$2 ORDER BY created_at`, userID, planDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		m := map[string]any{}
		_ = json.Unmarshal(b, &m)
		out = append(out, m)
	}
	return out, rows.Err()
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
