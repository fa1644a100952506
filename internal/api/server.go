package api

import (
	"context"
	"os"
	"strings"

	"calroute/internal/config"
	"calroute/internal/geo"
	"calroute/internal/sched"
	"calroute/internal/store"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Planner *sched.Planner
	Broker  EventBroker
}

// NewServer wires the server from the environment: DATABASE_URL selects the
// Postgres store (in-memory otherwise), REDIS_URL selects the Redis broker,
// ORACLE_BASE_URL selects the HTTP travel-cost oracle over the built-in
// estimator.
func NewServer() (*Server, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	var s store.Store
	dsn := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.Migrate(context.Background())
		}
		s = sp
	}

	var oracle geo.Oracle
	if cfg.Oracle.BaseURL != "" {
		oracle = geo.NewHTTPOracle(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.OracleTimeout())
	} else {
		oracle = geo.HaversineOracle{}
	}

	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	planner := sched.NewPlanner(cfg, oracle, s)
	srv := &Server{Cfg: cfg, Store: s, Planner: planner, Broker: broker}
	planner.SetPublish(srv.publishResult)
	return srv, nil
}
