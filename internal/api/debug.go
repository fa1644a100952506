package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"calroute/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build":    buildinfo.Info(),
		"time":     time.Now().UTC().Format(time.RFC3339),
		"sessions": s.Planner.Snapshot(),
		"config": map[string]any{
			"PORT":             os.Getenv("PORT"),
			"CONFIG_PATH":      os.Getenv("CONFIG_PATH"),
			"ORACLE_BASE_URL":  os.Getenv("ORACLE_BASE_URL"),
			"HAS_DATABASE_URL": os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":    os.Getenv("REDIS_URL") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
