package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Solver.WaitWeight != 0.3 {
		t.Fatalf("waitWeight = %v", cfg.Solver.WaitWeight)
	}
	if cfg.Solver.PenaltyHigh <= cfg.Solver.PenaltyMedium || cfg.Solver.PenaltyMedium <= cfg.Solver.PenaltyLow {
		t.Fatal("violation penalties must increase with priority")
	}
	if cfg.Debounce() != 3*time.Second {
		t.Fatalf("debounce = %v", cfg.Debounce())
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	body := []byte(`
solver:
  timeBudgetMs: 50
  waitWeight: 0.5
cluster:
  enabled: false
  thresholdFactor: 0.25
reschedule:
  debounceMs: 100
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Solver.TimeBudgetMs != 50 || cfg.Solver.WaitWeight != 0.5 {
		t.Fatalf("solver = %+v", cfg.Solver)
	}
	if cfg.Cluster.Enabled || cfg.Cluster.ThresholdFactor != 0.25 {
		t.Fatalf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Reschedule.DebounceMs != 100 {
		t.Fatalf("reschedule = %+v", cfg.Reschedule)
	}
	// untouched keys keep defaults
	if cfg.Solver.PenaltyHigh != 10 {
		t.Fatalf("penaltyHigh = %v", cfg.Solver.PenaltyHigh)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORACLE_BASE_URL", "https://ors.example")
	t.Setenv("SOLVER_TIME_BUDGET_MS", "75")
	t.Setenv("RESCHEDULE_DEBOUNCE_MS", "0")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Oracle.BaseURL != "https://ors.example" {
		t.Fatalf("baseURL = %s", cfg.Oracle.BaseURL)
	}
	if cfg.Solver.TimeBudgetMs != 75 {
		t.Fatalf("timeBudgetMs = %d", cfg.Solver.TimeBudgetMs)
	}
	if cfg.Reschedule.DebounceMs != 0 {
		t.Fatalf("debounceMs = %d", cfg.Reschedule.DebounceMs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Cluster.ThresholdFactor = 1.5
	if err := cfg.validate(); err == nil {
		t.Fatal("thresholdFactor > 1 should fail validation")
	}
	cfg = Default()
	cfg.Solver.WaitWeight = -1
	if err := cfg.validate(); err == nil {
		t.Fatal("negative waitWeight should fail validation")
	}
}
