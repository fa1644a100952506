// Package config loads planner configuration from YAML with environment
// overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Solver     Solver     `yaml:"solver"`
	Oracle     Oracle     `yaml:"oracle"`
	Cluster    Cluster    `yaml:"cluster"`
	Reschedule Reschedule `yaml:"reschedule"`
}

// Solver holds optimizer budgets and objective weights.
type Solver struct {
	TimeBudgetMs  int `yaml:"timeBudgetMs"`
	MaxIterations int `yaml:"maxIterations"`
	// WaitWeight scales idle (waiting) seconds against travel seconds.
	WaitWeight float64 `yaml:"waitWeight"`
	// Violation penalty per second of window violation, by priority.
	PenaltyHigh   float64 `yaml:"penaltyHigh"`
	PenaltyMedium float64 `yaml:"penaltyMedium"`
	PenaltyLow    float64 `yaml:"penaltyLow"`
	// MinuteRounding rounds reported arrival/departure times to whole
	// minutes at the API boundary. Internal math stays in seconds.
	MinuteRounding bool `yaml:"minuteRounding"`
}

// Oracle bounds external travel-cost queries.
type Oracle struct {
	BaseURL     string  `yaml:"baseUrl"`
	Profile     string  `yaml:"profile"`
	APIKey      string  `yaml:"apiKey"`
	TimeoutMs   int     `yaml:"timeoutMs"`
	Concurrency int     `yaml:"concurrency"`
	RateQPS     float64 `yaml:"rateQps"`
	RateBurst   int     `yaml:"rateBurst"`
	CacheTTLMin int     `yaml:"cacheTtlMin"`
}

type Cluster struct {
	Enabled bool `yaml:"enabled"`
	// ThresholdFactor scales the median pairwise travel time to get the
	// merge threshold.
	ThresholdFactor float64 `yaml:"thresholdFactor"`
}

type Reschedule struct {
	DebounceMs int `yaml:"debounceMs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Solver: Solver{
			TimeBudgetMs:  300,
			MaxIterations: 2000,
			WaitWeight:    0.3,
			PenaltyHigh:   10,
			PenaltyMedium: 4,
			PenaltyLow:    2,
		},
		Oracle: Oracle{
			Profile:     "driving-car",
			TimeoutMs:   3000,
			Concurrency: 4,
			RateQPS:     10,
			RateBurst:   5,
			CacheTTLMin: 60,
		},
		Cluster: Cluster{
			Enabled:         true,
			ThresholdFactor: 0.5,
		},
		Reschedule: Reschedule{DebounceMs: 3000},
	}
}

// Load reads path (when non-empty) over the defaults, then applies env
// overrides. A missing file is an error; an empty path is not.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv loads CONFIG_PATH when set, otherwise defaults plus env overrides.
func FromEnv() (Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ORACLE_BASE_URL"); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("SOLVER_TIME_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Solver.TimeBudgetMs = n
		}
	}
	if v := os.Getenv("RESCHEDULE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Reschedule.DebounceMs = n
		}
	}
}

func (c Config) validate() error {
	if c.Solver.TimeBudgetMs < 0 {
		return fmt.Errorf("solver.timeBudgetMs must be >= 0")
	}
	if c.Solver.MaxIterations < 0 {
		return fmt.Errorf("solver.maxIterations must be >= 0")
	}
	if c.Solver.WaitWeight < 0 {
		return fmt.Errorf("solver.waitWeight must be >= 0")
	}
	if c.Cluster.ThresholdFactor <= 0 || c.Cluster.ThresholdFactor > 1 {
		return fmt.Errorf("cluster.thresholdFactor must be in (0,1]")
	}
	if c.Oracle.Concurrency <= 0 {
		return fmt.Errorf("oracle.concurrency must be > 0")
	}
	return nil
}

// OracleTimeout returns the per-call oracle timeout.
func (c Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutMs) * time.Millisecond
}

// SolveBudget returns the wall-clock budget for one optimization run.
func (c Config) SolveBudget() time.Duration {
	return time.Duration(c.Solver.TimeBudgetMs) * time.Millisecond
}

// Debounce returns the reschedule debounce window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Reschedule.DebounceMs) * time.Millisecond
}
