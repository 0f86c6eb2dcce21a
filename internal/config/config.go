package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mickamy/planfmt/internal/model"
)

// Config holds render defaults and diff thresholds.
type Config struct {
	Render RenderConfig `json:"render"`
	Diff   DiffConfig   `json:"diff"`
}

// RenderConfig carries the default rendering options.
type RenderConfig struct {
	// Detail is one of "none", "plan", "noncost" or "all".
	Detail      string   `json:"detail"`
	IDPrefix    bool     `json:"id_prefix"`
	Expand      bool     `json:"expand"`
	HiddenTypes []string `json:"hidden_types"`
}

// DetailLevel parses the configured detail name.
func (c RenderConfig) DetailLevel() (model.DetailLevel, error) {
	return model.ParseDetailLevel(c.Detail)
}

// DiffConfig defines thresholds for diff summaries.
type DiffConfig struct {
	MinSelfCostDelta float64 `json:"min_self_cost_delta"`
	MinPercentChange float64 `json:"min_percent_change"`
	MaxItems         int     `json:"max_items"`
}

var (
	mu     sync.RWMutex
	active = Default()
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Render: RenderConfig{
			Detail:   "plan",
			IDPrefix: true,
		},
		Diff: DiffConfig{
			MinSelfCostDelta: 1.0,
			MinPercentChange: 5.0,
			MaxItems:         8,
		},
	}
}

// Active returns the currently applied configuration.
func Active() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Use replaces the active configuration.
func Use(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
}

// Apply loads configuration from the provided path (JSON). Empty path resets to default.
func Apply(path string) error {
	if path == "" {
		Use(Default())
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	Use(cfg)
	return nil
}
