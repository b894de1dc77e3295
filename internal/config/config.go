// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-level configuration. World behavior lives in the
// rule set, not here; this only covers wiring and operations.
type Config struct {
	Addr      string `env:"OMNIWORLD_ADDR" envDefault:":8080"`
	DBPath    string `env:"OMNIWORLD_DB" envDefault:"data/omniworld.db"`
	RulesPath string `env:"OMNIWORLD_RULES" envDefault:"world_rules.yaml"`

	JudgeAPIKey  string        `env:"OMNIWORLD_JUDGE_API_KEY"`
	JudgeModel   string        `env:"OMNIWORLD_JUDGE_MODEL" envDefault:"claude-haiku-4-5-20251001"`
	JudgeTimeout time.Duration `env:"OMNIWORLD_JUDGE_TIMEOUT" envDefault:"60s"`

	// MaxInflightJudgments bounds simultaneous oracle calls; further /do
	// submissions queue behind the semaphore.
	MaxInflightJudgments int `env:"OMNIWORLD_MAX_JUDGMENTS" envDefault:"5"`

	TickInterval time.Duration `env:"OMNIWORLD_TICK_INTERVAL" envDefault:"1m"`

	BackupInterval time.Duration `env:"OMNIWORLD_BACKUP_INTERVAL" envDefault:"1h"`
	BackupDir      string        `env:"OMNIWORLD_BACKUP_DIR" envDefault:"backups"`
	BackupKeep     int           `env:"OMNIWORLD_BACKUP_KEEP" envDefault:"48"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
