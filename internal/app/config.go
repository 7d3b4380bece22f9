package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/vk/featflow/internal/dispatch"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/materialize"
)

// Config holds everything an App instance needs to run.
type Config struct {
	Basedir string
	StudyID string
	Model   string
	Level   int

	// SpecificRuns is a restriction payload. When set, exactly these units
	// are scheduled and existing outputs are overwritten.
	SpecificRuns string
	Subjects     []string

	Mode      string
	Workers   int
	NoEngine  bool
	Randomise bool
	FSLDir    string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	EventsURL       string

	Account    string
	Email      string
	Time       string
	Nodes      int
	Sbatch     bool
	Executable string
}

// NewConfig validates cfg and fills defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Basedir == "" {
		return nil, errors.New("basedir is a required configuration field and cannot be empty")
	}
	if cfg.StudyID == "" {
		return nil, errors.New("studyid is a required configuration field and cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "1"
	}
	if cfg.Level == 0 {
		cfg.Level = int(layout.Level1)
	}
	if _, err := layout.ParseLevel(cfg.Level); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = string(dispatch.Sequential)
	}
	if _, err := dispatch.ParseMode(cfg.Mode); err != nil {
		return nil, err
	}
	if cfg.Randomise && cfg.Level != int(layout.Level3) {
		return nil, errors.New("randomise only applies to level 3")
	}
	if len(cfg.Subjects) > 0 && cfg.Level != int(layout.Level3) {
		return nil, errors.New("subjects only applies to level 3")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.HealthcheckPort < 0 {
		return nil, fmt.Errorf("healthcheck port must not be negative, got %d", cfg.HealthcheckPort)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.FSLDir == "" {
		cfg.FSLDir = materialize.ResolveFSLDir(os.Getenv)
	}
	return &cfg, nil
}
