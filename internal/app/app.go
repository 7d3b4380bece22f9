package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/dispatch"
	"github.com/vk/featflow/internal/layout"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx        context.Context
	logger     *slog.Logger
	config     *Config
	stats      *dispatch.Stats
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns an App with
// its own isolated logger writing to outW.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW).With("study", cfg.StudyID, "model", cfg.Model)
	logger.Debug("Logger configured successfully.")

	return &App{
		ctx:    ctxlog.WithLogger(context.Background(), logger),
		logger: logger,
		config: cfg,
		stats:  &dispatch.Stats{},
	}
}

// StudyDir is <basedir>/<studyid>.
func (a *App) StudyDir() string {
	return filepath.Join(a.config.Basedir, a.config.StudyID)
}

// PreprocDir is the fmriprep output root the scanner walks.
func (a *App) PreprocDir() string {
	return filepath.Join(a.StudyDir(), "fmriprep")
}

// Level is the configured analysis level.
func (a *App) Level() layout.Level {
	return layout.Level(a.config.Level)
}

// Stats exposes the dispatch counters. This is primarily for testing.
func (a *App) Stats() *dispatch.Stats {
	return a.stats
}

func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}
