package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.payrelay.dev/internal/config"
	"go.payrelay.dev/internal/store"
)

// App holds the infrastructure that must exist before any service can:
// parsed configuration and, when requested, the opened transfer store.
// Holding an *App means the store file is created, locked against
// other payrelay processes, and migrated. Application objects (queue,
// executor, chain clients) are wired by the binary, not here.
type App struct {
	Config *config.Config

	// Store is nil unless AppOptions.NeedsStore was set.
	Store *store.Store

	cleanups []func() error
}

// AppOptions selects the infrastructure Initialize brings up.
type AppOptions struct {
	NeedsStore bool
}

// Initialize loads configuration and opens the requested
// infrastructure. The returned cleanup releases everything in reverse
// order; callers defer it even when they register further cleanups of
// their own through AddCleanup.
func Initialize(ctx context.Context, opts AppOptions) (*App, func(), error) {
	cfg, err := config.LoadWithFile()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	app := &App{Config: cfg}

	if opts.NeedsStore {
		if err := app.openStore(); err != nil {
			app.Cleanup()
			return nil, nil, err
		}
	}

	return app, app.Cleanup, nil
}

// AddCleanup registers fn to run during Cleanup, before every cleanup
// registered earlier.
func (app *App) AddCleanup(fn func() error) {
	app.cleanups = append(app.cleanups, fn)
}

// openStore opens the sqlite store, creating its directory on first
// run and taking the single-writer lock.
func (app *App) openStore() error {
	path := app.Config.Store.Path

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	slog.Info("Opening store", "path", path)

	s, err := store.Open(path)
	if err != nil {
		if errors.Is(err, store.ErrStoreLocked) {
			return fmt.Errorf("store %s is owned by another payrelay process: %w", path, err)
		}
		return fmt.Errorf("open store: %w", err)
	}

	app.Store = s
	app.AddCleanup(func() error {
		slog.Info("Closing store")
		return s.Close()
	})

	return nil
}

// Cleanup releases held infrastructure in reverse registration order.
func (app *App) Cleanup() {
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		if err := app.cleanups[i](); err != nil {
			slog.Error("Cleanup failed", "error", err)
		}
	}
}
