package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/config"
	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/logging"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/storage/sqlite"
	"github.com/sudocode-ai/sudocode/internal/telemetry"
)

// Well-known files inside the base directory.
const (
	dbFileName   = "sudocode.db"
	lockFileName = ".sudocode.lock"
)

// app is the wired-up process state shared by all subcommands: one
// flock-guarded store, config, logger, bus and telemetry provider per
// base directory.
type app struct {
	baseDir string
	cfg     *config.Config
	meta    *config.Meta
	log     zerolog.Logger
	bus     *eventbus.Bus
	store   *sqlite.Store
	lock    *flock.Flock
	tel     *telemetry.Provider
}

// openApp acquires the base-dir lock and builds the full stack. The
// base directory must already exist (see `sudocode init`).
func openApp(ctx context.Context) (*app, error) {
	baseDir, err := filepath.Abs(baseDirFlag)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(baseDir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (run `sudocode init` first)", storage.ErrNotInitialized, baseDir)
		}
		return nil, err
	}

	lock := flock.New(filepath.Join(baseDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another sudocode process holds the lock on %s", baseDir)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	log := logging.New(cfg.Log)

	tel, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:  cfg.Telemetry.Enabled,
		Interval: time.Duration(cfg.Telemetry.IntervalSeconds) * time.Second,
		Service:  "sudocode",
		Version:  version,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	bus := eventbus.New(log)
	store, err := sqlite.Open(ctx, filepath.Join(baseDir, dbFileName), bus)
	if err != nil {
		_ = tel.Shutdown(ctx)
		bus.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("open store: %w", err)
	}

	meta, err := config.LoadMeta(baseDir)
	if err != nil {
		_ = store.Close()
		bus.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return &app{
		baseDir: baseDir,
		cfg:     cfg,
		meta:    meta,
		log:     log,
		bus:     bus,
		store:   store,
		lock:    lock,
		tel:     tel,
	}, nil
}

// close tears the stack down in reverse order of construction.
func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing store")
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("flushing telemetry")
		}
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
}

// specsJSONL and issuesJSONL are the snapshot paths inside the base dir.
func (a *app) specsJSONL() string  { return filepath.Join(a.baseDir, "specs.jsonl") }
func (a *app) issuesJSONL() string { return filepath.Join(a.baseDir, "issues.jsonl") }
