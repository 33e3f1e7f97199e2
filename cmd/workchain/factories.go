package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hamba/cmd"
	"github.com/nrwiersma/workchain"
	"github.com/nrwiersma/workchain/behavior"
	"github.com/nrwiersma/workchain/storage"
	"github.com/nrwiersma/workchain/work"
)

// Application =============================

func newApplication(c *cmd.Context, obs workchain.Observer) *workchain.Application {
	return workchain.NewApplication(workchain.Config{
		Observer: obs,
		Tag:      behavior.TagOutput,
		Out:      os.Stdout,
		Logger:   c.Logger(),
		Statter:  c.Statter(),
	})
}

// Orchestrator ============================

type closer interface {
	Close() error
}

// newOrchestrator returns an orchestrator and a function releasing its
// storage once it is closed.
func newOrchestrator(c *cmd.Context) (*work.Orchestrator, func(), error) {
	dataDir := c.String(flagDataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("could not create data dir: %w", err)
	}

	store, err := newStorage(c.String(flagStorage), dataDir)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if cl, ok := store.(closer); ok {
			_ = cl.Close()
		}
	}

	env := work.NewEnvironment(
		work.RequiresBatteryNotLow,
		work.RequiresStorageNotLow,
		work.RequiresNetwork,
		work.RequiresUnmeteredNetwork,
	)
	env.Set(work.RequiresCharging, c.Bool(flagCharging))

	cfg := work.NewConfig()
	cfg.Workers = c.Int(flagWorkers)
	cfg.ConstraintTimeout = c.Duration(flagConstraintTimeout)
	cfg.Evaluator = env
	cfg.Storage = store
	cfg.Logger = c.Logger()
	cfg.Statter = c.Statter()

	behavior.New(behavior.Config{
		OutputDir: filepath.Join(dataDir, "blur_filter_outputs"),
		SaveDir:   filepath.Join(dataDir, "saved"),
		Delay:     c.Duration(flagDelay),
		Logger:    c.Logger(),
	}).Register(cfg.Registry)

	o, err := work.New(cfg)
	if err != nil {
		release()
		return nil, nil, err
	}
	return o, release, nil
}

func newStorage(kind, dataDir string) (work.Storage, error) {
	switch kind {
	case "memory":
		return storage.NewMemory(), nil
	case "bolt":
		s, err := storage.NewBolt(filepath.Join(dataDir, "workchain.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := storage.NewSQLite(filepath.Join(dataDir, "workchain.sqlite"))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", kind)
	}
}
