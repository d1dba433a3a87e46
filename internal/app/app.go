// Package app wires configuration, storage, the webhook bridge, agents and
// the dispatcher into one process-wide bundle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadline/internal/agent"
	"leadline/internal/bridge"
	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/logger"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

// InterruptedMessage is recorded on logs that were still running when the
// previous process stopped.
const InterruptedMessage = "canceled: interrupted"

type App struct {
	Config     *config.Config
	DB         db.Handle
	Repo       repo.Repo
	Bridge     *bridge.Client
	Runner     agent.Runner
	Deps       agent.Deps
	Dispatcher *dispatch.Dispatcher
	Engine     engine.Engine
	Logger     *slog.Logger
}

// Open opens the store, applies migrations and builds every component.
// A nil log builds one from cfg.Log.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		l, err := logger.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		log = l
	}
	h, err := db.Open(db.Config{Workspace: workspace, URL: cfg.Database.URL})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := migrate.Migrate(ctx, h); err != nil {
		h.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.New(h)
	if cfg.Agents.RecoverInterrupted {
		n, err := r.FailRunningLogs(ctx, domain.FormatTime(time.Now()), InterruptedMessage)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("recover interrupted runs: %w", err)
		}
		if n > 0 {
			log.Warn("closed execution logs left running by a previous process", "count", n)
		}
	}
	b := bridge.New(bridge.Config{
		WebhookBase: cfg.Bridge.WebhookBase,
		Username:    cfg.Bridge.Username,
		Password:    cfg.Bridge.Password,
		Timeout:     cfg.BridgeTimeout(),
	})
	deps := agent.Deps{
		Repo:          r,
		Bridge:        b,
		Logger:        log,
		TechDebtLimit: cfg.Agents.TechDebt.DefaultLimit,
	}
	runner := agent.Runner{Repo: r, Logger: log}
	return &App{
		Config:     cfg,
		DB:         h,
		Repo:       r,
		Bridge:     b,
		Runner:     runner,
		Deps:       deps,
		Dispatcher: dispatch.New(runner, deps, dispatch.Options{Workers: cfg.Dispatch.Workers, Logger: log}),
		Engine:     engine.New(r, b),
		Logger:     log,
	}, nil
}

// RunNow executes an agent synchronously through the runner, bypassing the
// dispatcher. Used by the CLI.
func (a *App) RunNow(ctx context.Context, name string, input []byte) (agent.Outcome, error) {
	kind, err := agent.ParseKind(name)
	if err != nil {
		return agent.Outcome{}, err
	}
	ag, err := agent.New(kind, a.Deps)
	if err != nil {
		return agent.Outcome{}, err
	}
	return a.Runner.Run(ctx, ag, input)
}

// Close drains scheduled runs and closes the store. Runs still going when
// ctx ends are canceled, and the store stays open until they have finalized
// their logs.
func (a *App) Close(ctx context.Context) error {
	drainErr := a.Dispatcher.Close(ctx)
	return errors.Join(drainErr, a.DB.Close())
}
