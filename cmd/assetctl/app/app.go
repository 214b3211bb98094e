// Package app собирает зависимости движка для команд assetctl.
package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"assetforge/internal/blob"
	"assetforge/internal/config"
	"assetforge/internal/logging"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
	"assetforge/internal/schema"
)

type App struct {
	Config  config.Config
	Manager *manager.Manager
	Types   *materialize.Materializer
	Assets  *materialize.Repository
	close   func() error
}

// Open читает конфигурацию из флагов команды (глобальные флаги
// регистрируются на корне через config.RegisterFlags) и открывает базу.
func Open(ctx context.Context, cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load(config.Options{Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.App.Env); err != nil {
		return nil, err
	}
	db, err := schema.Open(cfg.DB.Driver, cfg.DB.DSN, schema.OpenOptions{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	m := manager.New(db, manager.Options{})
	if err := m.Migrate(ctx); err != nil {
		_ = schema.Close(db)
		return nil, fmt.Errorf("migrate metadata: %w", err)
	}
	repo, err := materialize.NewRepository(db, blob.NewLocal(cfg.Files.Root))
	if err != nil {
		_ = schema.Close(db)
		return nil, err
	}
	return &App{
		Config:  cfg,
		Manager: m,
		Types:   materialize.New(m.Store(), m.Capacities(), m.Tokens(), cfg.Cache.TTL),
		Assets:  repo,
		close:   func() error { return schema.Close(db) },
	}, nil
}

func (a *App) Close() error {
	_ = logging.Close()
	return a.close()
}
