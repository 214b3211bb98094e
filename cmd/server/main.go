package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"assetforge/internal/api"
	"assetforge/internal/blob"
	"assetforge/internal/config"
	"assetforge/internal/logging"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
	"assetforge/internal/schema"
)

func main() {
	fs := pflag.NewFlagSet("assetforge-server", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(config.Options{Flags: fs})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Init(cfg.App.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	if err := run(cfg); err != nil {
		logging.Error("server stopped with error", "error", err.Error())
		os.Exit(1)
	}
	logging.Info("server stopped")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := schema.Open(cfg.DB.Driver, cfg.DB.DSN, schema.OpenOptions{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer schema.Close(db)
	logging.Info("database connected", "driver", cfg.DB.Driver)

	tokens, closeTokens, err := tokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	m := manager.New(db, manager.Options{Tokens: tokens})
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate metadata: %w", err)
	}
	if err := seed(ctx, m, cfg.Seed); err != nil {
		return err
	}

	repo, err := materialize.NewRepository(db, blob.NewLocal(cfg.Files.Root))
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	deps := &api.Deps{
		Manager: m,
		Types:   materialize.New(m.Store(), m.Capacities(), tokens, cfg.Cache.TTL),
		Assets:  repo,
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(deps, api.RouterOptions{
			Auth:      api.NewAuthenticator(cfg.Auth.JWTSecret),
			RateRPS:   cfg.RateLimit.RPS,
			RateBurst: cfg.RateLimit.Burst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("server starting", "port", cfg.Server.Port, "environment", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// tokenStore: redis нужен, когда серверов несколько.
func tokenStore(ctx context.Context, cfg config.Config) (manager.TokenStore, func(), error) {
	if cfg.Cache.Tokens != "redis" {
		return manager.NewMemoryTokens(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	logging.Info("invalidation tokens in redis", "addr", cfg.Redis.Addr)
	return manager.NewRedisTokens(client, manager.DefaultTokenKey), func() { _ = client.Close() }, nil
}

func seed(ctx context.Context, m *manager.Manager, cfg config.SeedConfig) error {
	if cfg.Dir == "" && cfg.DropdownsDir == "" {
		return nil
	}
	if _, err := m.SeedDirs(ctx, cfg.Dir, cfg.DropdownsDir); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
