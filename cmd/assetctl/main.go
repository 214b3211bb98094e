package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"assetforge/cmd/assetctl/definitions"
	"assetforge/cmd/assetctl/migrate"
	"assetforge/cmd/assetctl/seed"
	"assetforge/cmd/assetctl/token"
	"assetforge/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "assetctl",
		Short:         "Administration tool for asset definitions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		migrate.NewMigrateCommand(),
		definitions.NewDefinitionsCommand(),
		seed.NewSeedCommand(),
		token.NewTokenCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
