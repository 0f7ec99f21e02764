package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"curatorbot/internal/app"
	"curatorbot/internal/config"
	"curatorbot/internal/storage"
	logx "curatorbot/pkg/logx"
)

type rootOptions struct {
	configPath string
	envPath    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "curatorbot",
		Short: "Telegram content curation bot",
		Long: `curatorbot delivers unseen catalog items and image search results to
Telegram users, and lets curators manage the catalog and broadcast to everyone.

Examples:
  # Run the bot
  curatorbot run --config config.yaml

  # Apply database migrations only
  curatorbot migrate

  # Add items from the shell
  curatorbot catalog add -- -1001234567890:42 https://t.me/c/1234567890/43`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(opts.envPath)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "config file (yaml or json)")
	root.PersistentFlags().StringVar(&opts.envPath, "env", ".env", "dotenv file with secrets")

	root.AddCommand(
		newRunCmd(opts),
		newMigrateCmd(opts),
		newCatalogCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

// openStore opens the State Store without starting the bot. The token is
// not required for these commands, so only the file is parsed.
func openStore(ctx context.Context, opts *rootOptions) (*storage.Store, error) {
	cfg, err := config.NewManager(opts.configPath).Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.OpenStore(ctx, cfg, logx.NewConsole("WARN"))
}
