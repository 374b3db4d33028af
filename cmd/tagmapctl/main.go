package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/config"
	"backend-tagmap/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var (
	loadConfig      = config.Load
	connectPostgres = db.ConnectPostgres
	migrateFn       = db.Migrate
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tagmapctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tagmapctl",
		Short:        "Operator CLI for the tag map backend",
		SilenceUsage: true,
	}
	cmd.AddCommand(newMigrateCmd(), newTokenCmd())
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply or inspect the embedded schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if databaseURL != "" {
				cfg.PostgresURL = databaseURL
			}
			pool, err := connectPostgres(cfg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer closePool(pool)
			if err := migrateFn(cmd.Context(), pool, args[0]); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to POSTGRES_URL)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if secret == "" {
				secret = loadConfig().JWTSecret
			}
			token, err := auth.SignToken([]byte(secret), userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to put in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
