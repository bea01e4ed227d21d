// Command migrate applies the embedded goose migrations to Postgres.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"voice-agent-platform/internal/config"
	"voice-agent-platform/migrations"
	"voice-agent-platform/pkg/logger"
	"voice-agent-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the voice-agent-platform database schema",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(upCmd, upToCmd, downCmd, statusCmd, versionCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.UpContext(ctx, db, ".")
		})
	},
}

var upToCmd = &cobra.Command{
	Use:   "up-to <version>",
	Short: "Apply migrations up to and including version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("version must be an integer: %w", err)
		}
		return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.UpToContext(ctx, db, ".", v)
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.DownContext(ctx, db, ".")
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.StatusContext(ctx, db, ".")
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.VersionContext(ctx, db, ".")
		})
	},
}

func withDB(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := config.LoadDB()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.App.Env, "")
	slog.SetDefault(log)

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	return fn(ctx, db)
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	log *slog.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
	os.Exit(1)
}
