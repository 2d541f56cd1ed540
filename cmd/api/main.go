package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"florist/internal/config"
	"florist/internal/infra/db"
	"florist/internal/server"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "api",
		Short:        "Flower delivery checkout and subscription service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// HTTP＋スケジューラ＋outbox送信
func serveCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the in-process scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			app, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if !noScheduler {
				go runScheduler(ctx, app.subscriptions, cfg.SchedulerInterval, log)
			}
			if poller := app.outboxPoller(); poller != nil {
				go poller.Run(ctx)
			} else {
				log.Info("KAFKA_BROKERS not set, outbox events stay in the database")
			}

			e := server.New(cfg, log, app.handlers())
			return server.Start(ctx, e, cfg.ListenAddr(), log)
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not run the subscription scheduler in this process")
	return cmd
}

// スケジューラを1回だけ回す（cronなどから）
func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			app, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			report, tickErr := app.subscriptions.Tick(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return tickErr
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			gdb, err := db.Connect(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer closeDB(gdb, log)

			if err := db.RunMigrations(gdb); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
