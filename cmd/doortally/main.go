package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/doortally/doortally/internal/config"
	"github.com/doortally/doortally/internal/db"
	"github.com/doortally/doortally/internal/httpapi"
	"github.com/doortally/doortally/internal/tally/export"
	"github.com/doortally/doortally/internal/tally/service"
	"github.com/doortally/doortally/internal/tally/store"
	memorystore "github.com/doortally/doortally/internal/tally/store/memory"
	postgresstore "github.com/doortally/doortally/internal/tally/store/postgres"
	sqlitestore "github.com/doortally/doortally/internal/tally/store/sqlite"
)

func main() {
	logger := log.New(os.Stdout, "doortally ", log.LstdFlags|log.LUTC)

	rootCmd := &cobra.Command{
		Use:   "doortally",
		Short: "Door event ledger",
		Long:  "doortally records door events, supports undo, and purges old events on a retention schedule.",
	}
	rootCmd.AddCommand(serveCmd(logger), exportCmd(logger), cleanupCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			ledger := service.NewLedger(st, service.LedgerConfig{
				StoreTimeout: time.Duration(cfg.StoreTimeoutMS) * time.Millisecond,
			}, logger)

			janitor := service.NewRetentionJanitor(ledger, cfg.RetentionDays, logger)
			janitor.Start(ctx)
			defer janitor.Stop()

			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger:        logger,
				Addr:          cfg.HTTPAddr,
				Ledger:        ledger,
				RetentionDays: cfg.RetentionDays,
			})

			go func() {
				logger.Printf("listening on %s (store=%s)", cfg.HTTPAddr, cfg.StoreDriver)
				if err := srv.Start(); err != nil {
					logger.Printf("server error: %v", err)
					stop()
				}
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func exportCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Stream all active events as CSV to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			ledger := service.NewLedger(st, service.LedgerConfig{
				StoreTimeout: time.Duration(cfg.StoreTimeoutMS) * time.Millisecond,
			}, logger)

			return export.WriteCSV(ctx, ledger, os.Stdout)
		},
	}
}

func cleanupCmd(logger *log.Logger) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention pass and print the purged count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if days == 0 {
				days = cfg.RetentionDays
			}

			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			ledger := service.NewLedger(st, service.LedgerConfig{
				StoreTimeout: time.Duration(cfg.StoreTimeoutMS) * time.Millisecond,
			}, logger)

			purged, err := ledger.Cleanup(ctx, days)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d events older than %d days\n", purged, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default: configured value)")
	return cmd
}

// openStore builds the configured event store. The returned func releases
// whatever the store holds open.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.EventStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		conn, err := db.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		writer := db.NewWorker(conn)
		closer := func() {
			writer.Close()
			if err := conn.Close(); err != nil {
				logger.Printf("close db: %v", err)
			}
		}
		return sqlitestore.NewEventStore(conn, writer), closer, nil

	case config.DriverPostgres:
		es, err := postgresstore.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return es, es.Close, nil

	case config.DriverMemory:
		logger.Printf("using in-memory store; events are lost on exit")
		return memorystore.NewEventStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
