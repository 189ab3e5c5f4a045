// Package app composes storage, the ledger, and the HTTP server into one
// runnable service.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookstore/pkg/config"
	"bookstore/pkg/httpapi"
	"bookstore/pkg/ledger"
	"bookstore/pkg/storage/sqlitestore"
	"bookstore/pkg/telemetry"
	"bookstore/pkg/version"
)

const serviceName = "bookstore"

// Config captures CLI flags so the service can run with a single Run call.
type Config struct {
	showVersion bool
	port        int
	dbPath      string
}

// envConfig holds the environment-driven settings that change between
// deployments rather than between invocations.
type envConfig struct {
	// OwnerID seeds the ledger owner the first time the service runs
	// against an empty database. Afterwards the stored owner wins.
	OwnerID        string `env:"BOOKSTORE_OWNER_ID"`
	OTLPEndpoint   string `env:"BOOKSTORE_OTLP_ENDPOINT"`
	OTLPAuthHeader string `env:"BOOKSTORE_OTLP_AUTH_HEADER"`
}

// Run composes persistence, the ledger state machine, and the HTTP server.
func Run(ctx context.Context, args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			// Help output is already printed by the flag package.
			return nil
		}
		return err
	}

	if cfg.showVersion {
		fmt.Printf("%s version %s\n", serviceName, version.Version())
		return nil
	}

	var envCfg envConfig
	if err := config.ParseEnv(&envCfg); err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, version.Version(), envCfg.OTLPEndpoint, envCfg.OTLPAuthHeader)
	if err != nil {
		return fmt.Errorf("set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, err := sqlitestore.Open(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	owner := uuid.Nil
	if envCfg.OwnerID != "" {
		owner, err = uuid.Parse(envCfg.OwnerID)
		if err != nil {
			return fmt.Errorf("parse BOOKSTORE_OWNER_ID: %w", err)
		}
	}

	ledgerService, err := ledger.Open(ctx, owner, store)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledgerService.Close()

	logger.Info("ledger ready",
		zap.String("owner", ledgerService.Owner().String()),
		zap.String("db_path", cfg.dbPath),
	)

	events := make(chan ledger.Event, 64)
	if err := ledgerService.Subscribe(ctx, events); err != nil {
		return fmt.Errorf("subscribe to ledger events: %w", err)
	}

	api := httpapi.New(ledgerService, logger)
	addr := cfg.address()
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logEvents(ctx, logger, events)
		return nil
	})

	grp.Go(func() error {
		logger.Info("bookstore service is running", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down, waiting for pending requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server failed to shut down gracefully: %w", err)
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return err
	}
	logger.Info("bookstore service stopped")
	return nil
}

// logEvents mirrors committed ledger events into the structured log so
// operators see every catalog change and sale.
func logEvents(ctx context.Context, logger *zap.Logger, events <-chan ledger.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch payload := ev.Payload.(type) {
			case ledger.ItemAdded:
				logger.Info("item added to catalog",
					zap.Uint64("item_id", payload.ID),
					zap.String("title", payload.Title),
					zap.Uint64("price", payload.Price),
					zap.Uint64("stock", payload.Stock),
				)
			case ledger.PurchaseSettled:
				logger.Info("purchase settled",
					zap.Uint64("item_id", payload.ID),
					zap.String("buyer", payload.Buyer.String()),
					zap.Uint64("payment", payload.Payment),
				)
			default:
				logger.Warn("unknown ledger event", zap.String("name", string(ev.Name)))
			}
		}
	}
}

// address converts CLI port configuration into a binding string.
func (c Config) address() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + strconv.Itoa(c.port)
}

// parseFlags uses a dedicated FlagSet so Run can be called from multiple entry points.
func parseFlags(args []string) (Config, error) {
	set := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	set.SetOutput(io.Discard)

	var cfg Config
	set.BoolVar(&cfg.showVersion, "version", false, "Show the application version")
	set.IntVar(&cfg.port, "port", 8765, "Port for the HTTP server.")
	set.StringVar(&cfg.dbPath, "db-path", "bookstore.db", "Filesystem path for the SQLite database.")

	if err := set.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
