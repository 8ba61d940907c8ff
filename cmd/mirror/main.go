// Command mirror runs the SOR↔RDB mirror: in its default mode it serves
// the HTTP+WebSocket control plane; with -i it runs an interactive
// numeric-menu setup session instead. See SPEC_FULL.md §6.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dahateb/rust-crm-sync/internal/api"
	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/config"
	"github.com/dahateb/rust-crm-sync/internal/rdb"
	"github.com/dahateb/rust-crm-sync/internal/setup"
	"github.com/dahateb/rust-crm-sync/internal/sor"
	"github.com/dahateb/rust-crm-sync/internal/syncengine"
)

func main() {
	interactive := flag.Bool("i", false, "run the interactive setup menu instead of the HTTP server")
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	if err := run(logger, *configPath, *interactive); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string, interactive bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "server_url", cfg.Server.URL)

	pool, err := openDB(cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	sorCfg := sor.Config{
		URI:          cfg.Salesforce.URI,
		ClientID:     cfg.Salesforce.ClientID,
		ClientSecret: cfg.Salesforce.ClientSecret,
		Username:     cfg.Salesforce.Username,
		Password:     cfg.Salesforce.Password,
		SecToken:     cfg.Salesforce.SecToken,
		APIVersion:   cfg.Salesforce.APIVersion,
	}
	sorClient := sor.New(30 * time.Second)
	loginCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sorClient.Connect(loginCtx, sorCfg); err != nil {
		return fmt.Errorf("sor login: %w", err)
	}
	logger.Info("sor connected")

	gateway := rdb.New(pool, cfg.DB.URL, logger)
	defer gateway.Close()

	su := setup.New(sorClient, gateway, sorCfg)

	msgBus := bus.New()
	syncBus := bus.New()
	ingress := syncengine.NewIngress(sorClient, gateway, sorCfg, cfg.Sync.Interval())
	egress := syncengine.NewEgress(sorClient, gateway, sorCfg, cfg.Sync.Interval())
	sup := syncengine.NewSupervisor(cfg.Sync.Interval(), syncBus, logger, ingress, egress)

	if interactive {
		return runInteractive(su, sup)
	}
	return runServer(sorClient, gateway, su, sup, msgBus, syncBus, cfg.Server.URL, logger)
}

func runServer(
	sorClient *sor.Client,
	gateway *rdb.Gateway,
	su *setup.Setup,
	sup *syncengine.Supervisor,
	msgBus, syncBus *bus.Bus,
	addr string,
	logger *slog.Logger,
) error {
	handler, stopWorker := api.NewServer(sorClient, gateway, su, sup, msgBus, syncBus, api.Config{Env: os.Getenv("ENV")}, logger)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	stopWorker(shutdownCtx)
	_ = sup.Stop(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// openDB opens the connection pool used for everything except the
// dedicated LISTEN connection, which internal/rdb.Gateway opens itself.
func openDB(dsn string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
