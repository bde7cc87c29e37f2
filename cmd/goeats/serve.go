package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ressKim-io/goeats/pkg/config"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/storage"
)

// openPostgres connects and registers the health component.
func openPostgres(cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := storage.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		metrics.RegisterComponent("postgres", false, err.Error())
		return nil, err
	}
	metrics.RegisterComponent("postgres", true, "")
	return db, nil
}

// openRedis connects and registers the health component.
func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		metrics.RegisterComponent("redis", false, err.Error())
		return nil, err
	}
	metrics.RegisterComponent("redis", true, "")
	return rdb, nil
}

// runMetricsServer serves prometheus metrics and health endpoints on
// the ops port. Returns a shutdown function.
func runMetricsServer(addr string) func(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server failed", err)
		}
	}()
	return func(ctx context.Context) { _ = srv.Shutdown(ctx) }
}

// runHTTPServer serves the ingress handler. Returns a shutdown
// function.
func runHTTPServer(addr string, handler http.Handler) func(ctx context.Context) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server failed", err)
		}
	}()
	return func(ctx context.Context) { _ = srv.Shutdown(ctx) }
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
}
