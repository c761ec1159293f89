/**
 * @description
 * This is the main entry point for the standalone renewal scheduler. It is a non-HTTP,
 * long-running process that sweeps the ledger on a cron schedule, claiming elapsed
 * periods and re-subscribing uncancelled ones. Metrics are served on SERVER_PORT.
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/locallum/blockchain-subscription-service/internal/app"
	"github.com/locallum/blockchain-subscription-service/internal/bootstrap"
	"github.com/locallum/blockchain-subscription-service/internal/config"
	"github.com/locallum/blockchain-subscription-service/internal/logger"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)

	if err := cfg.RequireSettlement(); err != nil {
		log.Error("invalid scheduler configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	scheduler := app.NewScheduler(rt.NewJobs(log), log, cfg)
	if err := scheduler.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("scheduler started")

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.Metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("serving metrics", "port", cfg.ServerPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	log.Info("scheduler stopped gracefully")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}
