/**
 * @description
 * This is the main entry point for the subscription API. It wires configuration, the
 * ledger, the settlement client and the HTTP router, and optionally runs the renewal
 * scheduler in the same process.
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

	"github.com/locallum/blockchain-subscription-service/internal/api"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	service := app.NewService(rt.Ledger, rt.Events, log)
	var actions *app.Actions
	if rt.Settlement != nil {
		actions = app.NewActions(rt.Ledger, rt.Settlement, rt.Events, rt.Metrics, log)
	}

	opts := api.RouterOptions{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
	}
	if cfg.MetricsEnabled {
		opts.Metrics = rt.Metrics.Handler()
	}
	router := api.NewRouter(api.NewHandler(service, actions, log), opts)

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		if jobs := rt.NewJobs(log); jobs != nil {
			scheduler = app.NewScheduler(jobs, log, cfg)
			if err := scheduler.Start(); err != nil {
				log.Error("failed to start scheduler", "error", err)
				os.Exit(1)
			}
			log.Info("scheduler started")
		} else {
			log.Warn("scheduler enabled but settlement is not configured; renewals will not run")
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	log.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	if scheduler != nil {
		// wait for a running sweep so no confirmed settlement is left unrecorded
		<-scheduler.Stop().Done()
		log.Info("scheduler stopped")
	}

	log.Info("server stopped")
}
