// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// leakfeed — Credential Leak Ingestion Service
//
// Entry point for the leakfeed service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Seeds the dedup index from previously accepted fingerprints
//  4. Starts pipeline workers and the intake endpoint
//  5. Runs a feed poller per configured source
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/leakfeed/internal/config"
	"github.com/bcem/leakfeed/internal/dedup"
	"github.com/bcem/leakfeed/internal/feed"
	"github.com/bcem/leakfeed/internal/intake"
	"github.com/bcem/leakfeed/internal/models"
	"github.com/bcem/leakfeed/internal/pipeline"
	"github.com/bcem/leakfeed/internal/queue"
	"github.com/bcem/leakfeed/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting leakfeed ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sources", len(cfg.Sources),
		"workers", cfg.Workers,
		"poll_interval", cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.RowsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Record Store (Postgres) ---
	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise record store", "error", err)
		os.Exit(1)
	}

	// --- Dedup Index ---
	// Seed from the store before any worker runs; the index is the only
	// state shared across concurrent pipeline runs.
	index := dedup.NewIndex(st)
	existing, err := st.LoadFingerprints(ctx)
	if err != nil {
		slog.Error("failed to load fingerprints", "error", err)
		os.Exit(1)
	}
	index.Load(existing)

	// --- Pipeline Workers ---
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Index:     index,
		Sink:      st,
		Publisher: publisher,
		WorkDir:   cfg.WorkDir,
	})
	pool := pipeline.NewPool(runner, cfg.Workers, cfg.QueueSize)
	pool.Start(ctx)

	// --- Intake Endpoint ---
	handler := intake.NewHandler(pool)
	ready, err := intake.Serve(ctx, cfg.IntakePort, handler)
	if err != nil {
		slog.Error("failed to start intake server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("intake server ready")

	// --- Feed Pollers ---
	// One OAuth2 client-credentials client per source, one poller each.
	var pollerWG sync.WaitGroup
	for _, source := range cfg.Sources {
		creds := &clientcredentials.Config{
			ClientID:     source.ClientID,
			ClientSecret: source.ClientSecret,
			TokenURL:     source.TokenURL,
		}
		client := feed.NewClient(creds.Client(ctx), source.BaseURL, source.Channel)

		poller := feed.NewPoller(client, source.Name, cfg.PollInterval, cfg.PollLookback, st,
			func(ctx context.Context, payload models.ArchivePayload) error {
				return pool.Submit(ctx, payload)
			})

		pollerWG.Add(1)
		go func() {
			defer pollerWG.Done()
			poller.Run(ctx)
		}()
	}

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop pollers and refuse new intake submissions

		pollerWG.Wait()
		pool.Stop() // Drain in-flight runs; cancellation is between archives

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("leakfeed service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("leakfeed service stopped")
}
