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

// leakfeed — Historical Backfill Command
//
// Standalone CLI tool that reprocesses archives posted to a monitored
// feed source within a configurable window. Safe to rerun: the dedup
// index filters everything already accepted.
//
// Usage:
//
//	go run ./cmd/backfill/ --source <name> [--since 168h]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/leakfeed/internal/backfill"
	"github.com/bcem/leakfeed/internal/config"
	"github.com/bcem/leakfeed/internal/dedup"
	"github.com/bcem/leakfeed/internal/feed"
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

	// --- CLI Flags ---
	sourceFlag := flag.String("source", "", "Feed source name to backfill (required)")
	sinceFlag := flag.String("since", "168h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	flag.Parse()

	if *sourceFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --source is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	slog.Info("starting historical backfill",
		"source", *sourceFlag,
		"since", sinceDuration,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Find the requested source
	var source *config.SourceConfig
	for i := range cfg.Sources {
		if cfg.Sources[i].Name == *sourceFlag {
			source = &cfg.Sources[i]
			break
		}
	}
	if source == nil {
		slog.Error("source not found in configuration", "name", *sourceFlag)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise record store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.RowsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Dedup Index ---
	index := dedup.NewIndex(st)
	existing, err := st.LoadFingerprints(ctx)
	if err != nil {
		slog.Error("failed to load fingerprints", "error", err)
		os.Exit(1)
	}
	index.Load(existing)

	// --- Pipeline + Feed Client ---
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Index:     index,
		Sink:      st,
		Publisher: publisher,
		WorkDir:   cfg.WorkDir,
	})

	creds := &clientcredentials.Config{
		ClientID:     source.ClientID,
		ClientSecret: source.ClientSecret,
		TokenURL:     source.TokenURL,
	}
	client := feed.NewClient(creds.Client(ctx), source.BaseURL, source.Channel)

	// --- Run ---
	bf := backfill.NewRunner(backfill.RunnerConfig{
		Client:   client,
		Pipeline: runner,
	})

	result, err := bf.Run(ctx, backfill.Request{
		Source: source.Name,
		Since:  sinceDuration,
	})
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nBackfill complete for %s\n", result.Source)
	fmt.Printf("  messages:    %d\n", result.Messages)
	fmt.Printf("  archives:    %d\n", result.Archives)
	fmt.Printf("  new records: %d\n", result.NewRecords)
	fmt.Printf("  duplicates:  %d\n", result.Duplicates)
	fmt.Printf("  failures:    %d\n", result.Failures)
	fmt.Printf("  elapsed:     %s\n", result.Elapsed.Round(time.Millisecond))
}
