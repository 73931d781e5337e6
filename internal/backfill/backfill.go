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

// Package backfill reprocesses a historical window of the archive feed
// through the regular pipeline. The dedup index makes reruns idempotent:
// already-accepted credentials are filtered, so backfilling over ingested
// history only adds what was missed.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/leakfeed/internal/archive"
	"github.com/bcem/leakfeed/internal/feed"
	"github.com/bcem/leakfeed/internal/models"
	"github.com/bcem/leakfeed/internal/pipeline"
)

// Request defines the scope of a historical run.
type Request struct {
	Source string
	Since  time.Duration // lookback window (e.g. 168h = 1 week)
}

// Result summarises a completed backfill run.
type Result struct {
	Source     string
	Messages   int
	Archives   int
	NewRecords int
	Duplicates int
	Failures   int
	Elapsed    time.Duration
}

// Runner performs historical feed reprocessing.
type Runner struct {
	client    *feed.Client
	pipeline  *pipeline.Runner
	pageDelay time.Duration // delay between archives to avoid throttling
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Client    *feed.Client
	Pipeline  *pipeline.Runner
	PageDelay time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Runner{
		client:    cfg.Client,
		pipeline:  cfg.Pipeline,
		pageDelay: delay,
	}
}

// Run reprocesses all archives posted within the window, sequentially.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	end := time.Now().UTC()
	windowStart := end.Add(-req.Since)

	slog.Info("starting historical backfill",
		"source", req.Source,
		"since", windowStart.Format(time.RFC3339),
	)

	messages, err := r.client.ListMessages(ctx, windowStart, end)
	if err != nil {
		return nil, fmt.Errorf("list feed messages: %w", err)
	}

	result := &Result{Source: req.Source, Messages: len(messages)}

	for _, msg := range messages {
		for _, att := range msg.Attachments {
			if !archive.IsArchiveFilename(att.Filename) {
				continue
			}

			// Rate limit between archives.
			if result.Archives > 0 {
				select {
				case <-ctx.Done():
					return result, ctx.Err()
				case <-time.After(r.pageDelay):
				}
			}

			data, err := r.client.Download(ctx, att)
			if err != nil {
				slog.Warn("backfill: download failed",
					"message_id", msg.ID,
					"filename", att.Filename,
					"error", err,
				)
				result.Failures++
				continue
			}

			batch, err := r.pipeline.Run(ctx, models.ArchivePayload{
				Filename:        att.Filename,
				Bytes:           data,
				SourceMessageID: msg.ID,
				ReceivedAt:      msg.PostedAt,
			})
			if err != nil {
				slog.Warn("backfill: pipeline run failed",
					"message_id", msg.ID,
					"filename", att.Filename,
					"error", err,
				)
				result.Failures++
				continue
			}

			result.Archives++
			result.NewRecords += len(batch.Records)
			result.Duplicates += batch.Duplicates
		}
	}

	result.Elapsed = time.Since(start)

	slog.Info("historical backfill complete",
		"source", req.Source,
		"messages", result.Messages,
		"archives", result.Archives,
		"new_records", result.NewRecords,
		"duplicates", result.Duplicates,
		"failures", result.Failures,
		"elapsed", result.Elapsed,
	)

	return result, nil
}
