// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package feed — poller runs a background loop that periodically checks
// the monitored channel for new compressed archives and hands them to the
// pipeline. Delivery is at-least-once: poll windows overlap deliberately
// and the dedup index absorbs redelivered archives.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/leakfeed/internal/archive"
	"github.com/bcem/leakfeed/internal/models"
)

// ArchiveCallback is called for each archive payload pulled from the feed.
type ArchiveCallback func(ctx context.Context, payload models.ArchivePayload) error

// CursorStore persists the poll position so restarts do not re-scan
// history. Implemented by store.Store.
type CursorStore interface {
	SaveCursor(ctx context.Context, source string, position time.Time) error
	LoadCursor(ctx context.Context, source string) (time.Time, error)
}

// Poller periodically checks the monitored channel for new archives.
type Poller struct {
	client    *Client
	source    string
	interval  time.Duration
	lookback  time.Duration
	cursor    CursorStore
	onArchive ArchiveCallback
}

// NewPoller creates a poller. lookback bounds how far back the first poll
// window extends when no cursor exists; subsequent windows start slightly
// before the saved cursor so a crash mid-window cannot lose messages.
func NewPoller(client *Client, source string, interval, lookback time.Duration, cursor CursorStore, onArchive ArchiveCallback) *Poller {
	return &Poller{
		client:    client,
		source:    source,
		interval:  interval,
		lookback:  lookback,
		cursor:    cursor,
		onArchive: onArchive,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("feed poller starting",
		"source", p.source,
		"interval", p.interval,
		"lookback", p.lookback,
	)

	// Initial poll immediately.
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("feed poller stopping", "source", p.source)
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches one window of messages and dispatches their archives.
func (p *Poller) poll(ctx context.Context) {
	end := time.Now().UTC()
	start := end.Add(-p.lookback)

	if p.cursor != nil {
		saved, err := p.cursor.LoadCursor(ctx, p.source)
		if err != nil {
			slog.Error("failed to load feed cursor", "source", p.source, "error", err)
		} else if !saved.IsZero() {
			// Overlap one interval behind the cursor; duplicates are
			// cheaper than gaps.
			start = saved.Add(-p.interval)
		}
	}

	slog.Debug("polling feed",
		"source", p.source,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
	)

	messages, err := p.client.ListMessages(ctx, start, end)
	if err != nil {
		slog.Error("failed to list feed messages", "source", p.source, "error", err)
		return
	}
	if len(messages) == 0 {
		slog.Debug("no new feed messages", "source", p.source)
		return
	}

	slog.Info("found feed messages", "source", p.source, "count", len(messages))

	dispatched := 0
	for _, msg := range messages {
		for _, att := range msg.Attachments {
			// Only compressed containers are worth pulling; the decoder
			// still verifies the signature before extraction.
			if !archive.IsArchiveFilename(att.Filename) {
				continue
			}

			data, err := p.client.Download(ctx, att)
			if err != nil {
				slog.Error("failed to download attachment",
					"source", p.source,
					"message_id", msg.ID,
					"filename", att.Filename,
					"error", err,
				)
				continue
			}

			payload := models.ArchivePayload{
				Filename:        att.Filename,
				Bytes:           data,
				SourceMessageID: msg.ID,
				ReceivedAt:      msg.PostedAt,
			}
			if err := p.onArchive(ctx, payload); err != nil {
				slog.Error("failed to dispatch archive",
					"source", p.source,
					"message_id", msg.ID,
					"filename", att.Filename,
					"error", err,
				)
				continue
			}
			dispatched++
		}
	}

	if p.cursor != nil {
		if err := p.cursor.SaveCursor(ctx, p.source, end); err != nil {
			slog.Error("failed to save feed cursor", "source", p.source, "error", err)
		}
	}

	if dispatched > 0 {
		slog.Info("feed poll dispatched archives", "source", p.source, "count", dispatched)
	}
}
