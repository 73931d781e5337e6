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

// Package intake handles archives pushed over HTTP by sources that are
// not polled. A collaborator POSTs raw archive bytes with provenance
// headers; the handler enqueues the payload and responds immediately —
// processing happens on the pipeline workers.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bcem/leakfeed/internal/models"
	"github.com/bcem/leakfeed/internal/pipeline"
)

// Provenance headers the pushing collaborator must set.
const (
	HeaderFilename  = "X-Leakfeed-Filename"
	HeaderMessageID = "X-Leakfeed-Message-Id"
	HeaderPostedAt  = "X-Leakfeed-Posted-At" // RFC3339, optional
)

// maxBodySize caps a pushed archive.
const maxBodySize = 512 << 20 // 512 MiB

// Submitter enqueues payloads for processing. Implemented by
// pipeline.Pool.
type Submitter interface {
	Submit(ctx context.Context, payload models.ArchivePayload) error
}

// Handler accepts pushed archive payloads.
type Handler struct {
	pool Submitter
}

// NewHandler creates an intake handler feeding the given pool.
func NewHandler(pool Submitter) *Handler {
	return &Handler{pool: pool}
}

// ServeIntake handles POST /intake requests. Responds 202 once the
// payload is queued; 503 signals backpressure so the pusher retries.
func (h *Handler) ServeIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filename := r.Header.Get(HeaderFilename)
	if filename == "" {
		http.Error(w, fmt.Sprintf("%s header required", HeaderFilename), http.StatusBadRequest)
		return
	}

	messageID, err := strconv.ParseInt(r.Header.Get(HeaderMessageID), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("%s header must be an integer", HeaderMessageID), http.StatusBadRequest)
		return
	}

	postedAt := time.Now().UTC()
	if raw := r.Header.Get(HeaderPostedAt); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			postedAt = ts.UTC()
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "archive too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	payload := models.ArchivePayload{
		Filename:        filename,
		Bytes:           body,
		SourceMessageID: messageID,
		ReceivedAt:      postedAt,
	}

	if err := h.pool.Submit(r.Context(), payload); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			http.Error(w, "pipeline busy, retry later", http.StatusServiceUnavailable)
			return
		}
		slog.Error("intake submit failed", "filename", filename, "error", err)
		http.Error(w, "intake unavailable", http.StatusServiceUnavailable)
		return
	}

	slog.Info("archive accepted via intake",
		"filename", filename,
		"source_message_id", messageID,
		"size", len(body),
	)
	w.WriteHeader(http.StatusAccepted)
}

// Serve starts the intake HTTP server on the given port. It binds the
// port immediately and signals readiness via the returned channel before
// accepting connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/intake", handler.ServeIntake)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind intake port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("intake server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("intake server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("intake server error", "error", err)
		}
	}()

	return ready, nil
}
