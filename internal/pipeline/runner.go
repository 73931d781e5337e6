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

// Package pipeline sequences the extraction stages for one archive and
// assembles the output batch: decode → (per inner file) sniff → parse →
// normalize → dedup → sink. Failures below the archive level are captured
// as diagnostics and never abort the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bcem/leakfeed/internal/archive"
	"github.com/bcem/leakfeed/internal/dedup"
	"github.com/bcem/leakfeed/internal/models"
	"github.com/bcem/leakfeed/internal/normalize"
	"github.com/bcem/leakfeed/internal/parse"
	"github.com/bcem/leakfeed/internal/sniff"
	"github.com/bcem/leakfeed/internal/store"
)

// maxLineDiagnostics caps per-file line-level diagnostics so one garbage
// file cannot bloat a batch; the overflow is summarised in one entry.
const maxLineDiagnostics = 100

// Sink receives a finalized batch's rows and reports per-row acceptance.
// Implemented by store.Store.
type Sink interface {
	AppendRecords(ctx context.Context, records []models.CredentialRecord) ([]store.RowStatus, error)
}

// BatchPublisher hands a finalized batch to the downstream export queue.
// Implemented by queue.Publisher.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, batch *models.Batch) error
}

// Runner executes pipeline runs. Safe for concurrent use: each run is
// sequential and self-contained, and the dedup index serializes itself.
type Runner struct {
	decoder   *archive.Decoder
	index     *dedup.Index
	sink      Sink
	publisher BatchPublisher
	workDir   string
}

// RunnerConfig holds the runner's collaborators. Sink and Publisher may be
// nil (dry runs and tests).
type RunnerConfig struct {
	Index     *dedup.Index
	Sink      Sink
	Publisher BatchPublisher
	WorkDir   string
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg RunnerConfig) *Runner {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "leakfeed")
	}
	return &Runner{
		decoder:   archive.NewDecoder(),
		index:     cfg.Index,
		sink:      cfg.Sink,
		publisher: cfg.Publisher,
		workDir:   workDir,
	}
}

// Run processes one archive payload end to end and returns the batch.
// The batch is always returned, including on error: diagnostics survive
// infrastructure failures. The only errors returned are downstream store
// or queue failures — nothing inside the archive aborts the run.
func (r *Runner) Run(ctx context.Context, payload models.ArchivePayload) (*models.Batch, error) {
	runID := uuid.New().String()
	batch := &models.Batch{
		RunID:           runID,
		ArchiveFilename: payload.Filename,
		SourceMessageID: payload.SourceMessageID,
		ReceivedAt:      payload.ReceivedAt,
		State:           models.StateReceived,
		Diagnostics:     []models.Diagnostic{},
	}

	// Scoped working area for this run, removed on every exit path.
	runDir := filepath.Join(r.workDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err == nil {
		defer os.RemoveAll(runDir)
		spool := filepath.Join(runDir, filepath.Base(payload.Filename))
		if err := os.WriteFile(spool, payload.Bytes, 0o600); err != nil {
			slog.Warn("failed to spool archive", "run_id", runID, "error", err)
		}
	}

	slog.Info("pipeline run started",
		"run_id", runID,
		"archive", payload.Filename,
		"source_message_id", payload.SourceMessageID,
		"size", len(payload.Bytes),
	)

	// --- Decode ---
	batch.State = models.StateDecoding
	batch.FileType = string(archive.DetectFormat(payload.Filename, payload.Bytes))

	files, nestedFailures, err := r.decoder.Decode(payload.Filename, payload.Bytes)
	if err != nil {
		batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
			Stage:  "decode",
			Reason: decodeReason(err),
			Detail: err.Error(),
		})
		batch.State = models.StatePartialFailure
		slog.Warn("archive skipped",
			"run_id", runID,
			"archive", payload.Filename,
			"error", err,
		)
		return batch, nil
	}
	batch.InnerFiles = len(files)

	failed := false
	for _, nf := range nestedFailures {
		batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
			Stage:     "decode",
			InnerPath: nf.Path,
			Reason:    decodeReason(nf.Err),
			Detail:    nf.Err.Error(),
		})
		failed = true
	}

	// --- Per inner file: sniff, parse, normalize ---
	batch.State = models.StateProcessing
	var records []models.CredentialRecord
	for _, f := range files {
		if f.DepthExceeded {
			batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
				Stage:     "decode",
				InnerPath: f.Path,
				Reason:    "DepthExceeded",
				Detail:    fmt.Sprintf("nested archive beyond depth %d left unparsed", archive.MaxNestingDepth),
			})
			continue
		}

		fileRecords, fileFailed := r.processInnerFile(f, payload, batch)
		records = append(records, fileRecords...)
		failed = failed || fileFailed
	}
	batch.ParsedRecords = len(records)

	// --- Dedup: filter + commit as one critical section ---
	batch.State = models.StateDeduping
	accepted, duplicates, err := r.index.Admit(ctx, records)
	if err != nil {
		batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
			Stage:  "dedup",
			Reason: "CommitFailed",
			Detail: err.Error(),
		})
		batch.State = models.StatePartialFailure
		return batch, fmt.Errorf("dedup commit: %w", err)
	}
	batch.Records = accepted
	batch.Duplicates = duplicates

	// --- Sink + export queue ---
	if r.sink != nil && len(accepted) > 0 {
		statuses, err := r.sink.AppendRecords(ctx, accepted)
		if err != nil {
			batch.State = models.StatePartialFailure
			return batch, fmt.Errorf("append records: %w", err)
		}
		for _, st := range statuses {
			if !st.Accepted {
				batch.Duplicates++
			}
		}
	}
	if r.publisher != nil && len(accepted) > 0 {
		if err := r.publisher.PublishBatch(ctx, batch); err != nil {
			batch.State = models.StatePartialFailure
			return batch, fmt.Errorf("publish batch: %w", err)
		}
	}

	if failed {
		batch.State = models.StatePartialFailure
	} else {
		batch.State = models.StateComplete
	}

	slog.Info("pipeline run finished",
		"run_id", runID,
		"archive", payload.Filename,
		"state", batch.State,
		"inner_files", batch.InnerFiles,
		"parsed", batch.ParsedRecords,
		"accepted", len(batch.Records),
		"duplicates", batch.Duplicates,
		"dropped", batch.DroppedRecords,
		"diagnostics", len(batch.Diagnostics),
	)

	return batch, nil
}

// processInnerFile runs sniff → parse → normalize for one file and
// appends its diagnostics to the batch. The returned flag marks an
// unrecoverable file (nothing extractable from an unclassifiable blob).
func (r *Runner) processInnerFile(f models.InnerFile, payload models.ArchivePayload, batch *models.Batch) ([]models.CredentialRecord, bool) {
	// Tolerate arbitrary encodings the way the upstream sources do:
	// invalid UTF-8 and NUL bytes are stripped, not fatal.
	text := strings.ToValidUTF8(string(f.Bytes), "")
	text = strings.ReplaceAll(text, "\x00", "")
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	encoding := sniff.Classify(text)
	res := parse.Parse(text, encoding)

	lineDiags := 0
	for _, line := range res.Malformed {
		if lineDiags >= maxLineDiagnostics {
			break
		}
		lineDiags++
		batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
			Stage:     "parse",
			InnerPath: f.Path,
			Reason:    "MalformedLine",
			Line:      line,
		})
	}
	if overflow := len(res.Malformed) - maxLineDiagnostics; overflow > 0 {
		batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
			Stage:     "parse",
			InnerPath: f.Path,
			Reason:    "MalformedLine",
			Detail:    fmt.Sprintf("%d further malformed lines omitted", overflow),
		})
	}

	prov := normalize.Provenance{
		InnerPath:       f.Path,
		FileType:        batch.FileType,
		SourceMessageID: payload.SourceMessageID,
		Timestamp:       payload.ReceivedAt,
	}

	var records []models.CredentialRecord
	lineDiags = 0
	for _, raw := range res.Records {
		rec, err := normalize.Normalize(raw, prov)
		if err != nil {
			batch.DroppedRecords++
			if errors.Is(err, normalize.ErrInvalidEmail) && lineDiags < maxLineDiagnostics {
				lineDiags++
				batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
					Stage:     "normalize",
					InnerPath: f.Path,
					Reason:    "InvalidEmail",
					Line:      raw.SourceLine,
				})
			}
			continue
		}
		records = append(records, rec)
	}

	// A file where even the free-text scan found nothing is the
	// lowest-confidence outcome the sniffer has: surface it.
	if encoding == models.EncodingFreetext && len(res.Records) == 0 {
		batch.Diagnostics = append(batch.Diagnostics, models.Diagnostic{
			Stage:     "classify",
			InnerPath: f.Path,
			Reason:    "ClassificationAmbiguous",
			Detail:    "no credential-shaped content found",
		})
		return records, true
	}

	return records, false
}

// decodeReason maps decoder errors onto the diagnostics taxonomy.
func decodeReason(err error) string {
	switch {
	case errors.Is(err, archive.ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, archive.ErrCorruptArchive):
		return "CorruptArchive"
	default:
		return "DecodeFailed"
	}
}
