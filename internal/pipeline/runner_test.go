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

package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bcem/leakfeed/internal/dedup"
	"github.com/bcem/leakfeed/internal/models"
	"github.com/bcem/leakfeed/internal/store"
)

func zipPayload(t *testing.T, filename string, entries map[string]string) models.ArchivePayload {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return models.ArchivePayload{
		Filename:        filename,
		Bytes:           buf.Bytes(),
		SourceMessageID: 7,
		ReceivedAt:      time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func newTestRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	if cfg.Index == nil {
		cfg.Index = dedup.NewIndex(nil)
	}
	cfg.WorkDir = t.TempDir()
	return NewRunner(cfg)
}

type fakeSink struct {
	records  []models.CredentialRecord
	rejected map[string]bool
}

func (s *fakeSink) AppendRecords(_ context.Context, records []models.CredentialRecord) ([]store.RowStatus, error) {
	s.records = append(s.records, records...)
	statuses := make([]store.RowStatus, len(records))
	for i, r := range records {
		statuses[i] = store.RowStatus{Fingerprint: r.Fingerprint, Accepted: !s.rejected[r.Fingerprint]}
	}
	return statuses, nil
}

type fakePublisher struct {
	batches []*models.Batch
}

func (p *fakePublisher) PublishBatch(_ context.Context, batch *models.Batch) error {
	p.batches = append(p.batches, batch)
	return nil
}

func TestRun_CompleteBatch(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	runner := newTestRunner(t, RunnerConfig{Sink: sink, Publisher: pub})

	payload := zipPayload(t, "dump.zip", map[string]string{
		"combo.txt": "a@b.com:pass1\nc@d.com:pass2\n",
	})

	batch, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if batch.State != models.StateComplete {
		t.Errorf("state = %q, want complete", batch.State)
	}
	if batch.FileType != "zip" {
		t.Errorf("file type = %q, want zip", batch.FileType)
	}
	if batch.InnerFiles != 1 || batch.ParsedRecords != 2 {
		t.Errorf("inner files = %d, parsed = %d", batch.InnerFiles, batch.ParsedRecords)
	}
	if len(batch.Records) != 2 || batch.Duplicates != 0 || batch.DroppedRecords != 0 {
		t.Errorf("records = %d, dups = %d, dropped = %d",
			len(batch.Records), batch.Duplicates, batch.DroppedRecords)
	}
	if len(batch.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want none", batch.Diagnostics)
	}

	rec := batch.Records[0]
	if rec.ContentType != models.EncodingColon || rec.FileType != "zip" {
		t.Errorf("content/file type = %q/%q", rec.ContentType, rec.FileType)
	}
	if rec.Filename != "combo.txt" || rec.SourceMessageID != 7 {
		t.Errorf("provenance = %q/%d", rec.Filename, rec.SourceMessageID)
	}
	if rec.Fingerprint == "" {
		t.Error("fingerprint not stamped")
	}

	if len(sink.records) != 2 {
		t.Errorf("sink received %d records", len(sink.records))
	}
	if len(pub.batches) != 1 {
		t.Errorf("publisher received %d batches", len(pub.batches))
	}
}

func TestRun_MalformedLineDiagnostic(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})

	payload := zipPayload(t, "dump.zip", map[string]string{
		"combo.txt": "a@b.com:pass1\nnonsense line without delimiter\nc@d.com:pass2\n",
	})

	batch, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// A malformed line is a diagnostic, never a batch failure.
	if batch.State != models.StateComplete {
		t.Errorf("state = %q, want complete", batch.State)
	}
	if len(batch.Records) != 2 {
		t.Errorf("records = %d, want 2", len(batch.Records))
	}
	if len(batch.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(batch.Diagnostics))
	}
	d := batch.Diagnostics[0]
	if d.Stage != "parse" || d.Reason != "MalformedLine" || d.InnerPath != "combo.txt" || d.Line != 2 {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestRun_UnsupportedArchive(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})

	payload := models.ArchivePayload{
		Filename:   "notes.txt",
		Bytes:      []byte("just some text"),
		ReceivedAt: time.Now(),
	}

	batch, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("run should not error on a bad archive: %v", err)
	}

	if batch.State != models.StatePartialFailure {
		t.Errorf("state = %q, want partial_failure", batch.State)
	}
	if len(batch.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(batch.Diagnostics))
	}
	if d := batch.Diagnostics[0]; d.Stage != "decode" || d.Reason != "UnsupportedFormat" {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestRun_DedupAcrossRuns(t *testing.T) {
	idx := dedup.NewIndex(nil)
	runner := newTestRunner(t, RunnerConfig{Index: idx})

	payload := zipPayload(t, "dump.zip", map[string]string{
		"combo.txt": "a@b.com:pass1\nc@d.com:pass2\n",
	})

	first, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.Records) != 2 {
		t.Fatalf("first run records = %d, want 2", len(first.Records))
	}

	second, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Records) != 0 || second.Duplicates != 2 {
		t.Errorf("second run = %d records, %d dups, want 0/2",
			len(second.Records), second.Duplicates)
	}
	if second.State != models.StateComplete {
		t.Errorf("state = %q, want complete", second.State)
	}
}

// TestRun_FingerprintCollisionWithinBatch verifies the same credential in
// two inner files is accepted once.
func TestRun_FingerprintCollisionWithinBatch(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})

	payload := zipPayload(t, "dump.zip", map[string]string{
		"part1.txt": "a@b.com:pass1\n",
		"part2.txt": "A@B.COM:PASS1\n",
	})

	batch, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(batch.Records) != 1 || batch.Duplicates != 1 {
		t.Errorf("records = %d, dups = %d, want 1/1", len(batch.Records), batch.Duplicates)
	}
}

func TestRun_AmbiguousFile(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})

	payload := zipPayload(t, "dump.zip", map[string]string{
		"readme.txt": "nothing credential shaped in here\njust an announcement\n",
	})

	batch, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if batch.State != models.StatePartialFailure {
		t.Errorf("state = %q, want partial_failure", batch.State)
	}
	found := false
	for _, d := range batch.Diagnostics {
		if d.Reason == "ClassificationAmbiguous" && d.InnerPath == "readme.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing ClassificationAmbiguous diagnostic: %v", batch.Diagnostics)
	}
}

func TestRun_InvalidEmailDropped(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})

	payload := zipPayload(t, "dump.zip", map[string]string{
		"combo.txt": "a@b.com:pass1\nnot-an-email:pass2\n",
	})

	batch, err := runner.Run(context.Background(), payload)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(batch.Records) != 1 || batch.DroppedRecords != 1 {
		t.Errorf("records = %d, dropped = %d, want 1/1", len(batch.Records), batch.DroppedRecords)
	}
	found := false
	for _, d := range batch.Diagnostics {
		if d.Reason == "InvalidEmail" && d.Line == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("missing InvalidEmail diagnostic: %v", batch.Diagnostics)
	}
}

func TestPool_SubmitAndDrain(t *testing.T) {
	idx := dedup.NewIndex(nil)
	runner := newTestRunner(t, RunnerConfig{Index: idx})
	pool := NewPool(runner, 2, 4)

	ctx := context.Background()
	pool.Start(ctx)

	payload := zipPayload(t, "dump.zip", map[string]string{
		"combo.txt": "a@b.com:pass1\n",
	})
	if err := pool.Submit(ctx, payload); err != nil {
		t.Fatalf("submit: %v", err)
	}

	pool.Stop()

	if idx.Len() != 1 {
		t.Errorf("index size = %d after drain, want 1", idx.Len())
	}
}

// TestPool_SubmitAfterStop verifies a submission that straggles in
// during shutdown is refused instead of panicking on the closed queue.
func TestPool_SubmitAfterStop(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})
	pool := NewPool(runner, 1, 4)
	pool.Start(context.Background())
	pool.Stop()

	payload := models.ArchivePayload{Filename: "late.zip", Bytes: []byte("x")}
	if err := pool.Submit(context.Background(), payload); err != ErrStopped {
		t.Errorf("submit after stop err = %v, want ErrStopped", err)
	}
}

func TestPool_QueueFull(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{})
	pool := NewPool(runner, 1, 1)
	// Workers never started: the queue holds one payload, the second is
	// rejected with backpressure.

	payload := models.ArchivePayload{Filename: "a.zip", Bytes: []byte("x")}
	if err := pool.Submit(context.Background(), payload); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := pool.Submit(context.Background(), payload); err != ErrQueueFull {
		t.Errorf("second submit err = %v, want ErrQueueFull", err)
	}
}
