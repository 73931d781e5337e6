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

// Package dedup maintains the fingerprint identity index over previously
// accepted records. Dedup is two-layered: within one batch the first
// occurrence by parse order wins (a single archive frequently repeats the
// same credential across its inner files); across runs membership in the
// durable index wins. The index is the only state shared between
// concurrent pipeline workers — one mutex serializes filter+commit so two
// workers cannot both accept the same fingerprint.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bcem/leakfeed/internal/models"
)

// Entry is one fingerprint with the time it was first accepted.
type Entry struct {
	Fingerprint string
	FirstSeen   time.Time
}

// Committer durably records accepted fingerprints. Implemented by
// store.Store; nil disables persistence (tests).
type Committer interface {
	CommitFingerprints(ctx context.Context, entries []Entry) error
}

// Index is the in-process view of the durable dedup index. It must be
// seeded via Load at process start from the store's existing fingerprints.
type Index struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	store Committer
}

// NewIndex creates an empty index backed by the given committer.
func NewIndex(store Committer) *Index {
	return &Index{
		seen:  make(map[string]time.Time),
		store: store,
	}
}

// Load seeds the index with fingerprints already present in the durable
// store. Called once at startup before any worker runs.
func (i *Index) Load(existing map[string]time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for fp, ts := range existing {
		i.seen[fp] = ts
	}
	slog.Info("dedup index loaded", "fingerprints", len(i.seen))
}

// Len returns the number of known fingerprints.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.seen)
}

// Filter returns only the records not already present, resolving
// batch-internal duplicates by first occurrence. It does not mark
// anything as seen; Commit does. For the concurrency-safe combined
// operation use Admit.
func (i *Index) Filter(records []models.CredentialRecord) (fresh []models.CredentialRecord, duplicates int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.filterLocked(records)
}

func (i *Index) filterLocked(records []models.CredentialRecord) ([]models.CredentialRecord, int) {
	fresh := make([]models.CredentialRecord, 0, len(records))
	inBatch := make(map[string]bool, len(records))
	duplicates := 0

	for _, r := range records {
		if _, ok := i.seen[r.Fingerprint]; ok {
			duplicates++
			continue
		}
		if inBatch[r.Fingerprint] {
			duplicates++
			continue
		}
		inBatch[r.Fingerprint] = true
		fresh = append(fresh, r)
	}
	return fresh, duplicates
}

// Commit durably records the fingerprints of accepted records and marks
// them seen. Committing an already-known fingerprint is a no-op.
func (i *Index) Commit(ctx context.Context, records []models.CredentialRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.commitLocked(ctx, records)
}

func (i *Index) commitLocked(ctx context.Context, records []models.CredentialRecord) error {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		if _, ok := i.seen[r.Fingerprint]; ok {
			continue
		}
		entries = append(entries, Entry{Fingerprint: r.Fingerprint, FirstSeen: r.Timestamp})
	}
	if len(entries) == 0 {
		return nil
	}

	if i.store != nil {
		if err := i.store.CommitFingerprints(ctx, entries); err != nil {
			return fmt.Errorf("commit fingerprints: %w", err)
		}
	}

	// Mark in memory only after the durable write succeeded.
	for _, e := range entries {
		i.seen[e.Fingerprint] = e.FirstSeen
	}
	return nil
}

// Admit filters and commits a completed batch as one critical section.
// This is what pipeline runs use: between a separate Filter and Commit a
// concurrent worker could accept the same fingerprint from another
// archive processed at the same instant.
func (i *Index) Admit(ctx context.Context, records []models.CredentialRecord) (accepted []models.CredentialRecord, duplicates int, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	fresh, duplicates := i.filterLocked(records)
	if err := i.commitLocked(ctx, fresh); err != nil {
		return nil, duplicates, err
	}
	return fresh, duplicates, nil
}
