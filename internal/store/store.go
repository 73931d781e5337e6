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

// Package store provides the Postgres-backed durable state: accepted
// credential rows, the dedup fingerprint set, and the feed poll cursor.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/leakfeed/internal/dedup"
	"github.com/bcem/leakfeed/internal/models"
)

// RowStatus is the per-row acceptance result the storage collaborator
// reports back for an appended batch.
type RowStatus struct {
	Fingerprint string
	Accepted    bool // false = fingerprint already present
}

// Store wraps the Postgres pool with the leakfeed schema.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given Postgres pool. It ensures
// the schema exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure leakfeed schema: %w", err)
	}
	slog.Info("record store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fingerprints (
			fingerprint TEXT PRIMARY KEY,
			first_seen  TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS credential_records (
			id                BIGSERIAL PRIMARY KEY,
			fingerprint       TEXT NOT NULL UNIQUE,
			email             TEXT NOT NULL,
			domain            TEXT NOT NULL,
			password          TEXT NOT NULL,
			additional_data   TEXT DEFAULT '',
			file_type         TEXT NOT NULL,
			content_type      TEXT NOT NULL,
			filename          TEXT NOT NULL,
			source_message_id BIGINT NOT NULL,
			record_time       TIMESTAMPTZ NOT NULL,
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_records_domain ON credential_records(domain);
		CREATE INDEX IF NOT EXISTS idx_records_source ON credential_records(source_message_id);
		CREATE TABLE IF NOT EXISTS feed_cursor (
			source     TEXT PRIMARY KEY,
			position   TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// LoadFingerprints returns every known fingerprint with its first-seen
// time. Called once at startup to seed the dedup index.
func (s *Store) LoadFingerprints(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT fingerprint, first_seen FROM fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var fp string
		var ts time.Time
		if err := rows.Scan(&fp, &ts); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = ts
	}
	return out, rows.Err()
}

// CommitFingerprints durably records accepted fingerprints. Re-committing
// a known fingerprint is a no-op, which keeps at-least-once delivery of
// archives safe.
func (s *Store) CommitFingerprints(ctx context.Context, entries []dedup.Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO fingerprints (fingerprint, first_seen)
			VALUES ($1, $2)
			ON CONFLICT (fingerprint) DO NOTHING
		`, e.Fingerprint, e.FirstSeen)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert fingerprints: %w", err)
	}
	return nil
}

// AppendRecords appends a finalized batch of rows, returning per-row
// acceptance status. A row whose fingerprint already exists is reported
// as not accepted rather than erroring.
func (s *Store) AppendRecords(ctx context.Context, records []models.CredentialRecord) ([]RowStatus, error) {
	statuses := make([]RowStatus, 0, len(records))
	for _, r := range records {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO credential_records
				(fingerprint, email, domain, password, additional_data,
				 file_type, content_type, filename, source_message_id, record_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (fingerprint) DO NOTHING
		`, r.Fingerprint, r.Email, r.Domain, r.Password, r.AdditionalData,
			r.FileType, string(r.ContentType), r.Filename, r.SourceMessageID, r.Timestamp)
		if err != nil {
			return statuses, fmt.Errorf("insert record %s: %w", r.Fingerprint, err)
		}
		statuses = append(statuses, RowStatus{
			Fingerprint: r.Fingerprint,
			Accepted:    tag.RowsAffected() > 0,
		})
	}
	return statuses, nil
}

// CountRecords returns the number of stored credential rows.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credential_records`).Scan(&n)
	return n, err
}

// SaveCursor persists the feed poll position for a source so restarts do
// not re-scan history. Overlap on crash is harmless: redelivered archives
// are absorbed by the dedup index.
func (s *Store) SaveCursor(ctx context.Context, source string, position time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_cursor (source, position)
		VALUES ($1, $2)
		ON CONFLICT (source) DO UPDATE SET
			position   = EXCLUDED.position,
			updated_at = NOW()
	`, source, position)
	return err
}

// LoadCursor returns the saved poll position for a source, or the zero
// time when the source has never been polled.
func (s *Store) LoadCursor(ctx context.Context, source string) (time.Time, error) {
	var pos time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT position FROM feed_cursor WHERE source = $1
	`, source).Scan(&pos)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return pos, nil
}
