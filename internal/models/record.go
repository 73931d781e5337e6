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

// Package models defines the data structures shared across the leakfeed
// pipeline stages.
package models

import "time"

// Encoding identifies the record encoding of an inner file's text content.
type Encoding string

const (
	EncodingColon     Encoding = "colon"
	EncodingSemicolon Encoding = "semicolon"
	EncodingJSON      Encoding = "json"
	EncodingFreetext  Encoding = "freetext"
)

// ArchivePayload is one compressed archive delivered by the message-stream
// collaborator. Bytes are owned by a single pipeline run and may be
// discarded once all inner files have been extracted.
type ArchivePayload struct {
	Filename        string
	Bytes           []byte
	SourceMessageID int64
	ReceivedAt      time.Time
}

// InnerFile is one file extracted from an archive. Transient: produced by
// the archive decoder, consumed by the format sniffer, never persisted.
type InnerFile struct {
	Path            string
	Bytes           []byte
	ArchiveFilename string

	// DepthExceeded marks a nested archive found past the recursion
	// limit. Its bytes are the still-compressed container.
	DepthExceeded bool
}

// RawRecord is one field tuple produced by the record parser before
// validation. Fields carry positional meaning only at the normalizer
// boundary: fields[0] = email candidate, fields[1] = password, the rest
// are extra data in original order. A missing field is an empty string.
type RawRecord struct {
	Encoding   Encoding
	Fields     []string
	SourceLine int
}

// CredentialRecord is the canonical, immutable output row.
//
// Invariants: Email is non-empty and contains exactly one '@'; Domain is
// the lower-cased substring after '@'; Fingerprint is the case-insensitive
// identity of (Email, Password) and is the dedup key — two records with
// the same fingerprint are the same fact regardless of source.
type CredentialRecord struct {
	Email           string    `json:"email"`
	Domain          string    `json:"domain"`
	Password        string    `json:"password"`
	AdditionalData  string    `json:"additional_data,omitempty"`
	FileType        string    `json:"file_type"`    // container format of the source archive
	ContentType     Encoding  `json:"content_type"` // record encoding of the inner file
	Filename        string    `json:"filename"`     // inner file path within the archive
	SourceMessageID int64     `json:"source_message_id"`
	Timestamp       time.Time `json:"timestamp"`
	Fingerprint     string    `json:"fingerprint"`
}

// Diagnostic is one structured failure note attached to a batch. Reason
// holds the taxonomy name (UnsupportedFormat, CorruptArchive,
// MalformedLine, InvalidEmail, DepthExceeded, ...); Detail is free text.
type Diagnostic struct {
	Stage     string `json:"stage"`
	InnerPath string `json:"inner_path,omitempty"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// RunState tracks the orchestrator's per-archive state machine.
type RunState string

const (
	StateReceived       RunState = "received"
	StateDecoding       RunState = "decoding"
	StateProcessing     RunState = "processing"
	StateDeduping       RunState = "deduping"
	StateComplete       RunState = "complete"
	StatePartialFailure RunState = "partial_failure"
)

// Batch is the finalized output of one pipeline run over one archive.
// Diagnostics is always non-nil, empty on a fully clean run.
type Batch struct {
	RunID           string             `json:"run_id"`
	ArchiveFilename string             `json:"archive_filename"`
	FileType        string             `json:"file_type"`
	SourceMessageID int64              `json:"source_message_id"`
	ReceivedAt      time.Time          `json:"received_at"`
	State           RunState           `json:"state"`
	Records         []CredentialRecord `json:"records"`
	Diagnostics     []Diagnostic       `json:"diagnostics"`

	// Counters for operator visibility.
	InnerFiles     int `json:"inner_files"`
	ParsedRecords  int `json:"parsed_records"`
	DroppedRecords int `json:"dropped_records"`
	Duplicates     int `json:"duplicates"`
}
