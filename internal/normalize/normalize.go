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

// Package normalize maps raw field tuples into canonical credential
// records. Pure functions plus provenance stamping; no side effects.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcem/leakfeed/internal/models"
)

// ErrInvalidEmail rejects records whose email field is empty or does not
// contain exactly one '@'.
var ErrInvalidEmail = errors.New("invalid email")

// Provenance carries the orchestrator-supplied origin metadata stamped
// onto every record.
type Provenance struct {
	InnerPath       string
	FileType        string
	SourceMessageID int64
	Timestamp       time.Time
}

// Normalize validates a raw record and builds the immutable canonical row.
//
// Rules, in order: the email must be non-empty with exactly one '@'; the
// domain is the lower-cased substring after '@'; the password is kept
// verbatim (passwords are case-sensitive); extra fields are pipe-joined
// into AdditionalData in original order; the fingerprint is the
// case-insensitive identity of (email, password).
func Normalize(raw models.RawRecord, prov Provenance) (models.CredentialRecord, error) {
	email := ""
	if len(raw.Fields) > 0 {
		email = strings.TrimSpace(raw.Fields[0])
	}
	if email == "" || strings.Count(email, "@") != 1 {
		return models.CredentialRecord{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	domain := strings.ToLower(email[strings.IndexByte(email, '@')+1:])

	password := ""
	if len(raw.Fields) > 1 {
		password = raw.Fields[1]
	}

	additional := ""
	if len(raw.Fields) > 2 {
		additional = strings.Join(raw.Fields[2:], "|")
	}

	return models.CredentialRecord{
		Email:           email,
		Domain:          domain,
		Password:        password,
		AdditionalData:  additional,
		FileType:        prov.FileType,
		ContentType:     raw.Encoding,
		Filename:        prov.InnerPath,
		SourceMessageID: prov.SourceMessageID,
		Timestamp:       prov.Timestamp,
		Fingerprint:     Fingerprint(email, password),
	}, nil
}

// Fingerprint is the deterministic dedup identity of an (email, password)
// pair: hex SHA-256 over the lower-cased pair separated by a NUL byte.
// Two records with the same fingerprint are the same fact regardless of
// which archive delivered them.
func Fingerprint(email, password string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(email)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(password)))
	return hex.EncodeToString(h.Sum(nil))
}
