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

// Package sniff classifies raw text into one of the closed set of record
// encodings. Classification is an ordered list of predicates evaluated
// first-match-wins: structured exports (JSON, delimiter-separated) are
// unambiguous when present, free text is the lossy last resort. The chain
// is total — there is no classification failure, only FREETEXT.
package sniff

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bcem/leakfeed/internal/models"
)

// sampleLimit bounds how many non-empty lines the majority predicates
// inspect, so pathologically large files are not scanned twice.
const sampleLimit = 200

var (
	looseEmailRe = regexp.MustCompile(`^[^@\s:;]+@[^@\s:;]+\.[^@\s:;]+$`)
	usernameRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{2,63}$`)
)

// credentialKeys are the JSON key names (lower-cased) that mark an object
// as a credential record.
var credentialKeys = map[string]bool{
	"email":    true,
	"e-mail":   true,
	"mail":     true,
	"username": true,
	"user":     true,
	"login":    true,
	"password": true,
	"pass":     true,
	"pwd":      true,
}

// IsCredentialKey reports whether a JSON key identifies a credential field.
func IsCredentialKey(key string) bool {
	return credentialKeys[strings.ToLower(strings.TrimSpace(key))]
}

// classifier is one predicate in the ordered chain.
type classifier struct {
	encoding models.Encoding
	match    func(full string, sample []string) bool
}

// chain is the classification policy. Order matters and is a deliberate,
// testable property; do not reorder without updating the tests.
var chain = []classifier{
	{models.EncodingJSON, matchJSON},
	{models.EncodingSemicolon, matchSemicolon},
	{models.EncodingColon, matchColon},
}

// Classify returns the record encoding for the given text. Never fails:
// anything unclassifiable falls through to FREETEXT.
func Classify(text string) models.Encoding {
	sample := sampleNonEmptyLines(text, sampleLimit)
	for _, c := range chain {
		if c.match(text, sample) {
			return c.encoding
		}
	}
	return models.EncodingFreetext
}

// matchJSON accepts a JSON array of objects, a single object, or
// newline-delimited JSON objects, as long as recognizable credential keys
// are present.
func matchJSON(full string, sample []string) bool {
	trimmed := strings.TrimSpace(full)
	if trimmed == "" {
		return false
	}

	switch trimmed[0] {
	case '[':
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &arr); err != nil {
			return false
		}
		for _, obj := range arr {
			if hasCredentialKey(obj) {
				return true
			}
		}
		return false
	case '{':
		// Single object or NDJSON. Probe the sampled lines; a lone object
		// spanning multiple lines is caught by the whole-text fallback.
		valid := 0
		for _, line := range sample {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal([]byte(line), &obj); err != nil {
				continue
			}
			if hasCredentialKey(obj) {
				valid++
			}
		}
		if valid > 0 && valid*2 > len(sample) {
			return true
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return false
		}
		return hasCredentialKey(obj)
	}
	return false
}

func hasCredentialKey(obj map[string]json.RawMessage) bool {
	for k := range obj {
		if IsCredentialKey(k) {
			return true
		}
	}
	return false
}

// matchSemicolon requires a majority of sampled lines to contain exactly
// one ';' with non-empty parts on each side.
func matchSemicolon(_ string, sample []string) bool {
	if len(sample) == 0 {
		return false
	}
	hits := 0
	for _, line := range sample {
		if strings.Count(line, ";") != 1 {
			continue
		}
		left, right, _ := strings.Cut(line, ";")
		if strings.TrimSpace(left) != "" && strings.TrimSpace(right) != "" {
			hits++
		}
	}
	return hits*2 > len(sample)
}

// matchColon requires a majority of sampled lines to contain exactly one
// ':' whose left side looks like an email or a bare username.
func matchColon(_ string, sample []string) bool {
	if len(sample) == 0 {
		return false
	}
	hits := 0
	for _, line := range sample {
		if strings.Count(line, ":") != 1 {
			continue
		}
		left, _, _ := strings.Cut(line, ":")
		left = strings.TrimSpace(left)
		if looseEmailRe.MatchString(left) || usernameRe.MatchString(left) {
			hits++
		}
	}
	return hits*2 > len(sample)
}

// sampleNonEmptyLines returns up to limit non-empty, trimmed lines without
// splitting the whole text.
func sampleNonEmptyLines(text string, limit int) []string {
	var sample []string
	for len(text) > 0 && len(sample) < limit {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = ""
		}
		line = strings.TrimSpace(line)
		if line != "" {
			sample = append(sample, line)
		}
	}
	return sample
}
