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

// Package parse turns classified text into raw field tuples. A malformed
// line never fails the file: it is skipped and reported in the result so
// the orchestrator can attach diagnostics. Output order is input line
// order, which gives stable first-occurrence-wins dedup within a file.
package parse

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bcem/leakfeed/internal/models"
	"github.com/bcem/leakfeed/internal/sniff"
)

// Result holds the parsed records and the line numbers (1-based) of lines
// that were skipped as malformed.
type Result struct {
	Records   []models.RawRecord
	Malformed []int
}

// freetextRe matches email<sep>password shaped substrings anywhere in a
// noisy line. Separator is any of ":;,| ". Go's regexp is leftmost-first
// with greedy tokens, which gives the leftmost-longest non-overlapping
// matches the free-text contract asks for.
var freetextRe = regexp.MustCompile(
	`([A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+)[:;,| ]([^\s:;,|]{3,})`)

// emailKeyOrder is the preference order for picking the email field out of
// a JSON object.
var emailKeyOrder = []string{"email", "e-mail", "mail", "username", "user", "login"}

// passwordKeyOrder is the preference order for the password field.
var passwordKeyOrder = []string{"password", "pass", "pwd"}

// Parse produces raw records for text of a known encoding.
func Parse(text string, encoding models.Encoding) Result {
	switch encoding {
	case models.EncodingColon:
		return parseDelimited(text, ":")
	case models.EncodingSemicolon:
		return parseDelimited(text, ";")
	case models.EncodingJSON:
		return parseJSON(text)
	default:
		return parseFreetext(text)
	}
}

// parseDelimited splits each line on the first occurrence of the delimiter
// only — passwords may legitimately contain the delimiter character.
func parseDelimited(text string, delim string) Result {
	var res Result
	forEachLine(text, func(lineNo int, line string) {
		left, right, found := strings.Cut(line, delim)
		left = strings.TrimSpace(left)
		right = strings.TrimSpace(right)
		if !found || left == "" || right == "" {
			res.Malformed = append(res.Malformed, lineNo)
			return
		}

		enc := models.EncodingColon
		if delim == ";" {
			enc = models.EncodingSemicolon
		}
		res.Records = append(res.Records, models.RawRecord{
			Encoding:   enc,
			Fields:     []string{left, right},
			SourceLine: lineNo,
		})
	})
	return res
}

// parseJSON handles a JSON array of objects, a single object, or
// newline-delimited objects. Objects with missing expected keys still
// produce a record with empty fields; validation belongs to the
// normalizer, not here.
func parseJSON(text string) Result {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		return parseJSONArray(trimmed)
	}

	var res Result

	// A lone object may be pretty-printed across several lines; the
	// sniffer classifies that as JSON, so try the whole text as one
	// object first. Trailing data (NDJSON) makes this fail.
	var whole map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &whole); err == nil {
		res.Records = append(res.Records, objectRecord(whole, 1))
		return res
	}

	// NDJSON: one record per parseable line.
	forEachLine(text, func(lineNo int, line string) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			res.Malformed = append(res.Malformed, lineNo)
			return
		}
		res.Records = append(res.Records, objectRecord(obj, lineNo))
	})
	return res
}

func parseJSONArray(text string) Result {
	var res Result
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(text), &arr); err != nil {
		res.Malformed = append(res.Malformed, 1)
		return res
	}

	for i, raw := range arr {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			res.Malformed = append(res.Malformed, i+1)
			continue
		}
		// Element index stands in for the source line of array members.
		res.Records = append(res.Records, objectRecord(obj, i+1))
	}
	return res
}

// objectRecord maps a JSON object onto the positional field tuple:
// [email, password, extra...]. Extra (non-credential) keys are rendered
// key=value and sorted by key — JSON objects carry no order to preserve.
func objectRecord(obj map[string]json.RawMessage, line int) models.RawRecord {
	fields := []string{
		firstStringValue(obj, emailKeyOrder),
		firstStringValue(obj, passwordKeyOrder),
	}

	var extraKeys []string
	for k := range obj {
		if !sniff.IsCredentialKey(k) {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		fields = append(fields, k+"="+stringValue(obj[k]))
	}

	return models.RawRecord{
		Encoding:   models.EncodingJSON,
		Fields:     fields,
		SourceLine: line,
	}
}

func firstStringValue(obj map[string]json.RawMessage, keys []string) string {
	for _, want := range keys {
		for k, v := range obj {
			if strings.EqualFold(strings.TrimSpace(k), want) {
				return stringValue(v)
			}
		}
	}
	return ""
}

// stringValue renders a raw JSON value as a plain string: quoted strings
// are unwrapped, everything else keeps its compact JSON form.
func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parseFreetext scans every line for email:password shaped substrings.
// Matches on the same line are non-overlapping with leftmost preference.
func parseFreetext(text string) Result {
	var res Result
	forEachLine(text, func(lineNo int, line string) {
		for _, m := range freetextRe.FindAllStringSubmatch(line, -1) {
			res.Records = append(res.Records, models.RawRecord{
				Encoding:   models.EncodingFreetext,
				Fields:     []string{m[1], m[2]},
				SourceLine: lineNo,
			})
		}
	})
	return res
}

// forEachLine calls fn for every non-empty line with its 1-based number.
// Empty lines still advance the counter so diagnostics point at real
// positions in the source file.
func forEachLine(text string, fn func(lineNo int, line string)) {
	lineNo := 0
	for len(text) > 0 {
		lineNo++
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = ""
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fn(lineNo, line)
	}
}

// MalformedDetail renders a malformed-line list as a short human string
// for diagnostics.
func MalformedDetail(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	parts := make([]string, len(lines))
	for i, n := range lines {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return "lines " + strings.Join(parts, ",")
}
