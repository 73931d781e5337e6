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

package sniff

import (
	"testing"

	"github.com/bcem/leakfeed/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Encoding
	}{
		{
			name: "colon majority with emails",
			text: "user@x.com:Pass123\nuser2@y.com:Pass456",
			want: models.EncodingColon,
		},
		{
			name: "colon with bare usernames",
			text: "jsmith:hunter2\nadmin01:letmein\n",
			want: models.EncodingColon,
		},
		{
			name: "semicolon majority",
			text: "user@x.com;Pass123\nuser2@y.com;Pass456\n",
			want: models.EncodingSemicolon,
		},
		{
			name: "semicolon wins over colon when both present",
			text: "user@x.com;pw:1\nuser2@y.com;pw:2\n",
			want: models.EncodingSemicolon,
		},
		{
			name: "json array",
			text: `[{"email":"a@b.com","password":"p1"},{"email":"c@d.com","password":"p2"}]`,
			want: models.EncodingJSON,
		},
		{
			name: "ndjson objects",
			text: `{"email":"a@b.com","password":"p1"}` + "\n" + `{"email":"c@d.com","password":"p2"}`,
			want: models.EncodingJSON,
		},
		{
			name: "json array without credential keys falls through",
			text: `[{"id":1},{"id":2}]`,
			want: models.EncodingFreetext,
		},
		{
			name: "prose with embedded credential",
			text: "fresh combo drop below\ncontact a@b.com:Secret99 for access\n",
			want: models.EncodingFreetext,
		},
		{
			name: "colon minority stays freetext",
			text: "line one\nline two\nuser@x.com:pw\n",
			want: models.EncodingFreetext,
		},
		{
			name: "two colons per line stays freetext",
			text: "user@x.com:pw:extra\nuser2@y.com:pw:extra\n",
			want: models.EncodingFreetext,
		},
		{
			name: "empty input",
			text: "",
			want: models.EncodingFreetext,
		},
		{
			name: "blank lines ignored by majority count",
			text: "\n\nuser@x.com:Pass123\n\nuser2@y.com:Pass456\n\n",
			want: models.EncodingColon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsCredentialKey(t *testing.T) {
	for _, key := range []string{"email", "EMAIL", " e-mail ", "Username", "pwd", "Pass"} {
		if !IsCredentialKey(key) {
			t.Errorf("IsCredentialKey(%q) = false, want true", key)
		}
	}
	for _, key := range []string{"id", "country", "source", ""} {
		if IsCredentialKey(key) {
			t.Errorf("IsCredentialKey(%q) = true, want false", key)
		}
	}
}
