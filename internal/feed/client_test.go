// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestListMessages_Pagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/channels/combo-drops/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":3,"posted_at":"2026-08-20T14:00:00Z","attachments":[]}],"next":""}`)
			return
		}

		if got := r.URL.Query().Get("since"); got != "2026-08-20T00:00:00Z" {
			t.Errorf("since = %q", got)
		}
		next := server.URL + "/channels/combo-drops/messages?page=2"
		fmt.Fprintf(w, `{"value":[{"id":1,"posted_at":"2026-08-20T12:00:00Z","attachments":[{"filename":"dump.zip","content_uri":"%s/files/1","size":100}]},{"id":2,"posted_at":"2026-08-20T13:00:00Z","attachments":[]}],"next":"%s"}`,
			server.URL, next)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "combo-drops")
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	messages, err := client.ListMessages(context.Background(), start, end)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3 across pages", len(messages))
	}
	if messages[0].ID != 1 || messages[2].ID != 3 {
		t.Errorf("message ids = %d..%d", messages[0].ID, messages[2].ID)
	}
	if len(messages[0].Attachments) != 1 || messages[0].Attachments[0].Filename != "dump.zip" {
		t.Errorf("attachments = %v", messages[0].Attachments)
	}
}

func TestListMessages_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "combo-drops")
	_, err := client.ListMessages(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error for HTTP 403")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "archive bytes")
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "combo-drops")
	data, err := client.Download(context.Background(), Attachment{
		Filename:   "dump.zip",
		ContentURI: server.URL + "/files/1",
		Size:       13,
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "archive bytes" {
		t.Errorf("data = %q", data)
	}
}

// TestDownload_SizeCap verifies oversized attachments are rejected before
// any bytes move.
func TestDownload_SizeCap(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "combo-drops")
	_, err := client.Download(context.Background(), Attachment{
		Filename:   "huge.zip",
		ContentURI: server.URL + "/files/1",
		Size:       1 << 40,
	})
	if err == nil {
		t.Fatal("expected size cap error")
	}
	if called {
		t.Error("oversized download should not reach the server")
	}
}
