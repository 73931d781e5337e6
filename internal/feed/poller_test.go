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
	"testing"
	"time"

	"github.com/bcem/leakfeed/internal/models"
)

type memoryCursor struct {
	positions map[string]time.Time
}

func (c *memoryCursor) SaveCursor(_ context.Context, source string, position time.Time) error {
	if c.positions == nil {
		c.positions = make(map[string]time.Time)
	}
	c.positions[source] = position
	return nil
}

func (c *memoryCursor) LoadCursor(_ context.Context, source string) (time.Time, error) {
	return c.positions[source], nil
}

// TestPoll_DispatchesArchives verifies one poll window downloads archive
// attachments, skips non-archives, and advances the cursor.
func TestPoll_DispatchesArchives(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/combo-drops/messages":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"value":[{"id":9,"posted_at":"2026-08-20T12:00:00Z","attachments":[{"filename":"dump.zip","content_uri":"%s/files/1","size":5},{"filename":"promo.png","content_uri":"%s/files/2","size":5}]}],"next":""}`,
				server.URL, server.URL)
		case "/files/1":
			fmt.Fprint(w, "bytes")
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cursor := &memoryCursor{}
	var dispatched []models.ArchivePayload
	onArchive := func(_ context.Context, payload models.ArchivePayload) error {
		dispatched = append(dispatched, payload)
		return nil
	}

	client := NewClient(server.Client(), server.URL, "combo-drops")
	p := NewPoller(client, "combo-drops", time.Minute, time.Hour, cursor, onArchive)
	p.poll(context.Background())

	if len(dispatched) != 1 {
		t.Fatalf("dispatched = %d, want only the archive attachment", len(dispatched))
	}
	got := dispatched[0]
	if got.Filename != "dump.zip" || got.SourceMessageID != 9 || string(got.Bytes) != "bytes" {
		t.Errorf("payload = %+v", got)
	}
	want := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if !got.ReceivedAt.Equal(want) {
		t.Errorf("received at = %v, want message posted_at", got.ReceivedAt)
	}

	if saved := cursor.positions["combo-drops"]; saved.IsZero() {
		t.Error("cursor not advanced after poll")
	}
}

// TestPoll_WindowStartsFromCursor verifies the poll window overlaps one
// interval behind the saved cursor.
func TestPoll_WindowStartsFromCursor(t *testing.T) {
	saved := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	interval := time.Minute

	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[],"next":""}`)
	}))
	defer server.Close()

	cursor := &memoryCursor{positions: map[string]time.Time{"combo-drops": saved}}
	client := NewClient(server.Client(), server.URL, "combo-drops")
	p := NewPoller(client, "combo-drops", interval, 24*time.Hour, cursor, func(context.Context, models.ArchivePayload) error {
		return nil
	})
	p.poll(context.Background())

	want := saved.Add(-interval).Format(time.RFC3339)
	if gotSince != want {
		t.Errorf("since = %q, want %q", gotSince, want)
	}
}
