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

// Package feed implements a client for the monitored archive feed API:
// an HTTP service that lists messages posted to a watched channel and
// serves their file attachments. The HTTP client must already handle
// authentication (OAuth2 client credentials, built in cmd).
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxAttachmentSize caps a single download; the feed occasionally carries
// multi-gigabyte dumps that the pipeline is not sized for.
const maxAttachmentSize = 512 << 20 // 512 MiB

// Client talks to the archive feed API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	channel    string
}

// NewClient creates a feed client for one monitored channel.
func NewClient(httpClient *http.Client, baseURL, channel string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		channel:    channel,
	}
}

// Attachment is one file attached to a feed message.
type Attachment struct {
	Filename   string `json:"filename"`
	ContentURI string `json:"content_uri"`
	Size       int64  `json:"size"`
}

// Message is one message posted to the monitored channel.
type Message struct {
	ID          int64        `json:"id"`
	PostedAt    time.Time    `json:"posted_at"`
	Attachments []Attachment `json:"attachments"`
}

// messagesResponse is one page of the message list endpoint.
type messagesResponse struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"next"`
}

// ListMessages returns channel messages posted within the window,
// following pagination.
func (c *Client) ListMessages(ctx context.Context, start, end time.Time) ([]Message, error) {
	params := url.Values{}
	params.Set("since", start.UTC().Format(time.RFC3339))
	params.Set("until", end.UTC().Format(time.RFC3339))

	var messages []Message
	next := fmt.Sprintf("%s/channels/%s/messages?%s", c.baseURL, url.PathEscape(c.channel), params.Encode())
	for next != "" {
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return messages, err
		}
		messages = append(messages, page.Value...)
		next = page.NextLink
	}
	return messages, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*messagesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list messages failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var page messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode messages page: %w", err)
	}
	return &page, nil
}

// Download fetches an attachment's bytes.
func (c *Client) Download(ctx context.Context, att Attachment) ([]byte, error) {
	if att.Size > maxAttachmentSize {
		return nil, fmt.Errorf("attachment %s too large (%d bytes)", att.Filename, att.Size)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.ContentURI, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", att.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download %s failed (HTTP %d): %s", att.Filename, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", att.Filename, err)
	}
	if len(data) > maxAttachmentSize {
		return nil, fmt.Errorf("attachment %s exceeds size cap", att.Filename)
	}
	return data, nil
}
