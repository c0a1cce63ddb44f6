package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/credentials"
)

// Client is the HTTP implementation of Fetcher, talking to the REST
// pagination endpoint. Requests carry the current credential as a bearer
// token, read fresh from the source on every call so a rotated token is
// picked up without rebuilding the client.
type Client struct {
	baseURL string
	source  credentials.Source
	http    *http.Client
}

// NewClient creates a history client for the given API base URL.
func NewClient(baseURL string, source credentials.Source, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL,
		source:  source,
		http:    httpClient,
	}
}

// FetchPage retrieves one page of history for a room.
func (c *Client) FetchPage(ctx context.Context, roomID, cursor string) (chat.Page, error) {
	endpoint := fmt.Sprintf("%s/api/rooms/%s/messages", c.baseURL, url.PathEscape(roomID))
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return chat.Page{}, fmt.Errorf("build page request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return chat.Page{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.Page{}, fmt.Errorf("fetch page for room %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chat.Page{}, statusError("fetch page", resp)
	}

	var page chat.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return chat.Page{}, fmt.Errorf("decode page for room %s: %w", roomID, err)
	}
	return page, nil
}

// DeleteMessage asks the server to delete one message. The caller mutates
// local state only after this returns nil.
func (c *Client) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	endpoint := fmt.Sprintf("%s/api/rooms/%s/messages/%s",
		c.baseURL, url.PathEscape(roomID), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("delete message", resp)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.source.Token()
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) == 0 {
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, body)
}
