// Package toggl is a read-only client for the Toggl Track v9 API.
package toggl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/model"
)

// DefaultBaseURL is the public Toggl Track API.
const DefaultBaseURL = "https://api.track.toggl.com/api/v9"

// Client is an authenticated Toggl API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient returns a client using token for basic auth. An empty baseURL
// selects DefaultBaseURL.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, token: token}
}

// timeEntry is the wire shape of a Toggl time entry.
type timeEntry struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Description *string   `json:"description"`
	Duration    *int64    `json:"duration"`
	Start       time.Time `json:"start"`
}

// ListEntries fetches the time entries that started in [from, till]. When
// workspaceID is set, entries of other workspaces are dropped.
func (c *Client) ListEntries(ctx context.Context, from, till time.Time, workspaceID *int64) ([]model.SourceRecord, error) {
	q := url.Values{}
	q.Set("start_date", from.Format(time.RFC3339))
	q.Set("end_date", till.Format(time.RFC3339))

	var raw []timeEntry
	if err := c.get(ctx, "/me/time_entries?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	out := make([]model.SourceRecord, 0, len(raw))
	for _, e := range raw {
		if workspaceID != nil && e.WorkspaceID != *workspaceID {
			continue
		}
		rec := model.SourceRecord{
			ID:          e.ID,
			WorkspaceID: e.WorkspaceID,
			Duration:    e.Duration,
			Start:       e.Start,
		}
		if e.Description != nil {
			rec.Description = *e.Description
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListWorkspaces fetches the workspaces the user belongs to.
func (c *Client) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	var out []model.Workspace
	if err := c.get(ctx, "/me/workspaces", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.token, "api_token")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("toggl API request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &apperr.APIError{Service: "toggl", StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding toggl response: %w", err)
	}
	return nil
}
