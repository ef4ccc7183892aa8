// Package redmine is a client for the parts of the Redmine REST API used to
// reconcile and publish time entries.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

// pageSize is the largest page Redmine hands out.
const pageSize = 100

// Client talks to one Redmine installation.
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu         sync.Mutex
	activities []model.Activity
}

// NewClient returns a client for baseURL. httpClient is expected to carry
// authentication, see NewHTTPClient.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type issuesResponse struct {
	Issues     []model.WorkItem `json:"issues"`
	TotalCount int              `json:"total_count"`
}

// ListWorkItems returns the issues for ids, keyed by id. Ids the user cannot
// see are simply absent from the result.
func (c *Client) ListWorkItems(ctx context.Context, ids []int64) (map[int64]model.WorkItem, error) {
	out := map[int64]model.WorkItem{}
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, strconv.FormatInt(id, 10))
		}

		q := url.Values{}
		q.Set("issue_id", strings.Join(parts, ","))
		q.Set("status_id", "*")
		q.Set("limit", strconv.Itoa(pageSize))

		var page issuesResponse
		if err := c.getJSON(ctx, "/issues.json?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, issue := range page.Issues {
			out[issue.ID] = issue
		}
	}
	return out, nil
}

type activitiesResponse struct {
	Activities []model.Activity `json:"time_entry_activities"`
}

// ListActivities returns the time entry activities. The first successful
// answer is cached for the lifetime of the client.
func (c *Client) ListActivities(ctx context.Context) ([]model.Activity, error) {
	c.mu.Lock()
	cached := c.activities
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var resp activitiesResponse
	if err := c.getJSON(ctx, "/enumerations/time_entry_activities.json", &resp); err != nil {
		return nil, err
	}
	if resp.Activities == nil {
		resp.Activities = []model.Activity{}
	}

	c.mu.Lock()
	c.activities = resp.Activities
	c.mu.Unlock()
	return resp.Activities, nil
}

type timeEntryWire struct {
	ID      int64           `json:"id"`
	Project model.Container `json:"project"`
	Issue   *struct {
		ID int64 `json:"id"`
	} `json:"issue"`
	Activity model.Activity `json:"activity"`
	Hours    float64        `json:"hours"`
	Comments string         `json:"comments"`
	SpentOn  string         `json:"spent_on"`
}

type timeEntriesResponse struct {
	TimeEntries []timeEntryWire `json:"time_entries"`
	TotalCount  int             `json:"total_count"`
}

// GetTimeEntries returns the current user's time entries spent in
// [from, till], following Redmine's offset pagination.
func (c *Client) GetTimeEntries(ctx context.Context, from, till time.Time) ([]model.TargetTimeEntry, error) {
	var out []model.TargetTimeEntry
	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("from", from.Format(timecalc.DayLayout))
		q.Set("to", till.Format(timecalc.DayLayout))
		q.Set("user_id", "me")
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page timeEntriesResponse
		if err := c.getJSON(ctx, "/time_entries.json?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, e := range page.TimeEntries {
			entry := model.TargetTimeEntry{
				ID:        e.ID,
				Container: e.Project,
				Comments:  e.Comments,
				Activity:  e.Activity,
				Hours:     e.Hours,
				Duration:  timecalc.FromSeconds(int64(math.Floor(e.Hours * 3600))),
				SpentOn:   e.SpentOn,
			}
			if e.Issue != nil {
				entry.WorkItem = &model.WorkItem{ID: e.Issue.ID, Container: e.Project}
			}
			out = append(out, entry)
		}
		if len(page.TimeEntries) == 0 || offset+pageSize >= page.TotalCount {
			break
		}
	}
	return out, nil
}

type createRequest struct {
	TimeEntry createPayload `json:"time_entry"`
}

type createPayload struct {
	IssueID    int64   `json:"issue_id"`
	SpentOn    string  `json:"spent_on"`
	Hours      float64 `json:"hours"`
	Comments   string  `json:"comments"`
	ActivityID int64   `json:"activity_id"`
}

type createResponse struct {
	TimeEntry struct {
		ID int64 `json:"id"`
	} `json:"time_entry"`
}

type errorsResponse struct {
	Errors json.RawMessage `json:"errors"`
}

// CreateTimeEntry writes req and returns the id of the new time entry.
// Rejections are reported as *apperr.RemoteWriteError.
func (c *Client) CreateTimeEntry(ctx context.Context, req model.PublishRequest) (int64, error) {
	body, err := json.Marshal(createRequest{TimeEntry: createPayload{
		IssueID:    req.WorkItemID,
		SpentOn:    req.SpentOn.Format(timecalc.DayLayout),
		Hours:      req.Hours,
		Comments:   req.Comments,
		ActivityID: req.ActivityID,
	}})
	if err != nil {
		return 0, fmt.Errorf("marshalling time entry: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/time_entries.json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &apperr.RemoteWriteError{Err: err}
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, &apperr.RemoteWriteError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, &apperr.RemoteWriteError{
			StatusCode: resp.StatusCode,
			Messages:   decodeErrors(respBody),
			Err:        fmt.Errorf("redmine answered %s", resp.Status),
		}
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return 0, &apperr.RemoteWriteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding redmine response: %w", err)}
	}
	return created.TimeEntry.ID, nil
}

// decodeErrors reads Redmine's {"errors": [...]} body. The plugin endpoints
// answer with a single string instead of a list; both are accepted.
func decodeErrors(body []byte) []string {
	var resp errorsResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Errors) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(resp.Errors, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(resp.Errors, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("redmine API request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &apperr.APIError{Service: "redmine", StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding redmine response: %w", err)
	}
	return nil
}

// IsRejected reports whether err is a validation rejection by Redmine, as
// opposed to a transport failure.
func IsRejected(err error) bool {
	var rw *apperr.RemoteWriteError
	return errors.As(err, &rw) && len(rw.Messages) > 0
}
