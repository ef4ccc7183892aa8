package toggl_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/toggl"
)

const entriesJSON = `[
  {"id": 1, "workspace_id": 10, "description": "#100 review PR", "duration": 610, "start": "2024-02-22T09:00:00Z"},
  {"id": 2, "workspace_id": 20, "description": "other workspace", "duration": 60, "start": "2024-02-22T10:00:00Z"},
  {"id": 3, "workspace_id": 10, "description": null, "duration": -1708592400, "start": "2024-02-22T11:00:00Z"},
  {"id": 4, "workspace_id": 10, "description": "no duration", "start": "2024-02-22T12:00:00Z"}
]`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "secret" || pass != "api_token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("bad credentials"))
			return
		}
		switch r.URL.Path {
		case "/me/time_entries":
			assert.Equal(t, "2024-02-22T00:00:00Z", r.URL.Query().Get("start_date"))
			assert.Equal(t, "2024-02-22T23:59:59Z", r.URL.Query().Get("end_date"))
			_, _ = w.Write([]byte(entriesJSON))
		case "/me/workspaces":
			_, _ = w.Write([]byte(`[{"id": 10, "name": "Acme"}, {"id": 20, "name": "Personal"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestListEntries(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	c := toggl.NewClient(srv.Client(), srv.URL, "secret")
	from := time.Date(2024, 2, 22, 0, 0, 0, 0, time.UTC)
	till := time.Date(2024, 2, 22, 23, 59, 59, 0, time.UTC)

	all, err := c.ListEntries(context.Background(), from, till, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "#100 review PR", all[0].Description)
	assert.False(t, all[0].Running())
	assert.Equal(t, "", all[2].Description)
	assert.True(t, all[2].Running())
	assert.True(t, all[3].Running())

	ws := int64(10)
	filtered, err := c.ListEntries(context.Background(), from, till, &ws)
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	for _, r := range filtered {
		assert.Equal(t, int64(10), r.WorkspaceID)
	}
}

func TestListWorkspaces(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	c := toggl.NewClient(srv.Client(), srv.URL, "secret")
	ws, err := c.ListWorkspaces(context.Background())
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, "Acme", ws[0].Name)
}

func TestAPIErrorOnBadToken(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	c := toggl.NewClient(srv.Client(), srv.URL, "wrong")
	_, err := c.ListWorkspaces(context.Background())
	var apiErr *apperr.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "bad credentials", apiErr.Body)
}
