package redmine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// APIKeyHeader carries a Redmine REST API key.
const APIKeyHeader = "X-Redmine-API-Key"

// AuthConfig selects how requests to Redmine are authenticated. OAuth2 client
// credentials win over the API key when a client id is configured.
type AuthConfig struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// TokenFile caches the OAuth2 token between runs. Empty selects the
	// default location below the XDG state directory.
	TokenFile string
}

var errNoCredentials = errors.New("no Redmine credentials configured: set redmine.api_key or redmine.oauth.client_id")

// NewHTTPClient returns an HTTP client that authenticates every request.
func NewHTTPClient(ctx context.Context, baseURL string, auth AuthConfig) (*http.Client, error) {
	if auth.ClientID != "" {
		return oauthClient(ctx, baseURL, auth)
	}
	if auth.APIKey == "" {
		return nil, errNoCredentials
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &apiKeyTransport{key: auth.APIKey, base: http.DefaultTransport},
	}, nil
}

// apiKeyTransport adds the API key header to each request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(APIKeyHeader, t.key)
	return t.base.RoundTrip(r)
}

func oauthClient(ctx context.Context, baseURL string, auth AuthConfig) (*http.Client, error) {
	tokenURL := auth.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimRight(baseURL, "/") + "/oauth/token"
	}
	cfg := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       auth.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	path := auth.TokenFile
	if path == "" {
		var err error
		path, err = tokenFilePath()
		if err != nil {
			return nil, err
		}
	}

	tok, err := loadToken(path)
	if err != nil {
		// Corrupt token file, fetch a fresh one.
		tok = nil
	}

	ts := oauth2.ReuseTokenSource(tok, &savingTokenSource{ts: cfg.TokenSource(ctx), path: path})
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = 30 * time.Second
	return client, nil
}

// savingTokenSource wraps a TokenSource and persists fetched tokens.
type savingTokenSource struct {
	ts   oauth2.TokenSource
	path string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	// Best-effort save; ignore errors.
	_ = saveToken(s.path, tok)
	return tok, nil
}

// tokenFilePath returns the path to the stored token file.
func tokenFilePath() (string, error) {
	path, err := xdg.StateFile(filepath.Join("t2r", "redmine_token.json"))
	if err != nil {
		return "", fmt.Errorf("cannot determine state directory: %w", err)
	}
	return path, nil
}

// loadToken loads a previously saved token from disk. A missing file is not
// an error.
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file %s: %w", path, err)
	}
	return &tok, nil
}

// saveToken persists a token to disk.
func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}
