package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for t2r, stored in
// $XDG_CONFIG_HOME/t2r/config.yml. Every key can be overridden from the
// environment as T2R_<SECTION>_<KEY>, e.g. T2R_TOGGL_API_TOKEN.
type Config struct {
	Toggl    TogglConfig   `mapstructure:"toggl"`
	Redmine  RedmineConfig `mapstructure:"redmine"`
	Log      LogConfig     `mapstructure:"log"`
	Publish  PublishConfig `mapstructure:"publish"`
	Server   ServerConfig  `mapstructure:"server"`
	Language string        `mapstructure:"language"`
}

// TogglConfig holds the Toggl Track settings.
type TogglConfig struct {
	APIToken string `mapstructure:"api_token"`
	BaseURL  string `mapstructure:"base_url"`
}

// RedmineConfig holds the Redmine settings. OAuth2 client credentials take
// precedence over the API key when a client id is set.
type RedmineConfig struct {
	URL    string      `mapstructure:"url"`
	APIKey string      `mapstructure:"api_key"`
	OAuth  OAuthConfig `mapstructure:"oauth"`
}

// OAuthConfig holds the Redmine OAuth2 application.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// PublishConfig holds report and publish settings.
type PublishConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "T2R"

	// DefaultTogglURL is the public Toggl Track API.
	DefaultTogglURL = "https://api.track.toggl.com/api/v9"
	// DefaultAddr is where `t2r serve` listens.
	DefaultAddr = "127.0.0.1:8080"
	// DefaultDebounce delays report refreshes after a filter change.
	DefaultDebounce = 100 * time.Millisecond
)

const (
	keyTogglToken        = "toggl.api_token"
	keyTogglURL          = "toggl.base_url"
	keyRedmineURL        = "redmine.url"
	keyRedmineKey        = "redmine.api_key"
	keyOAuthClientID     = "redmine.oauth.client_id"
	keyOAuthClientSecret = "redmine.oauth.client_secret"
	keyOAuthTokenURL     = "redmine.oauth.token_url"
	keyOAuthScopes       = "redmine.oauth.scopes"
	keyLogLevel          = "log.level"
	keyLogFormat         = "log.format"
	keyLogFile           = "log.file"
	keyPublishDebounce   = "publish.debounce"
	keyServerAddr        = "server.addr"
	keyLanguage          = "language"
)

// configTemplate is the annotated config written on first run.
const configTemplate = `# t2r configuration
#
# Every value can also be set from the environment or a .env file in the
# working directory, e.g. T2R_TOGGL_API_TOKEN or T2R_REDMINE_API_KEY.

toggl:
  # API token from https://track.toggl.com/profile
  api_token: ""
  base_url: "https://api.track.toggl.com/api/v9"

redmine:
  # Base URL of your Redmine, e.g. "https://redmine.example.com"
  url: ""
  # REST API key from "My account". Ignored when oauth.client_id is set.
  api_key: ""
  # OAuth2 client credentials (Redmine 6 and later).
  oauth:
    client_id: ""
    client_secret: ""
    # Defaults to <url>/oauth/token
    token_url: ""
    scopes: []

log:
  # trace, debug, info, warn, error
  level: "info"
  # auto, console or json
  format: "auto"
  # Optional file receiving JSON logs, rotated at 10 MB.
  file: ""

publish:
  # Delay before the reports are refreshed after a filter change.
  debounce: "100ms"

server:
  addr: "127.0.0.1:8080"

# Message language, "en" or "de".
language: "en"
`

// DefaultPath returns the config file location below the XDG config
// directory.
func DefaultPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join("t2r", "config.yml"))
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyTogglToken, "")
	v.SetDefault(keyTogglURL, DefaultTogglURL)
	v.SetDefault(keyRedmineURL, "")
	v.SetDefault(keyRedmineKey, "")
	v.SetDefault(keyOAuthClientID, "")
	v.SetDefault(keyOAuthClientSecret, "")
	v.SetDefault(keyOAuthTokenURL, "")
	v.SetDefault(keyOAuthScopes, []string{})
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "auto")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyPublishDebounce, DefaultDebounce)
	v.SetDefault(keyServerAddr, DefaultAddr)
	v.SetDefault(keyLanguage, "en")
}

// Load reads the config file at path, creating it with annotated defaults
// on first run. An empty path selects DefaultPath. Variables from a .env
// file in the working directory are loaded first and never override the
// real environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
		}
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.Publish.Debounce < 0 {
		cfg.Publish.Debounce = DefaultDebounce
	}
	return cfg, nil
}

// CheckRemote reports the settings that are missing to reach both services.
func (c Config) CheckRemote() error {
	var errs []error
	if c.Toggl.APIToken == "" {
		errs = append(errs, fmt.Errorf("%s is not set", keyTogglToken))
	}
	if c.Redmine.URL == "" {
		errs = append(errs, fmt.Errorf("%s is not set", keyRedmineURL))
	}
	if c.Redmine.APIKey == "" && c.Redmine.OAuth.ClientID == "" {
		errs = append(errs, fmt.Errorf("%s or %s must be set", keyRedmineKey, keyOAuthClientID))
	}
	return errors.Join(errs...)
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
