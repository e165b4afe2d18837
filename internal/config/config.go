package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks an invalid run configuration. All validation failures
// wrap it so callers can errors.Is against a single sentinel.
var ErrConfig = errors.New("invalid config")

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed server.
type BasicAuthConfig struct {
	Username string `yaml:"username" koanf:"username"`
	Password string `yaml:"password" koanf:"password"`
}

// UploadConfig describes an optional S3-compatible publication target
// for the rendered feed.
type UploadConfig struct {
	Endpoint  string `yaml:"endpoint" koanf:"endpoint"`
	AccessKey string `yaml:"access_key" koanf:"access_key"`
	SecretKey string `yaml:"secret_key" koanf:"secret_key"`
	Bucket    string `yaml:"bucket" koanf:"bucket"`
	Object    string `yaml:"object" koanf:"object"`
	UseSSL    bool   `yaml:"use_ssl" koanf:"use_ssl"`
}

// Config is the top-level application configuration.
type Config struct {
	// Server is the timetable server hostname (e.g. "peleus.webuntis.com").
	Server string `yaml:"server" koanf:"server"`

	// School is the school identifier used by the login endpoints.
	School string `yaml:"school" koanf:"school"`

	// Username / Password drive an automated login. Mutually exclusive
	// with Token.
	Username string `yaml:"username" koanf:"username"`
	Password string `yaml:"password" koanf:"password"`

	// Token is a pre-captured bearer JWT; Cookies is the matching
	// browser cookie string ("name1=value1; name2=value2").
	Token   string `yaml:"token" koanf:"token"`
	Cookies string `yaml:"cookies" koanf:"cookies"`

	// LoginMode selects how credentials are exercised:
	//   - "sso": scripted browser login through the SSO redirect chain
	//   - "rpc": JSON-RPC authenticate + token refresh (no browser)
	// Ignored when Token is set.
	LoginMode string `yaml:"login_mode" koanf:"login_mode"`

	// SSOButton is the label of the identity-provider button on the
	// login page (SSO mode only).
	SSOButton string `yaml:"sso_button" koanf:"sso_button"`

	// Headless controls whether the scripted browser runs headless.
	Headless bool `yaml:"headless" koanf:"headless"`

	// Weeks is the number of weeks to fetch, starting today.
	Weeks int `yaml:"weeks" koanf:"weeks"`

	// Output is the path of the published calendar feed.
	Output string `yaml:"output" koanf:"output"`

	// ExamsOutput, if set, publishes a second feed containing only
	// exam entries.
	ExamsOutput string `yaml:"exams_output" koanf:"exams_output"`

	// Timezone is the IANA zone the source's naive times resolve into
	// (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" koanf:"timezone"`

	// Listen is the HTTP listen address for daemon mode.
	Listen string `yaml:"listen" koanf:"listen"`

	// RefreshCron is the cron schedule for daemon-mode refreshes.
	RefreshCron string `yaml:"refresh" koanf:"refresh"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	// BasicAuth, if non-nil, protects the feed endpoints.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" koanf:"basic_auth"`

	// Upload, if non-nil, mirrors the published feed to object storage.
	Upload *UploadConfig `yaml:"upload,omitempty" koanf:"upload"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:      "",
		School:      "",
		LoginMode:   "sso",
		SSOButton:   "",
		Headless:    true,
		Weeks:       4,
		Output:      "webuntis_calendar.ics",
		ExamsOutput: "",
		Timezone:    "Europe/Berlin",
		Listen:      "127.0.0.1:8080",
		RefreshCron: "*/30 * * * *",
		LogLevel:    "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.LoginMode == "" {
		c.LoginMode = "sso"
	}
	if c.Weeks <= 0 {
		c.Weeks = 4
	}
	if c.Output == "" {
		c.Output = "webuntis_calendar.ics"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/30 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration before the pipeline starts so a bad
// run fails up front instead of partway through fetching.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("%w: server must be set", ErrConfig)
	}
	if c.Token == "" {
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("%w: either token or username/password must be set", ErrConfig)
		}
		switch c.LoginMode {
		case "sso":
			// The browser flow needs the IdP button label to click.
			if c.SSOButton == "" {
				return fmt.Errorf("%w: sso_button must be set for login_mode sso", ErrConfig)
			}
		case "rpc":
			if c.School == "" {
				return fmt.Errorf("%w: school must be set for login_mode rpc", ErrConfig)
			}
		default:
			return fmt.Errorf("%w: unknown login_mode %q", ErrConfig, c.LoginMode)
		}
	}
	if c.Weeks < 1 || c.Weeks > 52 {
		return fmt.Errorf("%w: weeks must be between 1 and 52, got %d", ErrConfig, c.Weeks)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output path must be set", ErrConfig)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrConfig, c.Timezone)
	}
	if c.Upload != nil {
		if c.Upload.Endpoint == "" || c.Upload.Bucket == "" {
			return fmt.Errorf("%w: upload requires endpoint and bucket", ErrConfig)
		}
	}
	return nil
}

// Location resolves the configured timezone. Validate must have passed.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrConfig, c.Timezone)
	}
	return loc, nil
}

// Save writes the given configuration to the specified path.
//
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600 (the file carries credentials).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".untisfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// writeDefault creates a default config file on first run so the user
// has a template to fill in.
func writeDefault(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := Save(path, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// exists reports whether path names an existing file.
func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
