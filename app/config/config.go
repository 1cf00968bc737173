package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the service looks for its configuration.
const DefaultPath = "commentbox.yaml"

// Storage backends.
const (
	BackendJSONFile = "jsonfile"
	BackendLocal    = "local"
	BackendGitHub   = "github"
)

// Config holds all configuration for the comment service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  string         `yaml:"backend"` // jsonfile, local, github
	JSONFile JSONFileConfig `yaml:"jsonfile"`
	Local    LocalConfig    `yaml:"local"`
	GitHub   GitHubConfig   `yaml:"github"`
	Captcha  CaptchaConfig  `yaml:"captcha"`
	Render   RenderConfig   `yaml:"render"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins,omitempty"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// JSONFileConfig configures the build-time comments file.
type JSONFileConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // reload when the file changes on disk
}

// LocalConfig configures the Badger store used by the local backend and as
// the fallback of the github backend.
type LocalConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// GitHubConfig configures the remote backend.
type GitHubConfig struct {
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Token   string `yaml:"token"`
	Mode    string `yaml:"mode"` // thread, issue
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// CaptchaConfig configures challenge bookkeeping.
type CaptchaConfig struct {
	Capacity int `yaml:"capacity"`
}

// RenderConfig configures the HTML output.
type RenderConfig struct {
	Markdown   bool   `yaml:"markdown"`
	DateFormat string `yaml:"date_format"`
	Timezone   string `yaml:"timezone"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Backend: BackendLocal,
		JSONFile: JSONFileConfig{
			Path: "comments.json",
		},
		Local: LocalConfig{
			Path: "data/comments",
		},
		GitHub: GitHubConfig{
			Mode:    "thread",
			Timeout: "10s",
		},
		Captcha: CaptchaConfig{
			Capacity: 1024,
		},
		Render: RenderConfig{
			DateFormat: "Jan 2, 2006 15:04",
			Timezone:   "UTC",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if backend := os.Getenv("COMMENTBOX_BACKEND"); backend != "" {
		c.Backend = backend
	}
	if addr := os.Getenv("COMMENTBOX_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
}

// Validate reports the first problem that would stop the service.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendJSONFile:
		if c.JSONFile.Path == "" {
			return errors.New("jsonfile.path is required for the jsonfile backend")
		}
	case BackendLocal:
	case BackendGitHub:
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return errors.New("github.owner and github.repo are required for the github backend")
		}
		switch c.GitHub.Mode {
		case "", "thread", "issue":
		default:
			return fmt.Errorf("unknown github.mode %q (want thread or issue)", c.GitHub.Mode)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendJSONFile, BackendLocal, BackendGitHub)
	}

	if (c.Backend == BackendLocal || c.Backend == BackendGitHub) && c.Local.Path == "" && !c.Local.InMemory {
		return errors.New("local.path is required unless local.in_memory is set")
	}

	for name, value := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"github.timeout":          c.GitHub.Timeout,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("invalid %s %q", name, value)
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown logging.format %q (want json or console)", c.Logging.Format)
	}
	return nil
}

// GetShutdownTimeout returns how long the server waits for open requests.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetGitHubTimeout returns the per-call timeout of GitHub requests.
func (c *Config) GetGitHubTimeout() time.Duration {
	d, err := time.ParseDuration(c.GitHub.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Location returns the timezone dates are rendered in.
func (c *Config) Location() (*time.Location, error) {
	if c.Render.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Render.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid render.timezone: %w", err)
	}
	return loc, nil
}
