package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level mirlist configuration.
type Config struct {
	// Listen is the HTTP bind address for the trigger/status API.
	Listen string `yaml:"listen"`

	Oracle   OracleConfig   `yaml:"oracle"`
	Regions  []RegionConfig `yaml:"regions"`
	Publish  PublishConfig  `yaml:"publish"`
	Schedule ScheduleConfig `yaml:"schedule"`

	// PassthroughDir holds static files uploaded unchanged alongside the
	// generated mirror lists. Optional.
	PassthroughDir string `yaml:"passthrough_dir"`
	// WorkDir is where artifacts are staged. Empty means the system temp
	// directory.
	WorkDir string `yaml:"work_dir"`
	// HistoryDB is the SQLite path for the run history.
	HistoryDB string `yaml:"history_db"`

	// DeployToken, when set, is required as a bearer token on the manual
	// trigger endpoint.
	DeployToken string `yaml:"deploy_token"`
	// WebhookSecret, when set, is the HMAC-SHA256 key for code-push
	// webhook signatures. Unsigned webhooks are rejected when set.
	WebhookSecret string `yaml:"webhook_secret"`
}

// OracleConfig configures the status feed fetch.
type OracleConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

// RegionConfig maps one region of interest to its output file.
type RegionConfig struct {
	// Path is the slash-separated region key, e.g. "NA/USA".
	Path string `yaml:"path"`
	// Output is the published file name, e.g. "mirrors.txt".
	Output string `yaml:"output"`
}

// PublishConfig selects and configures the hosting target.
type PublishConfig struct {
	// Type is "dir" or "http".
	Type string `yaml:"type"`
	// Root is the static hosting root (type "dir").
	Root string `yaml:"root"`
	// KeepReleases bounds retained past releases (type "dir").
	KeepReleases int `yaml:"keep_releases"`
	// ServedURL is reported as the published location (type "dir",
	// optional).
	ServedURL string `yaml:"served_url"`
	// Endpoint is the hosting API URL (type "http").
	Endpoint string `yaml:"endpoint"`
	// Token is the bearer token for the hosting API (type "http").
	Token string `yaml:"token"`
	// Timeout bounds the upload. Default: 2m.
	Timeout time.Duration `yaml:"timeout"`
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	// Interval between scheduled deployments. Default: 6h.
	Interval time.Duration `yaml:"interval"`
	// Disabled turns the periodic trigger off entirely.
	Disabled bool `yaml:"disabled"`
}

// LoadConfig reads a YAML configuration file, applies defaults, and
// validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pipeline: parse config: %w", err)
	}

	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8086"
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = 30 * time.Second
	}
	if c.Oracle.MaxBytes <= 0 {
		c.Oracle.MaxBytes = 10 * 1024 * 1024
	}
	if c.Oracle.UserAgent == "" {
		c.Oracle.UserAgent = "mirlist/1.0"
	}
	if c.Publish.Type == "" {
		c.Publish.Type = "dir"
	}
	if c.Publish.KeepReleases <= 0 {
		c.Publish.KeepReleases = 5
	}
	if c.Publish.Timeout <= 0 {
		c.Publish.Timeout = 2 * time.Minute
	}
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = 6 * time.Hour
	}
	if c.HistoryDB == "" {
		c.HistoryDB = "db/mirlist.db"
	}
}

// Validate reports configuration errors that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Oracle.URL == "" {
		return fmt.Errorf("pipeline: config: oracle.url is required")
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("pipeline: config: at least one region is required")
	}
	seen := make(map[string]string, len(c.Regions))
	for _, r := range c.Regions {
		if r.Path == "" {
			return fmt.Errorf("pipeline: config: region with empty path")
		}
		if r.Output == "" {
			return fmt.Errorf("pipeline: config: region %q has no output name", r.Path)
		}
		if prev, dup := seen[r.Output]; dup {
			return fmt.Errorf("pipeline: config: regions %q and %q share output %q", prev, r.Path, r.Output)
		}
		seen[r.Output] = r.Path
	}
	switch c.Publish.Type {
	case "dir":
		if c.Publish.Root == "" {
			return fmt.Errorf("pipeline: config: publish.root is required for type dir")
		}
	case "http":
		if c.Publish.Endpoint == "" {
			return fmt.Errorf("pipeline: config: publish.endpoint is required for type http")
		}
	default:
		return fmt.Errorf("pipeline: config: unknown publish.type %q", c.Publish.Type)
	}
	return nil
}
