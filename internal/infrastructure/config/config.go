package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/davarch/regsync/internal/domain"
)

type RegistryConfig struct {
	BaseURL         string        `yaml:"base_url" env:"REGISTRY_BASE_URL"`
	BaseName        string        `yaml:"base_name" env:"REGISTRY_BASE_NAME"`
	TableName       string        `yaml:"table_name" env:"REGISTRY_TABLE_NAME"`
	TokenSecret     string        `yaml:"token_secret" env:"REGISTRY_TOKEN_SECRET"`
	NotificationURL string        `yaml:"notification_url" env:"REGISTRY_NOTIFICATION_URL"`
	Timeout         time.Duration `yaml:"timeout" env:"REGISTRY_TIMEOUT"`
	ExtraTaskTypes  []string      `yaml:"extra_task_types,omitempty" env:"REGISTRY_EXTRA_TASK_TYPES" envSeparator:","`
}

type PipelineConfig struct {
	ServerURL      string        `yaml:"server_url" env:"PIPELINE_SERVER_URL"`
	APIKey         string        `yaml:"api_key,omitempty" env:"PIPELINE_API_KEY"`
	ServiceName    string        `yaml:"service_name" env:"PIPELINE_SERVICE_NAME"`
	SenderType     string        `yaml:"sender_type" env:"PIPELINE_SENDER_TYPE"`
	Timeout        time.Duration `yaml:"timeout" env:"PIPELINE_TIMEOUT"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl" env:"PIPELINE_STATUS_CACHE_TTL"`
}

type PollConfig struct {
	Interval   time.Duration `yaml:"interval" env:"POLL_INTERVAL"`
	MaxRetries int           `yaml:"max_retries" env:"POLL_MAX_RETRIES"`
	PauseFile  string        `yaml:"pause_file" env:"POLL_PAUSE_FILE"`
}

type TopicsConfig struct {
	Change        string `yaml:"change"`
	Process       string `yaml:"process"`
	Push          string `yaml:"push"`
	Created       string `yaml:"created"`
	StatusChanged string `yaml:"status_changed"`
}

type StatusConfig struct {
	Dir string `yaml:"dir" env:"STATUS_DIR"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" env:"METRICS_LISTEN"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type Config struct {
	Registry RegistryConfig  `yaml:"registry"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Poll     PollConfig      `yaml:"poll"`
	Topics   TopicsConfig    `yaml:"topics"`
	Fields   domain.FieldMap `yaml:"fields"`
	Status   StatusConfig    `yaml:"status"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Log      LogConfig       `yaml:"log"`
}

func Default() Config {
	var c Config

	c.Registry.BaseURL = "https://api.airtable.com"
	c.Registry.TableName = "Shots"
	c.Registry.Timeout = 10 * time.Second

	c.Pipeline.ServiceName = "regsync"
	c.Pipeline.SenderType = "regsync"
	c.Pipeline.Timeout = 10 * time.Second
	c.Pipeline.StatusCacheTTL = time.Minute

	c.Poll.Interval = 10 * time.Second
	c.Poll.MaxRetries = 2
	c.Poll.PauseFile = "~/.cache/regsync/paused"

	c.Topics = TopicsConfig{
		Change:        "registry.change",
		Process:       "registry.proc",
		Push:          "registry.push",
		Created:       "entity.version.created",
		StatusChanged: "entity.version.status_changed",
	}

	c.Fields = domain.DefaultFieldMap()
	c.Status.Dir = "~/.cache/regsync"
	c.Log.Level = "info"
	c.Log.Format = "json"

	return c
}

// Read returns the defaults overlaid with the file at path. A missing file is
// not an error. Environment variables are not applied.
func Read(path string) (Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return c, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	return c, nil
}

// Load reads the file, applies environment overrides and validates the
// result.
func Load(path string) (Config, error) {
	c, err := Read(path)
	if err != nil {
		return c, err
	}

	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("config env: %w", err)
	}

	c.Poll.PauseFile = ExpandHome(c.Poll.PauseFile)
	c.Status.Dir = ExpandHome(c.Status.Dir)
	c.Registry.BaseURL = strings.TrimRight(c.Registry.BaseURL, "/")
	c.Pipeline.ServerURL = strings.TrimRight(c.Pipeline.ServerURL, "/")

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 10 * time.Second
	}
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = 10 * time.Second
	}
	if c.Pipeline.Timeout <= 0 {
		c.Pipeline.Timeout = 10 * time.Second
	}
	if c.Poll.MaxRetries < 0 {
		c.Poll.MaxRetries = 0
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	var problems []string
	if c.Pipeline.ServerURL == "" {
		problems = append(problems, "PIPELINE_SERVER_URL is required")
	}
	if c.Registry.BaseName == "" {
		problems = append(problems, "REGISTRY_BASE_NAME is required")
	}
	if c.Registry.TableName == "" {
		problems = append(problems, "registry.table_name is required")
	}
	if c.Registry.TokenSecret == "" {
		problems = append(problems, "REGISTRY_TOKEN_SECRET is required")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Save writes c to path atomically while holding path.lock.
func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// ExpandHome replaces a leading ~/ with the user home directory.
func ExpandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
