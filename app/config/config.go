// Package config loads the optional YAML plant configuration
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultWatcherSpec is used when watcher schedule is not set
const DefaultWatcherSpec = "@every 1m"

const (
	maxRetries    = 100
	maxRetryDelay = time.Hour
	maxTimeout    = 10 * time.Minute
)

// Config is the plant configuration file
type Config struct {
	Plant   string  `yaml:"plant" json:"plant,omitempty" jsonschema:"description=plant name shown in the board and in alerts"`
	Watcher Watcher `yaml:"watcher" json:"watcher,omitempty" jsonschema:"description=overdue watcher settings"`
	Notify  Notify  `yaml:"notify" json:"notify,omitempty" jsonschema:"description=overdue notifications"`
}

// Watcher defines the overdue check schedule
type Watcher struct {
	Enabled *bool  `yaml:"enabled" json:"enabled,omitempty" jsonschema:"description=run overdue checks (default true)"`
	Spec    string `yaml:"spec" json:"spec,omitempty" jsonschema:"description=cron spec or descriptor,example=@every 1m,example=*/5 * * * *"`
}

// Notify defines notification destinations and credentials
type Notify struct {
	Destinations  []string      `yaml:"destinations" json:"destinations,omitempty" jsonschema:"description=destination URLs with mailto: slack: telegram: or http(s):// schema"`
	SMTP          SMTP          `yaml:"smtp" json:"smtp,omitempty"`
	SlackToken    string        `yaml:"slack_token" json:"slack_token,omitempty"`
	TelegramToken string        `yaml:"telegram_token" json:"telegram_token,omitempty"`
	Template      string        `yaml:"template" json:"template,omitempty" jsonschema:"description=path to text/template file for overdue messages"`
	Retries       int           `yaml:"retries" json:"retries,omitempty" jsonschema:"minimum=0,maximum=100"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay,omitempty" jsonschema:"type=string,description=initial retry delay like 1s"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout,omitempty" jsonschema:"type=string,description=delivery timeout like 10s"`
}

// SMTP holds email server settings for mailto destinations
type SMTP struct {
	Host     string `yaml:"host" json:"host,omitempty"`
	Port     int    `yaml:"port" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
	TLS      bool   `yaml:"tls" json:"tls,omitempty"`
	From     string `yaml:"from" json:"from,omitempty" jsonschema:"description=sender address"`
}

// Load reads the config file. Empty path returns the default config.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	fh, err := os.Open(path) //nolint:gosec // config path from cli
	if err != nil {
		return nil, fmt.Errorf("can't open config %s: %w", path, err)
	}
	defer fh.Close()

	res, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return res, nil
}

// Parse decodes and validates yaml config, unknown fields are rejected
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("can't read config: %w", err)
	}
	res := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return res, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(res); err != nil {
		return nil, fmt.Errorf("can't parse yaml: %w", err)
	}
	if res.Watcher.Spec == "" {
		res.Watcher.Spec = DefaultWatcherSpec
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Default returns config with defaults set
func Default() *Config {
	return &Config{Watcher: Watcher{Spec: DefaultWatcherSpec}}
}

// WatcherEnabled is true unless explicitly disabled
func (c *Config) WatcherEnabled() bool {
	return c.Watcher.Enabled == nil || *c.Watcher.Enabled
}

// Validate checks schedule, destinations and their credentials
func (c *Config) Validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Watcher.Spec); err != nil {
		return fmt.Errorf("invalid watcher.spec %q: %w", c.Watcher.Spec, err)
	}

	n := c.Notify
	for i, d := range n.Destinations {
		u, err := url.Parse(d)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("destination %d: invalid url %q", i+1, d)
		}
		switch u.Scheme {
		case "mailto":
			if n.SMTP.Host == "" {
				return fmt.Errorf("destination %d: smtp.host is required for mailto", i+1)
			}
		case "slack":
			if n.SlackToken == "" {
				return fmt.Errorf("destination %d: slack_token is required for slack", i+1)
			}
		case "telegram":
			if n.TelegramToken == "" {
				return fmt.Errorf("destination %d: telegram_token is required for telegram", i+1)
			}
		case "http", "https":
		default:
			return fmt.Errorf("destination %d: unsupported schema %q", i+1, u.Scheme)
		}
	}

	if n.SMTP.Port < 0 || n.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d out of range", n.SMTP.Port)
	}
	if n.Retries < 0 || n.Retries > maxRetries {
		return fmt.Errorf("notify.retries must be between 0 and %d", maxRetries)
	}
	if n.RetryDelay < 0 || n.RetryDelay > maxRetryDelay {
		return fmt.Errorf("notify.retry_delay must not exceed %v", maxRetryDelay)
	}
	if n.Timeout < 0 || n.Timeout > maxTimeout {
		return fmt.Errorf("notify.timeout must not exceed %v", maxTimeout)
	}
	if strings.TrimSpace(c.Plant) != c.Plant {
		return errors.New("plant name has leading or trailing spaces")
	}
	return nil
}

// Schema returns JSON schema of the config file
func Schema() *jsonschema.Schema {
	schema := jsonschema.Reflect(&Config{})
	schema.Title = "Permits Plant Configuration Schema"
	schema.Description = "Schema for permits YAML configuration file"
	return schema
}
