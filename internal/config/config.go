package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Source struct {
	Kind      string   `yaml:"kind" validate:"omitempty,oneof=http binance"`
	URL       string   `yaml:"url" validate:"omitempty,url"`
	TimeoutMs int      `yaml:"timeout_ms" validate:"gte=0"`
	Market    string   `yaml:"market"`      // default market label for records lacking one
	Symbols   []string `yaml:"symbols"`     // binance only
	APIKeyEnv string   `yaml:"api_key_env"` // binance only, optional
}

type Sources struct {
	Primary    Source `yaml:"primary"`
	Collector  Source `yaml:"collector"`
	Validation Source `yaml:"validation"`
}

type Channel struct {
	Backend       string `yaml:"backend" validate:"oneof=memory redis"`
	Topic         string `yaml:"topic" validate:"required"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
}

type Keys struct {
	CapabilityURL       string  `yaml:"capability_url" validate:"omitempty,url"`
	CapabilityTimeoutMs int     `yaml:"capability_timeout_ms" validate:"gte=0"`
	StorePath           string  `yaml:"store_path"` // empty = in-memory store
	SeedFromEnv         bool    `yaml:"seed_from_env"`
	Channel             Channel `yaml:"channel"`
}

type Status struct {
	KeyProvider    string `yaml:"key_provider" validate:"required"`
	ProbeTimeoutMs int    `yaml:"probe_timeout_ms" validate:"gte=0"`
}

// ErrorTier switches the polling interval once the stream's error count exceeds OverErrors.
type ErrorTier struct {
	OverErrors int `yaml:"over_errors" validate:"gte=0"`
	IntervalMs int `yaml:"interval_ms" validate:"gt=0"`
}

type Stream struct {
	Name           string      `yaml:"name" validate:"required"`
	BaseIntervalMs int         `yaml:"base_interval_ms" validate:"gt=0"`
	MaxAttempts    int         `yaml:"max_attempts" validate:"gte=0"`
	BackoffBaseMs  int         `yaml:"backoff_base_ms" validate:"gt=0"`
	MinFetchGapMs  int         `yaml:"min_fetch_gap_ms" validate:"gte=0"`
	ErrorTiers     []ErrorTier `yaml:"error_tiers" validate:"dive"`
}

const defaultMaxAttempts = 3

// UnmarshalYAML presets defaults for fields where zero is meaningful, so an
// explicit max_attempts: 0 disables retries while an absent key keeps 3.
func (s *Stream) UnmarshalYAML(n *yaml.Node) error {
	type plain Stream
	p := plain{MaxAttempts: defaultMaxAttempts}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = Stream(p)
	return nil
}

type Slack struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookURL      string `yaml:"webhook_url" validate:"omitempty,url"`
	Channel         string `yaml:"channel"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"gte=0"`
}

type Notify struct {
	Slack Slack `yaml:"slack"`
}

type Server struct {
	Addr string `yaml:"addr" validate:"required"`
}

type Root struct {
	ForceSimulation bool     `yaml:"force_simulation"`
	LogLevel        string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	Sources         Sources  `yaml:"sources"`
	Keys            Keys     `yaml:"keys"`
	Status          Status   `yaml:"status"`
	Streams         []Stream `yaml:"streams" validate:"min=1,dive"`
	Notify          Notify   `yaml:"notify"`
	Server          Server   `yaml:"server"`
}

// Stream returns the named stream config.
func (c Root) Stream(name string) (Stream, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// Load reads a YAML file (a missing file yields pure defaults), applies
// environment overrides and fills defaults.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return c, fmt.Errorf("read config: %w", err)
	}
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&c)
	applyDefaults(&c)
	return c, nil
}

// Default returns the configuration used when no file is present.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyEnvOverrides(c *Root) {
	if v := os.Getenv("DASHFEED_FORCE_SIMULATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ForceSimulation = b
		}
	}
	if v := os.Getenv("PRIMARY_URL"); v != "" {
		c.Sources.Primary.URL = v
	}
	if v := os.Getenv("COLLECTOR_URL"); v != "" {
		c.Sources.Collector.URL = v
	}
	if v := os.Getenv("VALIDATION_URL"); v != "" {
		c.Sources.Validation.URL = v
	}
	if v := os.Getenv("CAPABILITY_URL"); v != "" {
		c.Keys.CapabilityURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Keys.Channel.Backend = "redis"
		c.Keys.Channel.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Keys.Channel.RedisPassword = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.Slack.Enabled = true
		c.Notify.Slack.WebhookURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

func applyDefaults(c *Root) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Sources.Primary.Kind == "" {
		c.Sources.Primary.Kind = "http"
	}
	if c.Sources.Collector.Kind == "" {
		c.Sources.Collector.Kind = "http"
	}
	for _, s := range []*Source{&c.Sources.Primary, &c.Sources.Collector, &c.Sources.Validation} {
		if s.TimeoutMs == 0 {
			s.TimeoutMs = 8000
		}
		if s.Market == "" {
			s.Market = "crypto"
		}
	}

	if c.Keys.CapabilityTimeoutMs == 0 {
		c.Keys.CapabilityTimeoutMs = 5000
	}
	if c.Keys.Channel.Backend == "" {
		c.Keys.Channel.Backend = "memory"
	}
	if c.Keys.Channel.Topic == "" {
		c.Keys.Channel.Topic = "api-key-updates"
	}

	if c.Status.KeyProvider == "" {
		c.Status.KeyProvider = "any"
	}
	if c.Status.ProbeTimeoutMs == 0 {
		c.Status.ProbeTimeoutMs = 5000
	}

	if len(c.Streams) == 0 {
		c.Streams = []Stream{
			{Name: "market-table", BaseIntervalMs: 5000, MaxAttempts: defaultMaxAttempts},
			{Name: "chart-detail", BaseIntervalMs: 30000, MaxAttempts: defaultMaxAttempts},
		}
	}
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.BackoffBaseMs == 0 {
			s.BackoffBaseMs = 1000
		}
		if s.MinFetchGapMs == 0 {
			s.MinFetchGapMs = 3000
		}
		if len(s.ErrorTiers) == 0 {
			s.ErrorTiers = []ErrorTier{
				{OverErrors: 5, IntervalMs: 15000},
				{OverErrors: 2, IntervalMs: 10000},
			}
		}
	}

	if c.Notify.Slack.RateLimitPerMin == 0 {
		c.Notify.Slack.RateLimitPerMin = 10
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and cross-field rules.
func (c Root) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	seen := map[string]bool{}
	for _, s := range c.Streams {
		if seen[s.Name] {
			return fmt.Errorf("config validation: duplicate stream %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		return fmt.Errorf("config validation: slack enabled without webhook_url")
	}
	if c.Sources.Primary.Kind == "binance" && len(c.Sources.Primary.Symbols) == 0 {
		return fmt.Errorf("config validation: binance primary source needs symbols")
	}
	return nil
}
