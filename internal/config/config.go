// Package config handles Kyle configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kyle/config.yaml, /etc/kyle/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kyle", "config.yaml"))
	}

	paths = append(paths, "/etc/kyle/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Kyle configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"`
	Bot         BotConfig         `yaml:"bot"`
	Models      ModelsConfig      `yaml:"models"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	Slack       SlackConfig       `yaml:"slack"`
	History     HistoryConfig     `yaml:"history"`
	Radarr      ServiceConfig     `yaml:"radarr"`
	Sonarr      ServiceConfig     `yaml:"sonarr"`
	TMDB        TMDBConfig        `yaml:"tmdb"`
	QBittorrent QBittorrentConfig `yaml:"qbittorrent"`
	Ultra       UltraConfig       `yaml:"ultra"`
	Odesli      OdesliConfig      `yaml:"odesli"`
	Webhooks    WebhooksConfig    `yaml:"webhooks"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// ListenConfig defines the operational API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// BotConfig describes the assistant persona and its turn limits.
type BotConfig struct {
	// Name is the fixed display name the assistant speaks as.
	Name string `yaml:"name"`
	// UserID is the assistant's own Slack user id. Mentions of it
	// are rewritten to Name and it gates channel messages.
	UserID string `yaml:"user_id"`
	// MaxSteps bounds the model/tool rounds of one turn.
	MaxSteps int `yaml:"max_steps"`
	// HistoryLimit is how many thread messages are fetched for context.
	HistoryLimit int `yaml:"history_limit"`
	// TurnTimeoutSec bounds a whole turn, including the final reply.
	TurnTimeoutSec int `yaml:"turn_timeout_sec"`
	// RateLimit caps turns per user per minute. Zero means unlimited.
	RateLimit int `yaml:"rate_limit"`
}

// ModelsConfig defines which model serves which job.
type ModelsConfig struct {
	// Default drives the agent loop.
	Default string `yaml:"default"`
	// Status generates the "is ...ing" thread status line.
	Status string `yaml:"status"`
	// Notification writes availability announcements.
	Notification string `yaml:"notification"`
	// Available maps model names to providers for routing.
	Available []ModelConfig `yaml:"available"`
	// Pricing is USD per million tokens, keyed by model name, for
	// usage cost tracking. Unlisted models cost nothing.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is a model's token price.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// ModelConfig binds a model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, anthropic
}

// ProviderFor returns the configured provider for model, or "" when the
// model is not listed.
func (m ModelsConfig) ProviderFor(model string) string {
	for _, mc := range m.Available {
		if mc.Name == model {
			return mc.Provider
		}
	}
	return ""
}

// OpenAIConfig defines OpenAI (or OpenAI-compatible) API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// SlackConfig defines the Slack workspace connection.
type SlackConfig struct {
	// BotToken (xoxb-) authorizes Web API calls.
	BotToken string `yaml:"bot_token"`
	// AppToken (xapp-) opens Socket Mode connections.
	AppToken string `yaml:"app_token"`
	// BaseURL overrides https://slack.com/api, for tests.
	BaseURL string `yaml:"base_url"`
	// GenerateStatus asks the status model for a playful status line
	// instead of the static one.
	GenerateStatus bool `yaml:"generate_status"`
}

// HistoryConfig defines the tool-call history database.
type HistoryConfig struct {
	// Driver is "sqlite3" (cgo, default) or "sqlite" (pure Go).
	Driver string `yaml:"driver"`
	// Path is the database file. Defaults to <data_dir>/kyle.db.
	Path string `yaml:"path"`
}

// ServiceConfig is shared by the *arr services.
type ServiceConfig struct {
	URL                string `yaml:"url"`
	APIKey             string `yaml:"api_key"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Configured reports whether both URL and API key are present.
func (c ServiceConfig) Configured() bool { return c.URL != "" && c.APIKey != "" }

// TMDBConfig defines The Movie Database API settings.
type TMDBConfig struct {
	APIToken string `yaml:"api_token"`
	BaseURL  string `yaml:"base_url"`
}

// Configured reports whether a token is present.
func (c TMDBConfig) Configured() bool { return c.APIToken != "" }

// QBittorrentConfig defines the qBittorrent Web UI connection.
type QBittorrentConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether a URL is present.
func (c QBittorrentConfig) Configured() bool { return c.URL != "" }

// UltraConfig defines the seedbox stats API.
type UltraConfig struct {
	URL      string `yaml:"url"`
	APIToken string `yaml:"api_token"`
}

// Configured reports whether both URL and token are present.
func (c UltraConfig) Configured() bool { return c.URL != "" && c.APIToken != "" }

// OdesliConfig defines the song.link conversion API.
type OdesliConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	UserCountry string `yaml:"user_country"`
}

// WebhooksConfig protects the Radarr/Sonarr webhook endpoints with HTTP
// basic auth. An empty Username disables the check.
type WebhooksConfig struct {
	Username string `yaml:"username"`
	// PasswordHash is a bcrypt hash of the shared password.
	PasswordHash string `yaml:"password_hash"`
}

// MQTTConfig defines the optional event mirror.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	TopicPrefix  string `yaml:"topic_prefix"`
	KeepAliveSec int    `yaml:"keep_alive_sec"`
}

// Configured reports whether a broker URL is present.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file. A .env file beside the
// config or in the working directory is loaded first so ${VAR}
// references resolve; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		DataDir: "./data",
		Bot: BotConfig{
			Name:           "Kyle",
			MaxSteps:       10,
			HistoryLimit:   20,
			TurnTimeoutSec: 300,
		},
		Models: ModelsConfig{
			Default:      "gpt-5-nano",
			Status:       "gpt-4o-mini",
			Notification: "claude-3-5-haiku-latest",
			Available: []ModelConfig{
				{Name: "gpt-5-nano", Provider: "openai"},
				{Name: "gpt-4o-mini", Provider: "openai"},
				{Name: "claude-3-5-haiku-latest", Provider: "anthropic"},
			},
		},
		History: HistoryConfig{Driver: "sqlite3"},
		MQTT:    MQTTConfig{TopicPrefix: "kyle", KeepAliveSec: 30},
	}
}

// applyDefaults fills fields that YAML may have zeroed.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Bot.Name == "" {
		c.Bot.Name = d.Bot.Name
	}
	if c.Bot.MaxSteps <= 0 {
		c.Bot.MaxSteps = d.Bot.MaxSteps
	}
	if c.Bot.HistoryLimit <= 0 {
		c.Bot.HistoryLimit = d.Bot.HistoryLimit
	}
	if c.Bot.TurnTimeoutSec <= 0 {
		c.Bot.TurnTimeoutSec = d.Bot.TurnTimeoutSec
	}
	if c.Models.Default == "" {
		c.Models.Default = d.Models.Default
	}
	if c.Models.Status == "" {
		c.Models.Status = c.Models.Default
	}
	if c.Models.Notification == "" {
		c.Models.Notification = c.Models.Default
	}
	if c.History.Driver == "" {
		c.History.Driver = d.History.Driver
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.DataDir, "kyle.db")
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.MQTT.KeepAliveSec <= 0 {
		c.MQTT.KeepAliveSec = d.MQTT.KeepAliveSec
	}
}

// Validate checks the loaded configuration for settings that would
// fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	switch c.History.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("history.driver %q not supported (valid: sqlite3, sqlite)", c.History.Driver))
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	if c.Slack.BotToken != "" && !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		errs = append(errs, errors.New("slack.bot_token must be a bot token (xoxb-)"))
	}
	if c.Slack.AppToken != "" && !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		errs = append(errs, errors.New("slack.app_token must be an app-level token (xapp-)"))
	}
	if c.Webhooks.Username != "" && c.Webhooks.PasswordHash == "" {
		errs = append(errs, errors.New("webhooks.password_hash is required when webhooks.username is set"))
	}
	return errors.Join(errs...)
}
