// Package config handles brainrot configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding key is absent.
const (
	DefaultBackendTimeoutSeconds = 20
	DefaultContextMessages       = 10
	DefaultMaxAttempts           = 3
	DefaultSessionFile           = "brainrot.session.db"
	DefaultDiscoveryPrefix       = "homeassistant"
	DefaultPublishIntervalSec    = 60
)

// Mode selects which sections a configuration must carry.
type Mode int

const (
	// ModeRewrite is the normal long-running mode. The backend and
	// rewrite sections are required.
	ModeRewrite Mode = iota
	// ModeListChats only needs enough to log in to Telegram.
	ModeListChats
)

// Supported backend providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Telegram login methods.
const (
	LoginCode = "code"
	LoginQR   = "qr"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/brainrot/config.yaml, /etc/brainrot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "brainrot", "config.yaml"))
	}

	paths = append(paths, "/etc/brainrot/config.yaml")
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

// Config holds all brainrot configuration. Backend and Rewrite are
// pointers so a missing section can be told apart from an empty one.
type Config struct {
	Telegram  TelegramConfig `yaml:"telegram"`
	Backend   *BackendConfig `yaml:"backend"`
	Rewrite   *RewriteConfig `yaml:"rewrite"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text (default) or json
}

// TelegramConfig holds the MTProto account settings. None of these can
// change without a restart.
type TelegramConfig struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	SessionFile string `yaml:"session_file"`
	// Phone is used by the code login flow. When empty the user is
	// prompted on the terminal.
	Phone string `yaml:"phone"`
	// Login is "code" (default) or "qr".
	Login string `yaml:"login"`
	// Proxy is an optional socks5:// URL for the MTProto connection.
	Proxy string `yaml:"proxy"`
	// CatchUp asks the server for updates missed while offline.
	CatchUp *bool `yaml:"catch_up"`
	// SkipHistorical ignores messages dated before process start.
	SkipHistorical *bool `yaml:"skip_historical"`
}

// CatchUpEnabled reports whether missed updates are requested on start.
// Defaults to true.
func (t TelegramConfig) CatchUpEnabled() bool {
	return t.CatchUp == nil || *t.CatchUp
}

// SkipHistoricalEnabled defaults to true.
func (t TelegramConfig) SkipHistoricalEnabled() bool {
	return t.SkipHistorical == nil || *t.SkipHistorical
}

// BackendConfig selects and addresses the generation backend. Provider,
// URL and TimeoutSeconds are fixed at startup; Model and APIKey are
// picked up on reload.
type BackendConfig struct {
	Provider       string `yaml:"provider"` // ollama, openai, anthropic, gemini
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call generation timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// RewriteConfig holds the hot-reloadable rewrite settings.
type RewriteConfig struct {
	Chats           []int64 `yaml:"chats"`
	SystemPrompt    string  `yaml:"system_prompt"`
	ContextMessages *int    `yaml:"context_messages"`
	// IgnorePattern is a regular expression; matching messages are
	// never rewritten.
	IgnorePattern string `yaml:"ignore_pattern"`
	// StripMarkdown removes markdown formatting from model output.
	StripMarkdown bool `yaml:"strip_markdown"`
	// MaxAttempts bounds generation attempts per message.
	MaxAttempts int `yaml:"max_attempts"`
}

// ContextDepth returns the number of preceding messages to send as
// context.
func (r RewriteConfig) ContextDepth() int {
	if r.ContextMessages == nil {
		return DefaultContextMessages
	}
	return *r.ContextMessages
}

// MQTTConfig enables the optional status publisher. Publishing is
// disabled when Broker is empty.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://host:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates it for mode.
func Load(path string, mode Mode) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Parse(data, mode)
}

// Parse is Load without the file read.
func Parse(data []byte, mode Mode) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Telegram.SessionFile == "" {
		c.Telegram.SessionFile = DefaultSessionFile
	}
	c.Telegram.SessionFile = expandHome(c.Telegram.SessionFile)
	if c.Telegram.Login == "" {
		c.Telegram.Login = LoginCode
	}
	if c.Backend != nil {
		if c.Backend.Provider == "" {
			c.Backend.Provider = ProviderOllama
		}
		if c.Backend.TimeoutSeconds == 0 {
			c.Backend.TimeoutSeconds = DefaultBackendTimeoutSeconds
		}
		if c.Backend.URL == "" {
			c.Backend.URL = defaultBackendURL(c.Backend.Provider)
		}
	}
	if c.Rewrite != nil && c.Rewrite.MaxAttempts == 0 {
		c.Rewrite.MaxAttempts = DefaultMaxAttempts
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = DefaultPublishIntervalSec
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "brainrot"
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func defaultBackendURL(provider string) string {
	switch provider {
	case ProviderOllama:
		return "http://localhost:11434"
	case ProviderOpenAI:
		return "https://api.openai.com"
	case ProviderAnthropic:
		return "https://api.anthropic.com"
	}
	// Gemini goes through the SDK's own endpoint.
	return ""
}

// Validate checks that the sections required by mode are present and
// well formed.
func (c *Config) Validate(mode Mode) error {
	if err := c.Telegram.validate(); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}

	if mode != ModeRewrite {
		return nil
	}

	if c.Backend == nil {
		return errors.New("missing required backend section for rewrite mode")
	}
	if err := c.Backend.validate(); err != nil {
		return err
	}
	if c.Rewrite == nil {
		return errors.New("missing required rewrite section for rewrite mode")
	}
	return c.Rewrite.validate()
}

func (t TelegramConfig) validate() error {
	if t.APIID <= 0 {
		return errors.New("telegram.api_id must be positive")
	}
	if strings.TrimSpace(t.APIHash) == "" {
		return errors.New("telegram.api_hash must not be empty")
	}
	if strings.TrimSpace(t.SessionFile) == "" {
		return errors.New("telegram.session_file must not be empty")
	}
	switch t.Login {
	case LoginCode, LoginQR:
	default:
		return fmt.Errorf("telegram.login must be %q or %q, got %q", LoginCode, LoginQR, t.Login)
	}
	if t.Proxy != "" {
		u, err := url.Parse(t.Proxy)
		if err != nil || (u.Scheme != "socks5" && u.Scheme != "socks5h") || u.Host == "" {
			return fmt.Errorf("telegram.proxy must be a socks5://host:port URL, got %q", t.Proxy)
		}
	}
	return nil
}

func (b BackendConfig) validate() error {
	switch b.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic:
		u := strings.TrimSpace(b.URL)
		if u == "" {
			return errors.New("backend.url must not be empty")
		}
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("backend.url must be a valid URL, got %q", b.URL)
		}
	case ProviderGemini:
	default:
		return fmt.Errorf("backend.provider %q is not supported (valid: ollama, openai, anthropic, gemini)", b.Provider)
	}
	if strings.TrimSpace(b.Model) == "" {
		return errors.New("backend.model must not be empty")
	}
	if b.Provider != ProviderOllama && strings.TrimSpace(b.APIKey) == "" {
		return fmt.Errorf("backend.api_key is required for provider %s", b.Provider)
	}
	if b.TimeoutSeconds < 0 {
		return errors.New("backend.timeout_seconds must not be negative")
	}
	return nil
}

func (r RewriteConfig) validate() error {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return errors.New("rewrite.system_prompt must not be empty")
	}
	if len(r.Chats) == 0 {
		return errors.New("rewrite.chats must not be empty")
	}
	if r.ContextDepth() < 0 {
		return errors.New("rewrite.context_messages must not be negative")
	}
	if r.MaxAttempts < 1 {
		return errors.New("rewrite.max_attempts must be at least 1")
	}
	if r.IgnorePattern != "" {
		if _, err := regexp.Compile(r.IgnorePattern); err != nil {
			return fmt.Errorf("rewrite.ignore_pattern: %w", err)
		}
	}
	return nil
}
