package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"wabridge/internal/domain"
)

// Config is the root configuration for the wabridge hosting process.
type Config struct {
	General  GeneralConfig `json:"general" yaml:"general"`
	Server   ServerConfig  `json:"server" yaml:"server"`
	WhatsApp ChannelConfig `json:"whatsapp" yaml:"whatsapp"`
	Gateway  GatewayConfig `json:"gateway" yaml:"gateway"`
	Store    StoreConfig   `json:"store" yaml:"store"`
	Metrics  MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel            string `json:"logLevel" yaml:"logLevel"`
	SessionSweepMinutes int    `json:"sessionSweepMinutes" yaml:"sessionSweepMinutes"` // purge cadence for expired sessions
	HealthProbeSeconds  int    `json:"healthProbeSeconds" yaml:"healthProbeSeconds"`   // 0 = probes disabled
}

type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ChannelConfig is the WhatsApp channel block. The flat fields describe a
// single account; when Accounts is non-empty each entry is an account and the
// flat fields act as parent values it can override.
type ChannelConfig struct {
	Enabled        bool                       `json:"enabled" yaml:"enabled"`
	APIBase        string                     `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey         string                     `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIKeyFile     string                     `json:"apiKeyFile,omitempty" yaml:"apiKeyFile,omitempty"`
	AppID          string                     `json:"appId,omitempty" yaml:"appId,omitempty"`
	PhoneNumber    string                     `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty"`
	DisplayName    string                     `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	WebhookSecret  string                     `json:"webhookSecret,omitempty" yaml:"webhookSecret,omitempty"`
	WebhookPath    string                     `json:"webhookPath,omitempty" yaml:"webhookPath,omitempty"`
	AccessPolicy   string                     `json:"accessPolicy,omitempty" yaml:"accessPolicy,omitempty"` // "open" | "allowlist" | "pairing"
	AllowFrom      FlexStringList             `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
	Templates      map[string]domain.Template `json:"templates,omitempty" yaml:"templates,omitempty"`
	DefaultAccount string                     `json:"defaultAccount,omitempty" yaml:"defaultAccount,omitempty"`
	Accounts       map[string]AccountConfig   `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	SendTimeoutMs  int                        `json:"sendTimeoutMs,omitempty" yaml:"sendTimeoutMs,omitempty"`
	SendAttempts   int                        `json:"sendAttempts,omitempty" yaml:"sendAttempts,omitempty"` // total tries per send, 1..10

	// Per-account send throttle; 0 disables it.
	SendRatePerMinute int `json:"sendRatePerMinute,omitempty" yaml:"sendRatePerMinute,omitempty"`
	SendBurst         int `json:"sendBurst,omitempty" yaml:"sendBurst,omitempty"`
	// Days an operator-approved pairing lasts; 0 = no expiry.
	PairingTTLDays int `json:"pairingTtlDays,omitempty" yaml:"pairingTtlDays,omitempty"`
}

// AccountConfig is one named entry under whatsapp.accounts.
type AccountConfig struct {
	APIKey        string                     `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIKeyFile    string                     `json:"apiKeyFile,omitempty" yaml:"apiKeyFile,omitempty"`
	AppID         string                     `json:"appId,omitempty" yaml:"appId,omitempty"`
	PhoneNumber   string                     `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty"`
	DisplayName   string                     `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	WebhookSecret string                     `json:"webhookSecret,omitempty" yaml:"webhookSecret,omitempty"`
	Templates     map[string]domain.Template `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// FlexStringList is a []string that also accepts bare numbers, so phone
// numbers written unquoted in YAML (allowFrom: [15551234567]) keep their digits.
type FlexStringList []string

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		result := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected scalar list item", item.Line)
			}
			result = append(result, item.Value)
		}
		*f = result
	case yaml.ScalarNode:
		if node.Value == "" {
			*f = nil
			return nil
		}
		*f = FlexStringList{node.Value}
	default:
		return fmt.Errorf("line %d: expected list", node.Line)
	}
	return nil
}

// GatewayConfig connects the channel to the messaging gateway: inbound
// envelopes are POSTed to ForwardURL and outbound envelopes arrive on SendPath.
type GatewayConfig struct {
	ForwardURL       string `json:"forwardUrl,omitempty" yaml:"forwardUrl,omitempty"`
	ForwardTimeoutMs int    `json:"forwardTimeoutMs" yaml:"forwardTimeoutMs"`
	APIKey           string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // bearer token for SendPath and forwards
	SendPath         string `json:"sendPath" yaml:"sendPath"`
	QueueSize        int    `json:"queueSize" yaml:"queueSize"`
}

type StoreConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// envOverrides are applied on top of the file after it is decoded.
type envOverrides struct {
	Host     string `env:"WABRIDGE_HOST"`
	Port     int    `env:"WABRIDGE_PORT"`
	LogLevel string `env:"WABRIDGE_LOG_LEVEL"`
	DBPath   string `env:"WABRIDGE_DB_PATH"`
	APIBase  string `env:"WABRIDGE_API_BASE"`
	APIKey   string `env:"WABRIDGE_API_KEY"`

	ForwardURL    string `env:"WABRIDGE_FORWARD_URL"`
	GatewayAPIKey string `env:"WABRIDGE_GATEWAY_API_KEY"`
}

// DefaultConfigDir returns the default config directory (~/.wabridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(home, ".wabridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads a YAML (or JSON) config file, expands ${VAR} references,
// applies WABRIDGE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Parse decodes raw config bytes over Defaults() without validating.
func Parse(data []byte) (*Config, error) {
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if o.Host != "" {
		cfg.Server.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.LogLevel != "" {
		cfg.General.LogLevel = o.LogLevel
	}
	if o.DBPath != "" {
		cfg.Store.DBPath = o.DBPath
	}
	if o.APIBase != "" {
		cfg.WhatsApp.APIBase = o.APIBase
	}
	if o.APIKey != "" {
		cfg.WhatsApp.APIKey = o.APIKey
	}
	if o.ForwardURL != "" {
		cfg.Gateway.ForwardURL = o.ForwardURL
	}
	if o.GatewayAPIKey != "" {
		cfg.Gateway.APIKey = o.GatewayAPIKey
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the hosting-level settings. Account completeness is
// checked by the account resolver.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.SessionSweepMinutes < 0 {
		errs = append(errs, "general.sessionSweepMinutes must be >= 0")
	}
	if cfg.General.HealthProbeSeconds < 0 {
		errs = append(errs, "general.healthProbeSeconds must be >= 0")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.WhatsApp.WebhookPath != "" && !strings.HasPrefix(cfg.WhatsApp.WebhookPath, "/") {
		errs = append(errs, "whatsapp.webhookPath must start with /")
	}
	if cfg.WhatsApp.SendTimeoutMs < 0 {
		errs = append(errs, "whatsapp.sendTimeoutMs must be >= 0")
	}
	if cfg.WhatsApp.SendAttempts < 1 || cfg.WhatsApp.SendAttempts > 10 {
		errs = append(errs, "whatsapp.sendAttempts must be between 1 and 10")
	}
	if cfg.WhatsApp.SendRatePerMinute < 0 || cfg.WhatsApp.SendBurst < 0 {
		errs = append(errs, "whatsapp.sendRatePerMinute and whatsapp.sendBurst must be >= 0")
	}
	if cfg.WhatsApp.PairingTTLDays < 0 {
		errs = append(errs, "whatsapp.pairingTtlDays must be >= 0")
	}
	for name, t := range cfg.WhatsApp.Templates {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("whatsapp.templates.%s: id is required", name))
		}
	}
	for acct, ac := range cfg.WhatsApp.Accounts {
		for name, t := range ac.Templates {
			if t.ID == "" {
				errs = append(errs, fmt.Sprintf("whatsapp.accounts.%s.templates.%s: id is required", acct, name))
			}
		}
	}
	if u := cfg.Gateway.ForwardURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, "gateway.forwardUrl must be an http(s) URL")
	}
	if cfg.Gateway.ForwardTimeoutMs < 0 {
		errs = append(errs, "gateway.forwardTimeoutMs must be >= 0")
	}
	if cfg.Gateway.SendPath != "" && !strings.HasPrefix(cfg.Gateway.SendPath, "/") {
		errs = append(errs, "gateway.sendPath must start with /")
	}
	if cfg.Gateway.QueueSize < 0 {
		errs = append(errs, "gateway.queueSize must be >= 0")
	}
	if cfg.Store.Enabled && cfg.Store.RetentionDays < 1 {
		errs = append(errs, "store.retentionDays must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
