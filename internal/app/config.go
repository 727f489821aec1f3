package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/composr-connector/internal/assertion"
	"github.com/florianilch/composr-connector/internal/authrequest"
	"github.com/florianilch/composr-connector/internal/observability"
	"github.com/florianilch/composr-connector/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType represents the backends a storage tier can use.
type StorageType string

const (
	StorageTypeMemory  StorageType = "memory"
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeEnv     StorageType = "env"
	StorageTypeRedis   StorageType = "redis"
)

// moduleKey is replaced by APIConfig.Module in the base URL.
const moduleKey = "{{module}}"

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigLogExporter       = observability.ExporterNone
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 4100
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigAPIModule         = "composr"
	DefaultConfigAPITimeout        = 30 * time.Second
	DefaultConfigAssertionLifetime = assertion.DefaultLifetime
	DefaultConfigDeviceIDPrefix    = "Connector-"
	DefaultConfigKeyringService    = "composr-connector"
	DefaultConfigEnvPrefix         = "CONNECTOR_TOKEN_"
)

// DefaultEndpoints maps the credential endpoint names to their default paths.
var DefaultEndpoints = map[string]string{
	authrequest.EndpointLoginClient:  "/token",
	authrequest.EndpointLogin:        "/login",
	authrequest.EndpointRefreshToken: "/refresh",
	authrequest.EndpointLogout:       "/logout",
}

// ServerConfig holds local proxy configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// APIConfig describes the remote API.
type APIConfig struct {
	// BaseURL may contain {{module}}, replaced by Module.
	BaseURL   string            `json:"base_url" validate:"required"`
	Module    string            `json:"module"`
	Endpoints map[string]string `json:"endpoints"`
	Timeout   time.Duration     `json:"timeout" validate:"gte=0"`
}

// ScopesConfig lists the scopes requested per purpose.
type ScopesConfig struct {
	Client []string `json:"client"`
	User   []string `json:"user"`
}

// AuthConfig holds the client registration and session parameters.
type AuthConfig struct {
	ClientID        string            `json:"client_id" validate:"required"`
	ClientSecret    string            `json:"client_secret" validate:"required"`
	Audience        string            `json:"audience" validate:"required"`
	Scopes          ScopesConfig      `json:"scopes"`
	DefaultHeaders  map[string]string `json:"default_headers"`
	DefaultAuthData map[string]any    `json:"default_auth_data"`

	// Cookies are expired on logout.
	Cookies []string `json:"cookies"`

	// DeviceID identifies new sessions. Generated as DeviceIDPrefix + UUID when empty.
	DeviceID       string `json:"device_id"`
	DeviceIDPrefix string `json:"device_id_prefix"`

	// ClockSkew treats tokens as expired this long before their expiry.
	ClockSkew         time.Duration `json:"clock_skew" validate:"gte=0"`
	AssertionLifetime time.Duration `json:"assertion_lifetime" validate:"gte=0"`
}

// StorageTierConfig describes the backend of one storage tier.
// Backend-specific settings are used according to Type.
type StorageTierConfig struct {
	Type           StorageType `json:"type" validate:"required,oneof=memory file keyring env redis"`
	File           string      `json:"file,omitempty"`            // For file storage: path to the tier file
	KeyringService string      `json:"keyring_service,omitempty"` // For keyring storage: service name
	EnvPrefix      string      `json:"env_prefix,omitempty"`      // For env storage: variable prefix
	RedisURL       string      `json:"redis_url,omitempty" validate:"omitempty,url"`
	RedisPrefix    string      `json:"redis_prefix,omitempty"`
}

// StorageConfig holds both storage tiers.
type StorageConfig struct {
	// Durable survives restarts; used for remembered sessions.
	Durable StorageTierConfig `json:"durable"`
	// Session lives as long as the OS session.
	Session StorageTierConfig `json:"session"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" validate:"oneof=text json"`
	LogExporter string         `json:"log_exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
	API         APIConfig      `json:"api"`
	Auth        AuthConfig     `json:"auth"`
	Storage     StorageConfig  `json:"storage"`
	Server      ServerConfig   `json:"server"`
	Shutdown    ShutdownConfig `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.API.Module == "" {
		c.API.Module = DefaultConfigAPIModule
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if c.API.Endpoints == nil {
		c.API.Endpoints = make(map[string]string, len(DefaultEndpoints))
	}
	for name, path := range DefaultEndpoints {
		if _, ok := c.API.Endpoints[name]; !ok {
			c.API.Endpoints[name] = path
		}
	}
	if c.Auth.AssertionLifetime == 0 {
		c.Auth.AssertionLifetime = DefaultConfigAssertionLifetime
	}
	if c.Auth.DeviceIDPrefix == "" {
		c.Auth.DeviceIDPrefix = DefaultConfigDeviceIDPrefix
	}

	if c.Storage.Durable.Type == "" {
		c.Storage.Durable.Type = StorageTypeFile
	}
	if c.Storage.Session.Type == "" {
		c.Storage.Session.Type = StorageTypeFile
	}

	// Dynamic defaults based on storage type
	if err := c.Storage.Durable.applyDefaults(durableFileDefault); err != nil {
		return fmt.Errorf("storage.durable: %w", err)
	}
	if err := c.Storage.Session.applyDefaults(sessionFileDefault); err != nil {
		return fmt.Errorf("storage.session: %w", err)
	}

	return nil
}

func (s *StorageTierConfig) applyDefaults(defaultFile func() (string, error)) error {
	switch s.Type {
	case StorageTypeFile:
		if s.File == "" {
			path, err := defaultFile()
			if err != nil {
				return fmt.Errorf("file required (auto-detect failed: %w)", err)
			}
			s.File = path
		}
	case StorageTypeKeyring:
		if s.KeyringService == "" {
			s.KeyringService = DefaultConfigKeyringService
		}
	case StorageTypeEnv:
		if s.EnvPrefix == "" {
			s.EnvPrefix = DefaultConfigEnvPrefix
		}
	case StorageTypeRedis:
		if s.RedisPrefix == "" {
			s.RedisPrefix = tokenstore.DefaultRedisPrefix
		}
	}
	return nil
}

func durableFileDefault() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "composr-connector", "durable.json"), nil
}

// sessionFileDefault lives in the temp dir so it is cleared with the OS session.
func sessionFileDefault() (string, error) {
	dir := "composr-connector-" + strconv.Itoa(os.Getuid())
	return filepath.Join(os.TempDir(), dir, "session.json"), nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Every login writes the session tier
	if c.Storage.Session.Type == StorageTypeEnv {
		return fmt.Errorf("storage.session: env storage is read-only")
	}

	for name, tier := range map[string]StorageTierConfig{"durable": c.Storage.Durable, "session": c.Storage.Session} {
		if tier.Type == StorageTypeRedis && tier.RedisURL == "" {
			return fmt.Errorf("storage.%s: redis_url required for redis storage", name)
		}
	}

	if _, err := c.API.ResolveBaseURL(); err != nil {
		return err
	}

	return nil
}

// ResolveBaseURL substitutes the module into the base URL template.
func (a APIConfig) ResolveBaseURL() (string, error) {
	resolved := strings.ReplaceAll(a.BaseURL, moduleKey, a.Module)
	if err := validator.New().Var(resolved, "required,url"); err != nil {
		return "", fmt.Errorf("api.base_url %q: invalid URL", resolved)
	}
	return resolved, nil
}

// scopesByPurpose keys the scopes the way the credential client expects.
func (a AuthConfig) scopesByPurpose() map[string][]string {
	return map[string][]string{
		authrequest.PurposeClient: a.Scopes.Client,
		authrequest.PurposeUser:   a.Scopes.User,
	}
}
