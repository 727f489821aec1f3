package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/florianilch/composr-connector/internal/authrequest"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		API: APIConfig{BaseURL: "https://{{module}}.example.com/v1"},
		Auth: AuthConfig{
			ClientID:     "client",
			ClientSecret: "secret",
			Audience:     "https://iam.example.com",
		},
		Storage: StorageConfig{
			Durable: StorageTierConfig{Type: StorageTypeFile, File: filepath.Join(t.TempDir(), "durable.json")},
			Session: StorageTierConfig{Type: StorageTypeMemory},
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.LogFormat != LogFormatText || cfg.LogExporter != "none" {
		t.Errorf("log defaults = %q/%q", cfg.LogFormat, cfg.LogExporter)
	}
	if cfg.API.Module != "composr" || cfg.API.Timeout != DefaultConfigAPITimeout {
		t.Errorf("api defaults = %+v", cfg.API)
	}
	for name, path := range DefaultEndpoints {
		if cfg.API.Endpoints[name] != path {
			t.Errorf("endpoint %s = %q, want %q", name, cfg.API.Endpoints[name], path)
		}
	}
	if cfg.Auth.ClockSkew != 0 {
		t.Errorf("ClockSkew = %v, want 0", cfg.Auth.ClockSkew)
	}
	if cfg.Auth.AssertionLifetime != 3500*time.Second {
		t.Errorf("AssertionLifetime = %v", cfg.Auth.AssertionLifetime)
	}
	if !strings.HasSuffix(cfg.Storage.Durable.File, filepath.Join("composr-connector", "durable.json")) {
		t.Errorf("durable file = %q", cfg.Storage.Durable.File)
	}
	if !strings.HasSuffix(cfg.Storage.Session.File, "session.json") {
		t.Errorf("session file = %q", cfg.Storage.Session.File)
	}
}

func TestApplyDefaultsKeepsConfiguredEndpoints(t *testing.T) {
	cfg := &Config{API: APIConfig{Endpoints: map[string]string{authrequest.EndpointLogin: "/v2/login", "me": "/user/me"}}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	if cfg.API.Endpoints[authrequest.EndpointLogin] != "/v2/login" {
		t.Errorf("login endpoint overwritten: %q", cfg.API.Endpoints[authrequest.EndpointLogin])
	}
	if cfg.API.Endpoints["me"] != "/user/me" {
		t.Error("custom endpoint dropped")
	}
	if cfg.API.Endpoints[authrequest.EndpointLogout] != DefaultEndpoints[authrequest.EndpointLogout] {
		t.Error("missing default endpoint not filled in")
	}
}

func TestApplyDefaultsPerStorageType(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{
		Durable: StorageTierConfig{Type: StorageTypeKeyring},
		Session: StorageTierConfig{Type: StorageTypeRedis, RedisURL: "redis://localhost:6379/0"},
	}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	if cfg.Storage.Durable.KeyringService != DefaultConfigKeyringService {
		t.Errorf("KeyringService = %q", cfg.Storage.Durable.KeyringService)
	}
	if cfg.Storage.Session.RedisPrefix != "connector:" {
		t.Errorf("RedisPrefix = %q", cfg.Storage.Session.RedisPrefix)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing client id", mutate: func(c *Config) { c.Auth.ClientID = "" }, wantErr: "ClientID"},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.ClientSecret = "" }, wantErr: "ClientSecret"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LogFormat"},
		{name: "bad exporter", mutate: func(c *Config) { c.LogExporter = "kafka" }, wantErr: "LogExporter"},
		{name: "bad storage type", mutate: func(c *Config) { c.Storage.Durable.Type = "s3" }, wantErr: "Type"},
		{name: "env session tier", mutate: func(c *Config) { c.Storage.Session = StorageTierConfig{Type: StorageTypeEnv, EnvPrefix: "X_"} }, wantErr: "read-only"},
		{name: "redis without url", mutate: func(c *Config) { c.Storage.Durable = StorageTierConfig{Type: StorageTypeRedis} }, wantErr: "redis_url"},
		{name: "negative skew", mutate: func(c *Config) { c.Auth.ClockSkew = -time.Second }, wantErr: "ClockSkew"},
		{name: "invalid base url", mutate: func(c *Config) { c.API.BaseURL = "not a url" }, wantErr: "api.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveBaseURL(t *testing.T) {
	api := APIConfig{BaseURL: "https://{{module}}.example.com/v1", Module: "composr"}
	got, err := api.ResolveBaseURL()
	if err != nil {
		t.Fatalf("ResolveBaseURL() error = %v", err)
	}
	if got != "https://composr.example.com/v1" {
		t.Errorf("ResolveBaseURL() = %q", got)
	}

	literal := APIConfig{BaseURL: "https://api.example.com", Module: "composr"}
	if got, _ := literal.ResolveBaseURL(); got != "https://api.example.com" {
		t.Errorf("ResolveBaseURL() = %q, want unchanged", got)
	}
}

func TestDefaultAuthOptions(t *testing.T) {
	generated := defaultAuthOptions(AuthConfig{DeviceIDPrefix: "Web-"})
	id := generated.HeadersExtension[deviceIDHeader]
	if !strings.HasPrefix(id, "Web-") || len(id) != len("Web-")+36 {
		t.Errorf("generated device id = %q", id)
	}
	if generated.AuthDataExtension[deviceIDClaim] != id {
		t.Errorf("claim device id = %v, want same as header %q", generated.AuthDataExtension[deviceIDClaim], id)
	}

	fixed := defaultAuthOptions(AuthConfig{DeviceID: "fixed", DeviceIDPrefix: "Web-"})
	if fixed.HeadersExtension[deviceIDHeader] != "fixed" {
		t.Errorf("fixed device id = %q", fixed.HeadersExtension[deviceIDHeader])
	}
}
