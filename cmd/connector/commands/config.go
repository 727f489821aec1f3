package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/florianilch/composr-connector/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., CONNECTOR_SERVER__HOST → server.host)
const envPrefix = "CONNECTOR_"

// loadConfig loads application configuration from various sources with precedence:
// config file → dotenv file → environment variables → CLI flags → defaults
func loadConfig(configPath, envFile string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file if provided
	if configPath != "" {
		parser, err := parserFor(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// 2. Merge the dotenv file below the real environment
	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
		environFunc = withDotenv(environFunc, dotenv)
	}

	// 3. Load from environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			if listKeys[nested] {
				return nested, strings.Fields(strings.ReplaceAll(value, ",", " "))
			}
			return nested, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 4. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// parserFor picks the koanf parser by file extension. TOML is the default.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return yamlParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}
}

// yamlParser implements koanf.Parser with yaml.v3.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]any) ([]byte, error) {
	return yaml.Marshal(m)
}

// withDotenv appends dotenv entries that are not already set in the environment.
func withDotenv(environFunc func() []string, dotenv map[string]string) func() []string {
	return func() []string {
		environ := environFunc()
		set := make(map[string]bool, len(environ))
		for _, kv := range environ {
			key, _, _ := strings.Cut(kv, "=")
			set[key] = true
		}
		for key, value := range dotenv {
			if !set[key] {
				environ = append(environ, key+"="+value)
			}
		}
		return environ
	}
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --server--host → server.host, --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		if localFlags[name] {
			continue
		}
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}

// listKeys are read from the environment as space or comma separated lists.
var listKeys = map[string]bool{
	"auth.scopes.client": true,
	"auth.scopes.user":   true,
	"auth.cookies":       true,
}

// localFlags are command options that are not part of the configuration.
var localFlags = map[string]bool{
	"config":   true,
	"env-file": true,
	"email":    true,
	"password": true,
	"remember": true,
	"data":     true,
	"param":    true,
	"header":   true,
	"no-retry": true,
	"output":   true,
}

