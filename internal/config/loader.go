package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the service's own environment variables:
// DECISION_AI_API_KEY -> ai.api_key, DECISION_LIMITS_ORACLE_RPS -> limits.oracle_rps.
const EnvPrefix = "DECISION_"

const maxConfigFileSize = 1024 * 1024

const defaultsYAML = `
server:
  port: "2000"
  allowed_origins:
    - http://localhost:3000
    - http://127.0.0.1:3000
db:
  path: data/decisions.db
  silent: true
ai:
  model: gpt-4.1-mini
  base_url: https://api.openai.com/v1
  temperature: 0.4
  max_tokens: 2048
  timeout: 60s
bias:
  watch: true
history:
  timezone: Local
limits:
  oracle_rps: 0.5
  oracle_burst: 5
log:
  level: info
  format: text
`

// legacyEnv maps the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	"OPENAI_API_KEY":     "ai.api_key",
	"OPENAI_MODEL":       "ai.model",
	"OPENAI_BASE_URL":    "ai.base_url",
	"OPENAI_TEMPERATURE": "ai.temperature",
	"OPENAI_MAX_TOKENS":  "ai.max_tokens",
	"DISABLE_AI":         "ai.disabled",
	"PORT":               "server.port",
}

// Load reads configuration with precedence (highest first):
//  1. DECISION_* environment variables
//  2. legacy variables such as OPENAI_API_KEY and PORT
//  3. the YAML file at path, when path is non-empty
//  4. built-in defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path = strings.TrimSpace(path); path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("load legacy environment: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	cleaned := filepath.Clean(path)
	info, err := os.Stat(cleaned)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", cleaned)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", cleaned, maxConfigFileSize)
	}
	content, err := os.ReadFile(cleaned)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// legacyKey keeps only the known unprefixed variables. Empty values are ignored
// so a blank export does not clobber the defaults.
func legacyKey(key, value string) (string, interface{}) {
	mapped, ok := legacyEnv[key]
	if !ok || strings.TrimSpace(value) == "" {
		return "", nil
	}
	return mapped, strings.TrimSpace(value)
}

// prefixedKey maps DECISION_SECTION_FIELD_NAME to section.field_name.
func prefixedKey(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", nil
	}
	mapped := parts[0] + "." + parts[1]
	if mapped == "server.allowed_origins" {
		return mapped, splitList(value)
	}
	return mapped, value
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
