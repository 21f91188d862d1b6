package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the assistant's top-level configuration, assembled from the
// on-disk document (YAML or JSON5, $include-resolved) and then overlaid
// with the environment variable table.
type Config struct {
	LogDir   string `yaml:"log_dir"`
	LogLevel string `yaml:"log_level"`

	LLM LLMConfig `yaml:"llm"`

	MCPConfigPath string        `yaml:"mcp_config_path"`
	MCPTimeout    time.Duration `yaml:"mcp_timeout"`

	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`

	OllamaHost string `yaml:"ollama_host"`
	GPTModel   string `yaml:"gpt_model"`
}

// Defaults mirrors the documented defaults for every optional field.
func Defaults() Config {
	return Config{
		LogDir:               "./basic_logs",
		LogLevel:             "INFO",
		MCPConfigPath:        "./.mcp.json",
		MCPTimeout:           30 * time.Second,
		MaxRequestsPerMinute: 30,
		OllamaHost:           "http://localhost:11434",
		GPTModel:             "gpt-4o-mini",
	}
}

// Load reads path (resolving $include directives and expanding ${VAR}
// references via the teacher's raw-map loader), decodes it over Defaults(),
// then overlays the documented environment variables. A malformed document
// is a ConfigError the caller should treat as a fatal startup failure
// (exit code 2 at the CLI boundary).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		decoded, err := decodeRawConfig(raw, &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = *decoded
	}

	applyEnv(&cfg)

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}

	return &cfg, nil
}

// applyEnv overlays the documented environment variable table onto cfg.
// Every variable is optional; an unset variable leaves the existing value
// (file-provided or default) untouched.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		p := cfg.LLM.Providers["openai"]
		p.APIKey = v
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		cfg.LLM.Providers["openai"] = p
	}
	if v, ok := os.LookupEnv("GPT_MODEL"); ok {
		cfg.GPTModel = v
	}
	if v, ok := os.LookupEnv("CLASSIFIER_MODEL"); ok {
		cfg.LLM.ClassifierModel = v
	}
	if v, ok := os.LookupEnv("OLLAMA_HOST"); ok {
		cfg.OllamaHost = v
	}
	if v, ok := os.LookupEnv("MCP_CONFIG_PATH"); ok {
		cfg.MCPConfigPath = v
	}
	if v, ok := os.LookupEnv("MCP_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MCPTimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.MCPTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := os.LookupEnv("MAX_REQUESTS_PER_MINUTE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRequestsPerMinute = n
		}
	}
	if v, ok := os.LookupEnv("LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}
