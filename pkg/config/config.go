// Package config loads settings from defaults, a YAML file, an optional
// profile file, KOPL_ environment variables and --set overrides, in that
// order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KOPL_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Agent     AgentConfig     `koanf:"agent"`
	KB        KBConfig        `koanf:"kb"`
	Engine    EngineConfig    `koanf:"engine"`
	Validate  ValidateConfig  `koanf:"validate"`
	Memory    MemoryConfig    `koanf:"memory"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider      string  `koanf:"provider"` // ollama, openai, mock
	Model         string  `koanf:"model"`
	BaseURL       string  `koanf:"base_url"`
	APIKey        string  `koanf:"api_key"`
	Temperature   float64 `koanf:"temperature"`
	RetryAttempts int     `koanf:"retry_attempts"`
	MockAnswer    string  `koanf:"mock_answer"`
}

type AgentConfig struct {
	MaxSteps           int     `koanf:"max_steps"`
	DisplayLimit       int     `koanf:"display_limit"`
	PreviewItems       int     `koanf:"preview_items"`
	Decision           string  `koanf:"decision"` // llm, exemplar
	ExemplarCollection string  `koanf:"exemplar_collection"`
	ExemplarThreshold  float64 `koanf:"exemplar_threshold"`
	ExemplarMinHistory int     `koanf:"exemplar_min_history"`
}

type KBConfig struct {
	Path      string `koanf:"path"`
	CachePath string `koanf:"cache_path"`
}

type EngineConfig struct {
	Tolerance float64 `koanf:"tolerance"`
	TiePolicy string  `koanf:"tie_policy"` // all, first
	EmptyUnit string  `koanf:"empty_unit"` // dimensionless, distinct
}

type ValidateConfig struct {
	Concurrency int    `koanf:"concurrency"`
	AuditPath   string `koanf:"audit_path"`
}

type MemoryConfig struct {
	Store           string `koanf:"store"` // inmemory, qdrant
	QdrantAddr      string `koanf:"qdrant_addr"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderModel   string `koanf:"embedder_model"`
}

type TelemetryConfig struct {
	Exporter       string `koanf:"exporter"` // none, stdout, otlp, prometheus
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	OTLPInsecure   bool   `koanf:"otlp_insecure"`
	PrometheusAddr string `koanf:"prometheus_addr"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"llm.provider":       "ollama",
	"llm.model":          "qwen2.5:7b-instruct",
	"llm.base_url":       "http://localhost:11434",
	"llm.temperature":    0.0,
	"llm.retry_attempts": 3,
	"llm.mock_answer":    "unknown",

	"agent.max_steps":            12,
	"agent.display_limit":        500,
	"agent.preview_items":        5,
	"agent.decision":             "llm",
	"agent.exemplar_collection":  "kopl_exemplars",
	"agent.exemplar_threshold":   0.85,
	"agent.exemplar_min_history": 2,

	"kb.path":       "kb.json",
	"kb.cache_path": "",

	"engine.tolerance":  1e-5,
	"engine.tie_policy": "all",
	"engine.empty_unit": "dimensionless",

	"validate.concurrency": 0,
	"validate.audit_path":  "",

	"memory.store":             "inmemory",
	"memory.qdrant_addr":       "localhost:6334",
	"memory.embedder_base_url": "http://localhost:11434",
	"memory.embedder_model":    "nomic-embed-text",

	"telemetry.exporter":        "none",
	"telemetry.otlp_endpoint":   "localhost:4317",
	"telemetry.otlp_insecure":   true,
	"telemetry.prometheus_addr": ":9464",
}

// Load reads path (optional) over the defaults and applies env overrides.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, os.Getenv(EnvPrefix+"PROFILE"))
}

// LoadWithProfile is Load plus the profile file next to path, e.g.
// config.dev.yaml for profile "dev".
func LoadWithProfile(path, profile string) (*Config, error) {
	k, err := load(path, profile)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI loads configuration driven by command-line style arguments:
// --config <path>, --profile|--env <name> and repeated --set key=value.
// Unknown arguments are ignored so callers can pass their full argv.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	profile := opts.profile
	if profile == "" {
		profile = os.Getenv(EnvPrefix + "PROFILE")
	}
	k, err := load(opts.path, profile)
	if err != nil {
		return nil, err
	}
	for _, kv := range sets {
		if err := k.Set(kv.key, kv.value); err != nil {
			return nil, fmt.Errorf("set %s: %w", kv.key, err)
		}
	}
	return unmarshal(k)
}

func load(path, profile string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", p, err)
			}
		}
	}
	// KOPL_LLM_BASE_URL -> llm.base_url: only the section separator is a dot.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		section, key, ok := strings.Cut(s, "_")
		if !ok {
			return s
		}
		return section + "." + key
	}), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	checks := []struct {
		key, value string
		allowed    []string
	}{
		{"llm.provider", c.LLM.Provider, []string{"ollama", "openai", "mock"}},
		{"agent.decision", c.Agent.Decision, []string{"llm", "exemplar"}},
		{"engine.tie_policy", c.Engine.TiePolicy, []string{"all", "first"}},
		{"engine.empty_unit", c.Engine.EmptyUnit, []string{"dimensionless", "distinct"}},
		{"memory.store", c.Memory.Store, []string{"inmemory", "qdrant"}},
		{"telemetry.exporter", c.Telemetry.Exporter, []string{"none", "stdout", "otlp", "prometheus"}},
		{"log.format", c.Log.Format, []string{"text", "json"}},
	}
	for _, ch := range checks {
		if !contains(ch.allowed, ch.value) {
			return fmt.Errorf("invalid %s %q: want one of %s", ch.key, ch.value, strings.Join(ch.allowed, ", "))
		}
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("invalid agent.max_steps %d: must be positive", c.Agent.MaxSteps)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// profileConfigPath returns the profile file for base when it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	p := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

type cliOptions struct {
	path    string
	profile string
}

type setOverride struct {
	key   string
	value any
}

func parseCLIOverrides(args []string) (cliOptions, []setOverride, error) {
	var (
		opts cliOptions
		sets []setOverride
	)
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "-config", "--profile", "-profile", "--env", "-env", "--set", "-set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch strings.TrimLeft(name, "-") {
		case "config":
			opts.path = value
		case "profile", "env":
			opts.profile = value
		case "set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, fmt.Errorf("invalid --set %q: want key=value", value)
			}
			sets = append(sets, setOverride{key: strings.TrimSpace(key), value: parseSetValue(raw)})
		}
	}
	return opts, sets, nil
}

// parseSetValue decodes JSON objects and lists; scalars stay strings and are
// converted during unmarshal.
func parseSetValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}
