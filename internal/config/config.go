// Package config provides configuration loading for chatgate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/paths"
)

// Config represents the full chatgate configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Users     []UserConfig    `json:"users"`
	Providers ProvidersConfig `json:"providers"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Storage   StorageConfig   `json:"storage"`
	Blob      BlobConfig      `json:"blob"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Logging   LoggingConfig   `json:"logging"`

	// path the config was loaded from, empty when running on defaults
	path string
}

// HTTPConfig configures the HTTP listener
type HTTPConfig struct {
	Listen              string `json:"listen"`
	ReadTimeoutSeconds  int    `json:"readTimeoutSeconds"`
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds"` // 0 = no write timeout (SSE)
	AuthFailureDelayMs  int    `json:"authFailureDelayMs"`
}

// UserConfig is one HTTP user. PasswordHash is a bcrypt hash.
type UserConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PasswordHash string `json:"passwordHash"`
}

// ProviderConfig holds credentials and limits for one upstream provider
type ProviderConfig struct {
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseURL,omitempty"`
	MaxTokens      int    `json:"maxTokens,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// Enabled reports whether the provider has credentials
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// ProvidersConfig lists the supported upstream providers
type ProvidersConfig struct {
	Gemini    ProviderConfig `json:"gemini"`
	DeepSeek  ProviderConfig `json:"deepseek"`
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	XAI       ProviderConfig `json:"xai"`
}

// PipelineConfig tunes model selection and fallback
type PipelineConfig struct {
	AttemptTimeoutSeconds  int      `json:"attemptTimeoutSeconds"`
	SelectorTimeoutSeconds int      `json:"selectorTimeoutSeconds"`
	NamingTimeoutSeconds   int      `json:"namingTimeoutSeconds"`
	ClassifierModel        string   `json:"classifierModel"`
	NamingModel            string   `json:"namingModel"`
	Priority               []string `json:"priority,omitempty"` // overrides the built-in fallback order
	ResolveConcurrency     int      `json:"resolveConcurrency"`
}

// AttemptTimeout returns the per-attempt deadline
func (p PipelineConfig) AttemptTimeout() time.Duration {
	return time.Duration(p.AttemptTimeoutSeconds) * time.Second
}

// SelectorTimeout returns the classifier call deadline
func (p PipelineConfig) SelectorTimeout() time.Duration {
	return time.Duration(p.SelectorTimeoutSeconds) * time.Second
}

// NamingTimeout returns the chat naming call deadline
func (p PipelineConfig) NamingTimeout() time.Duration {
	return time.Duration(p.NamingTimeoutSeconds) * time.Second
}

// StorageConfig selects the persistence driver
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" or "memory"
	Path   string `json:"path"`
}

// BlobConfig configures the S3 bucket used for attachments
type BlobConfig struct {
	Bucket              string `json:"bucket"`
	Region              string `json:"region"`
	Endpoint            string `json:"endpoint,omitempty"`
	AccessKey           string `json:"accessKey"`
	SecretKey           string `json:"secretKey"`
	UsePathStyle        bool   `json:"usePathStyle,omitempty"`
	ReadExpirySeconds   int    `json:"readExpirySeconds"`
	UploadExpirySeconds int    `json:"uploadExpirySeconds"`
	MaxUploadBytes      int64  `json:"maxUploadBytes"`
}

// ArtifactsConfig configures where generated images are written
type ArtifactsConfig struct {
	Dir             string `json:"dir"`
	TTLSeconds      int    `json:"ttlSeconds"` // 0 = keep forever
	CleanupSchedule string `json:"cleanupSchedule"`
}

// LoggingConfig configures the global logger
type LoggingConfig struct {
	Level      string `json:"level"`
	ShowCaller bool   `json:"showCaller"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Listen:             "127.0.0.1:3001",
			ReadTimeoutSeconds: 30,
			AuthFailureDelayMs: 1000,
		},
		Providers: ProvidersConfig{
			DeepSeek: ProviderConfig{BaseURL: "https://api.deepseek.com/v1"},
		},
		Pipeline: PipelineConfig{
			AttemptTimeoutSeconds:  120,
			SelectorTimeoutSeconds: 20,
			NamingTimeoutSeconds:   10,
			ClassifierModel:        "gemini-2.0-flash-lite",
			NamingModel:            "gemini-2.0-flash",
			ResolveConcurrency:     4,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "~/.chatgate/chatgate.db",
		},
		Blob: BlobConfig{
			Region:              "ap-south-1",
			ReadExpirySeconds:   3600,
			UploadExpirySeconds: 3600,
			MaxUploadBytes:      20 * 1024 * 1024,
		},
		Artifacts: ArtifactsConfig{
			Dir:             "./downloads",
			CleanupSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Load reads the config file (explicit path, ./chatgate.*, or ~/.chatgate/chatgate.json),
// fills unset values from Default and applies environment overrides.
// A missing config file is not an error.
func Load(explicit string) (*Config, error) {
	path, err := paths.ConfigPath(explicit)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.path = path
		L_debug("config: loaded", "path", path)
	} else {
		L_debug("config: no config file found, using defaults")
	}

	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile parses JSON, TOML or YAML based on the file extension.
// TOML and YAML are normalized through a generic map so the json tags
// remain the single source of truth for key names.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	case ".toml":
		var raw map[string]interface{}
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return remarshal(raw, cfg, path)
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return remarshal(raw, cfg, path)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func remarshal(raw map[string]interface{}, cfg *Config, path string) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to normalize %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv fills empty secrets from the environment
func (c *Config) applyEnv() {
	setIfEmpty := func(dst *string, key string) {
		if *dst == "" {
			if v := os.Getenv(key); v != "" {
				*dst = v
			}
		}
	}

	setIfEmpty(&c.Providers.Gemini.APIKey, "GEMINI_KEY")
	setIfEmpty(&c.Providers.DeepSeek.APIKey, "DEEPSEEK_KEY")
	setIfEmpty(&c.Providers.OpenAI.APIKey, "OPENAI_KEY")
	setIfEmpty(&c.Providers.Anthropic.APIKey, "ANTHROPIC_KEY")
	setIfEmpty(&c.Providers.XAI.APIKey, "XAI_API_KEY")
	setIfEmpty(&c.Blob.AccessKey, "AWS_ACCESS_KEY")
	setIfEmpty(&c.Blob.SecretKey, "AWS_SECRET_KEY")
	setIfEmpty(&c.Blob.Bucket, "AWS_BUCKET_NAME")

	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Blob.Region = v
	}
	if v := os.Getenv("CHATGATE_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}
	if c.Pipeline.AttemptTimeoutSeconds < 0 {
		return fmt.Errorf("pipeline.attemptTimeoutSeconds must not be negative")
	}
	seen := make(map[string]bool)
	for i, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("users[%d]: duplicate id %q", i, u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}
