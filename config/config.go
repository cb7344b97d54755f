package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderGist   = "gist"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Session   SessionConfig   `mapstructure:"session"`
	Search    SearchConfig    `mapstructure:"search"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Collector CollectorConfig `mapstructure:"collector"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// APIConfig points at the recollect backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Source  string        `mapstructure:"source"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig describes how bearer tokens are obtained. A static access
// token wins over the refresh flow when both are set.
type SessionConfig struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

type SearchConfig struct {
	NumConnections     int           `mapstructure:"num_connections"`
	MinScore           float64       `mapstructure:"min_score"`
	HybridSearchFactor float64       `mapstructure:"hybrid_search_factor"`
	Engine             string        `mapstructure:"engine"`
	MaxQueryLength     int           `mapstructure:"max_query_length"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type EnrichConfig struct {
	MinLength      int           `mapstructure:"min_length"`
	HighlightChars int           `mapstructure:"highlight_chars"`
	Concurrency    int           `mapstructure:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type SynthesisConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type LLMConfig struct {
	Provider      string  `mapstructure:"provider"`
	Model         string  `mapstructure:"model"`
	Temperature   float64 `mapstructure:"temperature"`
	OllamaHost    string  `mapstructure:"ollama_host"`
	OpenAIAPIKey  string  `mapstructure:"openai_api_key"`
	OpenAIBaseURL string  `mapstructure:"openai_base_url"`
}

type ArtifactConfig struct {
	Kind     string        `mapstructure:"kind"`
	MimeType string        `mapstructure:"mime_type"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ThumbnailConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SnapshotConfig struct {
	Path        string `mapstructure:"path"`
	MaxHistory  int    `mapstructure:"max_history"`
	WriteOnExit bool   `mapstructure:"write_on_exit"`
}

type CollectorConfig struct {
	SafariHistoryPath  string        `mapstructure:"safari_history_path"`
	Schedule           string        `mapstructure:"schedule"`
	Interval           time.Duration `mapstructure:"interval"`
	VisitBatchSize     int           `mapstructure:"visit_batch_size"`
	NotesBatchSize     int           `mapstructure:"notes_batch_size"`
	NotesFile          string        `mapstructure:"notes_file"`
	ExcludedDomains    []string      `mapstructure:"excluded_domains"`
	ExcludedExtensions []string      `mapstructure:"excluded_extensions"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	File        string `mapstructure:"file"`
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads defaults, an optional config file and RECOLLECT_* environment
// variables. An empty path searches the working directory and the user
// config directory for recollect.{yaml,json,toml}.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("recollect")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "recollect"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RECOLLECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyLegacyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, "Library", "Application Support", "recollect")

	v.SetDefault("api.base_url", "https://api.recollect.cloud")
	v.SetDefault("api.source", "mac-app")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("session.token_url", "")

	v.SetDefault("search.num_connections", 40)
	v.SetDefault("search.min_score", 0.5)
	v.SetDefault("search.hybrid_search_factor", 1.0)
	v.SetDefault("search.engine", "paragraph-embedding-v2")
	v.SetDefault("search.max_query_length", 150)
	v.SetDefault("search.timeout", 30*time.Second)

	v.SetDefault("enrich.min_length", 100)
	v.SetDefault("enrich.highlight_chars", 300)
	v.SetDefault("enrich.concurrency", 8)
	v.SetDefault("enrich.timeout", 30*time.Second)

	v.SetDefault("synthesis.idle_timeout", 60*time.Second)

	v.SetDefault("llm.provider", ProviderGist)
	v.SetDefault("llm.model", "meta-llama/Meta-Llama-3-70B-Instruct")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.ollama_host", "http://localhost:11434")

	v.SetDefault("artifact.kind", "recall")
	v.SetDefault("artifact.mime_type", "text/plain")
	v.SetDefault("artifact.timeout", 30*time.Second)

	v.SetDefault("thumbnail.ttl", 30*time.Minute)

	v.SetDefault("snapshot.path", filepath.Join(dataDir, "snapshot.json"))
	v.SetDefault("snapshot.max_history", 20)
	v.SetDefault("snapshot.write_on_exit", true)

	v.SetDefault("collector.safari_history_path", filepath.Join(home, "Library", "Safari", "History.db"))
	v.SetDefault("collector.schedule", "@daily")
	v.SetDefault("collector.interval", 24*time.Hour)
	v.SetDefault("collector.visit_batch_size", 1000)
	v.SetDefault("collector.notes_batch_size", 10)
	v.SetDefault("collector.excluded_domains", []string{
		"localhost", "127.0.0.1", "accounts.google.com", "mail.google.com",
		"login.", "auth.", "bank", "paypal.com", "re-collect.ai", "recollect.cloud",
	})
	v.SetDefault("collector.excluded_extensions", []string{
		"png", "jpg", "jpeg", "gif", "svg", "ico", "css", "js", "json", "xml", "zip", "dmg", "pkg",
	})

	v.SetDefault("server.address", "127.0.0.1:7788")

	v.SetDefault("log.file", filepath.Join(dataDir, "logs", "recollect.log"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "recollect-client")
}

// applyLegacyEnv honours the unprefixed variable names used by earlier builds.
func (c *Config) applyLegacyEnv() {
	c.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.OllamaHost = getEnv("OLLAMA_HOST", c.LLM.OllamaHost)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Search.NumConnections <= 0 {
		return fmt.Errorf("search.num_connections must be > 0")
	}
	if c.Enrich.MinLength < 0 || c.Enrich.HighlightChars <= 0 {
		return fmt.Errorf("enrich.min_length must be >= 0 and enrich.highlight_chars > 0")
	}
	switch c.LLM.Provider {
	case ProviderGist, ProviderOllama:
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	if c.Session.RefreshToken != "" && c.Session.TokenURL == "" {
		return fmt.Errorf("session.token_url is required with a refresh token")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
