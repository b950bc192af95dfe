// Package config loads pulse configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/pulse/engine/capture"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/evidence"
	"github.com/WessleyAI/pulse/engine/extract"
	"github.com/WessleyAI/pulse/engine/modules"
	"github.com/WessleyAI/pulse/engine/rank"
	"github.com/WessleyAI/pulse/engine/sources"
)

// Generation backends.
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendStub   = "stub"
)

// Config holds every setting of the CLI and API server.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	IndexPath string `yaml:"index_path"`
	LogLevel  string `yaml:"log_level"`

	HTTP      HTTPConfig      `yaml:"http"`
	Search    SearchConfig    `yaml:"search"`
	Social    SocialConfig    `yaml:"social"`
	Trends    TrendsConfig    `yaml:"trends"`
	Fetch     extract.Options `yaml:"fetch"`
	Rank      rank.Options    `yaml:"rank"`
	Capture   CaptureConfig   `yaml:"capture"`
	Generator modules.Options `yaml:"generator"`
	// ModulesFile replaces the default module set when set.
	ModulesFile string `yaml:"modules_file"`

	LLM      LLMConfig      `yaml:"llm"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	NATS     NATSConfig     `yaml:"nats"`
}

type HTTPConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type SearchConfig struct {
	sources.SearchOptions `yaml:",inline"`
	BraveKey              string `yaml:"brave_key"`
	BraveURL              string `yaml:"brave_url"`
	SearXNGURL            string `yaml:"searxng_url"`
}

// GatewayConfig points one platform at a JSON search gateway.
type GatewayConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type SocialConfig struct {
	PerPlatform int                      `yaml:"per_platform"`
	YouTubeKey  string                   `yaml:"youtube_key"`
	YouTubeURL  string                   `yaml:"youtube_url"`
	RedditURL   string                   `yaml:"reddit_url"`
	Gateways    map[string]GatewayConfig `yaml:"gateways"`
}

type TrendsConfig struct {
	FeedURL string `yaml:"feed_url"`
}

type CaptureConfig struct {
	Enabled         bool `yaml:"enabled"`
	capture.Options `yaml:",inline"`
	Rod             capture.RodOptions `yaml:"rod"`
	MaxAge          time.Duration      `yaml:"max_age"`
}

type LLMConfig struct {
	Backend     string `yaml:"backend"`
	GeminiKey   string `yaml:"gemini_key"`
	GeminiModel string `yaml:"gemini_model"`
}

type OllamaConfig struct {
	URL        string `yaml:"url"`
	EmbedModel string `yaml:"embed_model"`
	GenModel   string `yaml:"gen_model"`
}

type EvidenceConfig struct {
	Enabled          bool `yaml:"enabled"`
	evidence.Options `yaml:",inline"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

type Neo4jConfig struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

func defaults() *Config {
	return &Config{
		DataDir:   "data",
		LogLevel:  "info",
		HTTP:      HTTPConfig{Port: "8080", CORSOrigin: "*"},
		Search:    SearchConfig{SearchOptions: sources.DefaultSearchOptions()},
		Social:    SocialConfig{PerPlatform: 25},
		Fetch:     extract.DefaultOptions(),
		Rank:      rank.DefaultOptions(),
		Capture:   CaptureConfig{Options: capture.DefaultOptions(), MaxAge: 7 * 24 * time.Hour},
		Generator: modules.DefaultOptions(),
		LLM:       LLMConfig{Backend: BackendGemini, GeminiModel: "gemini-2.5-flash"},
		Ollama:    OllamaConfig{URL: "http://localhost:11434", EmbedModel: "nomic-embed-text", GenModel: "llama3"},
		Evidence:  EvidenceConfig{Options: evidence.DefaultOptions()},
		Qdrant:    QdrantConfig{Collection: "pulse_evidence"},
		Neo4j:     Neo4jConfig{User: "neo4j"},
		NATS:      NATSConfig{Prefix: "pulse.session"},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.DataDir, "sessions.db")
	}
	return cfg, cfg.Validate()
}

// applyEnv overlays environment variables; each falls back to the value
// already loaded.
func (c *Config) applyEnv() {
	c.DataDir = envOr("PULSE_DATA_DIR", c.DataDir)
	c.IndexPath = envOr("PULSE_INDEX_PATH", c.IndexPath)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.HTTP.Port = envOr("PORT", c.HTTP.Port)
	c.HTTP.CORSOrigin = envOr("CORS_ORIGIN", c.HTTP.CORSOrigin)

	c.Search.BraveKey = envOr("BRAVE_API_KEY", c.Search.BraveKey)
	c.Search.SearXNGURL = envOr("SEARXNG_URL", c.Search.SearXNGURL)
	c.Social.YouTubeKey = envOr("YOUTUBE_API_KEY", c.Social.YouTubeKey)
	c.Social.RedditURL = envOr("REDDIT_URL", c.Social.RedditURL)
	c.Trends.FeedURL = envOr("TREND_FEED_URL", c.Trends.FeedURL)

	c.Fetch.Workers = envInt("FETCH_WORKERS", c.Fetch.Workers)
	c.Fetch.Timeout = envDuration("FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Generator.Attempts = envInt("GENERATION_ATTEMPTS", c.Generator.Attempts)
	c.Generator.Backoff = envDuration("GENERATION_BACKOFF", c.Generator.Backoff)
	c.Generator.Concurrency = envInt("GENERATION_CONCURRENCY", c.Generator.Concurrency)
	c.ModulesFile = envOr("PULSE_MODULES_FILE", c.ModulesFile)

	c.LLM.Backend = envOr("LLM_BACKEND", c.LLM.Backend)
	c.LLM.GeminiKey = envOr("GEMINI_API_KEY", c.LLM.GeminiKey)
	c.LLM.GeminiModel = envOr("GEMINI_MODEL", c.LLM.GeminiModel)
	c.Ollama.URL = envOr("OLLAMA_URL", c.Ollama.URL)
	c.Qdrant.Addr = envOr("QDRANT_URL", c.Qdrant.Addr)
	c.Neo4j.URL = envOr("NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Pass = envOr("NEO4J_PASS", c.Neo4j.Pass)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	switch c.LLM.Backend {
	case BackendGemini, BackendOllama, BackendStub:
	default:
		return fmt.Errorf("config: unsupported llm backend %q (use gemini, ollama or stub)", c.LLM.Backend)
	}
	for name := range c.Social.Gateways {
		if domain.Platform(name).Kind() == domain.KindUnknown {
			return fmt.Errorf("config: gateway for unknown platform %q", name)
		}
	}
	if c.Evidence.Enabled && c.Qdrant.Addr == "" {
		return fmt.Errorf("config: evidence requires qdrant.addr")
	}
	return nil
}

// EffectiveBackend is the backend actually used: gemini without a key
// degrades to the stub.
func (c *Config) EffectiveBackend() string {
	if c.LLM.Backend == BackendGemini && c.LLM.GeminiKey == "" {
		return BackendStub
	}
	return c.LLM.Backend
}

// Specs returns the module set: ModulesFile when set, else the defaults.
func (c *Config) Specs() ([]domain.ModuleSpec, error) {
	if c.ModulesFile == "" {
		return modules.DefaultSpecs(), nil
	}
	return modules.LoadSpecs(c.ModulesFile)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
