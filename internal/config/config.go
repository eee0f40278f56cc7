// Package config loads and validates the memgate configuration file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for memgate.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Records   RecordsConfig   `yaml:"records"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Summary   SummaryConfig   `yaml:"summary"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Memory    MemoryConfig    `yaml:"memory"`
	MCP       MCPConfig       `yaml:"mcp"`
	Tools     ToolsConfig     `yaml:"tools"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// OutboundProxy is applied to upstream LLM calls. Loopback upstreams
	// always bypass it.
	OutboundProxy string `yaml:"outbound_proxy"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// PoolWorkers sizes the store's query worker pool.
	PoolWorkers int `yaml:"pool_workers"`
}

// RecordsConfig selects the backing store for the ancillary record tables
// (diaries, expenses, promises, wishlists, milestones, chat memories).
type RecordsConfig struct {
	// Driver is "sqlite" or "postgres". Postgres reuses database.url when
	// dsn is empty.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type RerankConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type SummaryConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Window  int           `yaml:"window"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProxyConfig describes upstream routing for /v1/chat/completions.
type ProxyConfig struct {
	DefaultBackend string                   `yaml:"default_backend"`
	Backends       map[string]BackendConfig `yaml:"backends"`
	Aliases        map[string]AliasConfig   `yaml:"aliases"`
	OpenRouter     OpenRouterConfig         `yaml:"openrouter"`
}

// BackendConfig is one upstream OpenAI-compatible endpoint.
type BackendConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Headers map[string]string `yaml:"headers"`
}

// AliasConfig maps a client-facing model name onto a backend and the model
// name that backend expects.
type AliasConfig struct {
	Backend       string `yaml:"backend"`
	UpstreamModel string `yaml:"upstream_model"`
}

// OpenRouterConfig enables passthrough for unknown vendor-prefixed models.
type OpenRouterConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

type MemoryConfig struct {
	// DefaultUser owns turns captured from requests that carry no user field.
	DefaultUser string `yaml:"default_user"`
	// InjectMaxChars caps the injected context block.
	InjectMaxChars int `yaml:"inject_max_chars"`
	// SynonymRefresh is how often the synonym map is reloaded from the store.
	SynonymRefresh time.Duration `yaml:"synonym_refresh"`
}

type MCPConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type ToolsConfig struct {
	StickerCatalog string      `yaml:"sticker_catalog"`
	Maps           MapsConfig  `yaml:"maps"`
	Notes          NotesConfig `yaml:"notes"`
}

type MapsConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// NotesConfig points at the Yuque-style notes service diaries mirror to.
type NotesConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Repo    string `yaml:"repo"`
}

type ArchiveConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base_url"`
	Interval time.Duration `yaml:"interval"`
}

type JobsConfig struct {
	// DiarySchedule and JanitorSchedule are cron expressions
	// (minute hour dom month dow, seconds field optional).
	DiarySchedule   string `yaml:"diary_schedule"`
	JanitorSchedule string `yaml:"janitor_schedule"`
	DiaryModel      string `yaml:"diary_model"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Load reads, expands, parses, and validates the configuration file.
// Unknown fields are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("failed to parse config: empty document")
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8001
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.PoolWorkers == 0 {
		cfg.Database.PoolWorkers = 8
	}
	if cfg.Records.Driver == "" {
		cfg.Records.Driver = "sqlite"
	}
	if cfg.Records.Driver == "sqlite" && cfg.Records.DSN == "" {
		cfg.Records.DSN = "file:memgate_records.db?_busy_timeout=5000&_journal_mode=WAL"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-large-zh-v1.5"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Rerank.BaseURL == "" {
		cfg.Rerank.BaseURL = cfg.Embedding.BaseURL
	}
	if cfg.Rerank.APIKey == "" {
		cfg.Rerank.APIKey = cfg.Embedding.APIKey
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "BAAI/bge-reranker-v2-m3"
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 5 * time.Second
	}
	if cfg.Summary.Model == "" {
		cfg.Summary.Model = "deepseek-chat"
	}
	if cfg.Summary.Window == 0 {
		cfg.Summary.Window = 5
	}
	if cfg.Summary.Timeout == 0 {
		cfg.Summary.Timeout = 30 * time.Second
	}
	if cfg.Proxy.OpenRouter.BaseURL == "" {
		cfg.Proxy.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Memory.DefaultUser == "" {
		cfg.Memory.DefaultUser = "dream"
	}
	if cfg.Memory.InjectMaxChars == 0 {
		cfg.Memory.InjectMaxChars = 500
	}
	if cfg.Memory.SynonymRefresh == 0 {
		cfg.Memory.SynonymRefresh = 5 * time.Minute
	}
	if cfg.MCP.HeartbeatInterval == 0 {
		cfg.MCP.HeartbeatInterval = 25 * time.Second
	}
	if cfg.Archive.Interval == 0 {
		cfg.Archive.Interval = time.Minute
	}
	if cfg.Jobs.JanitorSchedule == "" {
		cfg.Jobs.JanitorSchedule = "0 4 * * *"
	}
	if cfg.Jobs.DiarySchedule == "" {
		cfg.Jobs.DiarySchedule = "30 23 * * *"
	}
	if cfg.Jobs.DiaryModel == "" {
		cfg.Jobs.DiaryModel = cfg.Summary.Model
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Records.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("records.driver must be sqlite or postgres, got %q", c.Records.Driver)
	}
	if c.Proxy.DefaultBackend != "" {
		if _, ok := c.Proxy.Backends[c.Proxy.DefaultBackend]; !ok {
			return fmt.Errorf("proxy.default_backend %q has no matching entry in proxy.backends", c.Proxy.DefaultBackend)
		}
	}
	for name, alias := range c.Proxy.Aliases {
		if _, ok := c.Proxy.Backends[alias.Backend]; !ok {
			return fmt.Errorf("proxy.aliases.%s references unknown backend %q", name, alias.Backend)
		}
	}
	for name, backend := range c.Proxy.Backends {
		if backend.BaseURL == "" {
			return fmt.Errorf("proxy.backends.%s.base_url is required", name)
		}
	}
	return nil
}
