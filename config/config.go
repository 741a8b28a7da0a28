package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendFS = "fs"
	BackendS3 = "s3"
)

type ServerConfig struct {
	Addr               string        `toml:"addr"`
	TurnTimeout        time.Duration `toml:"turn_timeout"`
	MaxAttachments     int           `toml:"max_attachments"`
	MaxAttachmentBytes int64         `toml:"max_attachment_bytes"`
	RateLimit          float64       `toml:"rate_limit"`
	RateBurst          int           `toml:"rate_burst"`
	AllowedOrigins     []string      `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type StorageConfig struct {
	Backend         string `toml:"backend"`
	Dir             string `toml:"dir"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// ProviderSettings configures one LLM vendor. APIKey is normally supplied by
// the environment or the credential store rather than config.toml.
type ProviderSettings struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

type AIConfig struct {
	Provider string `toml:"provider"`
	// VisionProvider serves receipt extraction; empty means Provider.
	VisionProvider string           `toml:"vision_provider"`
	MaxTokens      int64            `toml:"max_tokens"`
	Temperature    *float64         `toml:"temperature"`
	Anthropic      ProviderSettings `toml:"anthropic"`
	OpenAI         ProviderSettings `toml:"openai"`
	OpenRouter     ProviderSettings `toml:"openrouter"`
	Google         ProviderSettings `toml:"google"`
	Ollama         ProviderSettings `toml:"ollama"`
}

// Settings returns the settings block for a provider id.
func (a AIConfig) Settings(name string) ProviderSettings {
	if p := a.settingsPtr(name); p != nil {
		return *p
	}
	return ProviderSettings{}
}

func (a *AIConfig) settingsPtr(name string) *ProviderSettings {
	switch name {
	case "anthropic":
		return &a.Anthropic
	case "openai":
		return &a.OpenAI
	case "openrouter":
		return &a.OpenRouter
	case "google":
		return &a.Google
	case "ollama":
		return &a.Ollama
	}
	return nil
}

type AgentConfig struct {
	MaxRounds    int `toml:"max_rounds"`
	HistoryLimit int `toml:"history_limit"`
}

type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret"`
	Issuer    string        `toml:"issuer"`
	TokenTTL  time.Duration `toml:"token_ttl"`
}

type TelemetryConfig struct {
	Metrics      bool   `toml:"metrics"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

type LogConfig struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

type CredentialsConfig struct {
	Method     SecurityMethod `toml:"method"`
	SSHKeyPath string         `toml:"ssh_key_path"`
	Passphrase string         `toml:"-"`
}

type Config struct {
	DataDirectory string            `toml:"data_directory"`
	Server        ServerConfig      `toml:"server"`
	Database      DatabaseConfig    `toml:"database"`
	Storage       StorageConfig     `toml:"storage"`
	AI            AIConfig          `toml:"ai"`
	Agent         AgentConfig       `toml:"agent"`
	Auth          AuthConfig        `toml:"auth"`
	Telemetry     TelemetryConfig   `toml:"telemetry"`
	Log           LogConfig         `toml:"log"`
	Credentials   CredentialsConfig `toml:"credentials"`
}

// Debug enables verbose payload logging across packages.
var Debug = false

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// providerKeyEnv maps provider ids to the variables carrying their keys.
var providerKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"google":     "GOOGLE_API_KEY",
}

func (c *Config) applyEnvOverrides() {
	if v := firstEnv("RECEIPTLY_PROVIDER", "AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
	for name, env := range providerKeyEnv {
		if v := os.Getenv(env); v != "" {
			c.AI.settingsPtr(name).APIKey = v
		}
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.AI.Ollama.BaseURL = normalizeOllamaHost(v)
	}
	if v := os.Getenv("RECEIPTLY_DATA_DIR"); v != "" {
		c.DataDirectory = v
	}
	if v := os.Getenv("RECEIPTLY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := firstEnv("RECEIPTLY_DATABASE_URL", "DATABASE_URL"); v != "" {
		c.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.Driver = DriverPostgres
		}
	}
	if v := os.Getenv("RECEIPTLY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("RECEIPTLY_S3_BUCKET"); v != "" {
		c.Storage.Backend = BackendS3
		c.Storage.Bucket = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("RECEIPTLY_SSH_KEY_PASSPHRASE"); v != "" {
		c.Credentials.Passphrase = v
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// normalizeOllamaHost accepts the bare host:port form OLLAMA_HOST allows.
func normalizeOllamaHost(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + host
}

func CheckDebug() bool {
	debug := os.Getenv("RECEIPTLY_DEBUG")
	return debug == "true" || debug == "1"
}

// Load builds the configuration from defaults, the TOML file at path, the
// credential store and the environment, in that order. An empty path reads
// DefaultConfigPath if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if FileExists(path) {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Environment decides the data directory and passphrase before the
	// credential store is opened, then wins over stored keys.
	cfg.applyEnvOverrides()
	if err := cfg.loadCredentials(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadCredentials() error {
	dataDir := c.DataDir()
	if !FileExists(dataDir) {
		return nil
	}
	store := NewCredentialStore(c.Credentials.Method, ExpandPath(c.Credentials.SSHKeyPath))
	store.SetPassphrase(c.Credentials.Passphrase)
	if err := store.Load(dataDir); err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	for name := range providerKeyEnv {
		if key := store.Get(name); key != "" {
			c.AI.settingsPtr(name).APIKey = key
		}
	}
	if secret := store.Get("jwt_secret"); secret != "" && c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = secret
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AI.Provider) == "" {
		errs = append(errs, errors.New("ai.provider is required"))
	}
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}
	switch c.Storage.Backend {
	case BackendFS:
	case BackendS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not fs or s3", c.Storage.Backend))
	}
	if c.Agent.MaxRounds < 1 || c.Agent.MaxRounds > DefaultMaxRounds {
		errs = append(errs, fmt.Errorf("agent.max_rounds must be between 1 and %d", DefaultMaxRounds))
	}
	if c.Agent.HistoryLimit < 0 {
		errs = append(errs, errors.New("agent.history_limit must not be negative"))
	}
	if c.Server.TurnTimeout <= 0 {
		errs = append(errs, errors.New("server.turn_timeout must be positive"))
	}
	if c.Server.MaxAttachments < 0 || c.Server.MaxAttachmentBytes < 0 {
		errs = append(errs, errors.New("server attachment limits must not be negative"))
	}
	switch c.Credentials.Method {
	case SecurityPlainText:
	case SecuritySSHKey:
		if c.Credentials.SSHKeyPath == "" {
			errs = append(errs, errors.New("credentials.ssh_key_path is required for ssh_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credentials.method %q", c.Credentials.Method))
	}
	return errors.Join(errs...)
}
