package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAddr               = ":8080"
	DefaultTurnTimeout        = 60 * time.Second
	DefaultMaxAttachments     = 10
	DefaultMaxAttachmentBytes = 20 << 20
	DefaultMaxRounds          = 5
	DefaultHistoryLimit       = 20
	DefaultTokenTTL           = 24 * time.Hour
)

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		DataDirectory: "~/.local/share/receiptly",
		Server: ServerConfig{
			Addr:               DefaultAddr,
			TurnTimeout:        DefaultTurnTimeout,
			MaxAttachments:     DefaultMaxAttachments,
			MaxAttachmentBytes: DefaultMaxAttachmentBytes,
			RateLimit:          1,
			RateBurst:          5,
		},
		Database: DatabaseConfig{Driver: DriverSQLite},
		Storage:  StorageConfig{Backend: BackendFS},
		AI: AIConfig{
			Provider: "anthropic",
			Ollama:   ProviderSettings{Model: "llama3.1:latest"},
		},
		Agent: AgentConfig{
			MaxRounds:    DefaultMaxRounds,
			HistoryLimit: DefaultHistoryLimit,
		},
		Auth: AuthConfig{
			Issuer:   "receiptly",
			TokenTTL: DefaultTokenTTL,
		},
		Telemetry: TelemetryConfig{
			Metrics:     true,
			ServiceName: "receiptly",
		},
		Log:         LogConfig{Format: "text", Level: "info"},
		Credentials: CredentialsConfig{Method: SecurityPlainText},
	}
}

// GenerateConfigTemplate returns a commented config.toml.
func GenerateConfigTemplate() string {
	return `# Receiptly Configuration
# Location: ~/.config/receiptly/config.toml
# This file uses TOML format: https://toml.io

# Directory for the SQLite database, uploaded files and credentials
data_directory = "~/.local/share/receiptly"

[server]
addr = ":8080"
turn_timeout = "60s"
max_attachments = 10
max_attachment_bytes = 20971520
# Chat requests per second per user, and burst
rate_limit = 1.0
rate_burst = 5

[database]
# "sqlite" (file under data_directory when dsn is empty) or "postgres"
driver = "sqlite"
dsn = ""

[storage]
# "fs" (files under data_directory/uploads) or "s3"
backend = "fs"
bucket = ""
region = ""
endpoint = ""

[ai]
# anthropic, openai, openrouter, google or ollama
provider = "anthropic"
# Provider for receipt extraction; empty uses the chat provider
vision_provider = ""
max_tokens = 4096

[ai.ollama]
base_url = ""
model = "llama3.1:latest"

[agent]
max_rounds = 5
history_limit = 20

[auth]
# HS256 secret for bearer tokens; prefer RECEIPTLY_JWT_SECRET
jwt_secret = ""
issuer = "receiptly"
token_ttl = "24h"

[telemetry]
metrics = true
# OTLP/HTTP endpoint, e.g. "localhost:4318"; empty disables tracing
otlp_endpoint = ""

[log]
format = "text"
level = "info"

[credentials]
# "plaintext" (credentials.toml) or "ssh_key" (credentials.enc)
method = "plaintext"
ssh_key_path = ""
`
}

// WriteTemplate writes GenerateConfigTemplate to path. An existing file is
// only replaced when overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if FileExists(path) && !overwrite {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
