package config

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"RECEIPTLY_PROVIDER", "AI_PROVIDER", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
		"OPENROUTER_API_KEY", "GOOGLE_API_KEY", "OLLAMA_HOST", "RECEIPTLY_DATA_DIR",
		"RECEIPTLY_ADDR", "RECEIPTLY_DATABASE_URL", "DATABASE_URL", "RECEIPTLY_JWT_SECRET",
		"RECEIPTLY_S3_BUCKET", "OTEL_EXPORTER_OTLP_ENDPOINT", "RECEIPTLY_SSH_KEY_PASSPHRASE",
		"RECEIPTLY_DEBUG",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, DefaultMaxRounds, cfg.Agent.MaxRounds)
	assert.Equal(t, DefaultHistoryLimit, cfg.Agent.HistoryLimit)
	assert.Equal(t, 60*time.Second, cfg.Server.TurnTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, BackendFS, cfg.Storage.Backend)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
data_directory = "`+filepath.Join(dir, "data")+`"

[server]
turn_timeout = "30s"

[ai]
provider = "openai"

[ai.openai]
model = "gpt-4o"
api_key = "from-file"

[agent]
max_rounds = 3
`)

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("OLLAMA_HOST", "10.0.0.5:11434")
	t.Setenv("RECEIPTLY_DATABASE_URL", "postgres://u:p@localhost/receiptly")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "gpt-4o", cfg.AI.OpenAI.Model)
	assert.Equal(t, "from-env", cfg.AI.OpenAI.APIKey)
	assert.Equal(t, "http://10.0.0.5:11434", cfg.AI.Ollama.BaseURL)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Server.TurnTimeout)
	assert.Equal(t, 3, cfg.Agent.MaxRounds)
	assert.Equal(t, "from-env", cfg.AI.Settings("openai").APIKey)
	assert.Empty(t, cfg.AI.Settings("bedrock"))
}

func TestLoadProviderAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "ollama")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.AI.Provider)

	t.Setenv("RECEIPTLY_PROVIDER", "openrouter")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", cfg.AI.Provider)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"rounds above bound", func(c *Config) { c.Agent.MaxRounds = 6 }, false},
		{"zero rounds", func(c *Config) { c.Agent.MaxRounds = 0 }, false},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = BackendS3 }, false},
		{"s3 with bucket", func(c *Config) { c.Storage.Backend = BackendS3; c.Storage.Bucket = "b" }, true},
		{"ssh without key", func(c *Config) { c.Credentials.Method = SecuritySSHKey }, false},
		{"no provider", func(c *Config) { c.AI.Provider = " " }, false},
		{"no timeout", func(c *Config) { c.Server.TurnTimeout = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPlainTextCredentials(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()

	store := NewCredentialStore(SecurityPlainText, "")
	store.Set("anthropic", "sk-ant-stored")
	store.Set("jwt_secret", "stored-secret")
	require.NoError(t, store.Save(dataDir))

	info, err := os.Stat(filepath.Join(dataDir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	t.Setenv("RECEIPTLY_DATA_DIR", dataDir)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-stored", cfg.AI.Anthropic.APIKey)
	assert.Equal(t, "stored-secret", cfg.Auth.JWTSecret)

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-env", cfg.AI.Anthropic.APIKey, "environment wins over stored keys")
}

func writeSSHKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestSSHSealedCredentials(t *testing.T) {
	keyPath := writeSSHKey(t, "")
	dataDir := t.TempDir()

	store := NewCredentialStore(SecuritySSHKey, keyPath)
	store.Set("openai", "sk-openai")
	require.NoError(t, store.Save(dataDir))

	raw, err := os.ReadFile(filepath.Join(dataDir, "credentials.enc"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("sk-openai")), "credentials must not be stored in the clear")

	reopened := NewCredentialStore(SecuritySSHKey, keyPath)
	require.NoError(t, reopened.Load(dataDir))
	assert.Equal(t, "sk-openai", reopened.Get("openai"))
	assert.Equal(t, []string{"openai"}, reopened.IDs())

	other := NewCredentialStore(SecuritySSHKey, writeSSHKey(t, ""))
	assert.Error(t, other.Load(dataDir), "a different key must not open the file")
}

func TestEncryptedSSHKeyNeedsPassphrase(t *testing.T) {
	keyPath := writeSSHKey(t, "hunter2")

	_, err := LoadSSHSigner(keyPath, "")
	require.Error(t, err)

	_, err = LoadSSHSigner(keyPath, "wrong")
	require.Error(t, err)

	signer, err := LoadSSHSigner(keyPath, "hunter2")
	require.NoError(t, err)

	sealer, err := NewSealerFromSigner(signer)
	require.NoError(t, err)
	sealed, err := sealer.Seal([]byte("secret"))
	require.NoError(t, err)
	plain, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))

	_, err = sealer.Open([]byte("short"))
	assert.Error(t, err)
}

func TestInitLogging(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECEIPTLY_DEBUG", "1")
	prev := slog.Default()
	t.Cleanup(func() {
		Debug = false
		slog.SetDefault(prev)
	})

	cfg := Default()
	cfg.DataDirectory = t.TempDir()
	var stderr bytes.Buffer

	closer, err := InitLogging(cfg, &stderr)
	require.NoError(t, err)
	defer closer.Close()

	assert.True(t, Debug)
	assert.Contains(t, stderr.String(), "Debug logging started")
	assert.FileExists(t, filepath.Join(cfg.DataDirectory, "debug.log"))
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/data", ExpandPath("~/data"))
	assert.Equal(t, "/home/tester", ExpandPath("~"))
	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/tmp/x", ExpandPath("/tmp//x/"))
}

func TestWriteTemplate(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "receiptly", "config.toml")

	require.NoError(t, WriteTemplate(path, false))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err, "the generated template must load cleanly")
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Empty(t, cfg.AI.VisionProvider)
	assert.Equal(t, DefaultMaxRounds, cfg.Agent.MaxRounds)
	assert.Equal(t, 60*time.Second, cfg.Server.TurnTimeout)

	assert.ErrorContains(t, WriteTemplate(path, false), "already exists")
	assert.NoError(t, WriteTemplate(path, true))
}
