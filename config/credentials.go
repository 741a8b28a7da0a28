package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
)

// SecurityMethod selects how the credentials file is kept on disk.
type SecurityMethod string

const (
	SecurityPlainText SecurityMethod = "plaintext"
	SecuritySSHKey    SecurityMethod = "ssh_key"
)

// credentialFile encodes the secret map for one on-disk format.
type credentialFile interface {
	name() string
	decode(raw []byte) (map[string]string, error)
	encode(secrets map[string]string) ([]byte, error)
}

type plainCredentials struct{}

type plainDocument struct {
	Credentials map[string]string `toml:"credentials"`
}

func (plainCredentials) name() string { return "credentials.toml" }

func (plainCredentials) decode(raw []byte) (map[string]string, error) {
	var doc plainDocument
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid credentials.toml: %w", err)
	}
	return doc.Credentials, nil
}

func (plainCredentials) encode(secrets map[string]string) ([]byte, error) {
	return toml.Marshal(plainDocument{Credentials: secrets})
}

// sealedCredentials stores the map as JSON sealed with a key derived from
// an SSH private key. The sealer is built lazily so a store that is never
// read or written does not need the key.
type sealedCredentials struct {
	store *CredentialStore
}

func (sealedCredentials) name() string { return "credentials.enc" }

func (s sealedCredentials) decode(raw []byte) (map[string]string, error) {
	sealer, err := s.store.getSealer()
	if err != nil {
		return nil, err
	}
	plain, err := sealer.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("credentials.enc could not be decrypted: %w", err)
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, fmt.Errorf("credentials.enc holds invalid data: %w", err)
	}
	return secrets, nil
}

func (s sealedCredentials) encode(secrets map[string]string) ([]byte, error) {
	sealer, err := s.store.getSealer()
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(secrets)
	if err != nil {
		return nil, err
	}
	return sealer.Seal(plain)
}

// CredentialStore holds provider API keys and the JWT secret, keyed by
// provider id ("anthropic", "openai", ...) or "jwt_secret".
type CredentialStore struct {
	method     SecurityMethod
	secrets    map[string]string
	sshKeyPath string
	passphrase string
	sealer     *Sealer
}

func NewCredentialStore(method SecurityMethod, sshKeyPath string) *CredentialStore {
	if method == "" {
		method = SecurityPlainText
	}
	return &CredentialStore{method: method, secrets: map[string]string{}, sshKeyPath: sshKeyPath}
}

// SetPassphrase unlocks an encrypted SSH key. Changing it drops any sealer
// already derived from the old one.
func (c *CredentialStore) SetPassphrase(passphrase string) {
	c.passphrase = passphrase
	c.sealer = nil
}

func (c *CredentialStore) getSealer() (*Sealer, error) {
	if c.sealer == nil {
		sealer, err := NewSealer(c.sshKeyPath, c.passphrase)
		if err != nil {
			return nil, fmt.Errorf("credential encryption unavailable: %w", err)
		}
		c.sealer = sealer
	}
	return c.sealer, nil
}

func (c *CredentialStore) file() (credentialFile, error) {
	switch c.method {
	case SecurityPlainText:
		return plainCredentials{}, nil
	case SecuritySSHKey:
		return sealedCredentials{store: c}, nil
	}
	return nil, fmt.Errorf("unknown security method: %s", c.method)
}

// Load replaces the in-memory secrets with the file in dataDir. A missing
// file leaves the store empty.
func (c *CredentialStore) Load(dataDir string) error {
	f, err := c.file()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(filepath.Join(dataDir, f.name()))
	if errors.Is(err, os.ErrNotExist) {
		c.secrets = map[string]string{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.name(), err)
	}
	secrets, err := f.decode(raw)
	if err != nil {
		return err
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	c.secrets = secrets
	return nil
}

// Save writes the secrets to dataDir, readable only by the owner.
func (c *CredentialStore) Save(dataDir string) error {
	f, err := c.file()
	if err != nil {
		return err
	}
	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	raw, err := f.encode(c.secrets)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.name(), err)
	}
	return os.WriteFile(filepath.Join(dataDir, f.name()), raw, 0600)
}

func (c *CredentialStore) Get(id string) string { return c.secrets[id] }

func (c *CredentialStore) Set(id, value string) { c.secrets[id] = value }

func (c *CredentialStore) Delete(id string) { delete(c.secrets, id) }

// IDs lists stored credential ids in sorted order.
func (c *CredentialStore) IDs() []string {
	ids := make([]string, 0, len(c.secrets))
	for id := range c.secrets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *CredentialStore) GetMethod() SecurityMethod { return c.method }
