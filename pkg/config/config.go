package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/cuemby/syncstore/pkg/secrets"
	"gopkg.in/yaml.v3"
)

// Config mirrors the recognized configuration keys of spec.md §6.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Mozsvc  MozsvcConfig  `yaml:"mozsvc"`
	Auth    AuthConfig    `yaml:"auth"`
}

// StorageConfig is the storage.* key group.
type StorageConfig struct {
	Backend             string   `yaml:"backend"`      // "sql" | "cached-sql"
	SQLURI              string   `yaml:"sqluri"`
	StandardCollections bool     `yaml:"standard_collections"`
	UseQuota            bool     `yaml:"use_quota"`
	QuotaSizeKB         int64    `yaml:"quota_size"`
	PoolSize            int      `yaml:"pool_size"`
	PoolRecycle         int      `yaml:"pool_recycle"` // seconds
	Shard               bool     `yaml:"shard"`
	ShardSize           int      `yaml:"shardsize"`
	CacheServers        []string `yaml:"cache_servers"` // host:port
	CheckNodeStatus     bool     `yaml:"check_node_status"`
}

// MozsvcConfig is the mozsvc.* key group.
type MozsvcConfig struct {
	RetryAfter int `yaml:"retry_after"` // seconds
}

// AuthConfig is the auth.* key group.
type AuthConfig struct {
	Secrets             []string `yaml:"secrets"`
	ExpiredTokenTimeout int      `yaml:"expired_token_timeout"` // seconds

	// EncryptedSecrets holds base64-encoded AES-256-GCM ciphertexts (see
	// pkg/secrets) as an alternative to plaintext Secrets. Decrypted
	// once at Load time using masterKeyEnvVar and appended to Secrets;
	// nothing downstream of Load ever sees this field.
	EncryptedSecrets []string `yaml:"encrypted_secrets"`
}

// masterKeyEnvVar names the environment variable Load reads the
// passphrase from when auth.encrypted_secrets is set.
const masterKeyEnvVar = "SYNCSTORE_MASTER_KEY"

// Default returns spec.md §6's documented defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:     "sql",
			PoolSize:    10,
			PoolRecycle: 3600,
			ShardSize:   1000,
		},
		Mozsvc: MozsvcConfig{
			RetryAfter: 1800,
		},
		Auth: AuthConfig{
			ExpiredTokenTimeout: 7200,
		},
	}
}

// Load reads a YAML config file at path, starting from Default() so an
// omitted key keeps its documented default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.decryptSecrets(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decryptSecrets appends the plaintext of auth.encrypted_secrets to
// auth.secrets, using SYNCSTORE_MASTER_KEY to derive the decryption key.
func (c *Config) decryptSecrets() error {
	if len(c.Auth.EncryptedSecrets) == 0 {
		return nil
	}
	passphrase := os.Getenv(masterKeyEnvVar)
	if passphrase == "" {
		return fmt.Errorf("auth.encrypted_secrets is set but %s is not", masterKeyEnvVar)
	}
	mgr, err := secrets.NewManagerFromPassphrase(passphrase)
	if err != nil {
		return fmt.Errorf("deriving master key: %w", err)
	}
	for _, encoded := range c.Auth.EncryptedSecrets {
		ciphertext, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decoding auth.encrypted_secrets entry: %w", err)
		}
		plaintext, err := mgr.Decrypt(ciphertext)
		if err != nil {
			return fmt.Errorf("decrypting auth.encrypted_secrets entry: %w", err)
		}
		c.Auth.Secrets = append(c.Auth.Secrets, string(plaintext))
	}
	return nil
}

// Validate reports the first configuration error found, if any.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "sql", "cached-sql":
	default:
		return fmt.Errorf("storage.backend must be \"sql\" or \"cached-sql\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "cached-sql" && len(c.Storage.CacheServers) == 0 {
		return fmt.Errorf("storage.backend is cached-sql but storage.cache_servers is empty")
	}
	if c.Storage.UseQuota && c.Storage.QuotaSizeKB <= 0 {
		return fmt.Errorf("storage.use_quota is set but storage.quota_size is not positive")
	}
	if c.Storage.Backend == "sql" && c.Storage.SQLURI == "" {
		return fmt.Errorf("storage.sqluri is required")
	}
	if len(c.Auth.Secrets) == 0 {
		return fmt.Errorf("auth.secrets must contain at least one shared secret")
	}
	return nil
}
