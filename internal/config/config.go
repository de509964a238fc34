package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for geosync.
type Config struct {
	ClientID   string           `toml:"client_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Remote     RemoteConfig     `toml:"remote"`
	Sync       SyncConfig       `toml:"sync"`
	Staging    StagingConfig    `toml:"staging"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Lock       LockConfig       `toml:"lock"`
	Server     ServerConfig     `toml:"server"`
}

// RemoteConfig points the client at a project server.
// URL is either http(s)://host[:port] or file:///path/to/vault for a
// server-less project store on shared storage.
type RemoteConfig struct {
	URL     string        `toml:"url"`
	Token   string        `toml:"token,omitempty"`
	Timeout time.Duration `toml:"timeout"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Workers   int    `toml:"workers"`    // concurrent transfers; defaults to 4
	ChunkSize int    `toml:"chunk_size"` // multipart read chunk in bytes; defaults to 16KiB
	CodecPath string `toml:"codec_path"` // geodiff executable; defaults to "geodiff" on PATH
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// StagingConfig represents configuration for the staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem; defaults to <working copy>/.geosync/staging
	MaxSize    int64  `toml:"max_size"`              // max total size in bytes; defaults to 2GB
}

// LockConfig selects how a working copy (client) or project (server) is locked.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LockConfig struct {
	Type string `toml:"type"` // "file" (default), "memory" or "redis"

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string        `toml:"redis_addr,omitempty"`
	RedisPassword string        `toml:"redis_password,omitempty"`
	RedisDB       int           `toml:"redis_db,omitempty"`
	TTL           time.Duration `toml:"ttl,omitempty"`
}

// ServerConfig configures `geosync serve`.
type ServerConfig struct {
	Listen         string           `toml:"listen"`
	Tokens         []TokenConfig    `toml:"tokens"`
	MaxProjectSize int64            `toml:"max_project_size"` // bytes; 0 = unlimited
	Vault          VaultConfig      `toml:"vault"`
	Encryption     EncryptionConfig `toml:"encryption"`
	Lock           LockConfig       `toml:"lock"`
}

// TokenConfig grants a bearer token access to projects. An empty Projects
// list grants access to every project.
type TokenConfig struct {
	Name     string   `toml:"name"`
	Token    string   `toml:"token"`
	Write    bool     `toml:"write"`
	Projects []string `toml:"projects,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encryption at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(clientID, baseDir string) *Config {
	return &Config{
		ClientID: clientID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Remote: RemoteConfig{
			Timeout: 5 * time.Minute,
		},
		Sync: SyncConfig{
			Workers:   4,
			ChunkSize: 16 * 1024,
		},
		Staging: StagingConfig{Type: "filesystem"},
		Lock:    LockConfig{Type: "file"},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
			Vault: VaultConfig{
				Type:        "filesystem",
				Name:        "server",
				FSVaultRoot: filepath.Join(baseDir, "vault"),
			},
			Encryption: EncryptionConfig{
				Type:           "none",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "geosync.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "geosync.key"),
			},
			Lock: LockConfig{Type: "memory"},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry tokens and credentials
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
