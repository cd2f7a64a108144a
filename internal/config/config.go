package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for tripsync.
type Config struct {
	DeviceID    string            `toml:"device_id"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Account     AccountConfig     `toml:"account"`
	Database    DatabaseConfig    `toml:"database"`
	Remote      RemoteConfig      `toml:"remote"`
	Coordinates CoordinatesConfig `toml:"coordinates"`
	Geocoder    GeocoderConfig    `toml:"geocoder"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Sync        SyncConfig        `toml:"sync"`
}

// AccountConfig is the signed-in account as seen by the sync core.
// Sync runs only when ID is set and SyncEnabled is true.
type AccountConfig struct {
	ID          string `toml:"id"`
	SyncEnabled bool   `toml:"sync_enabled"`
}

// DatabaseConfig represents configuration for the local database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig represents configuration for the remote record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "none"

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot         string   `toml:"fs_root,omitempty"`
	FSPollInterval Duration `toml:"fs_poll_interval,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3PathStyle       bool   `toml:"s3_path_style,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// CoordinatesConfig selects the shared coordinate store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CoordinatesConfig struct {
	Type string `toml:"type"` // "remote", "mongo", "postgres" or "none"

	// Mongo-specific fields (only used when Type == "mongo")
	MongoURI        string `toml:"mongo_uri,omitempty"`
	MongoDatabase   string `toml:"mongo_database,omitempty"`
	MongoCollection string `toml:"mongo_collection,omitempty"`

	// Postgres-specific fields (only used when Type == "postgres")
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// GeocoderConfig selects the external geocoding provider.
type GeocoderConfig struct {
	Type      string `toml:"type"` // "http" or "none"
	URL       string `toml:"url,omitempty"`
	APIKey    string `toml:"api_key,omitempty"`
	UserAgent string `toml:"user_agent,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to seal payloads.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SyncConfig tunes the sync core. Zero values select the built-in defaults.
type SyncConfig struct {
	DebounceWindow     Duration `toml:"debounce_window,omitempty"`
	PollInterval       Duration `toml:"poll_interval,omitempty"`
	BackoffBase        Duration `toml:"backoff_base,omitempty"`
	BackoffMax         Duration `toml:"backoff_max,omitempty"`
	NetworkTimeout     Duration `toml:"network_timeout,omitempty"`
	DeletionGrace      Duration `toml:"deletion_grace,omitempty"`
	TombstoneRetention Duration `toml:"tombstone_retention,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("1s", "5m").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Remote:   RemoteConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "remote")},
		Coordinates: CoordinatesConfig{
			Type: "remote",
		},
		Geocoder: GeocoderConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "tripsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "tripsync.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Unknown keys are rejected.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
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

// WriteToFile replaces the config file at path.
func WriteToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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
	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
