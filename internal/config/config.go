package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Tracking store backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Hash algorithms.
const (
	AlgorithmSHA256  = "sha256"
	AlgorithmBLAKE2b = "blake2b"
)

// Config holds all application configuration.
type Config struct {
	// Central table of tracked folder pairs
	Registry RegistryConfig `mapstructure:"registry" json:"registry" yaml:"registry"`

	// Per-folder tracking stores
	Tracking TrackingConfig `mapstructure:"tracking" json:"tracking" yaml:"tracking"`

	// Hashing behavior
	Scan ScanConfig `mapstructure:"scan" json:"scan" yaml:"scan"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log" yaml:"log"`
}

// RegistryConfig for the central database.
type RegistryConfig struct {
	Path        string        `mapstructure:"path" json:"path" yaml:"path"`                         // SQLite file
	LockTimeout time.Duration `mapstructure:"lock_timeout" json:"lock_timeout" yaml:"lock_timeout"` // Per-folder lock wait
}

// TrackingConfig for the store living inside each tracked folder side.
type TrackingConfig struct {
	Backend  string `mapstructure:"backend" json:"backend" yaml:"backend"`       // sqlite, json
	FileName string `mapstructure:"file_name" json:"file_name" yaml:"file_name"` // Empty = backend default
}

// ScanConfig for content hashing.
type ScanConfig struct {
	Algorithm string `mapstructure:"algorithm" json:"algorithm" yaml:"algorithm"`    // sha256, blake2b
	ChunkSize int    `mapstructure:"chunk_size" json:"chunk_size" yaml:"chunk_size"` // Read buffer in bytes
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`    // debug, info, warn, error
	Format string `mapstructure:"format" json:"format" yaml:"format"` // text, json
	File   string `mapstructure:"file" json:"file" yaml:"file"`       // Log file path (empty = stderr)
	Color  bool   `mapstructure:"color" json:"color" yaml:"color"`    // Colored levels on terminals
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".ofsync"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".ofsync")
	}

	return &Config{
		Registry: RegistryConfig{
			Path:        filepath.Join(dataDir, "offline_filesync_repo.db"),
			LockTimeout: 5 * time.Second,
		},
		Tracking: TrackingConfig{
			Backend: BackendSQLite,
		},
		Scan: ScanConfig{
			Algorithm: AlgorithmSHA256,
			ChunkSize: 8 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Registry,
		validation.Field(&c.Registry.Path, validation.Required),
		validation.Field(&c.Registry.LockTimeout, validation.Required, validation.Min(time.Millisecond)),
	); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	if err := validation.ValidateStruct(&c.Tracking,
		validation.Field(&c.Tracking.Backend, validation.Required, validation.In(BackendSQLite, BackendJSON)),
		validation.Field(&c.Tracking.FileName, validation.By(plainFileName)),
	); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}

	if err := validation.ValidateStruct(&c.Scan,
		validation.Field(&c.Scan.Algorithm, validation.Required, validation.In(AlgorithmSHA256, AlgorithmBLAKE2b)),
		validation.Field(&c.Scan.ChunkSize, validation.Required, validation.Min(512)),
	); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, validation.Required, validation.In("text", "json")),
	); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}

// plainFileName rejects tracking file names that would escape the folder.
func plainFileName(value interface{}) error {
	name, _ := value.(string)
	if name == "" {
		return nil
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("must be a plain file name, got %q", name)
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Registry.Path)}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
