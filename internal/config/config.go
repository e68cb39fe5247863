// Package config loads the server configuration from a YAML file. Keys are
// uppercase in the file; unset keys fall back to defaults. DIMENSION and
// DB_PATH are required.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bhakti-db/bhakti/internal/errors"
)

// Defaults applied before the file is parsed.
const (
	DefaultEngine     = "dipamkara"
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 23860
	DefaultEOF        = "<eof>"
	DefaultTimeout    = 4.0
	DefaultBufferSize = 256
)

// ServerConfig is the complete server configuration.
type ServerConfig struct {
	// Dimension every stored vector must have. Required.
	Dimension int `yaml:"DIMENSION"`
	// DBPath is the root directory for persistence. Required.
	DBPath string `yaml:"DB_PATH"`
	// DBEngine selects the engine implementation.
	DBEngine string `yaml:"DB_ENGINE"`
	// Cached loads all documents into memory at startup.
	Cached bool `yaml:"CACHED"`
	// Host and Port form the bind address.
	Host string `yaml:"HOST"`
	Port int    `yaml:"PORT"`
	// EOF is the frame terminator.
	EOF string `yaml:"EOF"`
	// Timeout is the per-read timeout in seconds.
	Timeout float64 `yaml:"TIMEOUT"`
	// BufferSize is the read chunk size in bytes.
	BufferSize int `yaml:"BUFFER_SIZE"`
	// Verbose enables debug logging.
	Verbose bool `yaml:"VERBOSE"`
}

// New returns a config with every optional key at its default.
func New() *ServerConfig {
	return &ServerConfig{
		DBEngine:   DefaultEngine,
		Host:       DefaultHost,
		Port:       DefaultPort,
		EOF:        DefaultEOF,
		Timeout:    DefaultTimeout,
		BufferSize: DefaultBufferSize,
	}
}

// Load reads and validates the configuration file.
func Load(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeConfigNotFound, "config file %s not found", path)
		}
		return nil, errors.Wrap(errors.ErrCodeConfigNotFound, err)
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces required keys and ranges.
func (c *ServerConfig) Validate() error {
	if c.Dimension <= 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "DIMENSION must be a positive integer, got %d", c.Dimension)
	}
	if c.DBPath == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "DB_PATH is required", nil)
	}
	if c.DBEngine != DefaultEngine {
		return errors.Newf(errors.ErrCodeEngineNotSupported, "db engine %q not supported", c.DBEngine)
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "PORT %d out of range", c.Port)
	}
	if c.EOF == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "EOF must not be empty", nil)
	}
	if c.Timeout <= 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "TIMEOUT must be positive, got %v", c.Timeout)
	}
	if c.BufferSize <= 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "BUFFER_SIZE must be positive, got %d", c.BufferSize)
	}
	return nil
}

// Addr returns the bind address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ReadTimeout converts the Timeout seconds into a duration.
func (c *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}
