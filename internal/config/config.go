package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vjranagit/hearth/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Demo    DemoConfig    `json:"demo"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `json:"listen_addr"`
	Timeout    time.Duration `json:"timeout"`
}

// StorageConfig holds statistics store configuration
type StorageConfig struct {
	Path             string `json:"path"`
	CompressionLevel int    `json:"compression_level"`
	BlockCacheSize   int    `json:"block_cache_size"`
}

// DemoConfig controls the demo fixture seeded at startup
type DemoConfig struct {
	// Enabled turns on seeding of demo issues and statistics
	Enabled bool `json:"enabled"`
	// Seed fixes the random seed; 0 means time-seeded
	Seed int64 `json:"seed"`
}

// DefaultConfig returns configuration from the environment, with
// defaults for everything unset
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":8123"),
			Timeout:    getEnvDuration("SERVER_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Path:             getEnv("STORAGE_PATH", "./data"),
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 3),
			BlockCacheSize:   getEnvInt("BLOCK_CACHE_SIZE", 256),
		},
		Demo: DemoConfig{
			Enabled: getEnvBool("DEMO_MODE", false),
			Seed:    getEnvInt64("DEMO_SEED", 0),
		},
	}
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		BlockCacheSize:   c.Storage.BlockCacheSize,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be positive")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Storage.BlockCacheSize <= 0 {
		return fmt.Errorf("block cache size must be positive")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intVal int64
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
