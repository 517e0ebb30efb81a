package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.payrelay.dev/internal/chain/nearrpc"
	"go.payrelay.dev/internal/events"
	"go.payrelay.dev/internal/executor"
	"go.payrelay.dev/internal/keystore"
	"go.payrelay.dev/internal/queue"
	"go.payrelay.dev/internal/validate"
)

// Config holds all configuration for payrelay
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig `toml:"http"`

	// Store holds the durable queue database settings
	Store StoreConfig `toml:"store"`

	// Chain identifies the sending account and token contract
	Chain ChainConfig `toml:"chain"`

	// RPC configures the NEAR JSON-RPC client
	RPC nearrpc.Config `toml:"rpc"`

	// Signer configures how the signing key is loaded
	Signer keystore.Config `toml:"signer"`

	// Queue tunes enqueue behavior
	Queue queue.Config `toml:"queue"`

	// Executor tunes the batching loop
	Executor executor.Config `toml:"executor"`

	// Validation configures recipient pre-checks on enqueue
	Validation ValidationConfig `toml:"validation"`

	// Events configures the NATS event forwarder
	Events EventsConfig `toml:"events"`

	// DataDir is the base directory for local state
	DataDir string `toml:"data_dir"`

	// DevMode switches logging to human-readable output
	DevMode bool `toml:"dev_mode"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// StoreConfig holds queue database configuration
type StoreConfig struct {
	// Path is the sqlite database file
	Path string `toml:"path"`
}

// ChainConfig identifies the relay account and token contract
type ChainConfig struct {
	// SenderID is the account the relay signs transactions as
	SenderID string `toml:"sender_id"`

	// TokenContract is the fungible-token contract account id
	TokenContract string `toml:"token_contract"`
}

// ValidationConfig holds recipient pre-validation configuration
type ValidationConfig struct {
	// Enabled turns on the on-chain recipient check for enqueue
	// requests that omit the storage-deposit flag
	Enabled bool `toml:"enabled"`

	validate.Config
}

// EventsConfig holds event forwarding configuration
type EventsConfig struct {
	// Enabled turns on mirroring of queue events to NATS
	Enabled bool `toml:"enabled"`

	events.ForwarderConfig
}

// Default returns the configuration defaults before any file or
// environment overrides.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Path: "./data/payrelay.db",
		},
		Chain:    ChainConfig{},
		RPC:      *nearrpc.DefaultConfig(),
		Signer:   *keystore.DefaultConfig(),
		Queue:    *queue.DefaultConfig(),
		Executor: *executor.DefaultConfig(),
		Validation: ValidationConfig{
			Enabled: true,
			Config:  *validate.DefaultConfig(),
		},
		Events: EventsConfig{
			Enabled:         false,
			ForwarderConfig: *events.DefaultForwarderConfig(),
		},
		DataDir: "./data",
		DevMode: false,
	}
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides config fields from PAYRELAY_* environment
// variables. Unset variables leave the current value in place.
func applyEnv(cfg *Config) {
	cfg.HTTP.Port = getEnvInt("PAYRELAY_HTTP_PORT", cfg.HTTP.Port)
	cfg.HTTP.CORSOrigins = getEnvSlice("PAYRELAY_CORS_ORIGINS", cfg.HTTP.CORSOrigins)

	cfg.Store.Path = getEnv("PAYRELAY_DB_PATH", cfg.Store.Path)

	cfg.Chain.SenderID = getEnv("PAYRELAY_SENDER_ID", cfg.Chain.SenderID)
	cfg.Chain.TokenContract = getEnv("PAYRELAY_TOKEN_CONTRACT", cfg.Chain.TokenContract)

	cfg.RPC.URL = getEnv("PAYRELAY_RPC_URL", cfg.RPC.URL)
	cfg.RPC.Timeout = getEnvDuration("PAYRELAY_RPC_TIMEOUT", cfg.RPC.Timeout)
	cfg.RPC.RateLimit = getEnvFloat("PAYRELAY_RPC_RATE_LIMIT", cfg.RPC.RateLimit)
	cfg.RPC.RateBurst = getEnvInt("PAYRELAY_RPC_RATE_BURST", cfg.RPC.RateBurst)

	cfg.Signer.Provider = keystore.ProviderType(getEnv("PAYRELAY_SIGNER_PROVIDER", string(cfg.Signer.Provider)))
	cfg.Signer.KeyFile = getEnv("PAYRELAY_SIGNER_KEY_FILE", cfg.Signer.KeyFile)

	cfg.Queue.Coalesce = getEnvBool("PAYRELAY_QUEUE_COALESCE", cfg.Queue.Coalesce)
	cfg.Queue.AssumeRegistered = getEnvBool("PAYRELAY_ASSUME_REGISTERED", cfg.Queue.AssumeRegistered)

	cfg.Executor.BatchSize = getEnvInt("PAYRELAY_BATCH_SIZE", cfg.Executor.BatchSize)
	cfg.Executor.Interval = getEnvDuration("PAYRELAY_TICK_INTERVAL", cfg.Executor.Interval)
	cfg.Executor.MinQueueToProcess = getEnvInt("PAYRELAY_MIN_QUEUE_TO_PROCESS", cfg.Executor.MinQueueToProcess)
	cfg.Executor.MaxRetries = getEnvInt("PAYRELAY_MAX_RETRIES", cfg.Executor.MaxRetries)
	cfg.Executor.MaxActionsPerTransaction = getEnvInt("PAYRELAY_MAX_ACTIONS_PER_TX", cfg.Executor.MaxActionsPerTransaction)

	cfg.Validation.Enabled = getEnvBool("PAYRELAY_VALIDATION_ENABLED", cfg.Validation.Enabled)

	cfg.Events.Enabled = getEnvBool("PAYRELAY_NATS_ENABLED", cfg.Events.Enabled)
	cfg.Events.URL = getEnv("PAYRELAY_NATS_URL", cfg.Events.URL)

	cfg.DataDir = getEnv("PAYRELAY_DATA_DIR", cfg.DataDir)
	cfg.DevMode = getEnvBool("PAYRELAY_DEV", cfg.DevMode)
}

// Validate checks the fields a running relay cannot do without.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Store.Path == "" {
		return errors.New("store path must not be empty")
	}
	if c.Chain.SenderID == "" {
		return errors.New("chain sender_id must be set")
	}
	if c.Chain.TokenContract == "" {
		return errors.New("chain token_contract must be set")
	}
	if c.RPC.URL == "" {
		return errors.New("rpc url must not be empty")
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
