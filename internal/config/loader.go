package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"go.payrelay.dev/internal/keystore"
)

// TOMLConfig represents the TOML configuration file structure.
// Durations are strings in Go syntax, e.g. "500ms" or "30s".
type TOMLConfig struct {
	HTTP       TOMLHTTPConfig       `toml:"http"`
	Store      TOMLStoreConfig      `toml:"store"`
	Chain      TOMLChainConfig      `toml:"chain"`
	RPC        TOMLRPCConfig        `toml:"rpc"`
	Signer     TOMLSignerConfig     `toml:"signer"`
	Queue      TOMLQueueConfig      `toml:"queue"`
	Executor   TOMLExecutorConfig   `toml:"executor"`
	Validation TOMLValidationConfig `toml:"validation"`
	Events     TOMLEventsConfig     `toml:"events"`
	DataDir    string               `toml:"data_dir"`
	DevMode    bool                 `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLStoreConfig represents queue database configuration in TOML
type TOMLStoreConfig struct {
	Path string `toml:"path"`
}

// TOMLChainConfig represents chain identity configuration in TOML
type TOMLChainConfig struct {
	SenderID      string `toml:"sender_id"`
	TokenContract string `toml:"token_contract"`
}

// TOMLRPCConfig represents RPC client configuration in TOML
type TOMLRPCConfig struct {
	URL                       string  `toml:"url"`
	Timeout                   string  `toml:"timeout"`
	RateLimit                 float64 `toml:"rate_limit"`
	RateBurst                 int     `toml:"rate_burst"`
	CircuitBreakerEnabled     bool    `toml:"circuit_breaker_enabled"`
	CircuitBreakerRequests    uint32  `toml:"circuit_breaker_requests"`
	CircuitBreakerInterval    string  `toml:"circuit_breaker_interval"`
	CircuitBreakerRatio       float64 `toml:"circuit_breaker_ratio"`
	CircuitBreakerTimeout     string  `toml:"circuit_breaker_timeout"`
	CircuitBreakerMinRequests uint32  `toml:"circuit_breaker_min_requests"`
}

// TOMLSignerConfig represents key provider configuration in TOML
type TOMLSignerConfig struct {
	Provider      string `toml:"provider"`
	EnvVar        string `toml:"env_var"`
	KeyFile       string `toml:"key_file"`
	PassphraseEnv string `toml:"passphrase_env"`
}

// TOMLQueueConfig represents queue behavior configuration in TOML
type TOMLQueueConfig struct {
	Coalesce         bool `toml:"coalesce"`
	AssumeRegistered bool `toml:"assume_registered"`
}

// TOMLExecutorConfig represents executor configuration in TOML
type TOMLExecutorConfig struct {
	BatchSize                int    `toml:"batch_size"`
	Interval                 string `toml:"interval"`
	MinQueueToProcess        int    `toml:"min_queue_to_process"`
	MaxRetries               int    `toml:"max_retries"`
	MaxActionsPerTransaction int    `toml:"max_actions_per_transaction"`
}

// TOMLValidationConfig represents recipient validation configuration in TOML
type TOMLValidationConfig struct {
	Enabled   bool   `toml:"enabled"`
	CacheSize int    `toml:"cache_size"`
	CacheTTL  string `toml:"cache_ttl"`
}

// TOMLEventsConfig represents event forwarding configuration in TOML
type TOMLEventsConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	StreamName    string `toml:"stream_name"`
	SubjectPrefix string `toml:"subject_prefix"`
	BufferSize    int    `toml:"buffer_size"`
	MaxAge        string `toml:"max_age"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"payrelay.toml",
	"./config/config.toml",
	"/etc/payrelay/config.toml",
}

// LoadFromFile loads configuration from a TOML file. Settings absent
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	tomlCfg := tomlDefaults()

	if _, err := toml.DecodeFile(path, tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with
// env vars. The file is taken from PAYRELAY_CONFIG or the first hit in
// ConfigPaths; with no file present only defaults and env vars apply.
func LoadWithFile() (*Config, error) {
	configPath := os.Getenv("PAYRELAY_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	cfg := Default()
	if configPath != "" {
		var err error
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// tomlDefaults renders the default configuration in the file's shape,
// so decoding a partial file overlays only the keys it defines.
func tomlDefaults() *TOMLConfig {
	cfg := Default()
	return &TOMLConfig{
		HTTP: TOMLHTTPConfig{
			Port:        cfg.HTTP.Port,
			CORSOrigins: cfg.HTTP.CORSOrigins,
		},
		Store: TOMLStoreConfig{
			Path: cfg.Store.Path,
		},
		Chain: TOMLChainConfig{
			SenderID:      cfg.Chain.SenderID,
			TokenContract: cfg.Chain.TokenContract,
		},
		RPC: TOMLRPCConfig{
			URL:                       cfg.RPC.URL,
			Timeout:                   cfg.RPC.Timeout.String(),
			RateLimit:                 cfg.RPC.RateLimit,
			RateBurst:                 cfg.RPC.RateBurst,
			CircuitBreakerEnabled:     cfg.RPC.CircuitBreakerEnabled,
			CircuitBreakerRequests:    cfg.RPC.CircuitBreakerRequests,
			CircuitBreakerInterval:    cfg.RPC.CircuitBreakerInterval.String(),
			CircuitBreakerRatio:       cfg.RPC.CircuitBreakerRatio,
			CircuitBreakerTimeout:     cfg.RPC.CircuitBreakerTimeout.String(),
			CircuitBreakerMinRequests: cfg.RPC.CircuitBreakerMinRequests,
		},
		Signer: TOMLSignerConfig{
			Provider:      string(cfg.Signer.Provider),
			EnvVar:        cfg.Signer.EnvVar,
			KeyFile:       cfg.Signer.KeyFile,
			PassphraseEnv: cfg.Signer.PassphraseEnv,
		},
		Queue: TOMLQueueConfig{
			Coalesce:         cfg.Queue.Coalesce,
			AssumeRegistered: cfg.Queue.AssumeRegistered,
		},
		Executor: TOMLExecutorConfig{
			BatchSize:                cfg.Executor.BatchSize,
			Interval:                 cfg.Executor.Interval.String(),
			MinQueueToProcess:        cfg.Executor.MinQueueToProcess,
			MaxRetries:               cfg.Executor.MaxRetries,
			MaxActionsPerTransaction: cfg.Executor.MaxActionsPerTransaction,
		},
		Validation: TOMLValidationConfig{
			Enabled:   cfg.Validation.Enabled,
			CacheSize: cfg.Validation.CacheSize,
			CacheTTL:  cfg.Validation.CacheTTL.String(),
		},
		Events: TOMLEventsConfig{
			Enabled:       cfg.Events.Enabled,
			URL:           cfg.Events.URL,
			StreamName:    cfg.Events.StreamName,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			BufferSize:    cfg.Events.BufferSize,
			MaxAge:        cfg.Events.MaxAge.String(),
		},
		DataDir: cfg.DataDir,
		DevMode: cfg.DevMode,
	}
}

// tomlConfigToConfig converts the file representation into the internal
// Config struct, parsing duration strings.
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := Default()

	cfg.HTTP.Port = tc.HTTP.Port
	cfg.HTTP.CORSOrigins = tc.HTTP.CORSOrigins

	cfg.Store.Path = tc.Store.Path

	cfg.Chain.SenderID = tc.Chain.SenderID
	cfg.Chain.TokenContract = tc.Chain.TokenContract

	cfg.RPC.URL = tc.RPC.URL
	cfg.RPC.RateLimit = tc.RPC.RateLimit
	cfg.RPC.RateBurst = tc.RPC.RateBurst
	cfg.RPC.CircuitBreakerEnabled = tc.RPC.CircuitBreakerEnabled
	cfg.RPC.CircuitBreakerRequests = tc.RPC.CircuitBreakerRequests
	cfg.RPC.CircuitBreakerRatio = tc.RPC.CircuitBreakerRatio
	cfg.RPC.CircuitBreakerMinRequests = tc.RPC.CircuitBreakerMinRequests

	cfg.Signer.Provider = keystore.ProviderType(tc.Signer.Provider)
	cfg.Signer.EnvVar = tc.Signer.EnvVar
	cfg.Signer.KeyFile = tc.Signer.KeyFile
	cfg.Signer.PassphraseEnv = tc.Signer.PassphraseEnv

	cfg.Queue.Coalesce = tc.Queue.Coalesce
	cfg.Queue.AssumeRegistered = tc.Queue.AssumeRegistered

	cfg.Executor.BatchSize = tc.Executor.BatchSize
	cfg.Executor.MinQueueToProcess = tc.Executor.MinQueueToProcess
	cfg.Executor.MaxRetries = tc.Executor.MaxRetries
	cfg.Executor.MaxActionsPerTransaction = tc.Executor.MaxActionsPerTransaction

	cfg.Validation.Enabled = tc.Validation.Enabled
	cfg.Validation.CacheSize = tc.Validation.CacheSize

	cfg.Events.Enabled = tc.Events.Enabled
	cfg.Events.URL = tc.Events.URL
	cfg.Events.StreamName = tc.Events.StreamName
	cfg.Events.SubjectPrefix = tc.Events.SubjectPrefix
	cfg.Events.BufferSize = tc.Events.BufferSize

	cfg.DataDir = tc.DataDir
	cfg.DevMode = tc.DevMode

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"rpc.timeout", tc.RPC.Timeout, &cfg.RPC.Timeout},
		{"rpc.circuit_breaker_interval", tc.RPC.CircuitBreakerInterval, &cfg.RPC.CircuitBreakerInterval},
		{"rpc.circuit_breaker_timeout", tc.RPC.CircuitBreakerTimeout, &cfg.RPC.CircuitBreakerTimeout},
		{"executor.interval", tc.Executor.Interval, &cfg.Executor.Interval},
		{"validation.cache_ttl", tc.Validation.CacheTTL, &cfg.Validation.CacheTTL},
		{"events.max_age", tc.Events.MaxAge, &cfg.Events.MaxAge},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %q", d.key, d.value)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# payrelay configuration
# Environment variables override these settings

data_dir = "./data"
dev_mode = false

[http]
port = 8080
cors_origins = ["*"]

[store]
path = "./data/payrelay.db"

[chain]
sender_id = ""       # account the relay signs as, e.g. relay.near
token_contract = ""  # NEP-141 contract, e.g. token.near

[rpc]
url = "https://rpc.testnet.near.org"
timeout = "30s"
rate_limit = 10.0
rate_burst = 20
circuit_breaker_enabled = true
circuit_breaker_requests = 5
circuit_breaker_interval = "60s"
circuit_breaker_ratio = 0.5
circuit_breaker_timeout = "10s"
circuit_breaker_min_requests = 10

[signer]
provider = "env"  # env, file, or encrypted
env_var = "PAYRELAY_SIGNER_KEY"
key_file = ""
passphrase_env = "PAYRELAY_KEY_PASSPHRASE"

[queue]
coalesce = true
assume_registered = false

[executor]
batch_size = 100
interval = "500ms"
min_queue_to_process = 1
max_retries = 5
max_actions_per_transaction = 100

[validation]
enabled = true
cache_size = 1024
cache_ttl = "5m"

[events]
enabled = false
url = "nats://localhost:4222"
stream_name = "PAYRELAY_EVENTS"
subject_prefix = "payrelay.queue"
buffer_size = 256
max_age = "24h"
`

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
