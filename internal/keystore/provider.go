// Package keystore loads the ed25519 signing key from one of several
// backends: an environment variable, a plain key file, or an encrypted
// key file unlocked by a passphrase.
package keystore

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// Common errors
var (
	ErrKeyNotFound   = errors.New("signing key not found")
	ErrInvalidKey    = errors.New("invalid signing key")
	ErrBadPassphrase = errors.New("wrong passphrase")
)

// keyPrefix is the curve tag NEAR key strings carry.
const keyPrefix = "ed25519:"

// Provider defines the interface for key storage backends
type Provider interface {
	// Load retrieves the signing key
	Load(ctx context.Context) (ed25519.PrivateKey, error)

	// Name returns the provider name for logging
	Name() string
}

// ProviderType represents the type of key provider
type ProviderType string

const (
	ProviderTypeEnv       ProviderType = "env"
	ProviderTypeFile      ProviderType = "file"
	ProviderTypeEncrypted ProviderType = "encrypted"
)

// Config holds configuration for the key provider
type Config struct {
	// Provider type
	Provider ProviderType `json:"provider" toml:"provider"`

	// Env provider: variable holding the key string
	EnvVar string `json:"envVar" toml:"env_var"`

	// File providers: path to the key file
	KeyFile string `json:"keyFile" toml:"key_file"`

	// Encrypted provider: variable holding the passphrase
	PassphraseEnv string `json:"passphraseEnv" toml:"passphrase_env"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:      ProviderTypeEnv,
		EnvVar:        "PAYRELAY_SIGNER_KEY",
		PassphraseEnv: "PAYRELAY_KEY_PASSPHRASE",
	}
}

// NewProvider creates a key provider based on configuration
func NewProvider(cfg *Config) (Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Provider {
	case ProviderTypeEnv:
		envVar := cfg.EnvVar
		if envVar == "" {
			envVar = "PAYRELAY_SIGNER_KEY"
		}
		return NewEnvProvider(envVar), nil
	case ProviderTypeFile:
		return NewFileProvider(cfg.KeyFile)
	case ProviderTypeEncrypted:
		passEnv := cfg.PassphraseEnv
		if passEnv == "" {
			passEnv = "PAYRELAY_KEY_PASSPHRASE"
		}
		return NewEncryptedProvider(cfg.KeyFile, passEnv)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}

// DecodeKey parses a key string into a private key. It accepts the
// base58 form with or without the "ed25519:" prefix, holding either
// the 64-byte private key or the 32-byte seed.
func DecodeKey(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, keyPrefix)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key string", ErrInvalidKey)
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("%w: key is %d bytes, expected %d or %d",
			ErrInvalidKey, len(raw), ed25519.PrivateKeySize, ed25519.SeedSize)
	}
}

// EncodeKey renders a private key in the prefixed base58 form.
func EncodeKey(key ed25519.PrivateKey) string {
	return keyPrefix + base58.Encode(key)
}

// EnvProvider reads the key from an environment variable
type EnvProvider struct {
	envVar string
}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider(envVar string) *EnvProvider {
	return &EnvProvider{envVar: envVar}
}

// Load retrieves the key from the environment
func (p *EnvProvider) Load(ctx context.Context) (ed25519.PrivateKey, error) {
	value := os.Getenv(p.envVar)
	if value == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrKeyNotFound, p.envVar)
	}
	return DecodeKey(value)
}

// Name returns the provider name
func (p *EnvProvider) Name() string {
	return "env"
}

// FileProvider reads the key from a plain text file
type FileProvider struct {
	path string
}

// NewFileProvider creates a new plain key file provider
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: key file path is required", ErrInvalidKey)
	}
	return &FileProvider{path: path}, nil
}

// Load reads and parses the key file
func (p *FileProvider) Load(ctx context.Context) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, p.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return DecodeKey(string(data))
}

// Name returns the provider name
func (p *FileProvider) Name() string {
	return "file"
}
