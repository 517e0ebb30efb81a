package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// argon2id parameters for passphrase-derived keys. Memory is in KiB.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	saltSize   = 16
)

// envelope is the on-disk form of an encrypted key file.
type envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	Time       uint32 `json:"time"`
	Memory     uint32 `json:"memory"`
	Threads    uint8  `json:"threads"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptedProvider reads the key from an encrypted file, unlocking it
// with a passphrase taken from the environment
type EncryptedProvider struct {
	path          string
	passphraseEnv string
}

// NewEncryptedProvider creates a new encrypted key file provider
func NewEncryptedProvider(path, passphraseEnv string) (*EncryptedProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: key file path is required", ErrInvalidKey)
	}
	return &EncryptedProvider{path: path, passphraseEnv: passphraseEnv}, nil
}

// Load reads the envelope, derives the unlock key and decrypts
func (p *EncryptedProvider) Load(ctx context.Context) (ed25519.PrivateKey, error) {
	passphrase := os.Getenv(p.passphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrBadPassphrase, p.passphraseEnv)
	}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, p.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if env.KDF != "argon2id" {
		return nil, fmt.Errorf("%w: unsupported kdf %q", ErrInvalidKey, env.KDF)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonceRaw) != 24 {
		return nil, fmt.Errorf("%w: nonce is %d bytes, expected 24", ErrInvalidKey, len(nonceRaw))
	}

	var unlockKey [32]byte
	copy(unlockKey[:], argon2.IDKey([]byte(passphrase), salt, env.Time, env.Memory, env.Threads, 32))

	var nonce [24]byte
	copy(nonce[:], nonceRaw)

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &unlockKey)
	if !ok {
		return nil, ErrBadPassphrase
	}

	return DecodeKey(string(plaintext))
}

// Name returns the provider name
func (p *EncryptedProvider) Name() string {
	return "encrypted"
}

// WriteEncrypted seals a key under a passphrase and writes the
// envelope to path. Used by provisioning tooling; the daemon only
// reads.
func WriteEncrypted(path, passphrase string, key ed25519.PrivateKey) error {
	if passphrase == "" {
		return fmt.Errorf("%w: passphrase is required", ErrBadPassphrase)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	var unlockKey [32]byte
	copy(unlockKey[:], argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, 32))

	ciphertext := secretbox.Seal(nil, []byte(EncodeKey(key)), &nonce, &unlockKey)

	data, err := json.Marshal(envelope{
		Version:    1,
		KDF:        "argon2id",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Time:       kdfTime,
		Memory:     kdfMemory,
		Threads:    kdfThreads,
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return fmt.Errorf("serialize key file: %w", err)
	}

	// Write atomically
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename key file: %w", err)
	}

	return nil
}
