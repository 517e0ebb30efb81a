package neartx

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	"go.payrelay.dev/internal/chain"
)

// AccessKeyProvider supplies the current nonce and a recent block hash
// for the signing key. The broadcaster's RPC client implements this.
type AccessKeyProvider interface {
	AccessKey(ctx context.Context, accountID, publicKey string) (nonce uint64, blockHash [32]byte, err error)
}

// Signer assembles, serializes and signs transactions against the
// configured fungible-token contract. It implements chain.Signer.
type Signer struct {
	accountID string
	key       ed25519.PrivateKey
	publicKey [32]byte
	params    chain.Params
	keys      AccessKeyProvider
}

// NewSigner creates a signer for the given account and key.
func NewSigner(accountID string, key ed25519.PrivateKey, params chain.Params, keys AccessKeyProvider) (*Signer, error) {
	if accountID == "" {
		return nil, errors.New("signer account id must not be empty")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	if params.TokenContract == "" {
		return nil, errors.New("token contract must not be empty")
	}
	if keys == nil {
		return nil, errors.New("access key provider must not be nil")
	}

	s := &Signer{
		accountID: accountID,
		key:       key,
		params:    params,
		keys:      keys,
	}
	copy(s.publicKey[:], key.Public().(ed25519.PublicKey))
	return s, nil
}

// AccountID returns the signing account.
func (s *Signer) AccountID() string {
	return s.accountID
}

// PublicKey returns the signer's public key in its textual form,
// ed25519:<base58>.
func (s *Signer) PublicKey() string {
	return "ed25519:" + base58.Encode(s.publicKey[:])
}

// Sign fetches the key's nonce and a recent block hash, assembles one
// transaction carrying the actions, and signs the sha256 of its borsh
// serialization. The returned hash is that sha256, base58-encoded,
// which is exactly the transaction id the chain reports on success.
func (s *Signer) Sign(ctx context.Context, actions []chain.Action) (*chain.SignedTx, error) {
	if len(actions) == 0 {
		return nil, errors.New("no actions to sign")
	}

	nonce, blockHash, err := s.keys.AccessKey(ctx, s.accountID, s.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("fetch access key: %w", err)
	}

	tx := Transaction{
		SignerID:   s.accountID,
		PublicKey:  PublicKey{Data: s.publicKey},
		Nonce:      nonce + 1,
		ReceiverID: s.params.TokenContract,
		BlockHash:  blockHash,
		Actions:    make([]Action, 0, len(actions)),
	}
	for _, a := range actions {
		tx.Actions = append(tx.Actions, NewFunctionCall(a.Method, a.Args, a.Gas, a.Deposit))
	}

	raw, err := borsh.Serialize(tx)
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	hash := sha256.Sum256(raw)
	signature := ed25519.Sign(s.key, hash[:])

	signed := SignedTransaction{Transaction: tx}
	copy(signed.Signature.Data[:], signature)

	blob, err := borsh.Serialize(signed)
	if err != nil {
		return nil, fmt.Errorf("serialize signed transaction: %w", err)
	}

	return &chain.SignedTx{Blob: blob, Hash: base58.Encode(hash[:])}, nil
}
