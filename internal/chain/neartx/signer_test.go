package neartx

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	"go.payrelay.dev/internal/chain"
)

// mockKeyProvider returns a fixed nonce and block hash.
type mockKeyProvider struct {
	nonce     uint64
	blockHash [32]byte
	err       error

	gotAccount string
	gotKey     string
}

func (m *mockKeyProvider) AccessKey(_ context.Context, accountID, publicKey string) (uint64, [32]byte, error) {
	m.gotAccount = accountID
	m.gotKey = publicKey
	return m.nonce, m.blockHash, m.err
}

func testKey() ed25519.PrivateKey {
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	return ed25519.NewKeyFromSeed(seed)
}

func newTestSigner(t *testing.T, keys AccessKeyProvider) *Signer {
	t.Helper()
	s, err := NewSigner("payer.near", testKey(), chain.DefaultParams("token.near"), keys)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return s
}

func TestSign_RoundTrip(t *testing.T) {
	provider := &mockKeyProvider{nonce: 41, blockHash: [32]byte{1, 2, 3}}
	s := newTestSigner(t, provider)
	p := chain.DefaultParams("token.near")

	deposit, _ := chain.StorageDepositAction(p, "alice.near")
	transfer, _ := chain.TransferAction(p, "alice.near", "100", "")

	signed, err := s.Sign(context.Background(), []chain.Action{deposit, transfer})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(signed.Blob) == 0 {
		t.Fatal("Expected non-empty blob")
	}
	if provider.gotAccount != "payer.near" {
		t.Errorf("Expected access key lookup for payer.near, got %s", provider.gotAccount)
	}
	if !strings.HasPrefix(provider.gotKey, "ed25519:") {
		t.Errorf("Expected textual public key, got %s", provider.gotKey)
	}

	var decoded SignedTransaction
	if err := borsh.Deserialize(&decoded, signed.Blob); err != nil {
		t.Fatalf("Failed to deserialize blob: %v", err)
	}

	tx := decoded.Transaction
	if tx.SignerID != "payer.near" {
		t.Errorf("Expected signer payer.near, got %s", tx.SignerID)
	}
	if tx.ReceiverID != "token.near" {
		t.Errorf("Expected receiver token.near, got %s", tx.ReceiverID)
	}
	if tx.Nonce != 42 {
		t.Errorf("Expected nonce 42, got %d", tx.Nonce)
	}
	if tx.BlockHash != provider.blockHash {
		t.Error("Expected block hash carried into transaction")
	}
	if len(tx.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(tx.Actions))
	}
	if tx.Actions[0].FunctionCall.MethodName != chain.MethodStorageDeposit {
		t.Errorf("Expected storage_deposit first, got %s", tx.Actions[0].FunctionCall.MethodName)
	}
	if tx.Actions[1].FunctionCall.MethodName != chain.MethodFTTransfer {
		t.Errorf("Expected ft_transfer second, got %s", tx.Actions[1].FunctionCall.MethodName)
	}
	if tx.Actions[1].FunctionCall.Deposit.String() != "1" {
		t.Errorf("Expected one-unit transfer deposit, got %s", tx.Actions[1].FunctionCall.Deposit.String())
	}

	// The content hash is the sha256 of the unsigned body.
	raw, err := borsh.Serialize(tx)
	if err != nil {
		t.Fatalf("Failed to re-serialize transaction: %v", err)
	}
	digest := sha256.Sum256(raw)
	if base58.Encode(digest[:]) != signed.Hash {
		t.Error("Expected content hash to match sha256 of the transaction body")
	}

	// The signature covers the same digest.
	pub := testKey().Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, digest[:], decoded.Signature.Data[:]) {
		t.Error("Expected valid signature over the transaction digest")
	}
}

func TestSign_Deterministic(t *testing.T) {
	provider := &mockKeyProvider{nonce: 7}
	s := newTestSigner(t, provider)
	p := chain.DefaultParams("token.near")

	action, _ := chain.TransferAction(p, "bob.near", "5", "memo")

	first, err := s.Sign(context.Background(), []chain.Action{action})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	second, err := s.Sign(context.Background(), []chain.Action{action})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !bytes.Equal(first.Blob, second.Blob) {
		t.Error("Expected identical blobs for identical inputs")
	}
	if first.Hash != second.Hash {
		t.Errorf("Expected identical hashes, got %s and %s", first.Hash, second.Hash)
	}
}

func TestSign_NoActions(t *testing.T) {
	s := newTestSigner(t, &mockKeyProvider{})

	if _, err := s.Sign(context.Background(), nil); err == nil {
		t.Error("Expected error for empty action list")
	}
}

func TestSign_KeyProviderError(t *testing.T) {
	provider := &mockKeyProvider{err: errors.New("node unavailable")}
	s := newTestSigner(t, provider)
	p := chain.DefaultParams("token.near")
	action, _ := chain.TransferAction(p, "bob.near", "5", "")

	_, err := s.Sign(context.Background(), []chain.Action{action})
	if err == nil {
		t.Fatal("Expected error from key provider")
	}
	if !strings.Contains(err.Error(), "node unavailable") {
		t.Errorf("Expected wrapped provider error, got %v", err)
	}
}

func TestNewSigner_Validation(t *testing.T) {
	keys := &mockKeyProvider{}
	params := chain.DefaultParams("token.near")

	if _, err := NewSigner("", testKey(), params, keys); err == nil {
		t.Error("Expected error for empty account id")
	}
	if _, err := NewSigner("payer.near", []byte("short"), params, keys); err == nil {
		t.Error("Expected error for malformed key")
	}
	if _, err := NewSigner("payer.near", testKey(), chain.DefaultParams(""), keys); err == nil {
		t.Error("Expected error for empty token contract")
	}
	if _, err := NewSigner("payer.near", testKey(), params, nil); err == nil {
		t.Error("Expected error for nil key provider")
	}
}

func TestNewFunctionCall_NilDeposit(t *testing.T) {
	action := NewFunctionCall("ft_transfer", []byte("{}"), 1, nil)
	if action.FunctionCall.Deposit.Sign() != 0 {
		t.Errorf("Expected zero deposit, got %s", action.FunctionCall.Deposit.String())
	}
	if action.Enum != actionFunctionCall {
		t.Errorf("Expected FunctionCall discriminant, got %d", action.Enum)
	}
}
