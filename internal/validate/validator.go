// Package validate answers "can this account receive the token?"
// before a transfer is enqueued: does the account exist on chain, and
// does it hold a storage deposit with the token contract. Results are
// cached with a TTL so bursts of transfers to the same receiver cost
// one RPC round trip.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"go.payrelay.dev/internal/common/metrics"
)

// RPC is the slice of the chain client the validator needs.
type RPC interface {
	AccountExists(ctx context.Context, accountID string) (bool, error)
	CallFunction(ctx context.Context, contract, method string, args []byte) ([]byte, error)
}

// Result is the outcome of one recipient check.
type Result struct {
	// Exists reports whether the account is known to the chain
	Exists bool `json:"exists"`

	// Registered reports whether the account holds a storage deposit
	// with the token contract. Always false when Exists is false.
	Registered bool `json:"registered"`
}

// Config configures the validator cache.
type Config struct {
	// CacheSize bounds the number of cached results
	CacheSize int `json:"cacheSize" toml:"cache_size"`

	// CacheTTL is how long a result stays fresh. Registration state
	// changes rarely, and the executor tolerates stale positives.
	CacheTTL time.Duration `json:"cacheTTL" toml:"cache_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheSize: 1024,
		CacheTTL:  5 * time.Minute,
	}
}

// Validator checks recipient accounts against the chain.
type Validator struct {
	rpc           RPC
	tokenContract string
	cache         *expirable.LRU[string, Result]
}

// New creates a validator for one token contract.
func New(rpc RPC, tokenContract string, cfg *Config) (*Validator, error) {
	if rpc == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if tokenContract == "" {
		return nil, fmt.Errorf("token contract is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Validator{
		rpc:           rpc,
		tokenContract: tokenContract,
		cache:         expirable.NewLRU[string, Result](cfg.CacheSize, nil, cfg.CacheTTL),
	}, nil
}

// Check reports whether the account exists and is registered with the
// token contract. Results come from the cache when fresh.
func (v *Validator) Check(ctx context.Context, accountID string) (Result, error) {
	if cached, ok := v.cache.Get(accountID); ok {
		metrics.ValidationChecks.WithLabelValues("hit").Inc()
		return cached, nil
	}

	exists, err := v.rpc.AccountExists(ctx, accountID)
	if err != nil {
		metrics.ValidationChecks.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("view account %s: %w", accountID, err)
	}

	result := Result{Exists: exists}
	if exists {
		registered, err := v.registered(ctx, accountID)
		if err != nil {
			metrics.ValidationChecks.WithLabelValues("error").Inc()
			return Result{}, err
		}
		result.Registered = registered
	}

	v.cache.Add(accountID, result)
	metrics.ValidationChecks.WithLabelValues("miss").Inc()
	return result, nil
}

// registered asks the token contract for the account's storage
// balance. A null balance means no storage deposit.
func (v *Validator) registered(ctx context.Context, accountID string) (bool, error) {
	args, err := json.Marshal(map[string]string{"account_id": accountID})
	if err != nil {
		return false, fmt.Errorf("encode storage_balance_of args: %w", err)
	}

	raw, err := v.rpc.CallFunction(ctx, v.tokenContract, "storage_balance_of", args)
	if err != nil {
		return false, fmt.Errorf("storage_balance_of %s: %w", accountID, err)
	}

	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")), nil
}

// Invalidate drops one account from the cache. Called after transfers
// settle, since a first transfer registers the receiver.
func (v *Validator) Invalidate(accountID string) {
	v.cache.Remove(accountID)
}
