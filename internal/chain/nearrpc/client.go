// Package nearrpc is the JSON-RPC client for a NEAR node. It carries
// the chain-facing capabilities the rest of the system consumes:
// broadcasting signed transactions (chain.Broadcaster), access-key
// lookups for the signer, and the read-only account and contract
// queries the validator uses.
//
// Every call passes through a client-side rate limiter and a circuit
// breaker. Node-reported errors do not trip the breaker; only
// transport failures do.
package nearrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"go.payrelay.dev/internal/chain"
	"go.payrelay.dev/internal/common/metrics"
)

// Config configures the RPC client.
type Config struct {
	// URL is the node's JSON-RPC endpoint
	URL string `toml:"url"`

	// Timeout bounds one HTTP round trip. broadcast_tx_commit blocks
	// until the transaction reaches finality, so this must cover a few
	// block times.
	Timeout time.Duration `toml:"timeout"`

	// RateLimit is the sustained request rate per second; zero
	// disables client-side limiting
	RateLimit float64 `toml:"rate_limit"`

	// RateBurst is the limiter's burst allowance
	RateBurst int `toml:"rate_burst"`

	// CircuitBreaker settings
	CircuitBreakerEnabled     bool          `toml:"circuit_breaker_enabled"`
	CircuitBreakerRequests    uint32        `toml:"circuit_breaker_requests"`     // Max requests allowed half-open
	CircuitBreakerInterval    time.Duration `toml:"circuit_breaker_interval"`     // Stats window
	CircuitBreakerRatio       float64       `toml:"circuit_breaker_ratio"`        // Failure ratio to trip
	CircuitBreakerTimeout     time.Duration `toml:"circuit_breaker_timeout"`      // Time in open state before half-open
	CircuitBreakerMinRequests uint32        `toml:"circuit_breaker_min_requests"` // Min requests before evaluating ratio
}

// DefaultConfig returns sensible defaults against a public testnet
// node.
func DefaultConfig() *Config {
	return &Config{
		URL:                       "https://rpc.testnet.near.org",
		Timeout:                   30 * time.Second,
		RateLimit:                 10,
		RateBurst:                 20,
		CircuitBreakerEnabled:     true,
		CircuitBreakerRequests:    5,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     10 * time.Second,
		CircuitBreakerMinRequests: 10,
	}
}

// Client talks JSON-RPC 2.0 to one NEAR node.
type Client struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	nextID  atomic.Uint64
}

// New creates a client from config.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &Client{
		url: cfg.URL,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.CircuitBreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "near-rpc",
			MaxRequests: cfg.CircuitBreakerRequests,
			Interval:    cfg.CircuitBreakerInterval,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cfg.CircuitBreakerRatio
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Info("Circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String())

				var stateValue float64
				switch to {
				case gobreaker.StateClosed:
					stateValue = float64(metrics.CircuitBreakerClosed)
				case gobreaker.StateOpen:
					stateValue = float64(metrics.CircuitBreakerOpen)
					metrics.RPCCircuitBreakerTrips.Inc()
				case gobreaker.StateHalfOpen:
					stateValue = float64(metrics.CircuitBreakerHalfOpen)
				}
				metrics.RPCCircuitBreakerState.Set(stateValue)
			},
		})
	}

	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a node-reported error: the request arrived and the node
// answered with a structured refusal.
type RPCError struct {
	Name    string          `json:"name"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Cause   *RPCErrorCause  `json:"cause"`
}

// RPCErrorCause names the specific refusal.
type RPCErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info"`
}

func (e *RPCError) Error() string {
	if e.Cause != nil && e.Cause.Name != "" {
		return fmt.Sprintf("rpc error %s: %s", e.Cause.Name, e.Message)
	}
	return fmt.Sprintf("rpc error %s: %s", e.Name, e.Message)
}

// call performs one JSON-RPC round trip. The returned error is
// transport-level only; node-reported errors come back as *RPCError.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, *RPCError, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	started := time.Now()
	var resp *rpcResponse
	var err error

	if c.breaker != nil {
		var result interface{}
		result, err = c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, method, params)
		})
		if r, ok := result.(*rpcResponse); ok {
			resp = r
		}
	} else {
		resp, err = c.do(ctx, method, params)
	}

	metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.RPCRequests.WithLabelValues(method, "error").Inc()
		return nil, nil, err
	}
	if resp.Error != nil {
		metrics.RPCRequests.WithLabelValues(method, "error").Inc()
		return nil, resp.Error, nil
	}

	metrics.RPCRequests.WithLabelValues(method, "success").Inc()
	return resp.Result, nil, nil
}

// do performs the HTTP exchange and decodes the envelope.
func (c *Client) do(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("rpc %s: unexpected status %d", method, httpResp.StatusCode)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Send broadcasts a signed transaction and waits for its execution
// outcome. Implements chain.Broadcaster: failures come back as
// structured outcomes, never as panics or swallowed errors.
func (c *Client) Send(ctx context.Context, signedTx []byte) chain.Outcome {
	params := []string{base64.StdEncoding.EncodeToString(signedTx)}

	result, rpcErr, err := c.call(ctx, "broadcast_tx_commit", params)
	if err != nil {
		return chain.TransportFailure(err)
	}
	if rpcErr != nil {
		return mapRPCError(rpcErr)
	}
	return mapExecutionResult(result)
}

// mapRPCError classifies a node refusal of a broadcast.
func mapRPCError(rpcErr *RPCError) chain.Outcome {
	causeName := ""
	if rpcErr.Cause != nil {
		causeName = rpcErr.Cause.Name
	}

	switch causeName {
	case "TIMEOUT_ERROR":
		// The node gave up waiting for finality; the transaction may
		// still land. Retryable, resolved by content-hash dedup.
		return chain.TransportFailure(rpcErr)
	case "INTERNAL_ERROR":
		return chain.TransportFailure(rpcErr)
	case "INVALID_TRANSACTION":
		return chain.InvalidTx(invalidTxKind(rpcErr))
	}

	if rpcErr.Name == "INTERNAL_ERROR" {
		return chain.TransportFailure(rpcErr)
	}
	return chain.InvalidTx(invalidTxKind(rpcErr))
}

// invalidTxKind digs the specific rejection kind out of the error
// payload, e.g. InvalidNonce or Expired.
func invalidTxKind(rpcErr *RPCError) string {
	var data struct {
		TxExecutionError struct {
			InvalidTxError json.RawMessage `json:"InvalidTxError"`
		} `json:"TxExecutionError"`
	}
	if len(rpcErr.Data) > 0 && json.Unmarshal(rpcErr.Data, &data) == nil {
		if kind := firstKey(data.TxExecutionError.InvalidTxError); kind != "" {
			return kind
		}
	}
	if rpcErr.Cause != nil {
		if kind := firstKey(rpcErr.Cause.Info); kind != "" && rpcErr.Cause.Name == "" {
			return kind
		}
		if rpcErr.Cause.Name != "" {
			return rpcErr.Cause.Name
		}
	}
	if rpcErr.Name != "" {
		return rpcErr.Name
	}
	return "InvalidTransaction"
}

// executionResult is the slice of a FinalExecutionOutcome the outcome
// mapping needs.
type executionResult struct {
	Status struct {
		SuccessValue *string         `json:"SuccessValue"`
		Failure      json.RawMessage `json:"Failure"`
	} `json:"status"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
}

// mapExecutionResult classifies a completed execution.
func mapExecutionResult(raw json.RawMessage) chain.Outcome {
	var result executionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return chain.TransportFailure(fmt.Errorf("decode execution outcome: %w", err))
	}

	if len(result.Status.Failure) > 0 {
		var failure struct {
			ActionError *struct {
				Index *int64          `json:"index"`
				Kind  json.RawMessage `json:"kind"`
			} `json:"ActionError"`
			InvalidTxError json.RawMessage `json:"InvalidTxError"`
		}
		if err := json.Unmarshal(result.Status.Failure, &failure); err != nil {
			return chain.TransportFailure(fmt.Errorf("decode execution failure: %w", err))
		}

		if failure.ActionError != nil {
			var index *int
			if failure.ActionError.Index != nil {
				i := int(*failure.ActionError.Index)
				index = &i
			}
			return chain.ActionFailure(index, firstKey(failure.ActionError.Kind))
		}
		if len(failure.InvalidTxError) > 0 {
			return chain.InvalidTx(firstKey(failure.InvalidTxError))
		}
		return chain.InvalidTx(firstKey(result.Status.Failure))
	}

	if result.Status.SuccessValue != nil {
		return chain.Success(result.Transaction.Hash)
	}

	// Neither success nor failure: the node returned before the
	// transaction settled.
	return chain.TransportFailure(errors.New("indeterminate execution status"))
}

// AccessKey returns the key's current nonce and a recent block hash.
// Implements neartx.AccessKeyProvider.
func (c *Client) AccessKey(ctx context.Context, accountID, publicKey string) (uint64, [32]byte, error) {
	var blockHash [32]byte

	params := map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}

	result, rpcErr, err := c.call(ctx, "query", params)
	if err != nil {
		return 0, blockHash, err
	}
	if rpcErr != nil {
		return 0, blockHash, rpcErr
	}

	var view struct {
		Nonce     uint64 `json:"nonce"`
		BlockHash string `json:"block_hash"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(result, &view); err != nil {
		return 0, blockHash, fmt.Errorf("decode access key view: %w", err)
	}
	if view.Error != "" {
		return 0, blockHash, fmt.Errorf("view access key %s: %s", publicKey, view.Error)
	}

	decoded, err := base58.Decode(view.BlockHash)
	if err != nil {
		return 0, blockHash, fmt.Errorf("decode block hash: %w", err)
	}
	if len(decoded) != len(blockHash) {
		return 0, blockHash, fmt.Errorf("block hash is %d bytes, expected %d", len(decoded), len(blockHash))
	}
	copy(blockHash[:], decoded)

	return view.Nonce, blockHash, nil
}

// AccountExists reports whether the account is known to the chain.
func (c *Client) AccountExists(ctx context.Context, accountID string) (bool, error) {
	params := map[string]any{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}

	result, rpcErr, err := c.call(ctx, "query", params)
	if err != nil {
		return false, err
	}
	if rpcErr != nil {
		if rpcErr.Cause != nil && rpcErr.Cause.Name == "UNKNOWN_ACCOUNT" {
			return false, nil
		}
		return false, rpcErr
	}

	var view struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(result, &view); err != nil {
		return false, fmt.Errorf("decode account view: %w", err)
	}
	if view.Error != "" {
		// Older nodes report missing accounts inline.
		return false, nil
	}
	return true, nil
}

// CallFunction invokes a read-only contract method and returns the raw
// result bytes, which for the common view methods is JSON.
func (c *Client) CallFunction(ctx context.Context, contract, method string, args []byte) ([]byte, error) {
	params := map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contract,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}

	result, rpcErr, err := c.call(ctx, "query", params)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}

	// The node encodes result bytes as an array of numbers, not
	// base64, so []byte does not decode directly.
	var view struct {
		Result []int    `json:"result"`
		Logs   []string `json:"logs"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(result, &view); err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	if view.Error != "" {
		return nil, fmt.Errorf("call %s.%s: %s", contract, method, view.Error)
	}

	out := make([]byte, len(view.Result))
	for i, b := range view.Result {
		out[i] = byte(b)
	}
	return out, nil
}

// CheckHealth asks the node for its status. Wired into the readiness
// check.
func (c *Client) CheckHealth(ctx context.Context) error {
	_, rpcErr, err := c.call(ctx, "status", []any{})
	if err != nil {
		return err
	}
	if rpcErr != nil {
		return rpcErr
	}
	return nil
}

// firstKey returns the sole key of a JSON object, the string itself
// for a bare string, or "" when neither applies. Chain failure kinds
// are single-key enum objects, so the sole key names the variant.
func firstKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) == 0 {
		return ""
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}
