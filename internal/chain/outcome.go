package chain

import (
	"context"
)

// Result classifies what happened to a broadcast transaction.
type Result string

const (
	// ResultSuccess - the chain accepted and executed the transaction
	ResultSuccess Result = "SUCCESS"

	// ResultActionError - an action in the transaction failed during
	// execution; ActionIndex identifies the offender when the chain
	// reported one
	ResultActionError Result = "ACTION_ERROR"

	// ResultInvalidTx - the transaction was rejected before execution
	// (malformed, stale nonce, expired block hash)
	ResultInvalidTx Result = "INVALID_TX"

	// ResultTransport - the call did not complete; whether the chain
	// saw the transaction is unknown
	ResultTransport Result = "TRANSPORT"
)

// Outcome is the structured result of one broadcast.
type Outcome struct {
	// Result is the outcome class
	Result Result

	// TxHash is the chain-reported transaction hash on success
	TxHash string

	// ActionIndex is the zero-based index of the failing action within
	// the transaction, when the chain identified one
	ActionIndex *int

	// Kind is the machine-readable failure kind, e.g. AccountDoesNotExist
	Kind string

	// Err carries the transport error detail
	Err error
}

// Success builds a successful outcome.
func Success(txHash string) Outcome {
	return Outcome{Result: ResultSuccess, TxHash: txHash}
}

// ActionFailure builds an execution-failure outcome. index may be nil
// for whole-transaction action failures.
func ActionFailure(index *int, kind string) Outcome {
	return Outcome{Result: ResultActionError, ActionIndex: index, Kind: kind}
}

// InvalidTx builds a rejected-before-execution outcome.
func InvalidTx(kind string) Outcome {
	return Outcome{Result: ResultInvalidTx, Kind: kind}
}

// TransportFailure builds an outcome for a call that did not complete.
func TransportFailure(err error) Outcome {
	return Outcome{Result: ResultTransport, Err: err}
}

// FailureText returns the human-readable failure description recorded
// on recycled items.
func (o Outcome) FailureText() string {
	switch {
	case o.Kind != "":
		return o.Kind
	case o.Err != nil:
		return o.Err.Error()
	default:
		return string(o.Result)
	}
}

// SignedTx is a serialized signed transaction plus its content hash.
type SignedTx struct {
	// Blob is the serialized signed transaction, stored verbatim and
	// broadcast as-is
	Blob []byte

	// Hash is the content hash of the transaction, base58-encoded
	Hash string
}

// Signer produces a signed transaction from action descriptors. The
// executor treats it as an external capability with exactly one
// suspension point.
type Signer interface {
	Sign(ctx context.Context, actions []Action) (*SignedTx, error)
}

// Broadcaster submits a signed blob and reports a structured outcome.
// Redelivery of the same blob after prior acceptance must be safe;
// the chain deduplicates by content.
type Broadcaster interface {
	Send(ctx context.Context, signedTx []byte) Outcome
}
