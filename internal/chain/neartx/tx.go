// Package neartx implements the NEAR transaction wire format: borsh
// serialization of transactions and their actions, and an ed25519
// signer that turns action descriptors into broadcast-ready blobs.
package neartx

import (
	"math/big"

	"github.com/near/borsh-go"
)

// PublicKey is a curve-tagged public key. KeyType 0 is ed25519.
type PublicKey struct {
	KeyType uint8
	Data    [32]byte
}

// Signature is a curve-tagged signature. KeyType 0 is ed25519.
type Signature struct {
	KeyType uint8
	Data    [64]byte
}

// Transaction is the unsigned transaction body. Its borsh serialization
// is what gets hashed and signed; the sha256 of these bytes is also the
// transaction id the chain reports back.
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// SignedTransaction is the broadcast wire form.
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}

// Action is the on-chain action enum. The variant order fixes the
// borsh discriminant, so every variant is declared even though this
// module only ever emits FunctionCall.
type Action struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  CreateAccount
	DeployContract DeployContract
	FunctionCall   FunctionCall
	Transfer       Transfer
	Stake          Stake
	AddKey         AddKey
	DeleteKey      DeleteKey
	DeleteAccount  DeleteAccount
}

// actionFunctionCall is FunctionCall's position in the Action enum.
const actionFunctionCall = 2

type CreateAccount struct{}

type DeployContract struct {
	Code []byte
}

type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int
}

type Transfer struct {
	Deposit big.Int
}

type Stake struct {
	Stake     big.Int
	PublicKey PublicKey
}

type AddKey struct {
	PublicKey PublicKey
	AccessKey AccessKey
}

type DeleteKey struct {
	PublicKey PublicKey
}

type DeleteAccount struct {
	BeneficiaryID string
}

// AccessKey and its permission enum are carried by AddKey.
type AccessKey struct {
	Nonce      uint64
	Permission AccessKeyPermission
}

type AccessKeyPermission struct {
	Enum         borsh.Enum `borsh_enum:"true"`
	FunctionCall FunctionCallPermission
	FullAccess   FullAccessPermission
}

type FunctionCallPermission struct {
	Allowance   *big.Int
	ReceiverID  string
	MethodNames []string
}

type FullAccessPermission struct{}

// NewFunctionCall builds a FunctionCall action. A nil deposit attaches
// zero.
func NewFunctionCall(method string, args []byte, gas uint64, deposit *big.Int) Action {
	var d big.Int
	if deposit != nil {
		d.Set(deposit)
	}
	return Action{
		Enum: actionFunctionCall,
		FunctionCall: FunctionCall{
			MethodName: method,
			Args:       args,
			Gas:        gas,
			Deposit:    d,
		},
	}
}
