// Package chain defines the on-chain vocabulary shared by the
// executor and the transport layers: action descriptors for the
// fungible-token contract, the signer and broadcaster capabilities,
// and the structured broadcast outcome the executor dispatches on.
package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Contract methods invoked on the fungible-token contract.
const (
	MethodFTTransfer     = "ft_transfer"
	MethodStorageDeposit = "storage_deposit"
)

// Default domain constants. Gas is sized so a full 100-action
// transaction stays inside the chain's 300 Tgas cap; the storage bond
// matches the common fungible-token registration minimum.
const (
	DefaultGasPerAction         = 3_000_000_000_000
	DefaultStorageBondYocto     = "1250000000000000000000"
	DefaultTransferDepositYocto = "1"
)

// Action is one unit of on-chain work inside a transaction: a method
// call on the token contract with attached gas and deposit.
type Action struct {
	// Method is the contract method name
	Method string

	// Args is the JSON-encoded call arguments
	Args []byte

	// Gas is the gas budget attached to this action
	Gas uint64

	// Deposit is the attached deposit in the chain's smallest unit
	Deposit *big.Int
}

// Params carries the domain constants used to build actions. Values
// are uniform across batches.
type Params struct {
	// TokenContract is the account id of the fungible-token contract
	TokenContract string

	// GasPerAction is the gas budget attached to every action
	GasPerAction uint64

	// StorageBond is the deposit attached to a registration action
	StorageBond *big.Int

	// TransferDeposit is the deposit attached to a transfer action,
	// conventionally exactly one smallest unit
	TransferDeposit *big.Int
}

// DefaultParams returns the default action parameters for a token
// contract.
func DefaultParams(tokenContract string) Params {
	storageBond, _ := new(big.Int).SetString(DefaultStorageBondYocto, 10)
	transferDeposit, _ := new(big.Int).SetString(DefaultTransferDepositYocto, 10)
	return Params{
		TokenContract:   tokenContract,
		GasPerAction:    DefaultGasPerAction,
		StorageBond:     storageBond,
		TransferDeposit: transferDeposit,
	}
}

type transferArgs struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
}

type storageDepositArgs struct {
	AccountID        string `json:"account_id"`
	RegistrationOnly bool   `json:"registration_only"`
}

// TransferAction builds the ft_transfer action for one item.
func TransferAction(p Params, receiver, amount, memo string) (Action, error) {
	args, err := json.Marshal(transferArgs{
		ReceiverID: receiver,
		Amount:     amount,
		Memo:       memo,
	})
	if err != nil {
		return Action{}, fmt.Errorf("encode transfer args: %w", err)
	}

	return Action{
		Method:  MethodFTTransfer,
		Args:    args,
		Gas:     p.GasPerAction,
		Deposit: p.TransferDeposit,
	}, nil
}

// StorageDepositAction builds the registration action prepended for a
// receiver the contract does not know yet.
func StorageDepositAction(p Params, account string) (Action, error) {
	args, err := json.Marshal(storageDepositArgs{
		AccountID:        account,
		RegistrationOnly: true,
	})
	if err != nil {
		return Action{}, fmt.Errorf("encode storage deposit args: %w", err)
	}

	return Action{
		Method:  MethodStorageDeposit,
		Args:    args,
		Gas:     p.GasPerAction,
		Deposit: p.StorageBond,
	}, nil
}
