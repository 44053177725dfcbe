package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// systemCallGasLimit is the fixed gas allowance for protocol-level calls.
// They run outside the block gas pool.
const systemCallGasLimit = 30_000_000

// Message is the engine-level unit of execution: a user transaction
// flattened by TransactionToMessage, or a protocol call built by
// NewSystemCallMessage. Engines consume messages and never look at raw
// transactions.
type Message struct {
	From       common.Address
	To         *common.Address // nil means contract creation
	Nonce      uint64
	Value      *uint256.Int
	GasLimit   uint64
	GasPrice   *big.Int
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Data       []byte
	BlobHashes []common.Hash

	// IsSystemCall marks messages originating from the protocol itself.
	// Engines skip nonce and balance checks for them and charge no fees.
	IsSystemCall bool
}

// TransactionToMessage flattens a transaction into a message, computing
// the effective gas price against the block's base fee.
func TransactionToMessage(tx *types.Transaction, sender common.Address, baseFee *big.Int) (*Message, error) {
	msg := &Message{
		From:       sender,
		To:         tx.To(),
		Nonce:      tx.Nonce(),
		GasLimit:   tx.Gas(),
		GasPrice:   new(big.Int).Set(tx.GasPrice()),
		GasFeeCap:  new(big.Int).Set(tx.GasFeeCap()),
		GasTipCap:  new(big.Int).Set(tx.GasTipCap()),
		Data:       tx.Data(),
		BlobHashes: tx.BlobHashes(),
	}
	if baseFee != nil {
		// EIP-1559: the price actually paid is min(tip + baseFee, feeCap).
		price := new(big.Int).Add(msg.GasTipCap, baseFee)
		if price.Cmp(msg.GasFeeCap) > 0 {
			price.Set(msg.GasFeeCap)
		}
		msg.GasPrice = price
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, fmt.Errorf("transaction value out of range [%v]", tx.Hash())
	}
	msg.Value = value
	return msg, nil
}

// NewSystemCallMessage builds a protocol call from the system address to
// the given contract.
func NewSystemCallMessage(to common.Address, data []byte) *Message {
	dest := to
	return &Message{
		From:         params.SystemAddress,
		To:           &dest,
		Value:        new(uint256.Int),
		GasLimit:     systemCallGasLimit,
		GasPrice:     new(big.Int),
		GasFeeCap:    new(big.Int),
		GasTipCap:    new(big.Int),
		Data:         data,
		IsSystemCall: true,
	}
}
