package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Database supplies the pre-state an execution overlay reads through to.
// Implementations are read-only from the engine's point of view: the
// overlay never writes back, it accumulates changes in its own bundle.
type Database interface {
	// Basic returns the account at addr, or nil if the account does not
	// exist.
	Basic(addr common.Address) (*AccountInfo, error)

	// CodeByHash returns the bytecode for the given code hash. An unknown
	// hash yields a nil slice, not an error.
	CodeByHash(codeHash common.Hash) ([]byte, error)

	// Storage returns the value of the given storage slot, or the zero
	// hash when the slot is unset.
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)

	// BlockHash returns the canonical hash of the given block number,
	// serving the BLOCKHASH lookback window.
	BlockHash(number uint64) (common.Hash, error)
}

// AccountInfo is the basic account payload: balance, nonce and code hash.
// Code bodies are kept separately, keyed by hash.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
}

// Copy returns a deep copy of the info. Copying nil yields nil.
func (a *AccountInfo) Copy() *AccountInfo {
	if a == nil {
		return nil
	}
	cpy := &AccountInfo{Nonce: a.Nonce, CodeHash: a.CodeHash}
	if a.Balance != nil {
		cpy.Balance = new(uint256.Int).Set(a.Balance)
	}
	return cpy
}

// HasCode reports whether the account carries deployed bytecode. Both the
// zero hash and the hash of empty code mean "no code"; backing databases
// use either convention.
func (a *AccountInfo) HasCode() bool {
	return a != nil && a.CodeHash != (common.Hash{}) && a.CodeHash != types.EmptyCodeHash
}

// Empty reports whether the account is empty in the EIP-161 sense: zero
// balance, zero nonce, no code. A nil info is empty.
func (a *AccountInfo) Empty() bool {
	if a == nil {
		return true
	}
	return (a.Balance == nil || a.Balance.IsZero()) && a.Nonce == 0 && !a.HasCode()
}

func (a *AccountInfo) balance() *uint256.Int {
	if a == nil || a.Balance == nil {
		return new(uint256.Int)
	}
	return a.Balance
}

func infoEqual(a, b *AccountInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Nonce == b.Nonce && a.CodeHash == b.CodeHash && a.balance().Eq(b.balance())
}

// DatabaseError wraps a failure reported by the backing Database. The
// overlay records the first one it sees and surfaces it through
// State.Error, so a half-read block can be aborted instead of executing
// over truncated pre-state.
type DatabaseError struct {
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("state database: %v", e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }
