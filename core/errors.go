package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrExecutorConsumed is returned when a single-block executor is run
	// a second time; its overlay already holds the first block's diff.
	ErrExecutorConsumed = errors.New("executor already consumed")

	// ErrExecutorFinalized is returned when a batch executor is used after
	// Finalize has consumed it.
	ErrExecutorFinalized = errors.New("batch executor already finalized")

	// ErrPruneModesLocked is returned by SetPruneModes once the batch has
	// executed its first block; changing retention mid-batch would make
	// the accumulated receipts inconsistent.
	ErrPruneModesLocked = errors.New("prune modes are locked once execution has begun")

	// ErrNonContiguousBlock is returned when a batch is fed blocks whose
	// numbers do not ascend one by one.
	ErrNonContiguousBlock = errors.New("non-contiguous block in batch")

	// ErrSenderMismatch is returned when the sender list does not line up
	// with the block's transactions.
	ErrSenderMismatch = errors.New("sender count does not match transaction count")

	// ErrMissingBeaconRoot is returned for post-Cancun blocks without a
	// parent beacon block root in the header.
	ErrMissingBeaconRoot = errors.New("header is missing the parent beacon block root")

	// ErrGasLimitReached is returned by GasPool when a transaction asks
	// for more gas than the block has left.
	ErrGasLimitReached = errors.New("gas limit reached")

	// Post-execution verification mismatches. All arrive wrapped in a
	// ValidationError carrying the offending block's context.
	ErrInvalidGasUsed      = errors.New("invalid gas used")
	ErrInvalidBloom        = errors.New("invalid bloom")
	ErrInvalidReceiptRoot  = errors.New("invalid receipt root hash")
	ErrInvalidRequestsHash = errors.New("invalid requests hash")
	ErrInvalidReceiptCount = errors.New("invalid receipt count")
)

// ValidationError reports a block that cannot be part of the chain: a
// transaction in it failed consensus rules or its header commitments do
// not match what execution produced. The overlay is left as if the block
// never ran.
type ValidationError struct {
	Number uint64
	Hash   common.Hash
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid block %d (%x): %v", e.Number, e.Hash, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError reports a failure of the backing state database. Unlike a
// validation error it says nothing about the block itself; the same block
// may well execute once the database recovers.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("state access failed: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConstructionError reports that an execution strategy could not be built
// at all, before any state was touched: missing chain configuration, an
// unsupported fork, a nil engine.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("cannot build execution strategy: %v", e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func invalidBlockErr(block *types.Block, err error) error {
	return &ValidationError{Number: block.NumberU64(), Hash: block.Hash(), Err: err}
}

func constructionErr(format string, args ...interface{}) error {
	return &ConstructionError{Err: fmt.Errorf(format, args...)}
}
