package core

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmstack/blockexec/core/state"
)

// BlockExecutionOutput is everything a single executed block produced:
// the state diff, the receipts in transaction order, the consensus-layer
// requests collected after execution and the total gas burned.
type BlockExecutionOutput struct {
	State    *state.BundleState
	Receipts types.Receipts
	Requests [][]byte
	GasUsed  uint64
}

// ExecutionOutcome is the aggregate result of a batch: one bundle
// spanning every executed block, plus per-block receipts and requests.
// Blocks are contiguous starting at FirstBlock, so block number and slice
// index convert back and forth.
type ExecutionOutcome struct {
	Bundle     *state.BundleState
	Receipts   []types.Receipts
	Requests   [][][]byte
	FirstBlock uint64
}

// Len returns the number of blocks in the outcome.
func (o *ExecutionOutcome) Len() int { return len(o.Receipts) }

// BlockNumberOf converts a slice index back to a block number.
func (o *ExecutionOutcome) BlockNumberOf(i int) uint64 {
	return o.FirstBlock + uint64(i)
}

// Blocks returns the block numbers covered by the outcome, in order.
func (o *ExecutionOutcome) Blocks() []uint64 {
	numbers := make([]uint64, len(o.Receipts))
	for i := range numbers {
		numbers[i] = o.FirstBlock + uint64(i)
	}
	return numbers
}

// LastBlock returns the number of the last executed block. It is
// FirstBlock for an outcome of one block and meaningless for an empty
// one.
func (o *ExecutionOutcome) LastBlock() uint64 {
	if len(o.Receipts) == 0 {
		return o.FirstBlock
	}
	return o.FirstBlock + uint64(len(o.Receipts)) - 1
}

func (o *ExecutionOutcome) index(number uint64) (int, bool) {
	if number < o.FirstBlock {
		return 0, false
	}
	i := int(number - o.FirstBlock)
	if i >= len(o.Receipts) {
		return 0, false
	}
	return i, true
}

// ReceiptsByBlock returns the receipts of the given block, nil when the
// block is not part of the outcome or its receipts were pruned.
func (o *ExecutionOutcome) ReceiptsByBlock(number uint64) types.Receipts {
	i, ok := o.index(number)
	if !ok {
		return nil
	}
	return o.Receipts[i]
}

// RequestsByBlock returns the requests of the given block, nil when the
// block is not part of the outcome.
func (o *ExecutionOutcome) RequestsByBlock(number uint64) [][]byte {
	i, ok := o.index(number)
	if !ok || i >= len(o.Requests) {
		return nil
	}
	return o.Requests[i]
}
