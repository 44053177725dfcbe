package core

import (
	"math/big"

	"github.com/evmstack/blockexec/core/prune"
	"github.com/evmstack/blockexec/core/state"
)

// ExecutionInput is one block ready to execute: the block with recovered
// senders, plus the chain's total difficulty at that block. The total
// difficulty places the block relative to the merge; post-merge callers
// can pass nil on chains without a terminal total difficulty.
type ExecutionInput struct {
	Block           *BlockWithSenders
	TotalDifficulty *big.Int
}

// NewExecutionInput pairs a block with its total difficulty.
func NewExecutionInput(block *BlockWithSenders, td *big.Int) *ExecutionInput {
	return &ExecutionInput{Block: block, TotalDifficulty: td}
}

// StateWitness observes the overlay right after a block executed, before
// its diff is sealed. Witnesses read; they must not mutate.
type StateWitness func(st *state.State)

// Executor executes one block over the pre-state it was built with and
// returns everything the block produced. An executor is single-shot:
// its overlay holds the block's diff afterwards.
type Executor interface {
	// Execute runs the block through all execution stages.
	Execute(input *ExecutionInput) (*BlockExecutionOutput, error)

	// ExecuteWithStateWitness additionally lets witness inspect the
	// post-execution overlay before the output is sealed.
	ExecuteWithStateWitness(input *ExecutionInput, witness StateWitness) (*BlockExecutionOutput, error)

	// ExecuteWithStateHook additionally installs hook for the duration of
	// the execution, so every state commit is observed as it happens.
	ExecuteWithStateHook(input *ExecutionInput, hook OnStateHook) (*BlockExecutionOutput, error)
}

// BatchExecutor executes a contiguous run of blocks over one shared
// overlay, so each block sees its predecessors' writes without anything
// being persisted in between. Verification runs after every block;
// the first failure aborts the batch with the overlay rolled back to the
// last good block.
type BatchExecutor interface {
	// ExecuteAndVerifyOne appends one block to the batch.
	ExecuteAndVerifyOne(input *ExecutionInput) error

	// ExecuteAndVerifyMany appends the given blocks in order, stopping at
	// the first failure.
	ExecuteAndVerifyMany(inputs []*ExecutionInput) error

	// ExecuteAndVerifyBatch is ExecuteAndVerifyMany followed by Finalize.
	ExecuteAndVerifyBatch(inputs []*ExecutionInput) (*ExecutionOutcome, error)

	// Finalize seals the batch and hands out the accumulated outcome.
	// The executor cannot be used afterwards.
	Finalize() (*ExecutionOutcome, error)

	// SetTip tells the executor how far the chain extends, which is what
	// retention windows are measured against.
	SetTip(tip uint64)

	// SetPruneModes installs the retention policy. It fails once the
	// batch has executed a block.
	SetPruneModes(modes prune.Modes) error

	// SizeHint estimates the in-memory size of the accumulated state in
	// bytes. The second return is false when no estimate is available.
	SizeHint() (int, bool)
}

// ExecutorProvider mints executors over caller-supplied pre-state. The
// provider carries everything block-independent: the strategy factory
// and the shared code cache.
type ExecutorProvider interface {
	// Executor builds a single-block executor reading through db.
	Executor(db state.Database) Executor

	// BatchExecutor builds a batch executor reading through db.
	BatchExecutor(db state.Database) BatchExecutor
}
