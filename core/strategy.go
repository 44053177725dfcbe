package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmstack/blockexec/core/state"
)

// OnStateHook observes every state commit made while a block executes:
// one call per applied transaction and per system-level change. Hooks
// must not mutate what they are handed.
type OnStateHook interface {
	OnState(changes state.Changes)
}

// OnStateHookFunc adapts a plain function into an OnStateHook.
type OnStateHookFunc func(changes state.Changes)

func (f OnStateHookFunc) OnState(changes state.Changes) { f(changes) }

// ExecutionStrategy walks one block through its execution stages:
// pre-execution system changes, the transactions, post-execution system
// changes, then Finish to seal the block's diff. The stages must run in
// that order, each exactly once; a strategy is built per block and is not
// reusable.
type ExecutionStrategy interface {
	// ApplyPreExecutionChanges applies system-level state changes that
	// precede the transactions (beacon root and block hash history).
	ApplyPreExecutionChanges() error

	// ExecuteTransactions applies the block's transactions in order and
	// returns their receipts along with the cumulative gas used.
	ExecuteTransactions(block *BlockWithSenders) (types.Receipts, uint64, error)

	// ApplyPostExecutionChanges applies system-level changes that follow
	// the transactions (withdrawals, rewards, request collection) and
	// returns the block's consensus-layer requests.
	ApplyPostExecutionChanges() ([][]byte, error)

	// StateRef exposes the overlay the strategy executes on.
	StateRef() *state.State

	// SetStateHook installs the commit observer. Install before running
	// any stage; later installation misses the commits already made.
	SetStateHook(hook OnStateHook)

	// Finish seals the block: it merges the block's transitions and
	// returns the per-block state diff.
	Finish() *state.BundleState
}

// StrategyFactory builds a fresh strategy per block over the given
// overlay. Factories are cheap to copy and safe to share; all mutable
// execution state lives in the strategy and the overlay.
type StrategyFactory interface {
	// Create validates its inputs and builds the strategy for one block.
	// The total difficulty locates the block relative to the merge.
	Create(st *state.State, block *BlockWithSenders, totalDifficulty *big.Int) (ExecutionStrategy, error)
}

// strategyStage tracks the call order of the strategy lifecycle.
type strategyStage int

const (
	stageCreated strategyStage = iota
	stagePreApplied
	stageTransactionsExecuted
	stagePostApplied
	stageFinished
)

func (s strategyStage) String() string {
	switch s {
	case stageCreated:
		return "created"
	case stagePreApplied:
		return "pre-execution applied"
	case stageTransactionsExecuted:
		return "transactions executed"
	case stagePostApplied:
		return "post-execution applied"
	case stageFinished:
		return "finished"
	}
	return "unknown"
}

func (s *strategyStage) advance(from, to strategyStage) error {
	if *s != from {
		return fmt.Errorf("strategy in stage %q, expected %q", *s, from)
	}
	*s = to
	return nil
}
