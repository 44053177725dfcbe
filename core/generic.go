package core

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/evmstack/blockexec/core/prune"
	"github.com/evmstack/blockexec/core/state"
)

// ProviderOption configures an executor provider.
type ProviderOption func(*executorProvider)

// WithCodeCacheSize bounds the shared contract-code cache to roughly
// maxBytes. A non-positive size keeps the default budget.
func WithCodeCacheSize(maxBytes int) ProviderOption {
	return func(p *executorProvider) { p.codeCache = state.NewCodeCache(maxBytes) }
}

// WithPrefetchWorkers bounds the concurrency of the batch executor's
// account read-ahead. Zero picks a bound from the machine size.
func WithPrefetchWorkers(n int) ProviderOption {
	return func(p *executorProvider) { p.prefetchWorkers = n }
}

type executorProvider struct {
	factory         StrategyFactory
	codeCache       *state.CodeCache
	prefetchWorkers int
}

// NewExecutorProvider builds an ExecutorProvider around a strategy
// factory. The provider itself is stateless apart from the shared code
// cache; every executor it mints gets a fresh overlay over the database
// it is given.
func NewExecutorProvider(factory StrategyFactory, opts ...ProviderOption) ExecutorProvider {
	p := &executorProvider{factory: factory, codeCache: state.NewCodeCache(0)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewEthExecutorProvider is NewExecutorProvider over the mainnet
// strategy factory.
func NewEthExecutorProvider(config *params.ChainConfig, engine TxExecutor, opts ...ProviderOption) ExecutorProvider {
	return NewExecutorProvider(NewEthStrategyFactory(config, engine), opts...)
}

// newState builds the overlay every executor runs on: bundle retention
// on, state clearing off. Executors work against caller-supplied partial
// pre-state, where empty-account deletion cannot be decided reliably.
func (p *executorProvider) newState(db state.Database) *state.State {
	return state.New(db,
		state.WithBundleUpdate(),
		state.WithoutStateClear(),
		state.WithCodeCache(p.codeCache),
	)
}

func (p *executorProvider) Executor(db state.Database) Executor {
	return &blockExecutor{factory: p.factory, st: p.newState(db)}
}

func (p *executorProvider) BatchExecutor(db state.Database) BatchExecutor {
	return &batchExecutor{
		factory:  p.factory,
		st:       p.newState(db),
		prefetch: newPrefetcher(db, p.prefetchWorkers),
	}
}

// runStrategy drives a strategy through its three execution stages.
func runStrategy(strategy ExecutionStrategy, block *BlockWithSenders) (types.Receipts, [][]byte, uint64, error) {
	if err := strategy.ApplyPreExecutionChanges(); err != nil {
		return nil, nil, 0, err
	}
	receipts, gasUsed, err := strategy.ExecuteTransactions(block)
	if err != nil {
		return nil, nil, 0, err
	}
	requests, err := strategy.ApplyPostExecutionChanges()
	if err != nil {
		return nil, nil, 0, err
	}
	return receipts, requests, gasUsed, nil
}

// blockExecutor executes exactly one block on its own overlay.
type blockExecutor struct {
	factory  StrategyFactory
	st       *state.State
	executed bool
}

func (e *blockExecutor) Execute(input *ExecutionInput) (*BlockExecutionOutput, error) {
	return e.run(input, nil, nil)
}

func (e *blockExecutor) ExecuteWithStateWitness(input *ExecutionInput, witness StateWitness) (*BlockExecutionOutput, error) {
	return e.run(input, witness, nil)
}

func (e *blockExecutor) ExecuteWithStateHook(input *ExecutionInput, hook OnStateHook) (*BlockExecutionOutput, error) {
	return e.run(input, nil, hook)
}

func (e *blockExecutor) run(input *ExecutionInput, witness StateWitness, hook OnStateHook) (*BlockExecutionOutput, error) {
	if e.executed {
		return nil, ErrExecutorConsumed
	}
	e.executed = true

	start := time.Now()
	strategy, err := e.factory.Create(e.st, input.Block, input.TotalDifficulty)
	if err != nil {
		return nil, err
	}
	if hook != nil {
		strategy.SetStateHook(hook)
	}
	receipts, requests, gasUsed, err := runStrategy(strategy, input.Block)
	if err != nil {
		return nil, err
	}
	// The witness sees the overlay after execution but before the block's
	// transitions are folded away.
	if witness != nil {
		witness(strategy.StateRef())
	}
	strategy.Finish()
	blockExecutionTimer.UpdateSince(start)

	log.Debug("Executed block", "number", input.Block.NumberU64(), "txs", len(receipts),
		"gas", gasUsed, "elapsed", common.PrettyDuration(time.Since(start)))

	return &BlockExecutionOutput{
		State:    e.st.TakeBundle(),
		Receipts: receipts,
		Requests: requests,
		GasUsed:  gasUsed,
	}, nil
}

// batchExecutor executes a contiguous run of blocks on one shared
// overlay, verifying each against its header before keeping it.
type batchExecutor struct {
	factory  StrategyFactory
	st       *state.State
	prefetch *prefetcher

	receipts []types.Receipts
	requests [][][]byte

	firstBlock uint64
	nextBlock  uint64
	started    bool
	finalized  bool

	tip        *uint64
	pruneModes prune.Modes
}

func (e *batchExecutor) ExecuteAndVerifyOne(input *ExecutionInput) error {
	if e.finalized {
		return ErrExecutorFinalized
	}
	block := input.Block
	number := block.NumberU64()
	if e.started && number != e.nextBlock {
		return invalidBlockErr(block.Block,
			fmt.Errorf("%w: have %d, want %d", ErrNonContiguousBlock, number, e.nextBlock))
	}

	start := time.Now()
	e.prefetch.warm(e.st, block)

	strategy, err := e.factory.Create(e.st, block, input.TotalDifficulty)
	if err != nil {
		return err
	}
	receipts, requests, gasUsed, err := runStrategy(strategy, block)
	if err != nil {
		e.discard()
		return err
	}

	vstart := time.Now()
	if err := VerifyExecutionResult(block.Block, receipts, requests, gasUsed); err != nil {
		e.discard()
		return err
	}
	blockVerifyTimer.UpdateSince(vstart)

	mstart := time.Now()
	strategy.Finish()
	blockMergeTimer.UpdateSince(mstart)

	if !e.started {
		e.firstBlock = number
		e.started = true
	}
	e.nextBlock = number + 1
	if e.tip != nil && e.pruneModes.ShouldPruneReceipts(number, *e.tip) {
		receipts = nil
	}
	e.receipts = append(e.receipts, receipts)
	e.requests = append(e.requests, requests)

	batchBlocksMeter.Mark(1)
	bundleSizeGauge.Update(int64(e.st.Bundle().Size()))
	log.Debug("Executed and verified block", "number", number, "txs", block.Transactions().Len(),
		"gas", gasUsed, "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

// discard rolls the overlay back to the last good block.
func (e *batchExecutor) discard() {
	e.st.DiscardTransitions()
	batchDiscardedMeter.Mark(1)
}

func (e *batchExecutor) ExecuteAndVerifyMany(inputs []*ExecutionInput) error {
	for _, input := range inputs {
		if err := e.ExecuteAndVerifyOne(input); err != nil {
			return err
		}
	}
	return nil
}

func (e *batchExecutor) ExecuteAndVerifyBatch(inputs []*ExecutionInput) (*ExecutionOutcome, error) {
	if err := e.ExecuteAndVerifyMany(inputs); err != nil {
		return nil, err
	}
	return e.Finalize()
}

func (e *batchExecutor) Finalize() (*ExecutionOutcome, error) {
	if e.finalized {
		return nil, ErrExecutorFinalized
	}
	e.finalized = true

	outcome := &ExecutionOutcome{
		Bundle:     e.st.TakeBundle(),
		Receipts:   e.receipts,
		Requests:   e.requests,
		FirstBlock: e.firstBlock,
	}
	e.receipts = nil
	e.requests = nil

	log.Debug("Finalized execution batch", "blocks", outcome.Len(), "firstBlock", outcome.FirstBlock)
	return outcome, nil
}

func (e *batchExecutor) SetTip(tip uint64) {
	e.tip = &tip
}

func (e *batchExecutor) SetPruneModes(modes prune.Modes) error {
	if e.started {
		return ErrPruneModesLocked
	}
	e.pruneModes = modes
	return nil
}

func (e *batchExecutor) SizeHint() (int, bool) {
	if e.finalized {
		return 0, false
	}
	return e.st.Bundle().Size(), true
}
