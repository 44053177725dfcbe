package core

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/evmstack/blockexec/core/state"
	"github.com/evmstack/blockexec/tracing"
)

// RollupStrategyFactory builds strategies for rollup-style chains. They
// share the transaction loop with the mainnet family but differ around
// it: no consensus-layer requests, no withdrawals, and the block's base
// fees are credited to the sequencer fee vault after execution.
type RollupStrategyFactory struct {
	config   *params.ChainConfig
	engine   TxExecutor
	feeVault common.Address
}

func NewRollupStrategyFactory(config *params.ChainConfig, engine TxExecutor, feeVault common.Address) *RollupStrategyFactory {
	return &RollupStrategyFactory{config: config, engine: engine, feeVault: feeVault}
}

func (f *RollupStrategyFactory) Create(st *state.State, block *BlockWithSenders, totalDifficulty *big.Int) (ExecutionStrategy, error) {
	spec, err := checkCreate(f.config, f.engine, st, block, totalDifficulty)
	if err != nil {
		return nil, err
	}
	return &rollupStrategy{
		engine:      f.engine,
		st:          st,
		block:       block,
		spec:        spec,
		feeVault:    f.feeVault,
		gasPool:     new(GasPool).AddGas(block.GasLimit()),
		blobBaseFee: blockBlobBaseFee(f.config, spec, block.Header()),
	}, nil
}

type rollupStrategy struct {
	engine      TxExecutor
	st          *state.State
	block       *BlockWithSenders
	spec        Spec
	feeVault    common.Address
	gasPool     *GasPool
	blobBaseFee *big.Int

	hook    OnStateHook
	stage   strategyStage
	usedGas uint64
}

func (s *rollupStrategy) deleteEmpty() bool { return s.spec >= SpecSpuriousDragon }

func (s *rollupStrategy) commit() {
	changes := s.st.Finalise(s.deleteEmpty())
	if s.hook != nil && len(changes) > 0 {
		s.hook.OnState(changes)
	}
}

func (s *rollupStrategy) ApplyPreExecutionChanges() error {
	if err := s.stage.advance(stageCreated, stagePreApplied); err != nil {
		return err
	}
	// Rollup headers carry a beacon root only once their data-availability
	// fork is live, so a missing root is not an error here.
	if s.spec >= SpecCancun {
		if beaconRoot := s.block.BeaconRoot(); beaconRoot != nil {
			processBeaconBlockRoot(s.st, *beaconRoot, s.block.Time())
		}
	}
	s.commit()
	if err := s.st.Error(); err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

func (s *rollupStrategy) ExecuteTransactions(block *BlockWithSenders) (types.Receipts, uint64, error) {
	if err := s.stage.advance(stagePreApplied, stageTransactionsExecuted); err != nil {
		return nil, 0, err
	}
	receipts, usedGas, err := applyBlockTransactions(s.st, s.engine, block, s.gasPool, s.blobBaseFee, s.deleteEmpty(), s.hook)
	if err != nil {
		return nil, 0, err
	}
	s.usedGas = usedGas
	return receipts, usedGas, nil
}

func (s *rollupStrategy) ApplyPostExecutionChanges() ([][]byte, error) {
	if err := s.stage.advance(stageTransactionsExecuted, stagePostApplied); err != nil {
		return nil, err
	}
	if len(s.block.Withdrawals()) > 0 {
		return nil, invalidBlockErr(s.block.Block, errors.New("rollup blocks cannot contain withdrawals"))
	}
	if baseFee := s.block.BaseFee(); baseFee != nil && s.usedGas > 0 {
		fee := new(uint256.Int).SetUint64(s.usedGas)
		baseFee256, _ := uint256.FromBig(baseFee)
		fee.Mul(fee, baseFee256)
		s.st.AddBalance(s.feeVault, fee, tracing.BalanceChangeFee)
	}
	s.commit()
	if err := s.st.Error(); err != nil {
		return nil, &StorageError{Err: err}
	}
	return nil, nil
}

func (s *rollupStrategy) StateRef() *state.State { return s.st }

func (s *rollupStrategy) SetStateHook(hook OnStateHook) { s.hook = hook }

func (s *rollupStrategy) Finish() *state.BundleState {
	s.stage = stageFinished
	return s.st.MergeTransitions()
}
