package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/evmstack/blockexec/core/state"
	"github.com/evmstack/blockexec/tracing"
)

// Pre-merge block rewards in wei, by era.
var (
	frontierBlockReward       = uint256.NewInt(5e18)
	byzantiumBlockReward      = uint256.NewInt(3e18)
	constantinopleBlockReward = uint256.NewInt(2e18)
)

// EthStrategyFactory builds mainnet-style execution strategies: beacon
// root and block hash history before the transactions, withdrawals,
// mining rewards and consensus-layer requests after them.
type EthStrategyFactory struct {
	config *params.ChainConfig
	engine TxExecutor
}

// NewEthStrategyFactory wires a chain configuration to an execution
// engine. The factory is cheap to copy and safe to share.
func NewEthStrategyFactory(config *params.ChainConfig, engine TxExecutor) *EthStrategyFactory {
	return &EthStrategyFactory{config: config, engine: engine}
}

// Create validates the factory's inputs against the block's position in
// the fork schedule and builds the strategy for this one block.
func (f *EthStrategyFactory) Create(st *state.State, block *BlockWithSenders, totalDifficulty *big.Int) (ExecutionStrategy, error) {
	spec, err := checkCreate(f.config, f.engine, st, block, totalDifficulty)
	if err != nil {
		return nil, err
	}
	return &ethStrategy{
		config:      f.config,
		engine:      f.engine,
		st:          st,
		block:       block,
		spec:        spec,
		gasPool:     new(GasPool).AddGas(block.GasLimit()),
		blobBaseFee: blockBlobBaseFee(f.config, spec, block.Header()),
	}, nil
}

// checkCreate holds the construction-time validation shared by the
// strategy families.
func checkCreate(config *params.ChainConfig, engine TxExecutor, st *state.State, block *BlockWithSenders, totalDifficulty *big.Int) (Spec, error) {
	if config == nil {
		return 0, constructionErr("nil chain configuration")
	}
	if engine == nil {
		return 0, constructionErr("nil execution engine")
	}
	if st == nil {
		return 0, constructionErr("nil state overlay")
	}
	if block == nil || block.Block == nil {
		return 0, constructionErr("nil block")
	}
	num, time := block.Number(), block.Time()
	if config.IsVerkle(num, time) {
		return 0, constructionErr("verkle execution is not supported")
	}
	spec := SpecAt(config, num, time, totalDifficulty)
	if spec < SpecByzantium {
		return 0, constructionErr("unsupported fork %s at block %d: pre-byzantium receipts require state roots", spec, block.NumberU64())
	}
	if len(block.Senders) != len(block.Transactions()) {
		return 0, invalidBlockErr(block.Block, fmt.Errorf("%w: %d senders for %d txs", ErrSenderMismatch, len(block.Senders), len(block.Transactions())))
	}
	if spec >= SpecLondon && block.BaseFee() == nil {
		return 0, invalidBlockErr(block.Block, errors.New("header is missing the base fee"))
	}
	return spec, nil
}

func blockBlobBaseFee(config *params.ChainConfig, spec Spec, header *types.Header) *big.Int {
	if spec < SpecCancun || header.ExcessBlobGas == nil {
		return nil
	}
	return eip4844.CalcBlobFee(config, header)
}

type ethStrategy struct {
	config      *params.ChainConfig
	engine      TxExecutor
	st          *state.State
	block       *BlockWithSenders
	spec        Spec
	gasPool     *GasPool
	blobBaseFee *big.Int

	hook     OnStateHook
	stage    strategyStage
	receipts types.Receipts
}

func (s *ethStrategy) deleteEmpty() bool { return s.spec >= SpecSpuriousDragon }

// commit finalises the journal and feeds the delta to the installed hook.
func (s *ethStrategy) commit() {
	changes := s.st.Finalise(s.deleteEmpty())
	if s.hook != nil && len(changes) > 0 {
		s.hook.OnState(changes)
	}
}

func (s *ethStrategy) ApplyPreExecutionChanges() error {
	if err := s.stage.advance(stageCreated, stagePreApplied); err != nil {
		return err
	}
	if s.spec >= SpecCancun {
		beaconRoot := s.block.BeaconRoot()
		if beaconRoot == nil {
			return invalidBlockErr(s.block.Block, ErrMissingBeaconRoot)
		}
		processBeaconBlockRoot(s.st, *beaconRoot, s.block.Time())
	}
	if s.spec >= SpecPrague && s.block.NumberU64() > 0 {
		processParentBlockHash(s.st, s.block.NumberU64()-1, s.block.ParentHash())
	}
	s.commit()
	if err := s.st.Error(); err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

func (s *ethStrategy) ExecuteTransactions(block *BlockWithSenders) (types.Receipts, uint64, error) {
	if err := s.stage.advance(stagePreApplied, stageTransactionsExecuted); err != nil {
		return nil, 0, err
	}
	receipts, usedGas, err := applyBlockTransactions(s.st, s.engine, block, s.gasPool, s.blobBaseFee, s.deleteEmpty(), s.hook)
	if err != nil {
		return nil, 0, err
	}
	s.receipts = receipts
	return receipts, usedGas, nil
}

func (s *ethStrategy) ApplyPostExecutionChanges() ([][]byte, error) {
	if err := s.stage.advance(stageTransactionsExecuted, stagePostApplied); err != nil {
		return nil, err
	}
	withdrawals := s.block.Withdrawals()
	if s.spec >= SpecShanghai {
		for _, w := range withdrawals {
			// Withdrawal amounts arrive in gwei.
			amount := new(uint256.Int).SetUint64(w.Amount)
			amount.Mul(amount, uint256.NewInt(params.GWei))
			s.st.AddBalance(w.Address, amount, tracing.BalanceChangeWithdrawal)
		}
	} else if len(withdrawals) > 0 {
		return nil, invalidBlockErr(s.block.Block, errors.New("withdrawals before shanghai"))
	}
	if s.spec < SpecParis {
		s.applyRewards()
	}
	s.commit()

	var requests [][]byte
	if s.spec >= SpecPrague {
		requests = [][]byte{}
		var allLogs []*types.Log
		for _, receipt := range s.receipts {
			allLogs = append(allLogs, receipt.Logs...)
		}
		// EIP-6110
		if err := parseDepositLogs(&requests, allLogs, s.config); err != nil {
			return nil, invalidBlockErr(s.block.Block, err)
		}
		// EIP-7002
		if err := processWithdrawalQueue(&requests, s.engine, s.st); err != nil {
			return nil, invalidBlockErr(s.block.Block, err)
		}
		s.commit()
		// EIP-7251
		if err := processConsolidationQueue(&requests, s.engine, s.st); err != nil {
			return nil, invalidBlockErr(s.block.Block, err)
		}
		s.commit()
	}
	if err := s.st.Error(); err != nil {
		return nil, &StorageError{Err: err}
	}
	return requests, nil
}

// applyRewards credits the pre-merge mining rewards: the static block
// reward by era, uncle inclusion bonuses for the miner and the scaled
// reward for each uncle miner.
func (s *ethStrategy) applyRewards() {
	blockReward := frontierBlockReward
	if s.spec >= SpecByzantium {
		blockReward = byzantiumBlockReward
	}
	if s.spec >= SpecConstantinople {
		blockReward = constantinopleBlockReward
	}
	reward := new(uint256.Int).Set(blockReward)
	r := new(uint256.Int)
	hNum, _ := uint256.FromBig(s.block.Number())
	for _, uncle := range s.block.Uncles() {
		uNum, _ := uint256.FromBig(uncle.Number)
		r.AddUint64(uNum, 8)
		r.Sub(r, hNum)
		r.Mul(r, blockReward)
		r.Div(r, uint256.NewInt(8))
		s.st.AddBalance(uncle.Coinbase, r, tracing.BalanceChangeUncleReward)

		r.Div(blockReward, uint256.NewInt(32))
		reward.Add(reward, r)
	}
	s.st.AddBalance(s.block.Coinbase(), reward, tracing.BalanceChangeReward)
}

func (s *ethStrategy) StateRef() *state.State { return s.st }

func (s *ethStrategy) SetStateHook(hook OnStateHook) { s.hook = hook }

func (s *ethStrategy) Finish() *state.BundleState {
	s.stage = stageFinished
	return s.st.MergeTransitions()
}

// applyBlockTransactions runs the block's transactions in order over the
// overlay. It is shared by the strategy families; fork-specific work
// happens before and after, not in here.
func applyBlockTransactions(st *state.State, engine TxExecutor, block *BlockWithSenders, gp *GasPool, blobBaseFee *big.Int, deleteEmpty bool, hook OnStateHook) (types.Receipts, uint64, error) {
	var (
		receipts    types.Receipts
		usedGas     uint64
		header      = block.Header()
		blockHash   = block.Hash()
		blockNumber = block.Number()
	)
	for i, tx := range block.Transactions() {
		msg, err := TransactionToMessage(tx, block.Senders[i], header.BaseFee)
		if err != nil {
			return nil, 0, invalidBlockErr(block.Block, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash(), err))
		}
		st.SetTxContext(tx.Hash(), i)
		result, err := engine.ExecuteTx(msg, gp, st)
		if err != nil {
			st.DiscardTx()
			return nil, 0, invalidBlockErr(block.Block, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash(), err))
		}
		if err := st.Error(); err != nil {
			return nil, 0, &StorageError{Err: err}
		}
		changes := st.Finalise(deleteEmpty)
		if hook != nil && len(changes) > 0 {
			hook.OnState(changes)
		}
		usedGas += result.UsedGas
		receipts = append(receipts, makeReceipt(tx, msg, result, usedGas, blobBaseFee, blockNumber, blockHash, st))
		txExecutedMeter.Mark(1)
	}
	gasUsedMeter.Mark(int64(usedGas))
	return receipts, usedGas, nil
}

// makeReceipt generates the receipt object for a transaction given its
// execution result.
func makeReceipt(tx *types.Transaction, msg *Message, result *ExecutionResult, cumulativeGas uint64, blobBaseFee *big.Int, blockNumber *big.Int, blockHash common.Hash, st *state.State) *types.Receipt {
	receipt := &types.Receipt{Type: tx.Type(), CumulativeGasUsed: cumulativeGas}
	if result.Failed() {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Status = types.ReceiptStatusSuccessful
	}
	receipt.TxHash = tx.Hash()
	receipt.GasUsed = result.UsedGas

	if tx.Type() == types.BlobTxType {
		receipt.BlobGasUsed = uint64(len(tx.BlobHashes())) * params.BlobTxBlobGasPerBlob
		receipt.BlobGasPrice = blobBaseFee
	}

	// If the transaction created a contract, store the creation address in
	// the receipt.
	if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(msg.From, tx.Nonce())
	}

	// Set the receipt logs and create the bloom filter.
	receipt.Logs = st.GetLogs(tx.Hash(), blockNumber.Uint64(), blockHash)
	receipt.Bloom = types.CreateBloom(receipt)
	receipt.BlockHash = blockHash
	receipt.BlockNumber = blockNumber
	receipt.TransactionIndex = uint(st.TxIndex())
	return receipt
}
