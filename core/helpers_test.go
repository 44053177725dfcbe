package core

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/evmstack/blockexec/core/state"
	"github.com/evmstack/blockexec/tracing"
)

func init() {
	// Attach a human-readable terminal handler so we can see logs during tests.
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))
}

// Calldata directives understood by the transfer engine. Tests use them
// to provoke specific engine behavior from plain transactions.
const (
	opEmitLog        byte = 0x0a // emit a log from the callee, data follows
	opRevert         byte = 0xfe // consume all gas and revert
	opFailAfterWrite byte = 0xfb // write state, then fail the transaction
)

var (
	testKey, _   = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testSender   = crypto.PubkeyToAddress(testKey.PublicKey)
	testReceiver = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testCoinbase = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

// transferEngine is a minimal execution backend for tests. It applies
// plain value transfers at a flat 21000 gas, burns the fee, bumps the
// sender nonce and honors the calldata directives above. System-call
// outputs are canned per contract address.
type transferEngine struct {
	systemOutputs map[common.Address][]byte
	systemCalls   []common.Address
}

func (e *transferEngine) Engine() string { return "transfer" }

func (e *transferEngine) ExecuteTx(msg *Message, gp *GasPool, st *state.State) (*ExecutionResult, error) {
	if have := st.GetNonce(msg.From); have != msg.Nonce {
		return nil, fmt.Errorf("nonce mismatch: address %v state %d tx %d", msg.From, have, msg.Nonce)
	}
	if err := gp.SubGas(msg.GasLimit); err != nil {
		return nil, err
	}
	price, _ := uint256.FromBig(msg.GasPrice)
	cost := new(uint256.Int).Mul(price, uint256.NewInt(msg.GasLimit))
	cost.Add(cost, msg.Value)
	if have := st.GetBalance(msg.From); have.Cmp(cost) < 0 {
		return nil, fmt.Errorf("insufficient funds: address %v have %v want %v", msg.From, have, cost)
	}
	if len(msg.Data) > 0 && msg.Data[0] == opFailAfterWrite {
		st.AddBalance(*msg.To, uint256.NewInt(12345), tracing.BalanceChangeTransfer)
		return nil, errors.New("engine failure after partial write")
	}

	usedGas := uint64(params.TxGas)
	var vmErr error
	if len(msg.Data) > 0 && msg.Data[0] == opRevert {
		usedGas = msg.GasLimit
		vmErr = errors.New("execution reverted")
	}

	fee := new(uint256.Int).Mul(price, uint256.NewInt(usedGas))
	st.SubBalance(msg.From, fee, tracing.BalanceChangeFee)
	st.SetNonce(msg.From, msg.Nonce+1, tracing.NonceChangeExecution)
	if vmErr == nil {
		to := msg.To
		if to == nil {
			created := crypto.CreateAddress(msg.From, msg.Nonce)
			to = &created
		}
		st.SubBalance(msg.From, msg.Value, tracing.BalanceChangeTransfer)
		st.AddBalance(*to, msg.Value, tracing.BalanceChangeTransfer)
		if len(msg.Data) > 0 && msg.Data[0] == opEmitLog && msg.To != nil {
			st.AddLog(&types.Log{Address: *msg.To, Data: append([]byte(nil), msg.Data[1:]...)})
		}
	}
	gp.AddGas(msg.GasLimit - usedGas)
	return &ExecutionResult{UsedGas: usedGas, Err: vmErr}, nil
}

func (e *transferEngine) ExecuteSystemCall(msg *Message, st *state.State) ([]byte, error) {
	e.systemCalls = append(e.systemCalls, *msg.To)
	if e.systemOutputs == nil {
		return nil, nil
	}
	return e.systemOutputs[*msg.To], nil
}

func u64ptr(v uint64) *uint64 { return &v }

// pragueTestConfig activates every supported fork from genesis.
func pragueTestConfig() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:                 big.NewInt(1337),
		HomesteadBlock:          big.NewInt(0),
		EIP150Block:             big.NewInt(0),
		EIP155Block:             big.NewInt(0),
		EIP158Block:             big.NewInt(0),
		ByzantiumBlock:          big.NewInt(0),
		ConstantinopleBlock:     big.NewInt(0),
		PetersburgBlock:         big.NewInt(0),
		IstanbulBlock:           big.NewInt(0),
		BerlinBlock:             big.NewInt(0),
		LondonBlock:             big.NewInt(0),
		MergeNetsplitBlock:      big.NewInt(0),
		TerminalTotalDifficulty: big.NewInt(0),
		ShanghaiTime:            u64ptr(0),
		CancunTime:              u64ptr(0),
		PragueTime:              u64ptr(0),
		DepositContractAddress:  params.MainnetChainConfig.DepositContractAddress,
		BlobScheduleConfig: &params.BlobScheduleConfig{
			Cancun: params.DefaultCancunBlobConfig,
			Prague: params.DefaultPragueBlobConfig,
		},
	}
}

// cancunTestConfig stops one fork short of Prague, so no consensus-layer
// requests are collected.
func cancunTestConfig() *params.ChainConfig {
	cfg := pragueTestConfig()
	cfg.PragueTime = nil
	cfg.DepositContractAddress = common.Address{}
	cfg.BlobScheduleConfig = &params.BlobScheduleConfig{Cancun: params.DefaultCancunBlobConfig}
	return cfg
}

// powTestConfig is a proof-of-work chain through Istanbul with the merge
// far away, for exercising the pre-merge reward path.
func powTestConfig() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:                 big.NewInt(1337),
		HomesteadBlock:          big.NewInt(0),
		EIP150Block:             big.NewInt(0),
		EIP155Block:             big.NewInt(0),
		EIP158Block:             big.NewInt(0),
		ByzantiumBlock:          big.NewInt(0),
		ConstantinopleBlock:     big.NewInt(0),
		PetersburgBlock:         big.NewInt(0),
		IstanbulBlock:           big.NewInt(0),
		TerminalTotalDifficulty: big.NewInt(1_000_000),
	}
}

// fundedDB seeds a memory database with the standard test accounts.
func fundedDB() *state.MemoryDB {
	db := state.NewMemoryDB()
	db.SetAccount(testSender, uint256.NewInt(params.Ether), 0)
	db.SetAccount(testReceiver, uint256.NewInt(params.Ether), 0)
	return db
}

func transferTx(nonce uint64, to common.Address, value int64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(value),
		Gas:      params.TxGas,
		GasPrice: big.NewInt(params.GWei),
	})
}

func dataTx(nonce uint64, to common.Address, gas uint64, data []byte) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: big.NewInt(params.GWei),
		Data:     data,
	})
}

// expectedReceipts predicts the consensus fields of the receipts the
// transfer engine will produce for the given transactions, along with the
// block's total gas. Block builders use it to seal matching headers.
func expectedReceipts(txs []*types.Transaction) (types.Receipts, uint64) {
	var (
		receipts types.Receipts
		used     uint64
	)
	for _, tx := range txs {
		gas := uint64(params.TxGas)
		status := types.ReceiptStatusSuccessful
		var logs []*types.Log
		if data := tx.Data(); len(data) > 0 {
			switch data[0] {
			case opRevert:
				gas = tx.Gas()
				status = types.ReceiptStatusFailed
			case opEmitLog:
				logs = []*types.Log{{Address: *tx.To(), Data: append([]byte(nil), data[1:]...)}}
			}
		}
		used += gas
		r := &types.Receipt{Type: tx.Type(), Status: status, CumulativeGasUsed: used, GasUsed: gas, Logs: logs}
		r.Bloom = types.CreateBloom(r)
		receipts = append(receipts, r)
	}
	return receipts, used
}

// buildBlock assembles a sealed block whose header commitments match what
// the transfer engine will produce, with the fork-dependent header fields
// filled in from the chain configuration.
func buildBlock(cfg *params.ChainConfig, number uint64, parentHash common.Hash, txs []*types.Transaction, senders []common.Address) *BlockWithSenders {
	receipts, gasUsed := expectedReceipts(txs)
	header := &types.Header{
		ParentHash: parentHash,
		Coinbase:   testCoinbase,
		Difficulty: big.NewInt(131072),
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   8_000_000,
		GasUsed:    gasUsed,
		Time:       number * 12,
		BaseFee:    big.NewInt(params.InitialBaseFee),
	}
	if cfg.LondonBlock == nil {
		header.BaseFee = nil
	}
	var withdrawals types.Withdrawals
	if cfg.IsShanghai(header.Number, header.Time) {
		withdrawals = types.Withdrawals{}
	}
	if cfg.IsCancun(header.Number, header.Time) {
		root := common.HexToHash("0xbeac047000000000000000000000000000000000000000000000000000000000")
		header.ParentBeaconRoot = &root
		header.ExcessBlobGas = u64ptr(0)
		header.BlobGasUsed = u64ptr(0)
	}
	if cfg.IsPrague(header.Number, header.Time) {
		// Plain transfers emit no deposit logs and the engine returns no
		// queue output, so the header commits to an empty request list.
		requestsHash := types.CalcRequestsHash(nil)
		header.RequestsHash = &requestsHash
	}
	block := types.NewBlock(header, &types.Body{Transactions: txs, Withdrawals: withdrawals}, receipts, trie.NewStackTrie(nil))
	return &BlockWithSenders{Block: block, Senders: senders}
}

// applyBundle persists a state diff into the memory database, the way a
// caller would between two single-block executions. Code hashes are
// restored through SetCode so a later read sees the same account info the
// overlay carried.
func applyBundle(db *state.MemoryDB, bundle *state.BundleState) {
	for addr, acct := range bundle.Accounts {
		if acct.Info == nil {
			continue
		}
		db.SetAccount(addr, acct.Info.Balance, acct.Info.Nonce)
		if acct.Info.CodeHash == types.EmptyCodeHash {
			db.SetCode(addr, nil)
		} else if code, ok := bundle.Contracts[acct.Info.CodeHash]; ok {
			db.SetCode(addr, code)
		}
		for slot, sv := range acct.Storage {
			db.SetStorage(addr, slot, sv.Present)
		}
	}
}
