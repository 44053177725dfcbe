package core

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/evmstack/blockexec/core/state"
)

// TestExecutorProviderWiring checks that a provider mints working
// executors of both kinds over a plain memory database.
func TestExecutorProviderWiring(t *testing.T) {
	provider := NewEthExecutorProvider(pragueTestConfig(), &transferEngine{})
	if provider.Executor(fundedDB()) == nil {
		t.Fatalf("expected a block executor")
	}
	if provider.BatchExecutor(fundedDB()) == nil {
		t.Fatalf("expected a batch executor")
	}
}

// TestExecuteTransfers runs a block of two simple transfers and checks
// the receipts, the gas accounting and the resulting state diff.
func TestExecuteTransfers(t *testing.T) {
	provider := NewEthExecutorProvider(pragueTestConfig(), &transferEngine{})

	txs := []*types.Transaction{
		transferTx(0, testReceiver, 1000),
		transferTx(1, testReceiver, 2000),
	}
	block := buildBlock(pragueTestConfig(), 1, common.Hash{}, txs, []common.Address{testSender, testSender})

	out, err := provider.Executor(fundedDB()).Execute(NewExecutionInput(block, nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if want := 2 * uint64(params.TxGas); out.GasUsed != want {
		t.Fatalf("gas used: have %d, want %d", out.GasUsed, want)
	}
	if len(out.Receipts) != len(txs) {
		t.Fatalf("want %d receipts, got %d", len(txs), len(out.Receipts))
	}
	for i, r := range out.Receipts {
		if r.Status != types.ReceiptStatusSuccessful {
			t.Fatalf("receipt %d failed, status=%d", i, r.Status)
		}
		if r.TxHash != txs[i].Hash() {
			t.Fatalf("receipt %d tx hash mismatch", i)
		}
		if r.CumulativeGasUsed != uint64(i+1)*params.TxGas {
			t.Fatalf("receipt %d cumulative gas: have %d", i, r.CumulativeGasUsed)
		}
		if r.TransactionIndex != uint(i) {
			t.Fatalf("receipt %d index: have %d", i, r.TransactionIndex)
		}
		if r.BlockHash != block.Hash() || r.BlockNumber.Uint64() != 1 {
			t.Fatalf("receipt %d block context mismatch", i)
		}
	}

	acct := out.State.Accounts[testReceiver]
	if acct == nil {
		t.Fatalf("receiver missing from state diff")
	}
	if want := uint64(params.Ether + 3000); acct.Info.Balance.Uint64() != want {
		t.Fatalf("receiver balance: have %v, want %d", acct.Info.Balance, want)
	}
	if sender := out.State.Accounts[testSender]; sender == nil || sender.Info.Nonce != 2 {
		t.Fatalf("sender nonce not advanced in diff")
	}
}

// TestExecutorSingleShot makes sure a block executor cannot be reused
// once it has run.
func TestExecutorSingleShot(t *testing.T) {
	provider := NewEthExecutorProvider(pragueTestConfig(), &transferEngine{})
	block := buildBlock(pragueTestConfig(), 1, common.Hash{}, nil, nil)

	exec := provider.Executor(fundedDB())
	if _, err := exec.Execute(NewExecutionInput(block, nil)); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if _, err := exec.Execute(NewExecutionInput(block, nil)); !errors.Is(err, ErrExecutorConsumed) {
		t.Fatalf("second execute: have %v, want ErrExecutorConsumed", err)
	}
}

// TestExecuteWithStateWitness checks that the witness sees the live
// overlay after execution and that a read-only witness does not change
// the output in any way.
func TestExecuteWithStateWitness(t *testing.T) {
	cfg := pragueTestConfig()
	txs := []*types.Transaction{transferTx(0, testReceiver, 5000)}
	block := buildBlock(cfg, 1, common.Hash{}, txs, []common.Address{testSender})

	witnessed := false
	witness := func(st *state.State) {
		witnessed = true
		if have := st.GetBalance(testReceiver).Uint64(); have != params.Ether+5000 {
			t.Fatalf("witness balance: have %d", have)
		}
	}

	provider := NewEthExecutorProvider(cfg, &transferEngine{})
	outWitnessed, err := provider.Executor(fundedDB()).ExecuteWithStateWitness(NewExecutionInput(block, nil), witness)
	if err != nil {
		t.Fatalf("execute with witness: %v", err)
	}
	if !witnessed {
		t.Fatalf("witness never ran")
	}

	outPlain, err := provider.Executor(fundedDB()).Execute(NewExecutionInput(block, nil))
	if err != nil {
		t.Fatalf("plain execute: %v", err)
	}
	if !reflect.DeepEqual(outWitnessed, outPlain) {
		t.Fatalf("witnessed output differs from plain output")
	}
}

// TestExecuteWithStateHook attaches a state hook to a block of three
// transfers and checks it observes at least one commit per transaction
// without disturbing the output.
func TestExecuteWithStateHook(t *testing.T) {
	cfg := pragueTestConfig()
	txs := []*types.Transaction{
		transferTx(0, testReceiver, 100),
		transferTx(1, testReceiver, 200),
		transferTx(2, testReceiver, 300),
	}
	block := buildBlock(cfg, 1, common.Hash{}, txs, []common.Address{testSender, testSender, testSender})

	events := 0
	sawSender := false
	provider := NewEthExecutorProvider(cfg, &transferEngine{})
	hook := OnStateHookFunc(func(changes state.Changes) {
		events++
		if _, ok := changes[testSender]; ok {
			sawSender = true
		}
	})
	outHooked, err := provider.Executor(fundedDB()).ExecuteWithStateHook(NewExecutionInput(block, nil), hook)
	if err != nil {
		t.Fatalf("execute with hook: %v", err)
	}
	if events < len(txs) {
		t.Fatalf("hook saw %d events for %d txs", events, len(txs))
	}
	if !sawSender {
		t.Fatalf("hook never saw the sender account change")
	}

	outPlain, err := provider.Executor(fundedDB()).Execute(NewExecutionInput(block, nil))
	if err != nil {
		t.Fatalf("plain execute: %v", err)
	}
	if !reflect.DeepEqual(outHooked, outPlain) {
		t.Fatalf("hooked output differs from plain output")
	}
}

// TestExecuteEmptyBlockWithRequests executes a block with zero
// transactions on a chain where the post-execution stage drains a
// request queue. The block must burn no gas, produce no receipts and
// yield exactly the one queue request, and its state diff must contain
// nothing beyond the system contracts written by the protocol stages.
func TestExecuteEmptyBlockWithRequests(t *testing.T) {
	queueOutput := make([]byte, 76)
	for i := range queueOutput {
		queueOutput[i] = byte(i)
	}
	engine := &transferEngine{
		systemOutputs: map[common.Address][]byte{params.WithdrawalQueueAddress: queueOutput},
	}

	cfg := pragueTestConfig()
	block := buildBlock(cfg, 1, common.Hash{}, nil, nil)

	out, err := NewEthExecutorProvider(cfg, engine).Executor(fundedDB()).Execute(NewExecutionInput(block, nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.GasUsed != 0 {
		t.Fatalf("gas used: have %d, want 0", out.GasUsed)
	}
	if len(out.Receipts) != 0 {
		t.Fatalf("want no receipts, got %d", len(out.Receipts))
	}
	if len(out.Requests) != 1 {
		t.Fatalf("want 1 request, got %d", len(out.Requests))
	}
	if out.Requests[0][0] != 0x01 || !bytes.Equal(out.Requests[0][1:], queueOutput) {
		t.Fatalf("request payload mismatch: %x", out.Requests[0])
	}
	if len(engine.systemCalls) != 2 ||
		engine.systemCalls[0] != params.WithdrawalQueueAddress ||
		engine.systemCalls[1] != params.ConsolidationQueueAddress {
		t.Fatalf("unexpected system call sequence: %v", engine.systemCalls)
	}

	// Only the protocol stages touched state.
	if len(out.State.Accounts) != 2 {
		t.Fatalf("diff has %d accounts, want 2", len(out.State.Accounts))
	}
	for _, addr := range []common.Address{params.BeaconRootsAddress, params.HistoryStorageAddress} {
		if out.State.Accounts[addr] == nil {
			t.Fatalf("diff missing system contract %v", addr)
		}
	}
}

// TestExecuteInvalidTransaction feeds a block whose second transaction
// has a nonce gap and checks that the whole block is rejected with a
// validation error naming the transaction.
func TestExecuteInvalidTransaction(t *testing.T) {
	cfg := pragueTestConfig()
	txs := []*types.Transaction{
		transferTx(0, testReceiver, 1000),
		transferTx(7, testReceiver, 1000), // nonce gap
	}
	block := buildBlock(cfg, 1, common.Hash{}, txs, []common.Address{testSender, testSender})

	_, err := NewEthExecutorProvider(cfg, &transferEngine{}).Executor(fundedDB()).Execute(NewExecutionInput(block, nil))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("have %T (%v), want ValidationError", err, err)
	}
	if verr.Number != 1 {
		t.Fatalf("validation error names block %d", verr.Number)
	}
	if !strings.Contains(err.Error(), "could not apply tx 1") {
		t.Fatalf("error does not name the failing tx: %v", err)
	}
}
