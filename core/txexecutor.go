package core

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/evmstack/blockexec/core/state"
)

// TxExecutor is an abstraction over a transaction execution backend. It
// hides the concrete virtual machine behind a common interface so the
// strategies can drive any engine without branching on its identity.
//
// Implementations own gas accounting, nonce and balance rules and fee
// payment; everything they change must flow through the provided overlay
// so that the strategy's commit points capture it.
type TxExecutor interface {
	// Engine returns a short human identifier for logs and metrics.
	Engine() string

	// ExecuteTx applies one user message on top of the overlay. A non-nil
	// error rejects the enclosing block: a nonce gap, insufficient funds,
	// gas above what the pool has left. An execution that merely reverts
	// inside the machine is not an error; it comes back as an
	// ExecutionResult with Err set, consumed gas and a receipt-worthy
	// outcome.
	ExecuteTx(msg *Message, gp *GasPool, st *state.State) (*ExecutionResult, error)

	// ExecuteSystemCall applies a protocol-level call (request queues and
	// similar). No gas is drawn from the block pool and no receipt is
	// produced. The returned bytes are the raw call output.
	ExecuteSystemCall(msg *Message, st *state.State) ([]byte, error)
}

// ExecutionResult is the outcome of applying one message.
type ExecutionResult struct {
	UsedGas    uint64
	Err        error  // in-machine failure, recorded in the receipt status
	ReturnData []byte // returned data, or revert reason when Err is set
}

// Failed reports whether the execution ended with an in-machine failure.
func (r *ExecutionResult) Failed() bool { return r.Err != nil }

// Return returns the data after execution if no error occurred.
func (r *ExecutionResult) Return() []byte {
	if r.Err != nil {
		return nil
	}
	return common.CopyBytes(r.ReturnData)
}

// Revert returns the reverted data if the execution was aborted by a
// revert, nil otherwise.
func (r *ExecutionResult) Revert() []byte {
	if r.Err == nil {
		return nil
	}
	return common.CopyBytes(r.ReturnData)
}
