package core

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/evmstack/blockexec/core/state"
)

// historyBufferLength is the ring buffer modulus shared by the EIP-4788
// beacon roots contract and the EIP-2935 block hash history contract.
const historyBufferLength = 8191

func uint64ToHash(v uint64) common.Hash {
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], v)
	return h
}

// processBeaconBlockRoot stores the parent beacon block root in the
// EIP-4788 ring buffer: the timestamp at slot ts % buffer, the root at
// the same slot offset by the buffer length.
func processBeaconBlockRoot(st *state.State, beaconRoot common.Hash, timestamp uint64) {
	if !st.Exist(params.BeaconRootsAddress) {
		st.CreateAccount(params.BeaconRootsAddress)
	}
	slot := timestamp % historyBufferLength
	st.SetState(params.BeaconRootsAddress, uint64ToHash(slot), uint64ToHash(timestamp))
	st.SetState(params.BeaconRootsAddress, uint64ToHash(slot+historyBufferLength), beaconRoot)
}

// processParentBlockHash stores the parent block hash in the EIP-2935
// history contract's ring buffer.
func processParentBlockHash(st *state.State, prevNumber uint64, prevHash common.Hash) {
	if !st.Exist(params.HistoryStorageAddress) {
		st.CreateAccount(params.HistoryStorageAddress)
	}
	st.SetState(params.HistoryStorageAddress, uint64ToHash(prevNumber%historyBufferLength), prevHash)
}

// processWithdrawalQueue drains the EIP-7002 withdrawal queue contract.
func processWithdrawalQueue(requests *[][]byte, engine TxExecutor, st *state.State) error {
	return processRequestsSystemCall(requests, engine, st, 0x01, params.WithdrawalQueueAddress)
}

// processConsolidationQueue drains the EIP-7251 consolidation queue
// contract.
func processConsolidationQueue(requests *[][]byte, engine TxExecutor, st *state.State) error {
	return processRequestsSystemCall(requests, engine, st, 0x02, params.ConsolidationQueueAddress)
}

func processRequestsSystemCall(requests *[][]byte, engine TxExecutor, st *state.State, requestType byte, addr common.Address) error {
	msg := NewSystemCallMessage(addr, nil)
	ret, err := engine.ExecuteSystemCall(msg, st)
	if err != nil {
		return fmt.Errorf("system call to %x failed: %w", addr, err)
	}
	if len(ret) == 0 {
		return nil // skip empty output
	}

	// Append prefixed requestsData to the requests list.
	requestsData := make([]byte, len(ret)+1)
	requestsData[0] = requestType
	copy(requestsData[1:], ret)
	*requests = append(*requests, requestsData)
	return nil
}

// parseDepositLogs extracts the EIP-6110 deposit values from logs emitted
// by the beacon deposit contract.
func parseDepositLogs(requests *[][]byte, logs []*types.Log, config *params.ChainConfig) error {
	deposits := make([]byte, 1) // note: first byte is 0x00 (== deposit request type)
	for _, log := range logs {
		if log.Address == config.DepositContractAddress {
			request, err := types.DepositLogToRequest(log.Data)
			if err != nil {
				return fmt.Errorf("unable to parse deposit data: %v", err)
			}
			deposits = append(deposits, request...)
		}
	}
	if len(deposits) > 1 {
		*requests = append(*requests, deposits)
	}
	return nil
}
