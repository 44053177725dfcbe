package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
)

// VerifyExecutionResult checks what execution produced against the
// block's own header commitments: gas used, receipt count, log bloom,
// receipt root and, when the header commits to them, the requests hash.
// Any mismatch comes back as a ValidationError naming the block.
func VerifyExecutionResult(block *types.Block, receipts types.Receipts, requests [][]byte, gasUsed uint64) error {
	header := block.Header()
	if len(receipts) != len(block.Transactions()) {
		return invalidBlockErr(block, fmt.Errorf("%w: have %d, want %d", ErrInvalidReceiptCount, len(receipts), len(block.Transactions())))
	}
	if header.GasUsed != gasUsed {
		return invalidBlockErr(block, fmt.Errorf("%w (remote: %d local: %d)", ErrInvalidGasUsed, header.GasUsed, gasUsed))
	}
	rbloom := types.MergeBloom(receipts)
	if rbloom != header.Bloom {
		return invalidBlockErr(block, fmt.Errorf("%w (remote: %x  local: %x)", ErrInvalidBloom, header.Bloom, rbloom))
	}
	receiptSha := types.DeriveSha(receipts, trie.NewStackTrie(nil))
	if receiptSha != header.ReceiptHash {
		return invalidBlockErr(block, fmt.Errorf("%w (remote: %x local: %x)", ErrInvalidReceiptRoot, header.ReceiptHash, receiptSha))
	}
	if header.RequestsHash != nil {
		reqHash := types.CalcRequestsHash(requests)
		if reqHash != *header.RequestsHash {
			return invalidBlockErr(block, fmt.Errorf("%w (remote: %x local: %x)", ErrInvalidRequestsHash, *header.RequestsHash, reqHash))
		}
	} else if len(requests) > 0 {
		return invalidBlockErr(block, fmt.Errorf("%w: %d requests for a header without a requests hash", ErrInvalidRequestsHash, len(requests)))
	}
	return nil
}
