package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// BlockWithSenders pairs a sealed block with the sender of each of its
// transactions, in transaction order. Recovering senders is expensive, so
// it happens once up front instead of inside every strategy.
type BlockWithSenders struct {
	*types.Block
	Senders []common.Address
}

// NewBlockWithSenders wraps a block with externally recovered senders.
func NewBlockWithSenders(block *types.Block, senders []common.Address) (*BlockWithSenders, error) {
	if len(senders) != len(block.Transactions()) {
		return nil, fmt.Errorf("%w: %d senders for %d txs", ErrSenderMismatch, len(senders), len(block.Transactions()))
	}
	return &BlockWithSenders{Block: block, Senders: senders}, nil
}

// RecoverSenders derives every transaction sender from its signature
// under the signer rules active at the block's height.
func RecoverSenders(config *params.ChainConfig, block *types.Block) (*BlockWithSenders, error) {
	signer := types.MakeSigner(config, block.Number(), block.Time())
	senders := make([]common.Address, len(block.Transactions()))
	for i, tx := range block.Transactions() {
		sender, err := types.Sender(signer, tx)
		if err != nil {
			return nil, fmt.Errorf("could not recover sender of tx %d [%v]: %w", i, tx.Hash(), err)
		}
		senders[i] = sender
	}
	return &BlockWithSenders{Block: block, Senders: senders}, nil
}
