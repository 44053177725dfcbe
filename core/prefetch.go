package core

import (
	"runtime"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/evmstack/blockexec/core/state"
)

// maxPrefetchWorkers caps the read concurrency against the backing
// database; past a point more readers just fight over it.
const maxPrefetchWorkers = 16

// prefetcher primes an overlay's origin cache with the accounts a block
// is about to touch, reading them from the backing database concurrently
// before execution starts. It is strictly best-effort: a failed read is
// skipped and the account loads on demand during execution instead.
type prefetcher struct {
	db      state.Database
	workers int
}

func newPrefetcher(db state.Database, workers int) *prefetcher {
	return &prefetcher{db: db, workers: normalizeWorkerCount(workers)}
}

func normalizeWorkerCount(n int) int {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n > maxPrefetchWorkers {
		n = maxPrefetchWorkers
	}
	return n
}

// warm loads the block's touched accounts into the overlay. Storage slots
// are left to demand loading; which slots a transaction reads is not
// known until it runs.
func (p *prefetcher) warm(st *state.State, block *BlockWithSenders) {
	if p == nil {
		return
	}
	targets := mapset.NewThreadUnsafeSet[common.Address]()
	targets.Add(block.Coinbase())
	for i, tx := range block.Transactions() {
		targets.Add(block.Senders[i])
		if to := tx.To(); to != nil {
			targets.Add(*to)
		} else {
			targets.Add(crypto.CreateAddress(block.Senders[i], tx.Nonce()))
		}
	}
	for _, w := range block.Withdrawals() {
		targets.Add(w.Address)
	}

	pending := make([]common.Address, 0, targets.Cardinality())
	targets.Each(func(addr common.Address) bool {
		if st.HasAccountOrigin(addr) {
			prefetchSkippedMeter.Mark(1)
		} else {
			pending = append(pending, addr)
		}
		return false
	})
	if len(pending) == 0 {
		return
	}

	var (
		mu     sync.Mutex
		loaded = make(map[common.Address]*state.AccountInfo, len(pending))
		g      errgroup.Group
	)
	g.SetLimit(p.workers)
	for _, addr := range pending {
		g.Go(func() error {
			info, err := p.db.Basic(addr)
			if err != nil {
				log.Warn("Failed to prefetch account, continuing", "addr", addr, "err", err)
				return nil
			}
			mu.Lock()
			loaded[addr] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for addr, info := range loaded {
		st.WarmAccount(addr, info)
	}
	prefetchAccountMeter.Mark(int64(len(loaded)))
}
