package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// StorageSlot records one storage cell's change across a bundle: the value
// before the first write and the value after the last one.
type StorageSlot struct {
	Previous common.Hash
	Present  common.Hash
}

// BundleAccount is the accumulated change record for one account.
// Original is the info before the first change in the bundle, nil if the
// account did not exist then. Info is the info after the last change, nil
// if the account ended up deleted. Storage holds only slots whose value
// actually changed.
type BundleAccount struct {
	Original *AccountInfo
	Info     *AccountInfo
	Storage  map[common.Hash]StorageSlot
}

// Destroyed reports whether the account no longer exists after the bundle.
func (a *BundleAccount) Destroyed() bool { return a.Info == nil }

func (a *BundleAccount) copy() *BundleAccount {
	cpy := &BundleAccount{
		Original: a.Original.Copy(),
		Info:     a.Info.Copy(),
		Storage:  make(map[common.Hash]StorageSlot, len(a.Storage)),
	}
	for slot, change := range a.Storage {
		cpy.Storage[slot] = change
	}
	return cpy
}

// BundleState aggregates account, storage and contract changes across one
// or more executed blocks. It is the write-set a caller persists. Every
// entry keeps its pre-image, so the change can be reverted as well as
// applied.
type BundleState struct {
	Accounts  map[common.Address]*BundleAccount
	Contracts map[common.Hash][]byte
}

func NewBundleState() *BundleState {
	return &BundleState{
		Accounts:  make(map[common.Address]*BundleAccount),
		Contracts: make(map[common.Hash][]byte),
	}
}

// Account returns the change record for addr, or nil if the bundle does
// not touch it.
func (b *BundleState) Account(addr common.Address) *BundleAccount {
	return b.Accounts[addr]
}

// Extend folds a later bundle into b. Newer Present values win while the
// earliest pre-images are kept, so extending with the per-block diffs of
// consecutive blocks is equivalent to one diff spanning them all.
func (b *BundleState) Extend(other *BundleState) {
	for addr, oa := range other.Accounts {
		ea, ok := b.Accounts[addr]
		if !ok {
			b.Accounts[addr] = oa.copy()
			continue
		}
		ea.Info = oa.Info.Copy()
		for slot, change := range oa.Storage {
			if prev, ok := ea.Storage[slot]; ok {
				prev.Present = change.Present
				ea.Storage[slot] = prev
			} else {
				ea.Storage[slot] = change
			}
		}
	}
	for hash, code := range other.Contracts {
		if _, ok := b.Contracts[hash]; !ok {
			b.Contracts[hash] = append([]byte(nil), code...)
		}
	}
}

// Size returns a rough byte-size estimate of the bundle. Batch executors
// expose it as a flush-scheduling hint; it is not an exact accounting.
func (b *BundleState) Size() int {
	const accountSize = 8 + 32 + common.HashLength
	size := 0
	for _, acct := range b.Accounts {
		size += accountSize
		size += len(acct.Storage) * 2 * common.HashLength
	}
	for _, code := range b.Contracts {
		size += common.HashLength + len(code)
	}
	return size
}
