package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// MemoryDB is an in-memory Database. Tests and callers that assemble
// pre-state by hand use it; it never returns an error.
type MemoryDB struct {
	accounts    map[common.Address]*AccountInfo
	storage     map[common.Address]map[common.Hash]common.Hash
	code        map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts:    make(map[common.Address]*AccountInfo),
		storage:     make(map[common.Address]map[common.Hash]common.Hash),
		code:        make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
	}
}

// SetAccount installs or replaces the basic payload of an account, keeping
// any code hash previously assigned through SetCode.
func (db *MemoryDB) SetAccount(addr common.Address, balance *uint256.Int, nonce uint64) {
	info, ok := db.accounts[addr]
	if !ok {
		info = &AccountInfo{}
		db.accounts[addr] = info
	}
	info.Balance = new(uint256.Int)
	if balance != nil {
		info.Balance.Set(balance)
	}
	info.Nonce = nonce
}

// SetCode stores the bytecode, assigns its hash to the account (creating
// the account if needed) and returns the hash.
func (db *MemoryDB) SetCode(addr common.Address, code []byte) common.Hash {
	hash := crypto.Keccak256Hash(code)
	db.code[hash] = append([]byte(nil), code...)
	info, ok := db.accounts[addr]
	if !ok {
		info = &AccountInfo{Balance: new(uint256.Int)}
		db.accounts[addr] = info
	}
	info.CodeHash = hash
	return hash
}

func (db *MemoryDB) SetStorage(addr common.Address, slot, value common.Hash) {
	slots, ok := db.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.storage[addr] = slots
	}
	slots[slot] = value
}

func (db *MemoryDB) SetBlockHash(number uint64, hash common.Hash) {
	db.blockHashes[number] = hash
}

func (db *MemoryDB) Basic(addr common.Address) (*AccountInfo, error) {
	return db.accounts[addr].Copy(), nil
}

func (db *MemoryDB) CodeByHash(codeHash common.Hash) ([]byte, error) {
	code, ok := db.code[codeHash]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), code...), nil
}

func (db *MemoryDB) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return db.storage[addr][slot], nil
}

func (db *MemoryDB) BlockHash(number uint64) (common.Hash, error) {
	return db.blockHashes[number], nil
}

// EmptyDB is a Database with no state at all. Every account reads as
// nonexistent and every slot as zero.
type EmptyDB struct{}

func (EmptyDB) Basic(common.Address) (*AccountInfo, error) { return nil, nil }

func (EmptyDB) CodeByHash(common.Hash) ([]byte, error) { return nil, nil }

func (EmptyDB) Storage(common.Address, common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}

func (EmptyDB) BlockHash(uint64) (common.Hash, error) { return common.Hash{}, nil }
