package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/evmstack/blockexec/tracing"
)

// Option configures a State overlay.
type Option func(*State)

// WithBundleUpdate makes the overlay retain merged per-block diffs in a
// cross-block bundle, which TakeBundle later hands out. Executors always
// enable it; without it MergeTransitions still returns the block diff but
// nothing is retained.
func WithBundleUpdate() Option {
	return func(s *State) { s.bundleUpdate = true }
}

// WithoutStateClear disables EIP-161 empty-account deletion regardless of
// fork rules. Callers handing in partial pre-state want it: emptiness
// cannot be decided locally when most of the state is not present, so
// deleting would be guesswork.
func WithoutStateClear() Option {
	return func(s *State) { s.noStateClear = true }
}

// WithCodeCache shares a contract-code cache across overlays.
func WithCodeCache(cache *CodeCache) Option {
	return func(s *State) { s.codeCache = cache }
}

// State is the mutable execution overlay stacked on a read-only Database.
// Writes land in a per-transaction journal first; Finalise folds the
// journal into the current block's transitions, MergeTransitions folds a
// completed block into the bundle. Each layer can be discarded without
// disturbing the one below, which is what gives transactions and blocks
// their all-or-nothing behavior.
//
// A State is not safe for concurrent use.
type State struct {
	db        Database
	codeCache *CodeCache

	// origins caches the backing database's own view of everything read so
	// far. Entries are immutable once loaded.
	origins map[common.Address]*originAccount

	// current is the committed view after the last Finalise: origins
	// overlaid with every change committed so far.
	current map[common.Address]*currentAccount

	// transitions records, per account touched in the current block, the
	// pre-block values needed to build the block diff or to roll it back.
	transitions map[common.Address]*transitionAccount

	// journal holds the current transaction's uncommitted writes.
	journal *txJournal

	// newContracts collects code deployed in the current block until the
	// block's transitions are merged into the bundle.
	newContracts map[common.Hash][]byte

	bundle       *BundleState
	bundleUpdate bool
	noStateClear bool

	// Log bookkeeping. Logs are grouped per transaction hash so receipts
	// can pick them up after the transaction is finalised.
	logs     map[common.Hash][]*types.Log
	blockTxs []common.Hash
	logSize  uint

	dbErr error
}

type originAccount struct {
	info       *AccountInfo
	infoLoaded bool
	storage    map[common.Hash]common.Hash
}

type currentAccount struct {
	info    *AccountInfo
	storage map[common.Hash]common.Hash
}

type transitionAccount struct {
	preInfo    *AccountInfo
	preStorage map[common.Hash]common.Hash
}

type txJournal struct {
	thash    common.Hash
	tindex   int
	accounts map[common.Address]*journalAccount
	logs     []*types.Log
}

type journalAccount struct {
	info          *AccountInfo
	infoDirty     bool
	storage       map[common.Hash]common.Hash
	code          []byte
	created       bool
	touched       bool
	balanceReason tracing.BalanceChangeReason
	nonceReason   tracing.NonceChangeReason
}

func newTxJournal(thash common.Hash, tindex int) *txJournal {
	return &txJournal{
		thash:    thash,
		tindex:   tindex,
		accounts: make(map[common.Address]*journalAccount),
	}
}

// New builds an overlay over db.
func New(db Database, opts ...Option) *State {
	s := &State{
		db:           db,
		origins:      make(map[common.Address]*originAccount),
		current:      make(map[common.Address]*currentAccount),
		transitions:  make(map[common.Address]*transitionAccount),
		journal:      newTxJournal(common.Hash{}, 0),
		newContracts: make(map[common.Hash][]byte),
		bundle:       NewBundleState(),
		logs:         make(map[common.Hash][]*types.Log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Changes is the delta handed to state hooks after each commit point: one
// entry per account the finalised transaction or system call wrote.
type Changes map[common.Address]*AccountChange

// AccountChange describes one account's post-commit value. A nil Info
// means the account was deleted by the commit.
type AccountChange struct {
	Info    *AccountInfo
	Storage map[common.Hash]common.Hash
	Touched bool

	// Reasons carried from the last balance and nonce mutations, for
	// tracer consumers. Unspecified when the commit did not change them.
	BalanceReason tracing.BalanceChangeReason
	NonceReason   tracing.NonceChangeReason
}

// Error returns the first backing-database failure seen by the overlay.
// Reads after a failure keep returning zero values; callers are expected
// to check Error at commit points and abort.
func (s *State) Error() error { return s.dbErr }

func (s *State) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// ---------------------------------------------------------------------------
// read path: journal -> current -> origins -> database
// ---------------------------------------------------------------------------

func (s *State) origin(addr common.Address) *originAccount {
	o, ok := s.origins[addr]
	if !ok {
		o = &originAccount{storage: make(map[common.Hash]common.Hash)}
		s.origins[addr] = o
	}
	return o
}

func (s *State) originInfo(addr common.Address) *AccountInfo {
	o := s.origin(addr)
	if !o.infoLoaded {
		info, err := s.db.Basic(addr)
		if err != nil {
			s.setError(&DatabaseError{Err: err})
			return nil
		}
		o.info = info
		o.infoLoaded = true
	}
	return o.info
}

// committedInfo is the account view after the last Finalise, ignoring the
// open journal. An entry in current with nil info means deleted.
func (s *State) committedInfo(addr common.Address) *AccountInfo {
	if cur, ok := s.current[addr]; ok {
		return cur.info
	}
	return s.originInfo(addr)
}

func (s *State) committedStorage(addr common.Address, slot common.Hash) common.Hash {
	if cur, ok := s.current[addr]; ok {
		if value, ok := cur.storage[slot]; ok {
			return value
		}
	}
	o := s.origin(addr)
	if value, ok := o.storage[slot]; ok {
		return value
	}
	value, err := s.db.Storage(addr, slot)
	if err != nil {
		s.setError(&DatabaseError{Err: err})
		return common.Hash{}
	}
	o.storage[slot] = value
	return value
}

func (s *State) effectiveInfo(addr common.Address) *AccountInfo {
	if entry, ok := s.journal.accounts[addr]; ok && entry.infoDirty {
		return entry.info
	}
	return s.committedInfo(addr)
}

// Exist reports whether the account exists in the overlay's view.
func (s *State) Exist(addr common.Address) bool {
	if entry, ok := s.journal.accounts[addr]; ok && (entry.infoDirty || entry.created) {
		return entry.info != nil
	}
	return s.committedInfo(addr) != nil
}

// Empty reports whether the account is empty per EIP-161.
func (s *State) Empty(addr common.Address) bool {
	return s.effectiveInfo(addr).Empty()
}

// GetBalance returns a copy of the account balance, zero for a
// nonexistent account.
func (s *State) GetBalance(addr common.Address) *uint256.Int {
	return new(uint256.Int).Set(s.effectiveInfo(addr).balance())
}

func (s *State) GetNonce(addr common.Address) uint64 {
	if info := s.effectiveInfo(addr); info != nil {
		return info.Nonce
	}
	return 0
}

// GetCodeHash returns the zero hash for a nonexistent account and the
// empty-code hash for an existing account without code.
func (s *State) GetCodeHash(addr common.Address) common.Hash {
	info := s.effectiveInfo(addr)
	if info == nil {
		return common.Hash{}
	}
	if info.CodeHash == (common.Hash{}) {
		return types.EmptyCodeHash
	}
	return info.CodeHash
}

func (s *State) GetCode(addr common.Address) []byte {
	info := s.effectiveInfo(addr)
	if !info.HasCode() {
		return nil
	}
	if entry, ok := s.journal.accounts[addr]; ok && entry.code != nil && entry.infoDirty && entry.info.CodeHash == info.CodeHash {
		return entry.code
	}
	return s.codeByHash(info.CodeHash)
}

func (s *State) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *State) codeByHash(codeHash common.Hash) []byte {
	if code, ok := s.newContracts[codeHash]; ok {
		return code
	}
	if code := s.codeCache.Get(codeHash); code != nil {
		return code
	}
	code, err := s.db.CodeByHash(codeHash)
	if err != nil {
		s.setError(&DatabaseError{Err: err})
		return nil
	}
	s.codeCache.Set(codeHash, code)
	return code
}

// GetState returns the current value of a storage slot.
func (s *State) GetState(addr common.Address, slot common.Hash) common.Hash {
	if entry, ok := s.journal.accounts[addr]; ok {
		if value, ok := entry.storage[slot]; ok {
			return value
		}
	}
	return s.committedStorage(addr, slot)
}

// GetCommittedState returns the slot value as of the last commit point,
// ignoring writes made by the open transaction.
func (s *State) GetCommittedState(addr common.Address, slot common.Hash) common.Hash {
	return s.committedStorage(addr, slot)
}

// BlockHash resolves a historical block hash through the backing database.
func (s *State) BlockHash(number uint64) common.Hash {
	hash, err := s.db.BlockHash(number)
	if err != nil {
		s.setError(&DatabaseError{Err: err})
		return common.Hash{}
	}
	return hash
}

// ---------------------------------------------------------------------------
// write path: everything lands in the transaction journal
// ---------------------------------------------------------------------------

func (s *State) mutJournal(addr common.Address) *journalAccount {
	entry, ok := s.journal.accounts[addr]
	if !ok {
		entry = &journalAccount{}
		s.journal.accounts[addr] = entry
	}
	return entry
}

// mutInfo returns the journal entry with a writable info, seeded from the
// committed view. Writing to a nonexistent account creates it.
func (s *State) mutInfo(addr common.Address) *journalAccount {
	entry := s.mutJournal(addr)
	entry.touched = true
	if !entry.infoDirty {
		base := s.committedInfo(addr).Copy()
		if base == nil {
			base = &AccountInfo{Balance: new(uint256.Int), CodeHash: types.EmptyCodeHash}
		}
		if base.Balance == nil {
			base.Balance = new(uint256.Int)
		}
		entry.info = base
		entry.infoDirty = true
	}
	return entry
}

// CreateAccount makes sure the account exists. Unlike a fresh deploy it
// does not wipe anything that is already there.
func (s *State) CreateAccount(addr common.Address) {
	entry := s.mutInfo(addr)
	entry.created = true
}

// AddBalance credits the account. A zero-value credit still marks the
// account as touched, which is what lets EIP-161 clear empty accounts
// that were merely brushed by a transfer.
func (s *State) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) {
	if amount == nil || amount.IsZero() {
		s.mutJournal(addr).touched = true
		return
	}
	entry := s.mutInfo(addr)
	entry.info.Balance = new(uint256.Int).Add(entry.info.Balance, amount)
	entry.balanceReason = reason
}

// SubBalance debits the account. Balance checks are the caller's job; the
// overlay does not reject an overdraft.
func (s *State) SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) {
	if amount == nil || amount.IsZero() {
		s.mutJournal(addr).touched = true
		return
	}
	entry := s.mutInfo(addr)
	entry.info.Balance = new(uint256.Int).Sub(entry.info.Balance, amount)
	entry.balanceReason = reason
}

func (s *State) SetBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) {
	entry := s.mutInfo(addr)
	entry.info.Balance = new(uint256.Int)
	if amount != nil {
		entry.info.Balance.Set(amount)
	}
	entry.balanceReason = reason
}

func (s *State) SetNonce(addr common.Address, nonce uint64, reason tracing.NonceChangeReason) {
	entry := s.mutInfo(addr)
	entry.info.Nonce = nonce
	entry.nonceReason = reason
}

// SetCode deploys code to the account and returns its hash.
func (s *State) SetCode(addr common.Address, code []byte) common.Hash {
	entry := s.mutInfo(addr)
	hash := crypto.Keccak256Hash(code)
	entry.info.CodeHash = hash
	entry.code = append([]byte(nil), code...)
	return hash
}

func (s *State) SetState(addr common.Address, slot, value common.Hash) {
	entry := s.mutJournal(addr)
	entry.touched = true
	if entry.storage == nil {
		entry.storage = make(map[common.Hash]common.Hash)
	}
	entry.storage[slot] = value
}

// ---------------------------------------------------------------------------
// logs
// ---------------------------------------------------------------------------

// SetTxContext readies the overlay for the next transaction. Any writes
// still sitting in the journal are dropped.
func (s *State) SetTxContext(thash common.Hash, tindex int) {
	s.journal = newTxJournal(thash, tindex)
}

// TxIndex returns the index set by the last SetTxContext.
func (s *State) TxIndex() int { return s.journal.tindex }

// AddLog records a log emitted by the open transaction, stamping it with
// the transaction context and the running in-block log index.
func (s *State) AddLog(log *types.Log) {
	log.TxHash = s.journal.thash
	log.TxIndex = uint(s.journal.tindex)
	log.Index = s.logSize
	s.logSize++
	s.journal.logs = append(s.journal.logs, log)
}

// GetLogs returns the logs of a finalised transaction, completed with the
// enclosing block's number and hash.
func (s *State) GetLogs(thash common.Hash, blockNumber uint64, blockHash common.Hash) []*types.Log {
	logs := s.logs[thash]
	for _, l := range logs {
		l.BlockNumber = blockNumber
		l.BlockHash = blockHash
	}
	return logs
}

// ---------------------------------------------------------------------------
// lifecycle: transaction -> transitions -> bundle
// ---------------------------------------------------------------------------

// Finalise commits the open journal into the current block's transitions
// and returns the delta, which is what state hooks are fed with. When
// deleteEmpty is set (and state clearing is not disabled), touched
// accounts that end the transaction empty are removed per EIP-161.
func (s *State) Finalise(deleteEmpty bool) Changes {
	deleteEmpty = deleteEmpty && !s.noStateClear
	j := s.journal
	changes := make(Changes)

	for addr, entry := range j.accounts {
		committedBefore := s.committedInfo(addr)
		wrote := entry.infoDirty || len(entry.storage) > 0 || entry.created
		clearing := deleteEmpty && entry.touched && committedBefore != nil && committedBefore.Empty()
		if !wrote && !clearing {
			continue
		}

		tr, ok := s.transitions[addr]
		if !ok {
			tr = &transitionAccount{preInfo: committedBefore.Copy()}
			s.transitions[addr] = tr
		}
		cur, ok := s.current[addr]
		if !ok {
			cur = &currentAccount{info: committedBefore.Copy(), storage: make(map[common.Hash]common.Hash)}
			s.current[addr] = cur
		}

		var slotChanges map[common.Hash]common.Hash
		if len(entry.storage) > 0 {
			slotChanges = make(map[common.Hash]common.Hash, len(entry.storage))
			if tr.preStorage == nil {
				tr.preStorage = make(map[common.Hash]common.Hash)
			}
		}
		for slot, value := range entry.storage {
			if _, ok := tr.preStorage[slot]; !ok {
				tr.preStorage[slot] = s.committedStorage(addr, slot)
			}
			cur.storage[slot] = value
			slotChanges[slot] = value
		}
		if entry.infoDirty {
			cur.info = entry.info
		}
		if deleteEmpty && entry.touched && cur.info != nil && cur.info.Empty() {
			cur.info = nil
			cur.storage = make(map[common.Hash]common.Hash)
		}
		if entry.code != nil && cur.info != nil {
			s.newContracts[cur.info.CodeHash] = entry.code
			s.codeCache.Set(cur.info.CodeHash, entry.code)
		}

		changes[addr] = &AccountChange{
			Info:          cur.info.Copy(),
			Storage:       slotChanges,
			Touched:       entry.touched,
			BalanceReason: entry.balanceReason,
			NonceReason:   entry.nonceReason,
		}
	}

	if len(j.logs) > 0 {
		s.logs[j.thash] = append(s.logs[j.thash], j.logs...)
		s.blockTxs = append(s.blockTxs, j.thash)
	}
	s.journal = newTxJournal(j.thash, j.tindex)
	return changes
}

// DiscardTx throws away the open journal, leaving the committed view as
// it was after the last Finalise.
func (s *State) DiscardTx() {
	s.logSize -= uint(len(s.journal.logs))
	s.journal = newTxJournal(s.journal.thash, s.journal.tindex)
}

// MergeTransitions closes the current block: it builds the block's diff
// from the recorded transitions, folds it into the bundle (when bundle
// updates are enabled) and resets per-block bookkeeping. No-op accounts
// whose values returned to their pre-block state are dropped from the
// diff.
func (s *State) MergeTransitions() *BundleState {
	diff := NewBundleState()
	for addr, tr := range s.transitions {
		cur, ok := s.current[addr]
		if !ok {
			continue
		}
		slots := make(map[common.Hash]StorageSlot)
		for slot, pre := range tr.preStorage {
			present := cur.storage[slot]
			if pre != present {
				slots[slot] = StorageSlot{Previous: pre, Present: present}
			}
		}
		if infoEqual(tr.preInfo, cur.info) && len(slots) == 0 {
			continue
		}
		diff.Accounts[addr] = &BundleAccount{
			Original: tr.preInfo.Copy(),
			Info:     cur.info.Copy(),
			Storage:  slots,
		}
	}
	for hash, code := range s.newContracts {
		diff.Contracts[hash] = code
	}
	if s.bundleUpdate {
		s.bundle.Extend(diff)
	}
	s.transitions = make(map[common.Address]*transitionAccount)
	s.newContracts = make(map[common.Hash][]byte)
	s.blockTxs = nil
	s.logSize = 0
	return diff
}

// DiscardTransitions rolls the committed view back to the start of the
// current block and drops everything the block accumulated, including its
// logs. The bundle keeps only fully merged blocks, so it is untouched.
func (s *State) DiscardTransitions() {
	for addr, tr := range s.transitions {
		cur, ok := s.current[addr]
		if !ok {
			continue
		}
		cur.info = tr.preInfo.Copy()
		for slot, pre := range tr.preStorage {
			cur.storage[slot] = pre
		}
	}
	for _, thash := range s.blockTxs {
		delete(s.logs, thash)
	}
	s.transitions = make(map[common.Address]*transitionAccount)
	s.newContracts = make(map[common.Hash][]byte)
	s.blockTxs = nil
	s.logSize = 0
	s.journal = newTxJournal(common.Hash{}, 0)
}

// Bundle exposes the accumulated bundle for inspection (size hints and
// the like). Callers must not mutate it; TakeBundle is how ownership is
// transferred.
func (s *State) Bundle() *BundleState { return s.bundle }

// TakeBundle hands the accumulated bundle to the caller and leaves the
// overlay with a fresh, empty one.
func (s *State) TakeBundle() *BundleState {
	b := s.bundle
	s.bundle = NewBundleState()
	return b
}

// ---------------------------------------------------------------------------
// prefetch support
// ---------------------------------------------------------------------------

// HasAccountOrigin reports whether the account's backing-database view is
// already cached, so prefetchers can skip it.
func (s *State) HasAccountOrigin(addr common.Address) bool {
	o, ok := s.origins[addr]
	return ok && o.infoLoaded
}

// WarmAccount installs a prefetched account into the origin cache. It is
// a no-op if the account was already read through.
func (s *State) WarmAccount(addr common.Address, info *AccountInfo) {
	o := s.origin(addr)
	if o.infoLoaded {
		return
	}
	o.info = info.Copy()
	o.infoLoaded = true
}

// WarmStorage installs a prefetched storage slot into the origin cache.
func (s *State) WarmStorage(addr common.Address, slot, value common.Hash) {
	o := s.origin(addr)
	if _, ok := o.storage[slot]; ok {
		return
	}
	o.storage[slot] = value
}
