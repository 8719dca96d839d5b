package ledger

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/mhbank/bankcore/internal/money"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
//
// Begin takes the store-wide mutex for the lifetime of the atomic scope, so
// every scope is fully serialized. That is stricter locking than the
// postgres store needs, but it gives the same observable guarantees.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]*Account // by id
	byNumber     map[string]string   // account number -> id
	transactions map[string]*Transaction
	entries      []*Entry
	refs         map[string]bool
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*Account),
		byNumber:     make(map[string]string),
		transactions: make(map[string]*Transaction),
		refs:         make(map[string]bool),
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := account.Clone()
	cp.UpdatedAt = time.Now()
	m.accounts[cp.ID] = cp
	m.byNumber[cp.Number] = cp.ID
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (m *MemoryStore) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byNumber[number]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return m.accounts[id].Clone(), nil
}

func (m *MemoryStore) UpdateLimitCounters(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	stored.DailyUsed = account.DailyUsed
	stored.MonthlyUsed = account.MonthlyUsed
	if account.LastTransactionAt != nil {
		t := *account.LastTransactionAt
		stored.LastTransactionAt = &t
	}
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateAccountLimits(ctx context.Context, accountID string, dailyLimit, monthlyLimit *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if dailyLimit != nil {
		stored.DailyLimit = *dailyLimit
	}
	if monthlyLimit != nil {
		stored.MonthlyLimit = *monthlyLimit
	}
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) GetTransactionEntries(ctx context.Context, transactionID string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var legs []*Entry
	for _, e := range m.entries {
		if e.TransactionID == transactionID {
			cp := *e
			legs = append(legs, &cp)
		}
	}
	return legs, nil
}

func (m *MemoryStore) ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]*AccountTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	// Newest first: entries are appended in commit order.
	result := make([]*AccountTransaction, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.AccountID != accountID {
			continue
		}
		txn, ok := m.transactions[e.TransactionID]
		if !ok {
			continue
		}
		result = append(result, &AccountTransaction{Transaction: *txn, Direction: e.Direction})
	}
	return result, nil
}

func (m *MemoryStore) AvgEntryAmount(ctx context.Context, accountID string, since time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := new(big.Int)
	count := int64(0)
	for _, e := range m.entries {
		if e.AccountID != accountID || e.CreatedAt.Before(since) {
			continue
		}
		amt, _ := money.Parse(e.Amount)
		sum.Add(sum, amt)
		count++
	}
	if count == 0 {
		return "0.00", false, nil
	}
	avg := new(big.Int).Quo(sum, big.NewInt(count))
	return money.Format(avg), true, nil
}

func (m *MemoryStore) ListEntriesSince(ctx context.Context, accountID string, since time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) CountEntries(ctx context.Context, accountID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.entries {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Begin opens an atomic scope holding the store mutex until Commit/Rollback.
func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	return &memTx{
		store:    m,
		accounts: make(map[string]*Account),
	}, nil
}

type memTx struct {
	store    *MemoryStore
	accounts map[string]*Account // staged account states
	txns     []*Transaction
	legs     []*Entry
	done     bool
}

func (t *memTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*Account, error) {
	// The scope already holds the store mutex; ordering is kept anyway so
	// the contract matches the postgres implementation.
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	result := make(map[string]*Account, len(sorted))
	for _, id := range sorted {
		acct, ok := t.store.accounts[id]
		if !ok {
			return nil, ErrAccountNotFound
		}
		result[id] = acct.Clone()
	}
	return result, nil
}

func (t *memTx) PersistAccounts(ctx context.Context, accounts ...*Account) error {
	for _, acct := range accounts {
		if _, ok := t.store.accounts[acct.ID]; !ok {
			return ErrAccountNotFound
		}
		t.accounts[acct.ID] = acct.Clone()
	}
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *Transaction, legs []*Entry) error {
	if t.store.refs[txn.Reference] {
		return ErrDuplicateReference
	}
	for _, staged := range t.txns {
		if staged.Reference == txn.Reference {
			return ErrDuplicateReference
		}
	}

	cp := *txn
	t.txns = append(t.txns, &cp)
	for _, leg := range legs {
		lc := *leg
		t.legs = append(t.legs, &lc)
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true

	now := time.Now()
	for id, acct := range t.accounts {
		acct.UpdatedAt = now
		t.store.accounts[id] = acct
	}
	for _, txn := range t.txns {
		t.store.transactions[txn.ID] = txn
		t.store.refs[txn.Reference] = true
	}
	t.store.entries = append(t.store.entries, t.legs...)

	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
