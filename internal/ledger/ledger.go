// Package ledger holds the durable record of accounts and committed
// transactions.
//
// Bookkeeping is double-entry: every committed Transaction carries one or two
// tagged Entry legs. A transfer produces a debit leg on the source account and
// a credit leg on the destination account sharing the same transaction ID, so
// both sides have an auditable row. Deposits and withdrawals carry a single
// leg.
//
// Balance mutation happens in memory on loaded Account values (ApplyDebit,
// ApplyCredit); persistence is only possible through the atomic Tx scope so a
// partially-updated account pair is never observable outside it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mhbank/bankcore/internal/money"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("transaction reference already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// TransactionType classifies a committed transaction.
type TransactionType string

const (
	TypeDeposit     TransactionType = "deposit"
	TypeWithdrawal  TransactionType = "withdrawal"
	TypeTransfer    TransactionType = "transfer"
	TypeBillPayment TransactionType = "bill_payment"
)

// TransactionStatus is the settlement state of a transaction. Rows are only
// written in a terminal state; there is no asynchronous settlement phase.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Direction tags which side of a transaction an entry leg records.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Account is a balance-bearing ledger account owned by exactly one user.
type Account struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Number   string `json:"number"`
	IBAN     string `json:"iban"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`

	DailyLimit   string `json:"dailyLimit"`
	MonthlyLimit string `json:"monthlyLimit"`
	DailyUsed    string `json:"dailyUsed"`
	MonthlyUsed  string `json:"monthlyUsed"`

	Active            bool       `json:"active"`
	OpenedAt          time.Time  `json:"openedAt"`
	LastTransactionAt *time.Time `json:"lastTransactionAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Transaction is an immutable committed ledger transaction.
type Transaction struct {
	ID          string            `json:"id"`
	Reference   string            `json:"reference"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Entry is one tagged leg of a transaction.
type Entry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	Direction     Direction `json:"direction"`
	Amount        string    `json:"amount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AccountTransaction is a transaction as seen from one account's history,
// annotated with the direction of that account's leg.
type AccountTransaction struct {
	Transaction
	Direction Direction `json:"direction"`
}

// Store persists accounts and transactions.
type Store interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)

	// UpdateLimitCounters persists dailyUsed/monthlyUsed/lastTransactionAt
	// outside an atomic scope. Used for lazy limit resets, which take effect
	// immediately even when the pending transfer is then rejected.
	UpdateLimitCounters(ctx context.Context, account *Account) error

	// UpdateAccountLimits changes the configured caps. Nil leaves a cap as is.
	UpdateAccountLimits(ctx context.Context, accountID string, dailyLimit, monthlyLimit *string) error

	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetTransactionEntries(ctx context.Context, transactionID string) ([]*Entry, error)
	ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]*AccountTransaction, error)

	// Fraud-scoring inputs, derived fresh from committed entries.
	AvgEntryAmount(ctx context.Context, accountID string, since time.Time) (avg string, hasHistory bool, err error)
	CountEntries(ctx context.Context, accountID string, since time.Time) (int, error)
	ListEntriesSince(ctx context.Context, accountID string, since time.Time) ([]*Entry, error)

	// Begin opens an atomic scope. Everything persisted through the returned
	// Tx lands together on Commit or not at all.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic unit of work against the store.
//
// LockAccounts re-reads accounts under write locks, always acquiring them in
// ascending account-ID order so two concurrent transfers between the same
// pair in opposite directions cannot deadlock.
type Tx interface {
	LockAccounts(ctx context.Context, ids ...string) (map[string]*Account, error)
	PersistAccounts(ctx context.Context, accounts ...*Account) error
	InsertTransaction(ctx context.Context, txn *Transaction, legs []*Entry) error
	Commit() error
	Rollback() error
}

// ApplyDebit subtracts amount from the account balance in memory.
// The balance never goes negative; persistence is the caller's job.
func ApplyDebit(account *Account, amount string) error {
	amt, ok := money.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if money.Cmp(account.Balance, amount) < 0 {
		return ErrInsufficientBalance
	}
	account.Balance = money.Sub(account.Balance, amount)
	return nil
}

// ApplyCredit adds amount to the account balance in memory.
func ApplyCredit(account *Account, amount string) error {
	amt, ok := money.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	account.Balance = money.Add(account.Balance, amount)
	return nil
}

// Clone returns a copy of the account safe to mutate without aliasing.
func (a *Account) Clone() *Account {
	cp := *a
	if a.LastTransactionAt != nil {
		t := *a.LastTransactionAt
		cp.LastTransactionAt = &t
	}
	return &cp
}

// LastActivity returns the reference time for limit-window resets: the last
// transaction time, or the opening time for accounts that never transacted.
func (a *Account) LastActivity() time.Time {
	if a.LastTransactionAt != nil {
		return *a.LastTransactionAt
	}
	return a.OpenedAt
}
