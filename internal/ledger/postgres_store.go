package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, user_id, number, iban, balance, currency,
	daily_limit, monthly_limit, daily_used, monthly_used,
	active, opened_at, last_transaction_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var acct Account
	var lastTx sql.NullTime
	err := row.Scan(
		&acct.ID, &acct.UserID, &acct.Number, &acct.IBAN, &acct.Balance, &acct.Currency,
		&acct.DailyLimit, &acct.MonthlyLimit, &acct.DailyUsed, &acct.MonthlyUsed,
		&acct.Active, &acct.OpenedAt, &lastTx, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastTx.Valid {
		acct.LastTransactionAt = &lastTx.Time
	}
	return &acct, nil
}

func (p *PostgresStore) CreateAccount(ctx context.Context, account *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, number, iban, balance, currency,
			daily_limit, monthly_limit, daily_used, monthly_used,
			active, opened_at, last_transaction_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6,
			$7::NUMERIC(20,2), $8::NUMERIC(20,2), $9::NUMERIC(20,2), $10::NUMERIC(20,2),
			$11, $12, $13, NOW())
	`, account.ID, account.UserID, account.Number, account.IBAN, account.Balance, account.Currency,
		account.DailyLimit, account.MonthlyLimit, account.DailyUsed, account.MonthlyUsed,
		account.Active, account.OpenedAt, nullTime(account.LastTransactionAt))
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (p *PostgresStore) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number)
	return scanAccount(row)
}

func (p *PostgresStore) UpdateLimitCounters(ctx context.Context, account *Account) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			daily_used   = $2::NUMERIC(20,2),
			monthly_used = $3::NUMERIC(20,2),
			last_transaction_at = COALESCE($4, last_transaction_at),
			updated_at   = NOW()
		WHERE id = $1
	`, account.ID, account.DailyUsed, account.MonthlyUsed, nullTime(account.LastTransactionAt))
	if err != nil {
		return fmt.Errorf("failed to update limit counters: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateAccountLimits(ctx context.Context, accountID string, dailyLimit, monthlyLimit *string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			daily_limit   = COALESCE($2::NUMERIC(20,2), daily_limit),
			monthly_limit = COALESCE($3::NUMERIC(20,2), monthly_limit),
			updated_at    = NOW()
		WHERE id = $1
	`, accountID, dailyLimit, monthlyLimit)
	if err != nil {
		return fmt.Errorf("failed to update account limits: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var txn Transaction
	var completed sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, reference, type, status, amount, currency, description, created_at, completed_at
		FROM transactions WHERE id = $1
	`, id).Scan(&txn.ID, &txn.Reference, &txn.Type, &txn.Status, &txn.Amount, &txn.Currency,
		&txn.Description, &txn.CreatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		txn.CompletedAt = &completed.Time
	}
	return &txn, nil
}

func (p *PostgresStore) GetTransactionEntries(ctx context.Context, transactionID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, direction, amount, created_at
		FROM entries WHERE transaction_id = $1 ORDER BY direction
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legs []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Direction, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		legs = append(legs, &e)
	}
	return legs, rows.Err()
}

func (p *PostgresStore) ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]*AccountTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.reference, t.type, t.status, t.amount, t.currency, t.description,
		       t.created_at, t.completed_at, e.direction
		FROM entries e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.account_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AccountTransaction
	for rows.Next() {
		var at AccountTransaction
		var completed sql.NullTime
		if err := rows.Scan(&at.ID, &at.Reference, &at.Type, &at.Status, &at.Amount, &at.Currency,
			&at.Description, &at.CreatedAt, &completed, &at.Direction); err != nil {
			return nil, err
		}
		if completed.Valid {
			at.CompletedAt = &completed.Time
		}
		result = append(result, &at)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AvgEntryAmount(ctx context.Context, accountID string, since time.Time) (string, bool, error) {
	var avg sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT TO_CHAR(AVG(amount), 'FM999999999999990.00')
		FROM entries WHERE account_id = $1 AND created_at >= $2
	`, accountID, since).Scan(&avg)
	if err != nil {
		return "", false, err
	}
	if !avg.Valid {
		return "0.00", false, nil
	}
	return avg.String, true, nil
}

func (p *PostgresStore) ListEntriesSince(ctx context.Context, accountID string, since time.Time) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, direction, amount, created_at
		FROM entries WHERE account_id = $1 AND created_at >= $2
		ORDER BY created_at
	`, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Direction, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountEntries(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries WHERE account_id = $1 AND created_at >= $2
	`, accountID, since).Scan(&count)
	return count, err
}

// Begin opens a database transaction as the atomic scope.
func (p *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

// LockAccounts re-reads accounts with row locks in ascending ID order.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	result := make(map[string]*Account, len(sorted))
	for _, id := range sorted {
		row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		acct, err := scanAccount(row)
		if err != nil {
			return nil, err
		}
		result[id] = acct
	}
	return result, nil
}

func (t *pgTx) PersistAccounts(ctx context.Context, accounts ...*Account) error {
	for _, acct := range accounts {
		result, err := t.tx.ExecContext(ctx, `
			UPDATE accounts SET
				balance      = $2::NUMERIC(20,2),
				daily_used   = $3::NUMERIC(20,2),
				monthly_used = $4::NUMERIC(20,2),
				last_transaction_at = $5,
				updated_at   = NOW()
			WHERE id = $1
		`, acct.ID, acct.Balance, acct.DailyUsed, acct.MonthlyUsed, nullTime(acct.LastTransactionAt))
		if err != nil {
			return fmt.Errorf("failed to persist account %s: %w", acct.ID, err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return ErrAccountNotFound
		}
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *Transaction, legs []*Entry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, reference, type, status, amount, currency, description, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, $8, $9)
	`, txn.ID, txn.Reference, txn.Type, txn.Status, txn.Amount, txn.Currency, txn.Description,
		txn.CreatedAt, nullTime(txn.CompletedAt))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for _, leg := range legs {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO entries (id, transaction_id, account_id, direction, amount, created_at)
			VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6)
		`, leg.ID, leg.TransactionID, leg.AccountID, leg.Direction, leg.Amount, leg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}
	return nil
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
