package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/mhbank/bankcore/internal/testutil"
)

func pgAccount(id, userID, number, balance string) *Account {
	return &Account{
		ID:           id,
		UserID:       userID,
		Number:       number,
		IBAN:         "DE0000000000000000" + number,
		Balance:      balance,
		Currency:     "USD",
		DailyLimit:   "5000.00",
		MonthlyLimit: "50000.00",
		DailyUsed:    "0.00",
		MonthlyUsed:  "0.00",
		Active:       true,
		OpenedAt:     time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
}

func TestPostgresStore_AccountRoundtrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, pgAccount("pg-acct-1", "pg-user-1", "9001", "1000.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	acct, err := store.GetAccount(ctx, "pg-acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Balance != "1000.00" || acct.UserID != "pg-user-1" {
		t.Errorf("unexpected account: %+v", acct)
	}

	byNumber, err := store.GetAccountByNumber(ctx, "9001")
	if err != nil {
		t.Fatalf("GetAccountByNumber: %v", err)
	}
	if byNumber.ID != "pg-acct-1" {
		t.Errorf("lookup by number returned %s", byNumber.ID)
	}

	if _, err := store.GetAccount(ctx, "missing"); err != ErrAccountNotFound {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPostgresStore_UpdateLimits(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, pgAccount("pg-acct-2", "pg-user-2", "9002", "1000.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	daily := "2000.00"
	if err := store.UpdateAccountLimits(ctx, "pg-acct-2", &daily, nil); err != nil {
		t.Fatalf("UpdateAccountLimits: %v", err)
	}

	acct, err := store.GetAccount(ctx, "pg-acct-2")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.DailyLimit != "2000.00" {
		t.Errorf("DailyLimit = %s, want 2000.00", acct.DailyLimit)
	}
	if acct.MonthlyLimit != "50000.00" {
		t.Errorf("MonthlyLimit changed unexpectedly: %s", acct.MonthlyLimit)
	}

	acct.DailyUsed = "150.00"
	acct.MonthlyUsed = "150.00"
	now := time.Now().UTC()
	acct.LastTransactionAt = &now
	if err := store.UpdateLimitCounters(ctx, acct); err != nil {
		t.Fatalf("UpdateLimitCounters: %v", err)
	}

	reread, err := store.GetAccount(ctx, "pg-acct-2")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if reread.DailyUsed != "150.00" || reread.LastTransactionAt == nil {
		t.Errorf("counters not persisted: %+v", reread)
	}
}

func TestPostgresStore_AtomicTransfer(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, pgAccount("pg-src", "pg-user-3", "9003", "1000.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := store.CreateAccount(ctx, pgAccount("pg-dst", "pg-user-4", "9004", "500.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	locked, err := tx.LockAccounts(ctx, "pg-src", "pg-dst")
	if err != nil {
		t.Fatalf("LockAccounts: %v", err)
	}
	src, dst := locked["pg-src"], locked["pg-dst"]

	if err := ApplyDebit(src, "100.00"); err != nil {
		t.Fatalf("ApplyDebit: %v", err)
	}
	if err := ApplyCredit(dst, "100.00"); err != nil {
		t.Fatalf("ApplyCredit: %v", err)
	}

	now := time.Now().UTC()
	txn := &Transaction{
		ID:          "pg-txn-1",
		Reference:   "TRXPGTEST0001",
		Type:        TypeTransfer,
		Status:      StatusCompleted,
		Amount:      "100.00",
		Currency:    "USD",
		Description: "integration",
		CreatedAt:   now,
		CompletedAt: &now,
	}
	legs := []*Entry{
		{ID: "pg-ent-1", TransactionID: txn.ID, AccountID: "pg-src", Direction: DirectionDebit, Amount: "100.00", CreatedAt: now},
		{ID: "pg-ent-2", TransactionID: txn.ID, AccountID: "pg-dst", Direction: DirectionCredit, Amount: "100.00", CreatedAt: now},
	}

	if err := tx.PersistAccounts(ctx, src, dst); err != nil {
		t.Fatalf("PersistAccounts: %v", err)
	}
	if err := tx.InsertTransaction(ctx, txn, legs); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	srcAfter, err := store.GetAccount(ctx, "pg-src")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if srcAfter.Balance != "900.00" {
		t.Errorf("source balance = %s, want 900.00", srcAfter.Balance)
	}

	entries, err := store.GetTransactionEntries(ctx, "pg-txn-1")
	if err != nil {
		t.Fatalf("GetTransactionEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	history, err := store.ListAccountTransactions(ctx, "pg-src", 10)
	if err != nil {
		t.Fatalf("ListAccountTransactions: %v", err)
	}
	if len(history) != 1 || history[0].Direction != DirectionDebit {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestPostgresStore_RollbackLeavesNoTrace(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, pgAccount("pg-rb", "pg-user-5", "9005", "1000.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	locked, err := tx.LockAccounts(ctx, "pg-rb")
	if err != nil {
		t.Fatalf("LockAccounts: %v", err)
	}
	acct := locked["pg-rb"]
	if err := ApplyDebit(acct, "400.00"); err != nil {
		t.Fatalf("ApplyDebit: %v", err)
	}
	if err := tx.PersistAccounts(ctx, acct); err != nil {
		t.Fatalf("PersistAccounts: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	after, err := store.GetAccount(ctx, "pg-rb")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if after.Balance != "1000.00" {
		t.Errorf("balance after rollback = %s, want 1000.00", after.Balance)
	}
}

func TestPostgresStore_DuplicateReference(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, pgAccount("pg-dup", "pg-user-6", "9006", "1000.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	now := time.Now().UTC()
	insert := func(id string) error {
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		txn := &Transaction{
			ID: id, Reference: "TRXPGTESTDUP", Type: TypeDeposit, Status: StatusCompleted,
			Amount: "10.00", Currency: "USD", CreatedAt: now, CompletedAt: &now,
		}
		legs := []*Entry{{ID: id + "-leg", TransactionID: id, AccountID: "pg-dup", Direction: DirectionCredit, Amount: "10.00", CreatedAt: now}}
		if err := tx.InsertTransaction(ctx, txn, legs); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	if err := insert("pg-txn-a"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert("pg-txn-b"); err != ErrDuplicateReference {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestPostgresStore_FraudInputs(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, pgAccount("pg-hist", "pg-user-7", "9007", "1000.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	now := time.Now().UTC()
	for i, amount := range []string{"100.00", "200.00", "300.00"} {
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		id := "pg-hist-txn-" + string(rune('a'+i))
		txn := &Transaction{
			ID: id, Reference: "TRXPGHIST" + string(rune('A'+i)), Type: TypeDeposit,
			Status: StatusCompleted, Amount: amount, Currency: "USD", CreatedAt: now, CompletedAt: &now,
		}
		legs := []*Entry{{ID: id + "-leg", TransactionID: id, AccountID: "pg-hist", Direction: DirectionCredit, Amount: amount, CreatedAt: now}}
		if err := tx.InsertTransaction(ctx, txn, legs); err != nil {
			t.Fatalf("InsertTransaction: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	since := now.Add(-time.Hour)
	avg, hasHistory, err := store.AvgEntryAmount(ctx, "pg-hist", since)
	if err != nil {
		t.Fatalf("AvgEntryAmount: %v", err)
	}
	if !hasHistory || avg != "200.00" {
		t.Errorf("avg = %s hasHistory = %v, want 200.00 true", avg, hasHistory)
	}

	count, err := store.CountEntries(ctx, "pg-hist", since)
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	_, hasHistory, err = store.AvgEntryAmount(ctx, "pg-hist", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AvgEntryAmount: %v", err)
	}
	if hasHistory {
		t.Error("expected no history for future window")
	}
}
