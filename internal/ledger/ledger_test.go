package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mhbank/bankcore/internal/money"
)

func testAccount(id, number, balance string) *Account {
	return &Account{
		ID:           id,
		UserID:       "user-" + id,
		Number:       number,
		IBAN:         "GB00TEST" + number,
		Balance:      balance,
		Currency:     "USD",
		DailyLimit:   "10000.00",
		MonthlyLimit: "100000.00",
		DailyUsed:    "0.00",
		MonthlyUsed:  "0.00",
		Active:       true,
		OpenedAt:     time.Now().Add(-30 * 24 * time.Hour),
	}
}

func TestApplyDebitCredit(t *testing.T) {
	acct := testAccount("a1", "1001", "1000.00")

	if err := ApplyDebit(acct, "200.00"); err != nil {
		t.Fatalf("ApplyDebit: %v", err)
	}
	if acct.Balance != "800.00" {
		t.Errorf("balance = %s, want 800.00", acct.Balance)
	}

	if err := ApplyCredit(acct, "50.00"); err != nil {
		t.Fatalf("ApplyCredit: %v", err)
	}
	if acct.Balance != "850.00" {
		t.Errorf("balance = %s, want 850.00", acct.Balance)
	}

	if err := ApplyDebit(acct, "1000.00"); err != ErrInsufficientBalance {
		t.Errorf("overdraft error = %v, want ErrInsufficientBalance", err)
	}
	if acct.Balance != "850.00" {
		t.Errorf("balance changed on rejected debit: %s", acct.Balance)
	}

	if err := ApplyDebit(acct, "0"); err != ErrInvalidAmount {
		t.Errorf("zero debit error = %v, want ErrInvalidAmount", err)
	}
	if err := ApplyCredit(acct, "-5.00"); err != ErrInvalidAmount {
		t.Errorf("negative credit error = %v, want ErrInvalidAmount", err)
	}
}

func TestMemoryStore_AccountLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	acct := testAccount("a1", "1001", "500.00")
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := store.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Number != "1001" || got.Balance != "500.00" {
		t.Errorf("unexpected account: %+v", got)
	}

	byNum, err := store.GetAccountByNumber(ctx, "1001")
	if err != nil {
		t.Fatalf("GetAccountByNumber: %v", err)
	}
	if byNum.ID != "a1" {
		t.Errorf("byNumber.ID = %s, want a1", byNum.ID)
	}

	if _, err := store.GetAccount(ctx, "missing"); err != ErrAccountNotFound {
		t.Errorf("missing account error = %v, want ErrAccountNotFound", err)
	}

	// Mutating a returned copy must not leak into the store.
	got.Balance = "0.00"
	again, _ := store.GetAccount(ctx, "a1")
	if again.Balance != "500.00" {
		t.Error("store state aliased through returned account")
	}
}

func commitTransfer(t *testing.T, store Store, fromID, toID, amount, reference string) error {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	accounts, err := tx.LockAccounts(ctx, fromID, toID)
	if err != nil {
		return err
	}
	from, to := accounts[fromID], accounts[toID]

	if err := ApplyDebit(from, amount); err != nil {
		return err
	}
	if err := ApplyCredit(to, amount); err != nil {
		return err
	}
	if err := tx.PersistAccounts(ctx, from, to); err != nil {
		return err
	}

	now := time.Now()
	txn := &Transaction{
		ID:          "txn-" + reference,
		Reference:   reference,
		Type:        TypeTransfer,
		Status:      StatusCompleted,
		Amount:      amount,
		Currency:    "USD",
		CreatedAt:   now,
		CompletedAt: &now,
	}
	legs := []*Entry{
		{ID: "e1-" + reference, TransactionID: txn.ID, AccountID: fromID, Direction: DirectionDebit, Amount: amount, CreatedAt: now},
		{ID: "e2-" + reference, TransactionID: txn.ID, AccountID: toID, Direction: DirectionCredit, Amount: amount, CreatedAt: now},
	}
	if err := tx.InsertTransaction(ctx, txn, legs); err != nil {
		return err
	}
	return tx.Commit()
}

func TestMemoryStore_TransferConservation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.CreateAccount(ctx, testAccount("a1", "1001", "1000.00"))
	store.CreateAccount(ctx, testAccount("a2", "1002", "500.00"))

	if err := commitTransfer(t, store, "a1", "a2", "200.00", "TRX1"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	from, _ := store.GetAccount(ctx, "a1")
	to, _ := store.GetAccount(ctx, "a2")
	if from.Balance != "800.00" {
		t.Errorf("source balance = %s, want 800.00", from.Balance)
	}
	if to.Balance != "700.00" {
		t.Errorf("dest balance = %s, want 700.00", to.Balance)
	}
	if money.Add(from.Balance, to.Balance) != "1500.00" {
		t.Error("transfer did not conserve total balance")
	}

	legs, err := store.GetTransactionEntries(ctx, "txn-TRX1")
	if err != nil || len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %d (err %v)", len(legs), err)
	}

	history, err := store.ListAccountTransactions(ctx, "a2", 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("dest history length = %d (err %v)", len(history), err)
	}
	if history[0].Direction != DirectionCredit {
		t.Errorf("dest leg direction = %s, want credit", history[0].Direction)
	}
}

func TestMemoryStore_RollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.CreateAccount(ctx, testAccount("a1", "1001", "1000.00"))
	store.CreateAccount(ctx, testAccount("a2", "1002", "500.00"))

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	accounts, _ := tx.LockAccounts(ctx, "a1", "a2")
	from, to := accounts["a1"], accounts["a2"]
	ApplyDebit(from, "300.00")
	ApplyCredit(to, "300.00")
	tx.PersistAccounts(ctx, from, to)
	now := time.Now()
	tx.InsertTransaction(ctx, &Transaction{
		ID: "txn-x", Reference: "TRXX", Type: TypeTransfer, Status: StatusCompleted,
		Amount: "300.00", Currency: "USD", CreatedAt: now,
	}, nil)
	tx.Rollback()

	got, _ := store.GetAccount(ctx, "a1")
	if got.Balance != "1000.00" {
		t.Errorf("rollback leaked balance mutation: %s", got.Balance)
	}
	if _, err := store.GetTransaction(ctx, "txn-x"); err != ErrTransactionNotFound {
		t.Errorf("rollback leaked transaction insert: %v", err)
	}

	// The reference must be reusable after rollback.
	if err := commitTransfer(t, store, "a1", "a2", "100.00", "TRXX"); err != nil {
		t.Errorf("reference not released after rollback: %v", err)
	}
}

func TestMemoryStore_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.CreateAccount(ctx, testAccount("a1", "1001", "1000.00"))
	store.CreateAccount(ctx, testAccount("a2", "1002", "500.00"))

	if err := commitTransfer(t, store, "a1", "a2", "100.00", "TRX1"); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	err := commitTransfer(t, store, "a1", "a2", "100.00", "TRX1")
	if err != ErrDuplicateReference {
		t.Errorf("duplicate reference error = %v, want ErrDuplicateReference", err)
	}
}

func TestMemoryStore_ConcurrentOppositeTransfers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.CreateAccount(ctx, testAccount("a1", "1001", "1000.00"))
	store.CreateAccount(ctx, testAccount("a2", "1002", "1000.00"))

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			commitTransfer(t, store, "a1", "a2", "1.00", "TRXA"+time.Now().Format("150405.000000000")+string(rune('a'+i%26))+"1")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			commitTransfer(t, store, "a2", "a1", "1.00", "TRXB"+time.Now().Format("150405.000000000")+string(rune('a'+i%26))+"2")
		}
	}()
	wg.Wait()

	from, _ := store.GetAccount(ctx, "a1")
	to, _ := store.GetAccount(ctx, "a2")
	if money.Add(from.Balance, to.Balance) != "2000.00" {
		t.Errorf("total balance drifted: %s + %s", from.Balance, to.Balance)
	}
	if money.Cmp(from.Balance, "0") < 0 || money.Cmp(to.Balance, "0") < 0 {
		t.Error("balance went negative under concurrency")
	}
}

func TestMemoryStore_FraudInputs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.CreateAccount(ctx, testAccount("a1", "1001", "10000.00"))
	store.CreateAccount(ctx, testAccount("a2", "1002", "0.00"))

	for i, amount := range []string{"100.00", "200.00", "300.00"} {
		ref := "TRX" + string(rune('A'+i))
		if err := commitTransfer(t, store, "a1", "a2", amount, ref); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}

	avg, hasHistory, err := store.AvgEntryAmount(ctx, "a1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("AvgEntryAmount: %v", err)
	}
	if !hasHistory || avg != "200.00" {
		t.Errorf("avg = %s hasHistory = %v, want 200.00 true", avg, hasHistory)
	}

	count, err := store.CountEntries(ctx, "a1", time.Now().Add(-time.Hour))
	if err != nil || count != 3 {
		t.Errorf("count = %d (err %v), want 3", count, err)
	}

	_, hasHistory, _ = store.AvgEntryAmount(ctx, "missing", time.Now().Add(-time.Hour))
	if hasHistory {
		t.Error("expected no history for unknown account")
	}

	entries, err := store.ListEntriesSince(ctx, "a1", time.Now().Add(-time.Hour))
	if err != nil || len(entries) != 3 {
		t.Errorf("entries = %d (err %v), want 3", len(entries), err)
	}
	for _, e := range entries {
		if e.Direction != DirectionDebit {
			t.Errorf("source entry direction = %s, want debit", e.Direction)
		}
	}
}

func TestAccount_LastActivity(t *testing.T) {
	opened := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := &Account{OpenedAt: opened}
	if !acct.LastActivity().Equal(opened) {
		t.Error("LastActivity should fall back to OpenedAt")
	}

	last := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	acct.LastTransactionAt = &last
	if !acct.LastActivity().Equal(last) {
		t.Error("LastActivity should prefer LastTransactionAt")
	}
}
