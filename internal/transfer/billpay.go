package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhbank/bankcore/internal/idgen"
	"github.com/mhbank/bankcore/internal/ledger"
	"github.com/mhbank/bankcore/internal/logging"
	"github.com/mhbank/bankcore/internal/money"
	"github.com/mhbank/bankcore/internal/traces"
)

// BillType classifies a payable bill.
type BillType string

const (
	BillElectricity BillType = "electricity"
	BillWater       BillType = "water"
	BillInternet    BillType = "internet"
	BillPhone       BillType = "phone"
	BillGas         BillType = "gas"
	BillGovernment  BillType = "government"
	BillOther       BillType = "other"
)

// Provider identifies a biller that accepts payments for a bill type.
type Provider struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// billProviders lists the known billers per bill type. Types without a fixed
// provider list (gas, government, other) accept any provider the caller
// names.
var billProviders = map[BillType][]Provider{
	BillElectricity: {
		{Code: "ELEC001", Name: "Ministry of Electricity"},
		{Code: "ELEC002", Name: "Electricity Distribution Co."},
	},
	BillWater: {
		{Code: "WATER001", Name: "Water Authority"},
		{Code: "WATER002", Name: "Water Directorate"},
	},
	BillInternet: {
		{Code: "ISP001", Name: "Earthlink"},
		{Code: "ISP002", Name: "IQ Networks"},
		{Code: "ISP003", Name: "NEWROZ Telecom"},
	},
	BillPhone: {
		{Code: "MOBILE001", Name: "Zain Iraq"},
		{Code: "MOBILE002", Name: "Asiacell"},
		{Code: "MOBILE003", Name: "Korek"},
	},
	BillGas:        {},
	BillGovernment: {},
	BillOther:      {},
}

// Providers returns the billers registered for a bill type. The second
// return is false for an unknown bill type.
func Providers(billType BillType) ([]Provider, bool) {
	providers, ok := billProviders[billType]
	return providers, ok
}

// BillRequest is a single bill payment proposal from the caller.
type BillRequest struct {
	AccountID       string   `json:"accountId"`
	BillType        BillType `json:"billType"`
	BillNumber      string   `json:"billNumber"`
	ServiceProvider string   `json:"serviceProvider"`
	Amount          string   `json:"amount"`
	Notes           string   `json:"notes"`
}

// billDescription renders the biller metadata persisted on the transaction.
func billDescription(req BillRequest) string {
	desc := fmt.Sprintf("%s bill %s via %s", req.BillType, req.BillNumber, req.ServiceProvider)
	if req.Notes != "" {
		desc += ": " + req.Notes
	}
	return desc
}

// PayBill debits one account to settle a bill. Like withdrawals, bill
// payments skip limit and risk checks; the balance check and the debit run
// inside one atomic scope together with the bill record.
func (o *Orchestrator) PayBill(ctx context.Context, requesterID string, req BillRequest) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.bill_payment",
		traces.AccountID(req.AccountID),
		traces.Amount(req.Amount),
	)
	defer span.End()

	if amt, ok := money.Parse(req.Amount); !ok || amt.Sign() <= 0 {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
	}
	if _, ok := Providers(req.BillType); !ok {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "unknown bill type %q", req.BillType)
	}
	if req.BillNumber == "" || req.ServiceProvider == "" {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "bill number and service provider are required")
	}

	unlock, err := o.locks.LockContext(ctx, req.AccountID)
	if err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "request cancelled")
	}
	defer unlock()

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "could not open atomic scope")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lockedAccounts, err := tx.LockAccounts(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, failf(ErrNotFound, ReasonNotFound, "account not found")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account locking failed")
	}
	acct := lockedAccounts[req.AccountID]
	if acct.UserID != requesterID {
		return nil, failf(ErrForbidden, ReasonForbidden, "account is not owned by the requester")
	}
	if !acct.Active {
		return nil, failf(ErrInvalidState, ReasonInvalidState, "account is inactive")
	}

	now := o.now().UTC()
	ref := idgen.BillReference(now)
	span.SetAttributes(traces.Reference(ref))

	if err := ledger.ApplyDebit(acct, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, failf(ErrInsufficientBalance, ReasonInsufficientBalance,
				"insufficient balance. current balance: %s", acct.Balance)
		}
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
	}

	txn := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		Reference:   ref,
		Type:        ledger.TypeBillPayment,
		Status:      ledger.StatusCompleted,
		Amount:      money.Add(req.Amount, "0"),
		Currency:    acct.Currency,
		Description: billDescription(req),
		CreatedAt:   now,
		CompletedAt: &now,
	}
	legs := []*ledger.Entry{
		{ID: idgen.WithPrefix("ent_"), TransactionID: txn.ID, AccountID: acct.ID, Direction: ledger.DirectionDebit, Amount: txn.Amount, CreatedAt: now},
	}

	if err := tx.PersistAccounts(ctx, acct); err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account persistence failed")
	}
	if err := tx.InsertTransaction(ctx, txn, legs); err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			return nil, failf(ErrStoreConflict, ReasonStoreConflict,
				"reference number collision, retry the request")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "transaction insert failed")
	}
	if err := tx.Commit(); err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "commit failed")
	}
	committed = true

	if o.notifier != nil {
		o.notifier.BillPaid(ctx, acct.UserID, acct.ID, txn.Amount, ref, req.ServiceProvider)
	}

	logging.L(ctx).Info("bill payment completed",
		"reference", ref,
		"account", acct.ID,
		"bill_type", req.BillType,
		"provider", req.ServiceProvider,
		"amount", txn.Amount,
	)

	return &Result{
		TransactionID:   txn.ID,
		ReferenceNumber: ref,
		NewBalance:      acct.Balance,
		State:           StateCompleted,
	}, nil
}
