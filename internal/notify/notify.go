// Package notify records in-app notifications for account holders.
//
// Delivery is fire-and-forget: a failed notification write is logged and
// counted but never fails the money movement that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mhbank/bankcore/internal/idgen"
	"github.com/mhbank/bankcore/internal/ledger"
	"github.com/mhbank/bankcore/internal/logging"
	"github.com/mhbank/bankcore/internal/metrics"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Kind classifies a notification.
type Kind string

const (
	KindTransferSent         Kind = "transfer.sent"
	KindTransferReceived     Kind = "transfer.received"
	KindDeposit              Kind = "deposit"
	KindWithdrawal           Kind = "withdrawal"
	KindBillPayment          Kind = "bill.payment"
	KindSecurityAlert        Kind = "security.alert"
	KindVerificationRequired Kind = "verification.required"
)

// Notification is a single message addressed to one user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AccountID string    `json:"accountId,omitempty"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

// accountResolver maps an account ID to its owning account. Satisfied by
// ledger.Store.
type accountResolver interface {
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
}

// Emitter writes notifications for ledger events.
type Emitter struct {
	store    Store
	accounts accountResolver
	now      func() time.Time
}

// NewEmitter creates an emitter. The account resolver is used to route
// account-addressed events (security alerts) to the owning user.
func NewEmitter(store Store, accounts accountResolver) *Emitter {
	return &Emitter{store: store, accounts: accounts, now: time.Now}
}

// WithClock overrides the emitter's clock (tests).
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// TransferSent notifies the sender of a completed outgoing transfer.
func (e *Emitter) TransferSent(ctx context.Context, userID, accountID, amount, reference, destNumber string) {
	e.emit(ctx, &Notification{
		UserID:    userID,
		AccountID: accountID,
		Kind:      KindTransferSent,
		Title:     "Transfer sent",
		Message:   fmt.Sprintf("You sent %s to account %s (ref %s)", amount, destNumber, reference),
	})
}

// TransferReceived notifies the recipient of a completed incoming transfer.
func (e *Emitter) TransferReceived(ctx context.Context, userID, accountID, amount, reference, sourceNumber string) {
	e.emit(ctx, &Notification{
		UserID:    userID,
		AccountID: accountID,
		Kind:      KindTransferReceived,
		Title:     "Transfer received",
		Message:   fmt.Sprintf("You received %s from account %s (ref %s)", amount, sourceNumber, reference),
	})
}

// Deposit notifies the account holder of a completed deposit.
func (e *Emitter) Deposit(ctx context.Context, userID, accountID, amount, reference string) {
	e.emit(ctx, &Notification{
		UserID:    userID,
		AccountID: accountID,
		Kind:      KindDeposit,
		Title:     "Deposit completed",
		Message:   fmt.Sprintf("Deposit of %s completed (ref %s)", amount, reference),
	})
}

// Withdrawal notifies the account holder of a completed withdrawal.
func (e *Emitter) Withdrawal(ctx context.Context, userID, accountID, amount, reference string) {
	e.emit(ctx, &Notification{
		UserID:    userID,
		AccountID: accountID,
		Kind:      KindWithdrawal,
		Title:     "Withdrawal completed",
		Message:   fmt.Sprintf("Withdrawal of %s completed (ref %s)", amount, reference),
	})
}

// BillPaid notifies the account holder of a completed bill payment.
func (e *Emitter) BillPaid(ctx context.Context, userID, accountID, amount, reference, provider string) {
	e.emit(ctx, &Notification{
		UserID:    userID,
		AccountID: accountID,
		Kind:      KindBillPayment,
		Title:     "Bill payment completed",
		Message:   fmt.Sprintf("Bill payment of %s to %s completed (ref %s)", amount, provider, reference),
	})
}

// VerificationRequired notifies the sender that a transfer is parked
// pending verification.
func (e *Emitter) VerificationRequired(ctx context.Context, userID, accountID, amount, challenge string) {
	e.emit(ctx, &Notification{
		UserID:    userID,
		AccountID: accountID,
		Kind:      KindVerificationRequired,
		Title:     "Verification required",
		Message:   fmt.Sprintf("A transfer of %s needs verification (challenge %s)", amount, challenge),
	})
}

// SecurityAlert notifies the owner of the given account. It satisfies the
// fraud scorer's notifier interface, which only knows the account ID.
func (e *Emitter) SecurityAlert(ctx context.Context, accountID, message string) {
	acct, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("security alert dropped", "account_id", accountID, "error", err)
		return
	}
	e.emit(ctx, &Notification{
		UserID:    acct.UserID,
		AccountID: accountID,
		Kind:      KindSecurityAlert,
		Title:     "Security alert",
		Message:   message,
	})
}

func (e *Emitter) emit(ctx context.Context, n *Notification) {
	n.ID = idgen.WithPrefix("ntf_")
	n.CreatedAt = e.now()

	if err := e.store.Insert(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("notification dropped",
			"kind", n.Kind,
			"user_id", n.UserID,
			"error", err,
		)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
}
