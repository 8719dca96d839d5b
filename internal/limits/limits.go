// Package limits maintains per-account rolling daily and monthly transfer
// totals and decides whether a proposed amount fits within the configured
// caps.
//
// Counters reset lazily: they are zeroed the next time the account is
// touched after a UTC calendar day or month boundary, not on a wall-clock
// timer. A reset persists immediately even when the pending transfer is then
// rejected.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/mhbank/bankcore/internal/ledger"
	"github.com/mhbank/bankcore/internal/metrics"
	"github.com/mhbank/bankcore/internal/money"
)

// MinTransferAmount is the smallest amount a single transfer may move.
const MinTransferAmount = "1"

// Rejection rule names, used as metric labels.
const (
	RuleMinAmount = "min_amount"
	RuleSingleMax = "single_max"
	RuleBalance   = "balance"
	RuleDaily     = "daily"
	RuleMonthly   = "monthly"
)

// Summary reports an account's current limit usage plus the system-wide
// single-transaction maximum.
type Summary struct {
	DailyLimit           string `json:"dailyLimit"`
	DailyUsed            string `json:"dailyUsed"`
	DailyRemaining       string `json:"dailyRemaining"`
	MonthlyLimit         string `json:"monthlyLimit"`
	MonthlyUsed          string `json:"monthlyUsed"`
	MonthlyRemaining     string `json:"monthlyRemaining"`
	SingleTransactionMax string `json:"singleTransactionMax"`
}

// Store is the slice of the ledger store the tracker needs.
type Store interface {
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	UpdateLimitCounters(ctx context.Context, account *ledger.Account) error
	UpdateAccountLimits(ctx context.Context, accountID string, dailyLimit, monthlyLimit *string) error
}

// Tracker checks and records rolling transfer totals.
type Tracker struct {
	store     Store
	singleMax string
	now       func() time.Time
}

// NewTracker creates a tracker with the given single-transaction maximum.
func NewTracker(store Store, singleMax string) *Tracker {
	return &Tracker{store: store, singleMax: singleMax, now: time.Now}
}

// WithClock overrides the tracker's clock (tests).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// SingleTransactionMax returns the system-wide per-transfer cap.
func (t *Tracker) SingleTransactionMax() string {
	return t.singleMax
}

// CanTransfer decides whether the account may transfer amount right now.
// Checks run in a fixed order and the first failure wins; the returned rule
// names the check that rejected. Stale counters are reset (and persisted)
// before any check is evaluated.
func (t *Tracker) CanTransfer(ctx context.Context, account *ledger.Account, amount string) (allowed bool, rule, reason string, err error) {
	if err := t.resetIfStale(ctx, account); err != nil {
		return false, "", "", err
	}
	rule, reason = t.evaluate(account, amount)
	if rule != "" {
		metrics.LimitRejectionsTotal.WithLabelValues(rule).Inc()
		return false, rule, reason, nil
	}
	return true, "", "", nil
}

// Recheck re-applies the stale-counter reset in memory and re-evaluates the
// caps without touching the store. Meant for re-validation inside an atomic
// scope, where the enclosing commit persists the account anyway.
func (t *Tracker) Recheck(account *ledger.Account, amount string) (allowed bool, rule, reason string) {
	t.resetCounters(account)
	rule, reason = t.evaluate(account, amount)
	return rule == "", rule, reason
}

// evaluate runs the ordered checks. An empty rule means allowed.
func (t *Tracker) evaluate(account *ledger.Account, amount string) (rule, reason string) {
	if amt, ok := money.Parse(amount); !ok || amt.Sign() <= 0 || money.Cmp(amount, MinTransferAmount) < 0 {
		return RuleMinAmount, "amount must be at least 1"
	}

	if money.Cmp(amount, t.singleMax) > 0 {
		return RuleSingleMax, fmt.Sprintf("amount exceeds the single-transaction maximum (%s)", money.Add(t.singleMax, "0"))
	}

	if money.Cmp(account.Balance, amount) < 0 {
		return RuleBalance, fmt.Sprintf("insufficient balance. current balance: %s", account.Balance)
	}

	if money.Cmp(money.Add(account.DailyUsed, amount), account.DailyLimit) > 0 {
		remaining := money.Sub(account.DailyLimit, account.DailyUsed)
		return RuleDaily, fmt.Sprintf("exceeds daily limit (remaining: %s)", remaining)
	}

	if money.Cmp(money.Add(account.MonthlyUsed, amount), account.MonthlyLimit) > 0 {
		remaining := money.Sub(account.MonthlyLimit, account.MonthlyUsed)
		return RuleMonthly, fmt.Sprintf("exceeds monthly limit (remaining: %s)", remaining)
	}

	return "", ""
}

// RecordTransfer adds amount to both rolling counters and stamps the
// account's last transaction time, in memory only. It must run after the
// debit is known to succeed and before the enclosing atomic scope commits,
// so a rollback also rolls the recording back.
func (t *Tracker) RecordTransfer(account *ledger.Account, amount string) {
	account.DailyUsed = money.Add(account.DailyUsed, amount)
	account.MonthlyUsed = money.Add(account.MonthlyUsed, amount)
	now := t.now()
	account.LastTransactionAt = &now
}

// Summarize applies the reset-if-stale policy and reports current figures.
func (t *Tracker) Summarize(ctx context.Context, account *ledger.Account) (*Summary, error) {
	if err := t.resetIfStale(ctx, account); err != nil {
		return nil, err
	}
	return &Summary{
		DailyLimit:           account.DailyLimit,
		DailyUsed:            account.DailyUsed,
		DailyRemaining:       money.Sub(account.DailyLimit, account.DailyUsed),
		MonthlyLimit:         account.MonthlyLimit,
		MonthlyUsed:          account.MonthlyUsed,
		MonthlyRemaining:     money.Sub(account.MonthlyLimit, account.MonthlyUsed),
		SingleTransactionMax: money.Add(t.singleMax, "0"),
	}, nil
}

// UpdateLimits changes the configured caps for an account. Nil leaves a cap
// unchanged.
func (t *Tracker) UpdateLimits(ctx context.Context, accountID string, dailyLimit, monthlyLimit *string) error {
	for _, cap := range []*string{dailyLimit, monthlyLimit} {
		if cap == nil {
			continue
		}
		if _, ok := money.Parse(*cap); !ok {
			return fmt.Errorf("invalid limit amount %q", *cap)
		}
	}
	return t.store.UpdateAccountLimits(ctx, accountID, dailyLimit, monthlyLimit)
}

// resetIfStale zeroes counters whose window has rolled over since the last
// account activity. A fired reset is persisted immediately.
func (t *Tracker) resetIfStale(ctx context.Context, account *ledger.Account) error {
	if t.resetCounters(account) {
		return t.store.UpdateLimitCounters(ctx, account)
	}
	return nil
}

// resetCounters applies the window-rollover comparison in memory, using UTC
// calendar dates rather than elapsed time. Reports whether anything changed.
func (t *Tracker) resetCounters(account *ledger.Account) bool {
	now := t.now().UTC()
	last := account.LastActivity().UTC()

	changed := false

	if last.Year() < now.Year() ||
		(last.Year() == now.Year() && last.YearDay() < now.YearDay()) {
		account.DailyUsed = "0.00"
		changed = true
	}

	if last.Year() < now.Year() ||
		(last.Year() == now.Year() && last.Month() < now.Month()) {
		account.MonthlyUsed = "0.00"
		changed = true
	}

	return changed
}
