package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/mhbank/bankcore/internal/fraud"
	"github.com/mhbank/bankcore/internal/idgen"
	"github.com/mhbank/bankcore/internal/ledger"
	"github.com/mhbank/bankcore/internal/limits"
	"github.com/mhbank/bankcore/internal/logging"
	"github.com/mhbank/bankcore/internal/metrics"
	"github.com/mhbank/bankcore/internal/money"
	"github.com/mhbank/bankcore/internal/notify"
	"github.com/mhbank/bankcore/internal/syncutil"
	"github.com/mhbank/bankcore/internal/traces"
)

// Orchestrator runs the transfer pipeline:
//
//	Validating -> LimitChecking -> RiskChecking -> Mutating -> Recording -> Committing
//
// Reads before the atomic scope are advisory; accounts are re-read under
// locks and re-validated inside the scope before any mutation, so a stale
// balance or a concurrently flipped active flag cannot slip through.
type Orchestrator struct {
	store    ledger.Store
	limits   *limits.Tracker
	scorer   *fraud.Scorer
	notifier *notify.Emitter
	pending  *PendingStore

	// locks serializes attempts per source account so concurrent requests
	// against the same account queue up instead of aborting each other's
	// serializable transactions.
	locks *syncutil.ContextShardedMutex

	allowUnverifiedMediumRisk bool
	now                       func() time.Time
}

// NewOrchestrator wires the pipeline. The notifier may be nil, in which case
// completion notifications are skipped.
func NewOrchestrator(store ledger.Store, tracker *limits.Tracker, scorer *fraud.Scorer, notifier *notify.Emitter, pending *PendingStore) *Orchestrator {
	return &Orchestrator{
		store:    store,
		limits:   tracker,
		scorer:   scorer,
		notifier: notifier,
		pending:  pending,
		locks:    syncutil.NewContextShardedMutex(),
		now:      time.Now,
	}
}

// WithUnverifiedMediumRisk lets medium-risk transfers proceed with a logged
// warning instead of parking them behind a verification challenge.
func (o *Orchestrator) WithUnverifiedMediumRisk(allow bool) *Orchestrator {
	o.allowUnverifiedMediumRisk = allow
	return o
}

// WithClock overrides the orchestrator's clock (tests).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Transfer executes one transfer attempt end to end.
func (o *Orchestrator) Transfer(ctx context.Context, requesterID string, req Request) (*Result, error) {
	return o.run(ctx, requesterID, req, false)
}

// Confirm resolves a pending verification challenge and re-executes the
// parked transfer with the verification gate satisfied. A high-risk score on
// re-evaluation still blocks.
func (o *Orchestrator) Confirm(ctx context.Context, requesterID, challenge string) (*Result, error) {
	p, err := o.pending.Take(challenge, requesterID)
	if err != nil {
		if errors.Is(err, ErrChallengeForbidden) {
			return nil, failf(ErrForbidden, ReasonForbidden, "verification challenge belongs to another user")
		}
		return nil, failf(ErrNotFound, ReasonNotFound, "verification challenge not found or expired")
	}
	return o.run(ctx, requesterID, p.Request, true)
}

func (o *Orchestrator) run(ctx context.Context, requesterID string, req Request, verified bool) (*Result, error) {
	start := time.Now()
	result, err := o.execute(ctx, requesterID, req, verified)
	metrics.TransferDuration.Observe(time.Since(start).Seconds())
	metrics.TransfersTotal.WithLabelValues(outcome(err)).Inc()
	return result, err
}

func (o *Orchestrator) execute(ctx context.Context, requesterID string, req Request, verified bool) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.execute",
		traces.AccountID(req.FromAccountID),
		traces.Amount(req.Amount),
	)
	defer span.End()

	// Validating
	o.step(ctx, StateValidating)
	if amt, ok := money.Parse(req.Amount); !ok || amt.Sign() <= 0 {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
	}

	unlock, err := o.locks.LockContext(ctx, req.FromAccountID)
	if err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "request cancelled")
	}
	defer unlock()

	source, err := o.store.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, failf(ErrNotFound, ReasonNotFound, "source account not found")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account lookup failed")
	}
	if source.UserID != requesterID {
		return nil, failf(ErrForbidden, ReasonForbidden, "account is not owned by the requester")
	}

	dest, err := o.store.GetAccountByNumber(ctx, req.ToAccountNumber)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, failf(ErrNotFound, ReasonNotFound, "destination account not found")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account lookup failed")
	}
	if source.ID == dest.ID {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "cannot transfer to the same account")
	}
	if !source.Active || !dest.Active {
		return nil, failf(ErrInvalidState, ReasonInvalidState, "account is inactive")
	}

	// LimitChecking
	o.step(ctx, StateLimitChecking)
	allowed, rule, reason, err := o.limits.CanTransfer(ctx, source, req.Amount)
	if err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "limit check failed")
	}
	if !allowed {
		return nil, limitFailure(rule, reason)
	}

	// RiskChecking
	o.step(ctx, StateRiskChecking)
	risk, err := o.scorer.Score(ctx, fraud.Input{
		AccountID: source.ID,
		Amount:    req.Amount,
		Balance:   source.Balance,
	})
	if err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "risk check failed")
	}
	span.SetAttributes(traces.RiskLevel(string(risk.Level)))

	if risk.Blocked {
		f := failf(ErrFraudBlocked, ReasonFraudBlocked,
			"transfer blocked by fraud controls (score %d)", risk.RiskScore)
		f.Reasons = risk.Reasons
		return nil, f
	}
	if risk.RequiresVerification && !verified {
		if !o.allowUnverifiedMediumRisk {
			p := o.pending.Put(requesterID, req, risk.RiskScore)
			if o.notifier != nil {
				o.notifier.VerificationRequired(ctx, source.UserID, source.ID, req.Amount, p.Challenge)
			}
			f := failf(ErrVerificationRequired, ReasonVerificationRequired,
				"additional verification required (score %d)", risk.RiskScore)
			f.Challenge = p.Challenge
			f.Reasons = risk.Reasons
			return nil, f
		}
		logging.L(ctx).Warn("medium-risk transfer proceeding without verification",
			"account_id", source.ID,
			"score", risk.RiskScore,
			"reasons", risk.Reasons,
		)
	}

	// Mutating through Committing run inside one atomic scope.
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

	o.step(ctx, StateMutating)
	lockedAccounts, err := tx.LockAccounts(ctx, source.ID, dest.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, failf(ErrNotFound, ReasonNotFound, "account disappeared before commit")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account locking failed")
	}
	src, dst := lockedAccounts[source.ID], lockedAccounts[dest.ID]

	// Re-validate under locks: the advisory reads above may be stale.
	if !src.Active || !dst.Active {
		return nil, failf(ErrInvalidState, ReasonInvalidState, "account is inactive")
	}
	if ok, rule, reason := o.limits.Recheck(src, req.Amount); !ok {
		return nil, limitFailure(rule, reason)
	}

	now := o.now().UTC()
	ref := idgen.Reference(now)
	span.SetAttributes(traces.Reference(ref))

	if err := ledger.ApplyDebit(src, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, failf(ErrInsufficientBalance, ReasonInsufficientBalance,
				"insufficient balance. current balance: %s", src.Balance)
		}
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
	}
	if err := ledger.ApplyCredit(dst, req.Amount); err != nil {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
	}

	txn := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		Reference:   ref,
		Type:        ledger.TypeTransfer,
		Status:      ledger.StatusCompleted,
		Amount:      money.Add(req.Amount, "0"),
		Currency:    src.Currency,
		Description: req.Description,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	legs := []*ledger.Entry{
		{ID: idgen.WithPrefix("ent_"), TransactionID: txn.ID, AccountID: src.ID, Direction: ledger.DirectionDebit, Amount: txn.Amount, CreatedAt: now},
		{ID: idgen.WithPrefix("ent_"), TransactionID: txn.ID, AccountID: dst.ID, Direction: ledger.DirectionCredit, Amount: txn.Amount, CreatedAt: now},
	}

	// Recording happens inside the scope so a rollback also rolls it back.
	o.step(ctx, StateRecording)
	o.limits.RecordTransfer(src, req.Amount)

	o.step(ctx, StateCommitting)
	if err := tx.PersistAccounts(ctx, src, dst); err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account persistence failed")
	}
	if err := tx.InsertTransaction(ctx, txn, legs); err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			return nil, failf(ErrStoreConflict, ReasonStoreConflict,
				"reference number collision, retry the transfer")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "transaction insert failed")
	}
	if err := tx.Commit(); err != nil {
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "commit failed")
	}
	committed = true

	if o.notifier != nil {
		o.notifier.TransferSent(ctx, src.UserID, src.ID, txn.Amount, ref, dst.Number)
		o.notifier.TransferReceived(ctx, dst.UserID, dst.ID, txn.Amount, ref, src.Number)
	}

	logging.L(ctx).Info("transfer completed",
		"reference", ref,
		"source_account", src.ID,
		"dest_account", dst.ID,
		"amount", txn.Amount,
		"risk_level", risk.Level,
	)

	return &Result{
		TransactionID:   txn.ID,
		ReferenceNumber: ref,
		NewBalance:      src.Balance,
		RiskLevel:       risk.Level,
		State:           StateCompleted,
	}, nil
}

// Deposit credits one account with no limit or risk checks.
func (o *Orchestrator) Deposit(ctx context.Context, requesterID, accountID, amount, description string) (*Result, error) {
	return o.singleLeg(ctx, requesterID, accountID, amount, description, ledger.TypeDeposit)
}

// Withdraw debits one account with a balance check but no limit or risk
// checks, mirroring the deposit asymmetry.
func (o *Orchestrator) Withdraw(ctx context.Context, requesterID, accountID, amount, description string) (*Result, error) {
	return o.singleLeg(ctx, requesterID, accountID, amount, description, ledger.TypeWithdrawal)
}

func (o *Orchestrator) singleLeg(ctx context.Context, requesterID, accountID, amount, description string, kind ledger.TransactionType) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "transfer."+string(kind),
		traces.AccountID(accountID),
		traces.Amount(amount),
	)
	defer span.End()

	if amt, ok := money.Parse(amount); !ok || amt.Sign() <= 0 {
		return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
	}

	unlock, err := o.locks.LockContext(ctx, accountID)
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

	lockedAccounts, err := tx.LockAccounts(ctx, accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, failf(ErrNotFound, ReasonNotFound, "account not found")
		}
		return nil, failf(ErrPersistenceFailure, ReasonPersistenceFailure, "account locking failed")
	}
	acct := lockedAccounts[accountID]
	if acct.UserID != requesterID {
		return nil, failf(ErrForbidden, ReasonForbidden, "account is not owned by the requester")
	}
	if !acct.Active {
		return nil, failf(ErrInvalidState, ReasonInvalidState, "account is inactive")
	}

	now := o.now().UTC()
	ref := idgen.Reference(now)
	span.SetAttributes(traces.Reference(ref))

	direction := ledger.DirectionCredit
	if kind == ledger.TypeWithdrawal {
		direction = ledger.DirectionDebit
		if err := ledger.ApplyDebit(acct, amount); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return nil, failf(ErrInsufficientBalance, ReasonInsufficientBalance,
					"insufficient balance. current balance: %s", acct.Balance)
			}
			return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
		}
	} else {
		if err := ledger.ApplyCredit(acct, amount); err != nil {
			return nil, failf(ErrValidationFailed, ReasonValidationFailed, "amount must be a positive decimal")
		}
	}

	txn := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		Reference:   ref,
		Type:        kind,
		Status:      ledger.StatusCompleted,
		Amount:      money.Add(amount, "0"),
		Currency:    acct.Currency,
		Description: description,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	legs := []*ledger.Entry{
		{ID: idgen.WithPrefix("ent_"), TransactionID: txn.ID, AccountID: acct.ID, Direction: direction, Amount: txn.Amount, CreatedAt: now},
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
		if kind == ledger.TypeDeposit {
			o.notifier.Deposit(ctx, acct.UserID, acct.ID, txn.Amount, ref)
		} else {
			o.notifier.Withdrawal(ctx, acct.UserID, acct.ID, txn.Amount, ref)
		}
	}

	return &Result{
		TransactionID:   txn.ID,
		ReferenceNumber: ref,
		NewBalance:      acct.Balance,
		State:           StateCompleted,
	}, nil
}

func (o *Orchestrator) step(ctx context.Context, s State) {
	logging.L(ctx).Debug("transfer state", "state", s)
}

// limitFailure maps a limit-tracker rule to the failure taxonomy.
func limitFailure(rule, reason string) *Failure {
	switch rule {
	case limits.RuleMinAmount:
		return failf(ErrValidationFailed, ReasonValidationFailed, "%s", reason)
	case limits.RuleBalance:
		return failf(ErrInsufficientBalance, ReasonInsufficientBalance, "%s", reason)
	default:
		return failf(ErrLimitExceeded, ReasonLimitExceeded, "%s", reason)
	}
}

func outcome(err error) string {
	if err == nil {
		return "completed"
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return "error"
}
