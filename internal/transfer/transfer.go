// Package transfer sequences validation, limit checks, risk checks, ledger
// mutation, and commit for a single money movement. It is the only component
// with cross-cutting atomicity responsibility: every failure before commit
// leaves the ledger untouched.
package transfer

import (
	"errors"
	"fmt"

	"github.com/mhbank/bankcore/internal/fraud"
)

// State names one step of the transfer pipeline.
type State string

const (
	StateValidating    State = "validating"
	StateLimitChecking State = "limit_checking"
	StateRiskChecking  State = "risk_checking"
	StateMutating      State = "mutating"
	StateRecording     State = "recording"
	StateCommitting    State = "committing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Reason codes surfaced to the HTTP layer.
const (
	ReasonNotFound             = "not_found"
	ReasonForbidden            = "forbidden"
	ReasonInvalidState         = "invalid_state"
	ReasonValidationFailed     = "validation_failed"
	ReasonLimitExceeded        = "limit_exceeded"
	ReasonInsufficientBalance  = "insufficient_balance"
	ReasonFraudBlocked         = "fraud_blocked"
	ReasonVerificationRequired = "verification_required"
	ReasonStoreConflict        = "store_conflict"
	ReasonPersistenceFailure   = "persistence_failure"
)

// Failure taxonomy sentinels, matched with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidState         = errors.New("invalid account state")
	ErrValidationFailed     = errors.New("validation failed")
	ErrLimitExceeded        = errors.New("limit exceeded")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrFraudBlocked         = errors.New("blocked by fraud controls")
	ErrVerificationRequired = errors.New("verification required")
	ErrStoreConflict        = errors.New("store conflict")
	ErrPersistenceFailure   = errors.New("persistence failure")
)

// Failure pairs a taxonomy sentinel with a caller-facing reason code and
// message. Challenge and Reasons are set only for the outcomes that carry
// them.
type Failure struct {
	sentinel error
	Code     string
	Message  string

	Challenge string
	Reasons   []string
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.sentinel }

func failf(sentinel error, code, format string, args ...any) *Failure {
	return &Failure{sentinel: sentinel, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is a single transfer proposal from the caller.
type Request struct {
	FromAccountID   string `json:"fromAccountId"`
	ToAccountNumber string `json:"toAccountNumber"`
	Amount          string `json:"amount"`
	Description     string `json:"description"`
}

// Result reports a completed money movement.
type Result struct {
	TransactionID   string      `json:"transactionId"`
	ReferenceNumber string      `json:"referenceNumber"`
	NewBalance      string      `json:"newBalance"`
	RiskLevel       fraud.Level `json:"riskLevel,omitempty"`
	State           State       `json:"state"`
}
