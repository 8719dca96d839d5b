// Package fraud scores proposed transfers against the source account's
// recent ledger history and decides whether to block them, demand
// verification, or let them pass.
package fraud

import (
	"context"
	"time"

	"github.com/mhbank/bankcore/internal/ledger"
)

// Level buckets a risk score for reporting and routing.
type Level string

const (
	LevelSafe   Level = "safe"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Heuristic weights. Scores are additive; the theoretical maximum is 90.
const (
	WeightAmountAnomaly = 30
	WeightVelocity      = 25
	WeightOddHour       = 15
	WeightBalanceDrain  = 20
)

// Reason strings attached to a Result for each heuristic that fired.
const (
	ReasonAmountAnomaly = "amount well above recent average"
	ReasonVelocity      = "high transaction velocity"
	ReasonOddHour       = "transfer during unusual hours"
	ReasonBalanceDrain  = "amount drains most of the balance"
)

// Policy holds the tunable parameters of the scorer. Zero values are not
// usable; start from DefaultPolicy.
type Policy struct {
	// AvgMultiplier flags amounts above AvgMultiplier times the trailing
	// average entry amount.
	AvgMultiplier float64
	// DefaultAvgAmount substitutes for the trailing average when the account
	// has no entry history in the window.
	DefaultAvgAmount string
	// HistoryWindow bounds the trailing average.
	HistoryWindow time.Duration

	// VelocityWindow and VelocityMax flag accounts that committed more than
	// VelocityMax entries within the window.
	VelocityWindow time.Duration
	VelocityMax    int

	// OddHourStart and OddHourEnd bound the suspicious UTC hours, inclusive.
	OddHourStart int
	OddHourEnd   int

	// BalanceDrainRatio flags amounts above this fraction of the balance.
	BalanceDrainRatio float64

	// Score thresholds. BlockScore must be above VerifyScore.
	BlockScore  int
	VerifyScore int
	LowScore    int
}

// DefaultPolicy returns the standard scoring parameters.
func DefaultPolicy() Policy {
	return Policy{
		AvgMultiplier:     5.0,
		DefaultAvgAmount:  "1000.00",
		HistoryWindow:     30 * 24 * time.Hour,
		VelocityWindow:    10 * time.Minute,
		VelocityMax:       5,
		OddHourStart:      2,
		OddHourEnd:        5,
		BalanceDrainRatio: 0.8,
		BlockScore:        70,
		VerifyScore:       40,
		LowScore:          20,
	}
}

// Input is one proposed transfer to score.
type Input struct {
	AccountID string
	Amount    string
	Balance   string
}

// Result is the scorer's verdict on a proposed transfer.
type Result struct {
	RiskScore            int       `json:"riskScore"`
	Level                Level     `json:"riskLevel"`
	Blocked              bool      `json:"blocked"`
	RequiresVerification bool      `json:"requiresVerification"`
	Reasons              []string  `json:"reasons,omitempty"`
	EvaluatedAt          time.Time `json:"evaluatedAt"`
}

// BehaviorProfile summarizes an account's entry activity over the history
// window.
type BehaviorProfile struct {
	TotalEntries   int    `json:"totalEntries"`
	AverageAmount  string `json:"averageAmount"`
	MaxAmount      string `json:"maxAmount"`
	MostActiveHour int    `json:"mostActiveHour"`
}

// HistoryProvider supplies the ledger-derived inputs to the heuristics.
type HistoryProvider interface {
	AvgEntryAmount(ctx context.Context, accountID string, since time.Time) (avg string, hasHistory bool, err error)
	CountEntries(ctx context.Context, accountID string, since time.Time) (int, error)
	ListEntriesSince(ctx context.Context, accountID string, since time.Time) ([]*ledger.Entry, error)
}

// SecurityNotifier receives an alert whenever a transfer is blocked.
type SecurityNotifier interface {
	SecurityAlert(ctx context.Context, accountID, message string)
}
