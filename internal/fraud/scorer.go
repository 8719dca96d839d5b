package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/mhbank/bankcore/internal/logging"
	"github.com/mhbank/bankcore/internal/metrics"
	"github.com/mhbank/bankcore/internal/money"
)

// Scorer evaluates transfers with a fixed set of additive heuristics.
// Scoring reads committed ledger history only; it never mutates state, so
// the same transfer scored twice in the same instant yields the same Result.
type Scorer struct {
	history  HistoryProvider
	notifier SecurityNotifier
	policy   Policy
	now      func() time.Time
}

// NewScorer creates a scorer over the given history source.
func NewScorer(history HistoryProvider, policy Policy) *Scorer {
	return &Scorer{history: history, policy: policy, now: time.Now}
}

// WithNotifier attaches a security alert sink for blocked transfers.
func (s *Scorer) WithNotifier(n SecurityNotifier) *Scorer {
	s.notifier = n
	return s
}

// WithClock overrides the scorer's clock (tests).
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score evaluates the proposed transfer and returns a verdict. Heuristics
// run in a fixed order and their weights add up; the bucketed level and the
// block/verify flags derive from the total.
func (s *Scorer) Score(ctx context.Context, in Input) (*Result, error) {
	now := s.now().UTC()
	result := &Result{EvaluatedAt: now}

	if err := s.amountAnomaly(ctx, in, now, result); err != nil {
		return nil, err
	}
	if err := s.velocity(ctx, in, now, result); err != nil {
		return nil, err
	}
	s.oddHour(now, result)
	s.balanceDrain(in, result)

	switch {
	case result.RiskScore >= s.policy.BlockScore:
		result.Level = LevelHigh
		result.Blocked = true
	case result.RiskScore >= s.policy.VerifyScore:
		result.Level = LevelMedium
		result.RequiresVerification = true
	case result.RiskScore >= s.policy.LowScore:
		result.Level = LevelLow
	default:
		result.Level = LevelSafe
	}

	metrics.FraudChecksTotal.WithLabelValues(string(result.Level)).Inc()

	if result.Blocked && s.notifier != nil {
		msg := fmt.Sprintf("transfer of %s blocked with risk score %d", in.Amount, result.RiskScore)
		go s.notifier.SecurityAlert(context.Background(), in.AccountID, msg)
	}

	logging.L(ctx).Debug("fraud check",
		"account_id", in.AccountID,
		"score", result.RiskScore,
		"level", result.Level,
	)
	return result, nil
}

// AnalyzeBehavior profiles the account's committed entries over the history
// window: volume, average and peak amounts, and the busiest UTC hour.
func (s *Scorer) AnalyzeBehavior(ctx context.Context, accountID string) (*BehaviorProfile, error) {
	since := s.now().UTC().Add(-s.policy.HistoryWindow)
	entries, err := s.history.ListEntriesSince(ctx, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("fraud: list entries: %w", err)
	}

	profile := &BehaviorProfile{
		TotalEntries:  len(entries),
		AverageAmount: "0.00",
		MaxAmount:     "0.00",
	}
	if len(entries) == 0 {
		return profile, nil
	}

	sum := "0.00"
	var hourCounts [24]int
	for _, e := range entries {
		sum = money.Add(sum, e.Amount)
		if money.Cmp(e.Amount, profile.MaxAmount) > 0 {
			profile.MaxAmount = e.Amount
		}
		hourCounts[e.CreatedAt.UTC().Hour()]++
	}
	profile.AverageAmount = money.Div(sum, int64(len(entries)))

	for hour, count := range hourCounts {
		if count > hourCounts[profile.MostActiveHour] {
			profile.MostActiveHour = hour
		}
	}
	return profile, nil
}

// amountAnomaly fires when the amount exceeds AvgMultiplier times the
// trailing average entry amount. Accounts with no history in the window are
// measured against DefaultAvgAmount instead.
func (s *Scorer) amountAnomaly(ctx context.Context, in Input, now time.Time, result *Result) error {
	since := now.Add(-s.policy.HistoryWindow)
	avg, hasHistory, err := s.history.AvgEntryAmount(ctx, in.AccountID, since)
	if err != nil {
		return fmt.Errorf("fraud: average entry amount: %w", err)
	}
	if !hasHistory {
		avg = s.policy.DefaultAvgAmount
	}
	if money.Float(in.Amount) > s.policy.AvgMultiplier*money.Float(avg) {
		result.RiskScore += WeightAmountAnomaly
		result.Reasons = append(result.Reasons, ReasonAmountAnomaly)
	}
	return nil
}

// velocity fires when the account committed more than VelocityMax entries
// within the velocity window.
func (s *Scorer) velocity(ctx context.Context, in Input, now time.Time, result *Result) error {
	since := now.Add(-s.policy.VelocityWindow)
	count, err := s.history.CountEntries(ctx, in.AccountID, since)
	if err != nil {
		return fmt.Errorf("fraud: count entries: %w", err)
	}
	if count > s.policy.VelocityMax {
		result.RiskScore += WeightVelocity
		result.Reasons = append(result.Reasons, ReasonVelocity)
	}
	return nil
}

// oddHour fires for UTC hours inside the configured window, inclusive.
func (s *Scorer) oddHour(now time.Time, result *Result) {
	hour := now.Hour()
	if hour >= s.policy.OddHourStart && hour <= s.policy.OddHourEnd {
		result.RiskScore += WeightOddHour
		result.Reasons = append(result.Reasons, ReasonOddHour)
	}
}

// balanceDrain fires when the amount exceeds BalanceDrainRatio of the
// current balance.
func (s *Scorer) balanceDrain(in Input, result *Result) {
	balance := money.Float(in.Balance)
	if balance <= 0 {
		return
	}
	if money.Float(in.Amount) > s.policy.BalanceDrainRatio*balance {
		result.RiskScore += WeightBalanceDrain
		result.Reasons = append(result.Reasons, ReasonBalanceDrain)
	}
}
