package compliance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

// Stage separates rules that run before an entry is appended (Blocked
// outcomes reject outright) from rules that run after commit (Flagged
// outcomes trigger a synthesized lock adjustment).
type Stage int

const (
	StagePre Stage = iota
	StagePost
)

func (s Stage) String() string {
	if s == StagePre {
		return "pre-commit"
	}
	return "post-commit"
}

// RuleContext is everything a rule may look at: the candidate's shape, the
// owner's current window state, and the externally fetched profile.
type RuleContext struct {
	Owner     string
	Asset     string
	Amount    decimal.Decimal
	Intent    domain.Intent
	Timestamp time.Time
	Windows   *State

	Profile    Status
	ProfileErr error
	// FailOpen selects the provider-failure policy. Default is fail-closed:
	// a provider-backed rule returns the worst outcome it could yield.
	FailOpen bool
}

// failureOutcome resolves a provider failure for a rule whose most
// restrictive possible outcome is worst.
func (c RuleContext) failureOutcome(worst Outcome) Outcome {
	if c.FailOpen {
		return Approved
	}
	return worst
}

type Rule interface {
	Name() string
	Stage() Stage
	Evaluate(c RuleContext) (Outcome, string)
}

// VelocityRule blocks when the owner's transaction count inside the window,
// including the candidate itself, exceeds the limit.
type VelocityRule struct {
	Limit  uint32
	Window time.Duration
}

func (r VelocityRule) Name() string { return "velocity" }
func (r VelocityRule) Stage() Stage { return StagePre }

func (r VelocityRule) Evaluate(c RuleContext) (Outcome, string) {
	count := c.Windows.CountInLast(c.Owner, r.Window, c.Timestamp) + 1
	if count > r.Limit {
		return Blocked, fmt.Sprintf("%d transactions in %s exceeds limit %d", count, r.Window, r.Limit)
	}
	return Approved, ""
}

// StructuringRule flags accumulated volume spread over several transactions,
// the classic smurfing pattern. Runs post-commit: the committed entry is
// already recorded in the window when it evaluates.
type StructuringRule struct {
	VolumeThreshold decimal.Decimal
	MinTxns         uint32
	Window          time.Duration
}

func (r StructuringRule) Name() string { return "structuring" }
func (r StructuringRule) Stage() Stage { return StagePost }

func (r StructuringRule) Evaluate(c RuleContext) (Outcome, string) {
	count := c.Windows.CountInLast(c.Owner, r.Window, c.Timestamp)
	volume := c.Windows.VolumeInLast(c.Owner, c.Asset, r.Window, c.Timestamp)
	if count >= r.MinTxns && volume.GreaterThanOrEqual(r.VolumeThreshold) {
		return FlaggedL2, fmt.Sprintf("volume %s %s across %d transactions in %s", volume, c.Asset, count, r.Window)
	}
	return Approved, ""
}

// LargeTransactionRule flags any single entry at or above the threshold.
type LargeTransactionRule struct {
	Threshold decimal.Decimal
}

func (r LargeTransactionRule) Name() string { return "large-transaction" }
func (r LargeTransactionRule) Stage() Stage { return StagePost }

func (r LargeTransactionRule) Evaluate(c RuleContext) (Outcome, string) {
	if c.Amount.GreaterThanOrEqual(r.Threshold) {
		return FlaggedL1, fmt.Sprintf("single transaction of %s %s", c.Amount, c.Asset)
	}
	return Approved, ""
}

// WatchlistRule blocks watchlisted owners outright.
type WatchlistRule struct{}

func (WatchlistRule) Name() string { return "watchlist" }
func (WatchlistRule) Stage() Stage { return StagePre }

func (WatchlistRule) Evaluate(c RuleContext) (Outcome, string) {
	if c.ProfileErr != nil {
		return c.failureOutcome(Blocked), "watchlist status unavailable"
	}
	if c.Profile.Watchlisted {
		return Blocked, "owner is watchlisted"
	}
	return Approved, ""
}

// KYCLimitRule blocks entries whose amount exceeds the cap for the owner's
// verification level. Levels missing from Caps have no cap.
type KYCLimitRule struct {
	Caps map[int]decimal.Decimal
}

func (r KYCLimitRule) Name() string { return "kyc-limit" }
func (r KYCLimitRule) Stage() Stage { return StagePre }

func (r KYCLimitRule) Evaluate(c RuleContext) (Outcome, string) {
	if c.ProfileErr != nil {
		return c.failureOutcome(Blocked), "kyc level unavailable"
	}
	limit, ok := r.Caps[c.Profile.KYCLevel]
	if !ok {
		return Approved, ""
	}
	if c.Amount.GreaterThan(limit) {
		return Blocked, fmt.Sprintf("amount %s exceeds kyc level %d cap %s", c.Amount, c.Profile.KYCLevel, limit)
	}
	return Approved, ""
}
