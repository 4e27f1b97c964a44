package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

// Rejection is a routine pre-commit refusal. It is reported to the caller and
// never treated as an anomaly.
type Rejection struct {
	Reason string
	cause  error
}

func (r *Rejection) Error() string { return r.Reason }
func (r *Rejection) Unwrap() error { return r.cause }

// Engine gates candidates against the derived state. It never appends and
// never mutates; it only admits or rejects.
type Engine struct {
	oracle      MarkOracle
	maintenance decimal.Decimal
}

// NewEngine builds a gate with the given maintenance margin ratio (for
// example 1.1 requires equity of at least 110% of the loan).
func NewEngine(oracle MarkOracle, maintenance decimal.Decimal) *Engine {
	if oracle == nil {
		oracle = ZeroOracle{}
	}
	return &Engine{oracle: oracle, maintenance: maintenance}
}

// Check admits the candidate or returns a Rejection. Every posting that would
// take a user's available balance negative rejects; margin-bearing intents
// additionally require the post-trade margin ratio to stay at or above the
// maintenance threshold.
func (g *Engine) Check(c domain.Candidate, s *State) error {
	deltas := make(map[domain.AccountKey]decimal.Decimal, len(c.Postings))
	for _, p := range c.Postings {
		deltas[p.Account] = deltas[p.Account].Add(p.BalanceDelta())
	}

	for key, delta := range deltas {
		if key.Segment != domain.SegmentUser || key.Sub == domain.SubLoan {
			continue
		}
		if !delta.IsNegative() {
			continue
		}
		if s.Available(key).Add(delta).IsNegative() {
			return fmt.Errorf("Check: %w", &Rejection{
				Reason: fmt.Sprintf("account %s would overdraw (available %s, change %s)",
					key, s.Available(key), delta),
				cause: domain.ErrInsufficientFunds,
			})
		}
	}

	if c.Intent == domain.IntentBorrow || c.Intent == domain.IntentTrade {
		if err := g.checkMargin(c, s, deltas); err != nil {
			return fmt.Errorf("Check: %w", err)
		}
	}
	return nil
}

func (g *Engine) checkMargin(c domain.Candidate, s *State, deltas map[domain.AccountKey]decimal.Decimal) error {
	type position struct{ owner, asset string }
	seen := make(map[position]struct{}, 1)

	for _, p := range c.Postings {
		if p.Account.Segment != domain.SegmentUser {
			continue
		}
		pos := position{p.Account.Owner, p.Account.Asset}
		if _, ok := seen[pos]; ok {
			continue
		}
		seen[pos] = struct{}{}

		loanKey := domain.UserLoan(pos.owner, pos.asset)
		loan := s.Available(loanKey).Add(deltas[loanKey])
		if !loan.IsPositive() {
			continue
		}

		availKey := domain.UserAvailable(pos.owner, pos.asset)
		available := s.Available(availKey).Add(deltas[availKey])
		equity := available.Add(g.oracle.UnrealizedPnL(pos.owner, pos.asset)).Sub(loan)
		ratio := equity.Div(loan)
		if ratio.LessThan(g.maintenance) {
			return &Rejection{
				Reason: fmt.Sprintf("owner %s asset %s margin ratio %s below maintenance %s",
					pos.owner, pos.asset, ratio.StringFixed(4), g.maintenance),
				cause: domain.ErrMarginBreach,
			}
		}
	}
	return nil
}

// MarginRatio reports the current equity-to-loan ratio for an owner's asset
// position, and false when no loan is outstanding. Used by the liquidation
// monitor, off the hot write path.
func (g *Engine) MarginRatio(s *State, owner, asset string) (decimal.Decimal, bool) {
	loan := s.Available(domain.UserLoan(owner, asset))
	if !loan.IsPositive() {
		return decimal.Zero, false
	}
	available := s.Available(domain.UserAvailable(owner, asset))
	equity := available.Add(g.oracle.UnrealizedPnL(owner, asset)).Sub(loan)
	return equity.Div(loan), true
}
