// Package validate enforces the structural and accounting invariants a
// candidate entry must satisfy on its own, before any stateful check runs.
// Everything here is deterministic and side-effect free.
package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

// UnbalancedError reports the first asset whose postings do not sum to zero
// under the Debit-positive convention.
type UnbalancedError struct {
	Asset     string
	Imbalance decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("asset %s unbalanced by %s", e.Asset, e.Imbalance)
}

func (e *UnbalancedError) Unwrap() error { return domain.ErrUnbalancedEntry }

// Check validates a candidate purely from its own fields. It is a
// prerequisite for every other pre-commit gate and never mutates state.
func Check(c domain.Candidate) error {
	if !c.Intent.IsValid() {
		return fmt.Errorf("Check: %q: %w", c.Intent, domain.ErrInvalidIntent)
	}
	if c.CorrelationID == "" {
		return fmt.Errorf("Check: %w", domain.ErrMissingCorrelationID)
	}
	if len(c.Postings) < 2 {
		return fmt.Errorf("Check: %d postings: %w", len(c.Postings), domain.ErrEmptyPostings)
	}

	sums := make(map[string]decimal.Decimal, 2)
	order := make([]string, 0, 2)
	for _, p := range c.Postings {
		if err := p.Account.Validate(); err != nil {
			return fmt.Errorf("Check: %w", err)
		}
		if !p.Side.IsValid() {
			return fmt.Errorf("Check: posting on %s has invalid side %q", p.Account, p.Side)
		}
		if p.Amount.IsNegative() {
			return fmt.Errorf("Check: posting on %s: %w", p.Account, domain.ErrNegativeAmount)
		}
		asset := p.Account.Asset
		if _, ok := sums[asset]; !ok {
			order = append(order, asset)
		}
		sums[asset] = sums[asset].Add(p.SignedAmount())
	}

	for _, asset := range order {
		if !sums[asset].IsZero() {
			return fmt.Errorf("Check: %w", &UnbalancedError{Asset: asset, Imbalance: sums[asset]})
		}
	}
	return nil
}

// CheckExternal additionally rejects causality ids on client-submitted
// candidates; only the ledger itself links entries to their causes.
func CheckExternal(c domain.Candidate) error {
	if c.CausalityID != "" {
		return fmt.Errorf("CheckExternal: %w", domain.ErrClientCausalityID)
	}
	return Check(c)
}
