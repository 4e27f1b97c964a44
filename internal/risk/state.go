// Package risk holds the derived balance state and the pre-commit gate that
// protects it. Nothing here is a source of truth: the state is a pure
// function of the committed history and is rebuilt by replay at startup.
package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

// State maps account keys to derived balances. Apply is the only writer and
// is called exactly once per committed entry, on the live path and during
// replay alike. State is not safe for concurrent use on its own; the ledger
// service serializes access.
type State struct {
	balances map[domain.AccountKey]decimal.Decimal
	asOf     uint64
}

func NewState() *State {
	return &State{balances: make(map[domain.AccountKey]decimal.Decimal)}
}

// Apply walks the entry's postings and moves every touched balance by its
// category-signed delta. The update covers all postings of the entry; callers
// must not expose intermediate states to readers.
func (s *State) Apply(e domain.Entry) {
	for _, p := range e.Postings {
		s.balances[p.Account] = s.balances[p.Account].Add(p.BalanceDelta())
	}
	s.asOf = e.Sequence
}

// Available returns the balance of any account key, zero when untouched.
func (s *State) Available(key domain.AccountKey) decimal.Decimal {
	return s.balances[key]
}

// AsOf is the sequence of the last applied entry.
func (s *State) AsOf() uint64 { return s.asOf }

// LoanPosition describes one outstanding loan account.
type LoanPosition struct {
	Owner       string
	Asset       string
	Outstanding decimal.Decimal
}

// LoanPositions lists owners with outstanding loans, sorted for determinism.
func (s *State) LoanPositions() []LoanPosition {
	var out []LoanPosition
	for key, bal := range s.balances {
		if key.Sub != domain.SubLoan || !bal.IsPositive() {
			continue
		}
		out = append(out, LoanPosition{Owner: key.Owner, Asset: key.Asset, Outstanding: bal})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// Accounts returns all known account keys, sorted by string form.
func (s *State) Accounts() []domain.AccountKey {
	keys := make([]domain.AccountKey, 0, len(s.balances))
	for k := range s.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Fingerprint folds the full state into a stable string, used by tests to
// assert that two replays of the same prefix are identical.
func (s *State) Fingerprint() string {
	var b []byte
	for _, k := range s.Accounts() {
		b = append(b, k.String()...)
		b = append(b, '=')
		b = append(b, s.balances[k].String()...)
		b = append(b, ';')
	}
	return string(b)
}
