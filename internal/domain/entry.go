package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Intent string

const (
	IntentGenesis     Intent = "genesis"
	IntentDeposit     Intent = "deposit"
	IntentWithdrawal  Intent = "withdrawal"
	IntentTransfer    Intent = "transfer"
	IntentTrade       Intent = "trade"
	IntentFee         Intent = "fee"
	IntentBorrow      Intent = "borrow"
	IntentRepay       Intent = "repay"
	IntentInterest    Intent = "interest"
	IntentLiquidation Intent = "liquidation"
	IntentAdjustment  Intent = "adjustment"
)

var intents = map[Intent]struct{}{
	IntentGenesis: {}, IntentDeposit: {}, IntentWithdrawal: {},
	IntentTransfer: {}, IntentTrade: {}, IntentFee: {},
	IntentBorrow: {}, IntentRepay: {}, IntentInterest: {},
	IntentLiquidation: {}, IntentAdjustment: {},
}

func (i Intent) IsValid() bool {
	_, ok := intents[i]
	return ok
}

func ParseIntent(s string) (Intent, error) {
	i := Intent(s)
	if !i.IsValid() {
		return "", fmt.Errorf("ParseIntent: %q: %w", s, ErrInvalidIntent)
	}
	return i, nil
}

type Posting struct {
	Account AccountKey      `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	Side    Side            `json:"side"`
}

func NewPosting(account AccountKey, amount decimal.Decimal, side Side) (Posting, error) {
	if amount.IsNegative() {
		return Posting{}, fmt.Errorf("NewPosting: %s %s: %w", account, amount, ErrNegativeAmount)
	}
	if !side.IsValid() {
		return Posting{}, fmt.Errorf("NewPosting: invalid side %q", side)
	}
	if err := account.Validate(); err != nil {
		return Posting{}, fmt.Errorf("NewPosting: %w", err)
	}
	return Posting{Account: account, Amount: amount, Side: side}, nil
}

// SignedAmount applies the zero-sum convention: Debit positive, Credit negative.
func (p Posting) SignedAmount() decimal.Decimal {
	if p.Side == SideDebit {
		return p.Amount
	}
	return p.Amount.Neg()
}

// BalanceDelta is the change this posting makes to its account's balance,
// positive when the posting side matches the category's normal side.
func (p Posting) BalanceDelta() decimal.Decimal {
	if p.Side == p.Account.Category.NormalSide() {
		return p.Amount
	}
	return p.Amount.Neg()
}

// GenesisHash is the prev-hash sentinel of the first entry.
const GenesisHash = "GENESIS"

// Entry is one committed, immutable ledger record. The json tags define the
// versioned field order of the append store's line format; changing them
// changes every hash downstream.
type Entry struct {
	Sequence      uint64            `json:"sequence"`
	PrevHash      string            `json:"prev_hash"`
	Hash          string            `json:"hash"`
	Timestamp     time.Time         `json:"timestamp"`
	Intent        Intent            `json:"intent"`
	CorrelationID string            `json:"correlation_id"`
	CausalityID   string            `json:"causality_id,omitempty"`
	Postings      []Posting         `json:"postings"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Signatures    []Signature       `json:"signatures,omitempty"`
}

// Candidate is a not-yet-committed entry as submitted by a caller. Sequence,
// hashes and timestamps are stamped by the ledger, never by the client.
// CausalityID may only be set on candidates the ledger synthesizes itself.
type Candidate struct {
	Intent        Intent
	CorrelationID string
	CausalityID   string
	Postings      []Posting
	Metadata      map[string]string
}

// Assets returns the distinct asset codes touched by the postings,
// in first-appearance order.
func (c Candidate) Assets() []string {
	seen := make(map[string]struct{}, 2)
	var out []string
	for _, p := range c.Postings {
		if _, ok := seen[p.Account.Asset]; ok {
			continue
		}
		seen[p.Account.Asset] = struct{}{}
		out = append(out, p.Account.Asset)
	}
	return out
}
