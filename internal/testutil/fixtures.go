package testutil

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

func Amount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse amount %q: %v", s, err)
	}
	return d
}

// Deposit builds a balanced candidate crediting a user's available funds
// against the system cash account.
func Deposit(t *testing.T, owner, asset, amount, correlationID string) domain.Candidate {
	t.Helper()
	amt := Amount(t, amount)
	return domain.Candidate{
		Intent:        domain.IntentDeposit,
		CorrelationID: correlationID,
		Postings: []domain.Posting{
			{Account: domain.SystemCash(asset), Amount: amt, Side: domain.SideDebit},
			{Account: domain.UserAvailable(owner, asset), Amount: amt, Side: domain.SideCredit},
		},
	}
}

// Withdrawal builds the mirror candidate debiting a user's available funds.
func Withdrawal(t *testing.T, owner, asset, amount, correlationID string) domain.Candidate {
	t.Helper()
	amt := Amount(t, amount)
	return domain.Candidate{
		Intent:        domain.IntentWithdrawal,
		CorrelationID: correlationID,
		Postings: []domain.Posting{
			{Account: domain.UserAvailable(owner, asset), Amount: amt, Side: domain.SideDebit},
			{Account: domain.SystemCash(asset), Amount: amt, Side: domain.SideCredit},
		},
	}
}

// Borrow builds a candidate that opens a loan and credits the proceeds to
// the user's available funds.
func Borrow(t *testing.T, owner, asset, amount, correlationID string) domain.Candidate {
	t.Helper()
	amt := Amount(t, amount)
	return domain.Candidate{
		Intent:        domain.IntentBorrow,
		CorrelationID: correlationID,
		Postings: []domain.Posting{
			{Account: domain.UserLoan(owner, asset), Amount: amt, Side: domain.SideDebit},
			{Account: domain.UserAvailable(owner, asset), Amount: amt, Side: domain.SideCredit},
		},
	}
}
