package domain

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryAsset     Category = "asset"
	CategoryLiability Category = "liability"
	CategoryEquity    Category = "equity"
	CategoryRevenue   Category = "revenue"
	CategoryExpense   Category = "expense"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense:
		return true
	}
	return false
}

// NormalSide is the side that increases a balance in this category.
// Debit increases Asset and Expense; Credit increases the rest.
func (c Category) NormalSide() Side {
	switch c {
	case CategoryAsset, CategoryExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

func (s Side) IsValid() bool {
	return s == SideDebit || s == SideCredit
}

const (
	SegmentUser   = "user"
	SegmentSystem = "system"
)

const (
	SubAvailable = "available"
	SubLocked    = "locked"
	SubLoan      = "loan"
)

const accountKeyDelimiter = ":"

// AccountKey identifies one sub-account. It is a value type and is used
// directly as a map key; never mutate a key after construction.
type AccountKey struct {
	Category Category
	Segment  string
	Owner    string
	Asset    string
	Sub      string
}

func NewAccountKey(category Category, segment, owner, asset, sub string) AccountKey {
	return AccountKey{Category: category, Segment: segment, Owner: owner, Asset: asset, Sub: sub}
}

func (k AccountKey) String() string {
	return strings.Join([]string{string(k.Category), k.Segment, k.Owner, k.Asset, k.Sub}, accountKeyDelimiter)
}

func (k AccountKey) Validate() error {
	if !k.Category.IsValid() {
		return fmt.Errorf("Validate: unknown category %q: %w", k.Category, ErrMalformedAccountKey)
	}
	for _, part := range []string{k.Segment, k.Owner, k.Asset, k.Sub} {
		if part == "" {
			return fmt.Errorf("Validate: empty component in %q: %w", k.String(), ErrMalformedAccountKey)
		}
		if strings.Contains(part, accountKeyDelimiter) {
			return fmt.Errorf("Validate: component %q contains delimiter: %w", part, ErrMalformedAccountKey)
		}
	}
	return nil
}

func ParseAccountKey(s string) (AccountKey, error) {
	parts := strings.Split(s, accountKeyDelimiter)
	if len(parts) != 5 {
		return AccountKey{}, fmt.Errorf("ParseAccountKey: %q has %d components, want 5: %w", s, len(parts), ErrMalformedAccountKey)
	}
	k := AccountKey{
		Category: Category(parts[0]),
		Segment:  parts[1],
		Owner:    parts[2],
		Asset:    parts[3],
		Sub:      parts[4],
	}
	if err := k.Validate(); err != nil {
		return AccountKey{}, fmt.Errorf("ParseAccountKey: %w", err)
	}
	return k, nil
}

func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *AccountKey) UnmarshalText(b []byte) error {
	parsed, err := ParseAccountKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UserAvailable is the liability sub-account holding a user's spendable funds.
func UserAvailable(owner, asset string) AccountKey {
	return NewAccountKey(CategoryLiability, SegmentUser, owner, asset, SubAvailable)
}

// UserLocked holds funds withheld from a user pending compliance review.
func UserLocked(owner, asset string) AccountKey {
	return NewAccountKey(CategoryLiability, SegmentUser, owner, asset, SubLocked)
}

// UserLoan tracks a user's outstanding borrowings.
func UserLoan(owner, asset string) AccountKey {
	return NewAccountKey(CategoryAsset, SegmentUser, owner, asset, SubLoan)
}

// SystemCash is the asset account backing user liabilities.
func SystemCash(asset string) AccountKey {
	return NewAccountKey(CategoryAsset, SegmentSystem, "treasury", asset, SubAvailable)
}
