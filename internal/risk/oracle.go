package risk

import "github.com/shopspring/decimal"

// MarkOracle supplies the unrealized PnL of an owner's open positions in one
// asset. Pricing is an external concern; the core only consumes the figure.
type MarkOracle interface {
	UnrealizedPnL(owner, asset string) decimal.Decimal
}

// ZeroOracle reports no unrealized PnL, degrading margin checks to
// available-versus-loan. It is the default when no oracle is wired.
type ZeroOracle struct{}

func (ZeroOracle) UnrealizedPnL(string, string) decimal.Decimal { return decimal.Zero }

// StaticOracle serves fixed PnL figures, keyed by owner:asset. Test support.
type StaticOracle map[string]decimal.Decimal

func (o StaticOracle) UnrealizedPnL(owner, asset string) decimal.Decimal {
	return o[owner+":"+asset]
}
