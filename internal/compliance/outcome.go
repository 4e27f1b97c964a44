package compliance

// Outcome is one point on the totally ordered decision lattice. The numeric
// order is a hard contract: aggregation always takes the maximum, so a new
// rule can only tighten a decision, never relax one.
type Outcome int

const (
	Approved Outcome = iota
	FlaggedL1
	FlaggedL2
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "approved"
	case FlaggedL1:
		return "flagged_l1"
	case FlaggedL2:
		return "flagged_l2"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

func (o Outcome) IsFlag() bool { return o == FlaggedL1 || o == FlaggedL2 }

// Max returns the more restrictive of two outcomes.
func Max(a, b Outcome) Outcome {
	if a > b {
		return a
	}
	return b
}
