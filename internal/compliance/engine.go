package compliance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

// Decision is one recorded rule evaluation. Every evaluation is recorded,
// including provider-failure defaults; blocked candidates leave no ledger
// trace beyond these records.
type Decision struct {
	ID            uuid.UUID
	Sequence      uint64 // 0 when the candidate never committed
	CorrelationID string
	Rule          string
	Stage         Stage
	Outcome       Outcome
	Reason        string
	Timestamp     time.Time
}

// Engine evaluates a fixed, ordered rule list. Pre-commit rules gate the
// candidate; post-commit rules inspect the committed entry and may demand a
// lock adjustment. Outcomes aggregate by maximum, no exceptions.
type Engine struct {
	rules    []Rule
	provider Provider
	failOpen bool
	logger   *slog.Logger

	mu        sync.Mutex
	decisions []Decision
}

func NewEngine(rules []Rule, provider Provider, providerTimeout time.Duration, failOpen bool, logger *slog.Logger) *Engine {
	if provider == nil {
		provider = StaticProvider{}
	}
	return &Engine{
		rules:    rules,
		provider: withTimeout(provider, providerTimeout),
		failOpen: failOpen,
		logger:   logger,
	}
}

// Subject is the compliance-relevant shape of an entry: the user whose
// activity it represents and the headline amount moved.
type Subject struct {
	Owner  string
	Asset  string
	Amount decimal.Decimal
}

// SubjectOf picks the user-facing posting of an entry. The primary subject is
// the largest posting against a user available sub-account; entries touching
// no user account have no compliance subject.
func SubjectOf(postings []domain.Posting) (Subject, bool) {
	var subject Subject
	found := false
	for _, p := range postings {
		if p.Account.Segment != domain.SegmentUser || p.Account.Sub != domain.SubAvailable {
			continue
		}
		if !found || p.Amount.GreaterThan(subject.Amount) {
			subject = Subject{Owner: p.Account.Owner, Asset: p.Account.Asset, Amount: p.Amount}
			found = true
		}
	}
	return subject, found
}

// coreIntent reports intents synthesized by the ledger itself; those are
// excluded from windows and from post-commit review so a lock adjustment can
// never flag itself.
func coreIntent(i domain.Intent) bool {
	switch i {
	case domain.IntentGenesis, domain.IntentAdjustment, domain.IntentLiquidation:
		return true
	}
	return false
}

// RecordEntry folds one committed entry into the sliding windows. It is the
// single write path for Compliance State, shared verbatim by live commits
// and replay.
func RecordEntry(s *State, e domain.Entry) {
	if coreIntent(e.Intent) {
		return
	}
	subject, ok := SubjectOf(e.Postings)
	if !ok {
		return
	}
	s.Record(subject.Owner, subject.Asset, subject.Amount, e.Timestamp, e.Sequence)
}

func (e *Engine) buildContext(ctx context.Context, subject Subject, intent domain.Intent, ts time.Time, windows *State) RuleContext {
	rc := RuleContext{
		Owner:     subject.Owner,
		Asset:     subject.Asset,
		Amount:    subject.Amount,
		Intent:    intent,
		Timestamp: ts,
		Windows:   windows,
		FailOpen:  e.failOpen,
	}
	rc.Profile, rc.ProfileErr = e.provider.GetStatus(ctx, subject.Owner)
	if rc.ProfileErr != nil {
		e.logger.Warn("status provider failed",
			"owner", subject.Owner,
			"fail_open", e.failOpen,
			"error", rc.ProfileErr,
		)
	}
	return rc
}

// EvaluatePre runs all pre-commit rules against a candidate and the current
// windows. The aggregate outcome is the maximum across rules.
func (e *Engine) EvaluatePre(ctx context.Context, c domain.Candidate, windows *State, ts time.Time) Outcome {
	subject, ok := SubjectOf(c.Postings)
	if !ok || coreIntent(c.Intent) {
		return Approved
	}
	rc := e.buildContext(ctx, subject, c.Intent, ts, windows)
	return e.run(StagePre, rc, 0, c.CorrelationID)
}

// EvaluatePost runs all post-commit rules against a committed entry. The
// entry is already recorded in the windows by the time this runs.
func (e *Engine) EvaluatePost(ctx context.Context, entry domain.Entry, windows *State) Outcome {
	if coreIntent(entry.Intent) {
		return Approved
	}
	subject, ok := SubjectOf(entry.Postings)
	if !ok {
		return Approved
	}
	rc := e.buildContext(ctx, subject, entry.Intent, entry.Timestamp, windows)
	return e.run(StagePost, rc, entry.Sequence, entry.CorrelationID)
}

func (e *Engine) run(stage Stage, rc RuleContext, sequence uint64, correlationID string) Outcome {
	aggregate := Approved
	for _, rule := range e.rules {
		if rule.Stage() != stage {
			continue
		}
		outcome, reason := rule.Evaluate(rc)
		aggregate = Max(aggregate, outcome)
		if outcome > Approved {
			e.record(Decision{
				ID:            uuid.New(),
				Sequence:      sequence,
				CorrelationID: correlationID,
				Rule:          rule.Name(),
				Stage:         stage,
				Outcome:       outcome,
				Reason:        reason,
				Timestamp:     rc.Timestamp,
			})
			e.logger.Info("compliance decision",
				"rule", rule.Name(),
				"stage", stage.String(),
				"outcome", outcome.String(),
				"owner", rc.Owner,
				"correlation_id", correlationID,
				"reason", reason,
			)
		}
	}
	return aggregate
}

func (e *Engine) record(d Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions = append(e.decisions, d)
}

// Decisions returns a copy of all recorded decisions, oldest first. This is
// the read-only boundary the reporting collaborator consumes.
func (e *Engine) Decisions() []Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Decision, len(e.decisions))
	copy(out, e.decisions)
	return out
}
