// Package ledger is the single-writer orchestrator. Every mutation runs the
// same pipeline under one serialization point: validate, risk gate,
// pre-commit compliance, hash, append, derived-state apply. Readers see the
// derived state only at entry boundaries, never mid-apply.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/domain"
	"github.com/arkfin/ledgerd/internal/hashchain"
	"github.com/arkfin/ledgerd/internal/replay"
	"github.com/arkfin/ledgerd/internal/risk"
	"github.com/arkfin/ledgerd/internal/store"
	"github.com/arkfin/ledgerd/internal/validate"
)

// postQueueSize bounds the post-commit review backlog before the enqueue
// falls back to a goroutine, keeping the writer unblocked either way.
const postQueueSize = 1024

type Service struct {
	store      *store.Store
	riskEngine *risk.Engine
	compEngine *compliance.Engine
	logger     *slog.Logger
	clock      func() time.Time

	// writeMu is the single logical serialization point: candidates queue
	// here and commit strictly in lock-acquisition order.
	writeMu sync.Mutex

	// stateMu makes the derived-state update for one entry atomic with
	// respect to readers.
	stateMu   sync.RWMutex
	riskState *risk.State
	compState *compliance.State

	halted atomic.Bool
	postCh chan domain.Entry
}

type Option func(*Service)

// WithClock overrides the commit timestamp source. Test support.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(
	st *store.Store,
	riskEngine *risk.Engine,
	compEngine *compliance.Engine,
	riskState *risk.State,
	compState *compliance.State,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:      st,
		riskEngine: riskEngine,
		compEngine: compEngine,
		riskState:  riskState,
		compState:  compState,
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
		postCh:     make(chan domain.Entry, postQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs a client candidate through the full pipeline and returns its
// committed sequence number. Rejections are routine and come back as errors
// unwrapping to ErrInsufficientFunds, ErrMarginBreach, ErrComplianceBlocked
// or one of the validation sentinels.
func (s *Service) Submit(ctx context.Context, c domain.Candidate) (uint64, error) {
	if err := validate.CheckExternal(c); err != nil {
		return 0, fmt.Errorf("Submit: %w", err)
	}
	seq, err := s.commit(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("Submit: %w", err)
	}
	return seq, nil
}

// submitInternal is the path for entries the ledger synthesizes itself
// (lock adjustments, liquidations); these carry a causality id, which
// external candidates must not.
func (s *Service) submitInternal(ctx context.Context, c domain.Candidate) (uint64, error) {
	if err := validate.Check(c); err != nil {
		return 0, fmt.Errorf("submitInternal: %w", err)
	}
	seq, err := s.commit(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("submitInternal: %w", err)
	}
	return seq, nil
}

func (s *Service) commit(ctx context.Context, c domain.Candidate) (uint64, error) {
	if s.halted.Load() {
		return 0, domain.ErrHalted
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.riskEngine.Check(c, s.riskState); err != nil {
		s.logger.Info("candidate rejected by risk gate",
			"intent", c.Intent,
			"correlation_id", c.CorrelationID,
			"assets", c.Assets(),
			"reason", err.Error(),
		)
		return 0, err
	}

	now := s.clock()
	if outcome := s.compEngine.EvaluatePre(ctx, c, s.compState, now); outcome == compliance.Blocked {
		return 0, fmt.Errorf("pre-commit outcome %s: %w", outcome, domain.ErrComplianceBlocked)
	}

	tailSeq, tailHash := s.store.Tail()
	entry := domain.Entry{
		Sequence:      tailSeq + 1,
		PrevHash:      tailHash,
		Timestamp:     now,
		Intent:        c.Intent,
		CorrelationID: c.CorrelationID,
		CausalityID:   c.CausalityID,
		Postings:      c.Postings,
		Metadata:      c.Metadata,
	}
	entry.Hash = hashchain.Compute(entry, entry.PrevHash)

	// No cancellation past this point: the entry is either fully committed
	// or not committed at all.
	if _, err := s.store.Append(entry); err != nil {
		if errors.Is(err, domain.ErrStoreCorrupt) {
			// the failed write could not be rolled back; the physical tail
			// is unknown and nothing may build on top of it
			s.halt("append left the store in an ambiguous state", err)
			return 0, err
		}
		if errors.Is(err, domain.ErrBrokenChain) || errors.Is(err, domain.ErrSequenceGap) {
			s.halt("append refused out-of-chain entry", err)
			return 0, err
		}
		// the store rolled the failed write back to the previous tail:
		// nothing committed, safe for the caller to retry
		return 0, err
	}

	s.apply(entry)

	select {
	case s.postCh <- entry:
	default:
		// never block the writer on a full review queue
		go func() { s.postCh <- entry }()
	}

	return entry.Sequence, nil
}

// apply folds one committed entry into both derived states atomically with
// respect to readers. This and replay are the only derived-state writers.
func (s *Service) apply(e domain.Entry) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.riskState.Apply(e)
	compliance.RecordEntry(s.compState, e)
}

func (s *Service) halt(reason string, err error) {
	s.halted.Store(true)
	s.logger.Error("writer halted, manual chain audit required",
		"reason", reason,
		"error", err,
	)
}

// Halted reports whether the writer refused further commits.
func (s *Service) Halted() bool { return s.halted.Load() }

// StartPostCommitWorker drains the post-commit review queue. A Flagged
// outcome synthesizes an Adjustment moving the flagged amount from available
// to locked within the same account, linked by causality id; funds are never
// left pending outside the ledger.
func (s *Service) StartPostCommitWorker(ctx context.Context) {
	s.logger.Info("post-commit compliance worker started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("post-commit compliance worker stopped")
			return
		case entry := <-s.postCh:
			s.reviewCommitted(ctx, entry)
		}
	}
}

func (s *Service) reviewCommitted(ctx context.Context, entry domain.Entry) {
	s.stateMu.RLock()
	outcome := s.compEngine.EvaluatePost(ctx, entry, s.compState)
	s.stateMu.RUnlock()

	if !outcome.IsFlag() {
		return
	}
	if err := s.lockFlaggedFunds(ctx, entry); err != nil {
		s.logger.Error("failed to lock flagged funds",
			"sequence", entry.Sequence,
			"correlation_id", entry.CorrelationID,
			"error", err,
		)
	}
}

// maxLockAttempts bounds the re-read-and-clamp loop in lockFlaggedFunds.
const maxLockAttempts = 3

func (s *Service) lockFlaggedFunds(ctx context.Context, flagged domain.Entry) error {
	subject, ok := compliance.SubjectOf(flagged.Postings)
	if !ok {
		return nil
	}

	var err error
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		s.stateMu.RLock()
		available := s.riskState.Available(domain.UserAvailable(subject.Owner, subject.Asset))
		s.stateMu.RUnlock()

		// the flagged funds may be partially spent by the time review runs
		amount := decimal.Min(subject.Amount, available)
		if !amount.IsPositive() {
			return nil
		}

		err = s.submitLock(ctx, flagged, subject, amount)
		if err == nil || !errors.Is(err, domain.ErrInsufficientFunds) {
			return err
		}
		// a spend committed between the balance read and the lock's risk
		// check; re-read and clamp again
	}
	return err
}

func (s *Service) submitLock(ctx context.Context, flagged domain.Entry, subject compliance.Subject, amount decimal.Decimal) error {
	debit, err := domain.NewPosting(domain.UserAvailable(subject.Owner, subject.Asset), amount, domain.SideDebit)
	if err != nil {
		return fmt.Errorf("submitLock: %w", err)
	}
	credit, err := domain.NewPosting(domain.UserLocked(subject.Owner, subject.Asset), amount, domain.SideCredit)
	if err != nil {
		return fmt.Errorf("submitLock: %w", err)
	}

	seq, err := s.submitInternal(ctx, domain.Candidate{
		Intent:        domain.IntentAdjustment,
		CorrelationID: flagged.CorrelationID + "/lock",
		CausalityID:   flagged.Hash,
		Postings:      []domain.Posting{debit, credit},
		Metadata: map[string]string{
			"reason":          "compliance-lock",
			"flagged_seq":     fmt.Sprintf("%d", flagged.Sequence),
			"flagged_corr_id": flagged.CorrelationID,
		},
	})
	if err != nil {
		return fmt.Errorf("submitLock: %w", err)
	}

	s.logger.Info("flagged funds locked",
		"owner", subject.Owner,
		"asset", subject.Asset,
		"amount", amount,
		"flagged_sequence", flagged.Sequence,
		"lock_sequence", seq,
	)
	return nil
}

// Balance returns the derived balance of any account key.
func (s *Service) Balance(key domain.AccountKey) decimal.Decimal {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.riskState.Available(key)
}

// Available is shorthand for a user's spendable balance.
func (s *Service) Available(owner, asset string) decimal.Decimal {
	return s.Balance(domain.UserAvailable(owner, asset))
}

// Locked is shorthand for a user's compliance-locked balance.
func (s *Service) Locked(owner, asset string) decimal.Decimal {
	return s.Balance(domain.UserLocked(owner, asset))
}

// RiskSnapshot runs fn with a consistent view of the risk state. The
// liquidation monitor reads through this.
func (s *Service) RiskSnapshot(fn func(*risk.State)) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	fn(s.riskState)
}

// TailSequence exposes the store tail for callers deciding whether an
// append error left anything committed.
func (s *Service) TailSequence() uint64 {
	seq, _ := s.store.Tail()
	return seq
}

// VerifyChain re-reads the full history and verifies every link plus any
// detached signatures. A failure halts the writer; verification never
// repairs anything.
func (s *Service) VerifyChain() error {
	r, err := s.store.ReadFrom(1)
	if err != nil {
		return fmt.Errorf("VerifyChain: %w", err)
	}
	defer r.Close()

	var entries []domain.Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("VerifyChain: %w", err)
		}
		if err := domain.VerifySignatures(e); err != nil {
			return fmt.Errorf("VerifyChain: sequence %d: %w", e.Sequence, err)
		}
		entries = append(entries, e)
	}

	if err := hashchain.Verify(entries); err != nil {
		s.halt("chain verification failed", err)
		return fmt.Errorf("VerifyChain: %w", err)
	}
	return nil
}

// Replay rebuilds the derived state from the store. From sequence 1 the
// state is rebuilt from scratch and swapped in atomically; from a later
// checkpoint the walk must resume exactly at the current derived tail with
// no gap or overlap.
func (s *Service) Replay(from uint64) (replay.Stats, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if from <= 1 {
		riskState := risk.NewState()
		compState := compliance.NewState(s.compState.NumBuckets(), s.compState.BucketWidth())

		r, err := s.store.ReadFrom(1)
		if err != nil {
			return replay.Stats{}, fmt.Errorf("Replay: %w", err)
		}
		defer r.Close()

		stats, err := replay.Run(r, domain.GenesisHash, riskState, compState)
		if err != nil {
			return stats, fmt.Errorf("Replay: %w", err)
		}

		s.stateMu.Lock()
		s.riskState = riskState
		s.compState = compState
		s.stateMu.Unlock()
		return stats, nil
	}

	s.stateMu.RLock()
	asOf := s.riskState.AsOf()
	s.stateMu.RUnlock()
	if asOf != from-1 {
		return replay.Stats{}, fmt.Errorf("Replay: derived state at %d cannot resume from %d: %w",
			asOf, from, domain.ErrSequenceGap)
	}

	anchor, err := s.entryHash(from - 1)
	if err != nil {
		return replay.Stats{}, fmt.Errorf("Replay: %w", err)
	}

	r, err := s.store.ReadFrom(from)
	if err != nil {
		return replay.Stats{}, fmt.Errorf("Replay: %w", err)
	}
	defer r.Close()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	stats, err := replay.Run(r, anchor, s.riskState, s.compState)
	if err != nil {
		return stats, fmt.Errorf("Replay: %w", err)
	}
	return stats, nil
}

func (s *Service) entryHash(seq uint64) (string, error) {
	if seq == 0 {
		return domain.GenesisHash, nil
	}
	r, err := s.store.ReadFrom(seq)
	if err != nil {
		return "", err
	}
	defer r.Close()
	e, err := r.Next()
	if errors.Is(err, io.EOF) {
		return "", fmt.Errorf("entryHash: sequence %d: %w", seq, domain.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return e.Hash, nil
}

// Entries returns a lazy, ordered, read-only iterator over committed
// entries, the boundary the reporting collaborator consumes.
func (s *Service) Entries(from uint64) (*store.Reader, error) {
	r, err := s.store.ReadFrom(from)
	if err != nil {
		return nil, fmt.Errorf("Entries: %w", err)
	}
	return r, nil
}

// Decisions returns the recorded compliance decisions, oldest first.
func (s *Service) Decisions() []compliance.Decision {
	return s.compEngine.Decisions()
}
