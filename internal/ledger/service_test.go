package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/domain"
	"github.com/arkfin/ledgerd/internal/risk"
	"github.com/arkfin/ledgerd/internal/store"
	"github.com/arkfin/ledgerd/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock hands out strictly increasing timestamps so window arithmetic is
// reproducible across runs.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{now: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestService(t *testing.T, provider compliance.Provider) *Service {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	riskEngine := risk.NewEngine(risk.ZeroOracle{}, decimal.NewFromFloat(0.1))
	compEngine := compliance.NewEngine(
		[]compliance.Rule{
			compliance.WatchlistRule{},
			compliance.VelocityRule{Limit: 100, Window: time.Hour},
			compliance.StructuringRule{
				VolumeThreshold: decimal.NewFromInt(9000),
				MinTxns:         3,
				Window:          time.Hour,
			},
			compliance.LargeTransactionRule{Threshold: decimal.NewFromInt(10000)},
		},
		provider, 500*time.Millisecond, false, testLogger(),
	)

	// one bucket per commit keeps post-commit reviews independent of worker
	// timing: reviewing entry k never sees entries committed after it
	clock := newStepClock(testEpoch, time.Minute)
	return NewService(
		st,
		riskEngine,
		compEngine,
		risk.NewState(),
		compliance.NewState(60, time.Minute),
		testLogger(),
		WithClock(clock.Now),
	)
}

func deposit(t *testing.T, owner string, amount int64) domain.Candidate {
	t.Helper()
	return testutil.Deposit(t, owner, "USDT", strconv.FormatInt(amount, 10), uuid.NewString())
}

func withdrawal(t *testing.T, owner string, amount int64) domain.Candidate {
	t.Helper()
	return testutil.Withdrawal(t, owner, "USDT", strconv.FormatInt(amount, 10), uuid.NewString())
}

func TestDepositThenWithdraw(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx := context.Background()

	seq, err := svc.Submit(ctx, deposit(t, "alice", 100))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	seq, err = svc.Submit(ctx, withdrawal(t, "alice", 30))
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)

	require.Equal(t, "70", svc.Available("alice", "USDT").String())
	require.Equal(t, "70", svc.Balance(domain.SystemCash("USDT")).String())
	require.NoError(t, svc.VerifyChain())
	require.False(t, svc.Halted())
}

func TestOverdraftRejectedWithoutTrace(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, deposit(t, "alice", 70))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, withdrawal(t, "alice", 100))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// a rejection leaves no ledger trace and no balance change
	require.Equal(t, uint64(1), svc.TailSequence())
	require.Equal(t, "70", svc.Available("alice", "USDT").String())
}

func TestBorrowRejectedOnThinMargin(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, deposit(t, "alice", 5))
	require.NoError(t, err)

	// equity 5 against a 100 loan is under the 0.1 maintenance ratio
	_, err = svc.Submit(ctx, testutil.Borrow(t, "alice", "USDT", "100", uuid.NewString()))
	require.ErrorIs(t, err, domain.ErrMarginBreach)
	require.Equal(t, uint64(1), svc.TailSequence())

	_, err = svc.Submit(ctx, deposit(t, "alice", 45))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, testutil.Borrow(t, "alice", "USDT", "100", uuid.NewString()))
	require.NoError(t, err)
	require.Equal(t, "150", svc.Available("alice", "USDT").String())
	require.Equal(t, "100", svc.Balance(domain.UserLoan("alice", "USDT")).String())
}

func TestBlockedCandidateLeavesNoEntry(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{
		"mallory": {Watchlisted: true},
	})
	ctx := context.Background()

	_, err := svc.Submit(ctx, deposit(t, "mallory", 100))
	require.ErrorIs(t, err, domain.ErrComplianceBlocked)
	require.Zero(t, svc.TailSequence())

	// the block is still recorded as a decision
	decisions := svc.Decisions()
	require.Len(t, decisions, 1)
	require.Equal(t, "watchlist", decisions[0].Rule)
	require.Equal(t, compliance.Blocked, decisions[0].Outcome)
}

func TestStructuringFlagLocksFunds(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.StartPostCommitWorker(ctx)

	// five deposits under the threshold individually, 9500 in aggregate
	for i := 0; i < 5; i++ {
		_, err := svc.Submit(ctx, deposit(t, "alice", 1900))
		require.NoError(t, err)
	}

	// the review runs asynchronously; the lock adjustment lands as entry 6
	require.Eventually(t, func() bool {
		return svc.Locked("alice", "USDT").Equal(decimal.NewFromInt(1900))
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "7600", svc.Available("alice", "USDT").String())
	require.Equal(t, uint64(6), svc.TailSequence())
	require.NoError(t, svc.VerifyChain())

	r, err := svc.Entries(5)
	require.NoError(t, err)
	defer r.Close()

	flagged, err := r.Next()
	require.NoError(t, err)
	lock, err := r.Next()
	require.NoError(t, err)

	require.Equal(t, domain.IntentAdjustment, lock.Intent)
	require.Equal(t, flagged.Hash, lock.CausalityID)
	require.Equal(t, flagged.CorrelationID+"/lock", lock.CorrelationID)
}

func TestLockClampedToCurrentAvailable(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, deposit(t, "alice", 1900))
	require.NoError(t, err)

	// most of the flagged funds are already spent when the review lands;
	// the lock takes what is left instead of overdrawing and giving up
	_, err = svc.Submit(ctx, withdrawal(t, "alice", 1400))
	require.NoError(t, err)

	amt := decimal.NewFromInt(1900)
	flagged := domain.Entry{
		Sequence:      1,
		Hash:          "aabbcc",
		Timestamp:     testEpoch,
		Intent:        domain.IntentDeposit,
		CorrelationID: "req-flagged",
		Postings: []domain.Posting{
			{Account: domain.SystemCash("USDT"), Amount: amt, Side: domain.SideDebit},
			{Account: domain.UserAvailable("alice", "USDT"), Amount: amt, Side: domain.SideCredit},
		},
	}
	require.NoError(t, svc.lockFlaggedFunds(ctx, flagged))

	require.Equal(t, "500", svc.Locked("alice", "USDT").String())
	require.True(t, svc.Available("alice", "USDT").IsZero())

	// nothing left to lock is a no-op, not an error
	require.NoError(t, svc.lockFlaggedFunds(ctx, flagged))
	require.Equal(t, "500", svc.Locked("alice", "USDT").String())
}

func TestSubmitRejectsClientCausalityID(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})

	c := deposit(t, "alice", 100)
	c.CausalityID = "forged"
	_, err := svc.Submit(context.Background(), c)
	require.ErrorIs(t, err, domain.ErrClientCausalityID)
}

func TestReplayMatchesLiveState(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Submit(ctx, deposit(t, "alice", 250))
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, withdrawal(t, "alice", 100))
	require.NoError(t, err)

	var liveFingerprint string
	svc.RiskSnapshot(func(s *risk.State) { liveFingerprint = s.Fingerprint() })

	stats, err := svc.Replay(1)
	require.NoError(t, err)
	require.Equal(t, uint64(5), stats.Entries)

	var replayed string
	svc.RiskSnapshot(func(s *risk.State) { replayed = s.Fingerprint() })
	require.Equal(t, liveFingerprint, replayed)
	require.Equal(t, "900", svc.Available("alice", "USDT").String())
}

func TestReplayRejectsGappedResume(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, deposit(t, "alice", 10))
		require.NoError(t, err)
	}

	// derived state sits at 3; resuming from 2 would double-apply entry 2
	_, err := svc.Replay(2)
	require.ErrorIs(t, err, domain.ErrSequenceGap)
}

func TestHaltedWriterRefusesCommits(t *testing.T) {
	svc := newTestService(t, compliance.StaticProvider{})
	svc.halt("test", domain.ErrBrokenChain)

	_, err := svc.Submit(context.Background(), deposit(t, "alice", 10))
	require.ErrorIs(t, err, domain.ErrHalted)
}
