package replay

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/domain"
	"github.com/arkfin/ledgerd/internal/hashchain"
	"github.com/arkfin/ledgerd/internal/risk"
)

type sliceSource struct {
	entries []domain.Entry
	pos     int
}

func (s *sliceSource) Next() (domain.Entry, error) {
	if s.pos >= len(s.entries) {
		return domain.Entry{}, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	return e, nil
}

func buildHistory(t *testing.T, n int) []domain.Entry {
	t.Helper()
	entries := make([]domain.Entry, 0, n)
	prevHash := domain.GenesisHash
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= n; i++ {
		amt := decimal.NewFromInt(int64(i * 100))
		e := domain.Entry{
			Sequence:      uint64(i),
			PrevHash:      prevHash,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Intent:        domain.IntentDeposit,
			CorrelationID: fmt.Sprintf("req-%d", i),
			Postings: []domain.Posting{
				{Account: domain.SystemCash("USDT"), Amount: amt, Side: domain.SideDebit},
				{Account: domain.UserAvailable("alice", "USDT"), Amount: amt, Side: domain.SideCredit},
			},
		}
		e.Hash = hashchain.Compute(e, prevHash)
		entries = append(entries, e)
		prevHash = e.Hash
	}
	return entries
}

func freshStates() (*risk.State, *compliance.State) {
	return risk.NewState(), compliance.NewState(60, time.Minute)
}

func TestRunRebuildsState(t *testing.T) {
	history := buildHistory(t, 5)

	riskState, compState := freshStates()
	stats, err := Run(&sliceSource{entries: history}, domain.GenesisHash, riskState, compState)
	require.NoError(t, err)

	require.Equal(t, uint64(5), stats.Entries)
	require.Equal(t, uint64(1), stats.FromSequence)
	require.Equal(t, uint64(5), stats.ToSequence)

	// 100+200+300+400+500
	require.Equal(t, "1500", riskState.Available(domain.UserAvailable("alice", "USDT")).String())
	require.Equal(t, uint64(5), riskState.AsOf())

	now := history[4].Timestamp
	require.Equal(t, uint32(5), compState.CountInLast("alice", time.Hour, now))
}

func TestRunIsDeterministic(t *testing.T) {
	history := buildHistory(t, 8)

	rebuild := func() (string, string) {
		riskState, compState := freshStates()
		_, err := Run(&sliceSource{entries: history}, domain.GenesisHash, riskState, compState)
		require.NoError(t, err)
		return riskState.Fingerprint(), compState.Fingerprint()
	}

	risk1, comp1 := rebuild()
	risk2, comp2 := rebuild()
	require.Equal(t, risk1, risk2)
	require.Equal(t, comp1, comp2)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	history := buildHistory(t, 6)

	fullRisk, fullComp := freshStates()
	_, err := Run(&sliceSource{entries: history}, domain.GenesisHash, fullRisk, fullComp)
	require.NoError(t, err)

	// same history in two halves, anchored at the checkpoint hash
	halfRisk, halfComp := freshStates()
	_, err = Run(&sliceSource{entries: history[:3]}, domain.GenesisHash, halfRisk, halfComp)
	require.NoError(t, err)

	stats, err := Run(&sliceSource{entries: history[3:]}, history[2].Hash, halfRisk, halfComp)
	require.NoError(t, err)
	require.Equal(t, uint64(4), stats.FromSequence)
	require.Equal(t, uint64(6), stats.ToSequence)

	require.Equal(t, fullRisk.Fingerprint(), halfRisk.Fingerprint())
	require.Equal(t, fullComp.Fingerprint(), halfComp.Fingerprint())
}

func TestRunAbortsOnTamperedEntry(t *testing.T) {
	history := buildHistory(t, 5)
	history[2].Postings[1].Amount = decimal.NewFromInt(999999)

	riskState, compState := freshStates()
	stats, err := Run(&sliceSource{entries: history}, domain.GenesisHash, riskState, compState)

	require.ErrorIs(t, err, domain.ErrBrokenChain)
	var broken *hashchain.BrokenChainError
	require.ErrorAs(t, err, &broken)
	require.Equal(t, uint64(3), broken.Sequence)

	// state stops at the last verified entry, tampered history is never folded
	require.Equal(t, uint64(2), stats.Entries)
	require.Equal(t, "300", riskState.Available(domain.UserAvailable("alice", "USDT")).String())
}

func TestRunRejectsWrongAnchor(t *testing.T) {
	history := buildHistory(t, 3)

	riskState, compState := freshStates()
	_, err := Run(&sliceSource{entries: history}, "0000", riskState, compState)
	require.ErrorIs(t, err, domain.ErrBrokenChain)
	require.True(t, riskState.Available(domain.UserAvailable("alice", "USDT")).IsZero())
}
