package hashchain

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arkfin/ledgerd/internal/domain"
)

func buildChain(t *testing.T, n int) []domain.Entry {
	t.Helper()
	entries := make([]domain.Entry, 0, n)
	prevHash := domain.GenesisHash
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= n; i++ {
		amt := decimal.NewFromInt(int64(i * 10))
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
			Metadata: map[string]string{"channel": "wire", "batch": fmt.Sprintf("b%d", i)},
		}
		e.Hash = Compute(e, prevHash)
		entries = append(entries, e)
		prevHash = e.Hash
	}
	return entries
}

func TestComputeIsDeterministic(t *testing.T) {
	entries := buildChain(t, 1)
	e := entries[0]

	require.Equal(t, Compute(e, e.PrevHash), Compute(e, e.PrevHash))
	require.Len(t, e.Hash, 64)
}

func TestComputeIgnoresMetadataOrder(t *testing.T) {
	entries := buildChain(t, 1)
	e := entries[0]

	// rebuilding the map changes go's iteration order, never the hash
	rebuilt := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		rebuilt[k] = v
	}
	e.Metadata = rebuilt
	require.Equal(t, entries[0].Hash, Compute(e, e.PrevHash))
}

func TestVerifyAcceptsIntactChain(t *testing.T) {
	require.NoError(t, Verify(buildChain(t, 10)))
	require.NoError(t, Verify(nil))
}

func TestVerifyAcceptsMidChainSlice(t *testing.T) {
	entries := buildChain(t, 10)
	require.NoError(t, Verify(entries[4:]))
}

func TestVerifyFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]domain.Entry)
		wantAt uint64
	}{
		{
			name:   "tampered amount",
			mutate: func(es []domain.Entry) { es[4].Postings[0].Amount = decimal.NewFromInt(9999) },
			wantAt: 5,
		},
		{
			name:   "tampered correlation id",
			mutate: func(es []domain.Entry) { es[2].CorrelationID = "forged" },
			wantAt: 3,
		},
		{
			name:   "tampered stored hash breaks the next link",
			mutate: func(es []domain.Entry) { es[6].Hash = es[5].Hash },
			wantAt: 7,
		},
		{
			name:   "wrong genesis sentinel",
			mutate: func(es []domain.Entry) { es[0].PrevHash = "genesis" },
			wantAt: 1,
		},
		{
			name: "sequence gap",
			mutate: func(es []domain.Entry) {
				copy(es[3:], es[4:])
			},
			wantAt: 5,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries := buildChain(t, 10)
			tc.mutate(entries)

			err := Verify(entries)
			require.ErrorIs(t, err, domain.ErrBrokenChain)

			var broken *BrokenChainError
			require.ErrorAs(t, err, &broken)
			require.LessOrEqual(t, broken.Sequence, tc.wantAt)
		})
	}
}

func TestVerifyDetectsAnySingleFieldFlip(t *testing.T) {
	entries := buildChain(t, 3)
	entries[1].Metadata["channel"] = "Wire"

	err := Verify(entries)
	var broken *BrokenChainError
	require.ErrorAs(t, err, &broken)
	require.Equal(t, uint64(2), broken.Sequence)
}
