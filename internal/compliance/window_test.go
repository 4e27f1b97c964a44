package compliance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var windowEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWindowCountAndVolume(t *testing.T) {
	s := NewState(60, time.Minute)

	s.Record("alice", "USDT", decimal.NewFromInt(100), windowEpoch, 1)
	s.Record("alice", "USDT", decimal.NewFromInt(200), windowEpoch.Add(5*time.Minute), 2)
	s.Record("alice", "BTC", decimal.NewFromInt(1), windowEpoch.Add(5*time.Minute), 3)
	s.Record("bob", "USDT", decimal.NewFromInt(999), windowEpoch.Add(6*time.Minute), 4)

	now := windowEpoch.Add(10 * time.Minute)
	require.Equal(t, uint32(3), s.CountInLast("alice", time.Hour, now))
	require.Equal(t, "300", s.VolumeInLast("alice", "USDT", time.Hour, now).String())
	require.Equal(t, "1", s.VolumeInLast("alice", "BTC", time.Hour, now).String())
	require.Equal(t, uint32(1), s.CountInLast("bob", time.Hour, now))
	require.Zero(t, s.CountInLast("nobody", time.Hour, now))
	require.Equal(t, uint64(4), s.AsOf())
}

func TestWindowSpanNarrowerThanRing(t *testing.T) {
	s := NewState(60, time.Minute)

	s.Record("alice", "USDT", decimal.NewFromInt(100), windowEpoch, 1)
	s.Record("alice", "USDT", decimal.NewFromInt(50), windowEpoch.Add(30*time.Minute), 2)

	now := windowEpoch.Add(35 * time.Minute)
	require.Equal(t, uint32(1), s.CountInLast("alice", 10*time.Minute, now))
	require.Equal(t, "50", s.VolumeInLast("alice", "USDT", 10*time.Minute, now).String())
	require.Equal(t, uint32(2), s.CountInLast("alice", time.Hour, now))
}

func TestWindowRotationDiscardsExpiredBuckets(t *testing.T) {
	s := NewState(60, time.Minute)

	s.Record("alice", "USDT", decimal.NewFromInt(100), windowEpoch, 1)

	// two hours later the ring has wrapped past the old bucket
	later := windowEpoch.Add(2 * time.Hour)
	s.Record("alice", "USDT", decimal.NewFromInt(5), later, 2)

	require.Equal(t, uint32(1), s.CountInLast("alice", time.Hour, later))
	require.Equal(t, "5", s.VolumeInLast("alice", "USDT", time.Hour, later).String())
}

func TestWindowStaleSlotResetInPlace(t *testing.T) {
	s := NewState(3, time.Minute)

	s.Record("alice", "USDT", decimal.NewFromInt(10), windowEpoch, 1)
	// same ring slot, three buckets later
	s.Record("alice", "USDT", decimal.NewFromInt(20), windowEpoch.Add(3*time.Minute), 2)

	now := windowEpoch.Add(3 * time.Minute)
	require.Equal(t, uint32(1), s.CountInLast("alice", 3*time.Minute, now))
	require.Equal(t, "20", s.VolumeInLast("alice", "USDT", 3*time.Minute, now).String())
}

func TestWindowFingerprintDeterministic(t *testing.T) {
	build := func() *State {
		s := NewState(60, time.Minute)
		s.Record("bob", "USDT", decimal.NewFromInt(7), windowEpoch, 1)
		s.Record("alice", "BTC", decimal.NewFromInt(2), windowEpoch.Add(time.Minute), 2)
		s.Record("alice", "USDT", decimal.NewFromInt(3), windowEpoch.Add(time.Minute), 3)
		return s
	}
	require.Equal(t, build().Fingerprint(), build().Fingerprint())
	require.NotEqual(t, build().Fingerprint(), NewState(60, time.Minute).Fingerprint())
}
