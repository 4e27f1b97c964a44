// Package replay rebuilds all derived state from the append-only history.
// It calls the exact Apply and RecordEntry functions the live path uses;
// a second "replay-only" code path is the bug class this design exists to
// prevent, so none is allowed to appear here.
package replay

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/domain"
	"github.com/arkfin/ledgerd/internal/hashchain"
	"github.com/arkfin/ledgerd/internal/risk"
)

type Stats struct {
	Entries      uint64
	FromSequence uint64
	ToSequence   uint64
	Elapsed      time.Duration
}

// Source is the ordered, finite entry iterator the append store provides.
type Source interface {
	Next() (domain.Entry, error)
}

// Run reads entries sequentially and folds each one into the risk and
// compliance state. Linkage is verified while reading; a broken chain aborts
// the replay rather than building state on top of tampered history.
//
// prevHash anchors the walk: pass the genesis sentinel when replaying from
// sequence 1, or the hash of the checkpoint entry when resuming.
func Run(src Source, prevHash string, riskState *risk.State, compState *compliance.State) (Stats, error) {
	start := time.Now()
	var stats Stats

	for {
		e, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("Run: %w", err)
		}

		if e.PrevHash != prevHash {
			return stats, fmt.Errorf("Run: %w", &hashchain.BrokenChainError{
				Sequence: e.Sequence,
				Detail:   "prev_hash does not match predecessor",
			})
		}
		if computed := hashchain.Compute(e, e.PrevHash); computed != e.Hash {
			return stats, fmt.Errorf("Run: %w", &hashchain.BrokenChainError{
				Sequence: e.Sequence,
				Detail:   "recomputed hash differs from stored hash",
			})
		}

		riskState.Apply(e)
		compliance.RecordEntry(compState, e)

		if stats.Entries == 0 {
			stats.FromSequence = e.Sequence
		}
		stats.ToSequence = e.Sequence
		stats.Entries++
		prevHash = e.Hash
	}

	stats.Elapsed = time.Since(start)
	return stats, nil
}
