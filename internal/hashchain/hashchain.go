// Package hashchain computes and verifies the tamper-evident linkage between
// consecutive ledger entries. The digest covers a canonical, field-order-fixed
// serialization of every entry attribute except the hash itself, concatenated
// with the previous entry's hash.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arkfin/ledgerd/internal/domain"
)

// BrokenChainError reports the first sequence at which verification failed.
type BrokenChainError struct {
	Sequence uint64
	Detail   string
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("chain broken at sequence %d: %s", e.Sequence, e.Detail)
}

func (e *BrokenChainError) Unwrap() error { return domain.ErrBrokenChain }

// CanonicalBytes serializes an entry for hashing. Field order is fixed and
// metadata keys are sorted, so the same entry always yields the same bytes
// regardless of map iteration order.
func CanonicalBytes(e domain.Entry) []byte {
	var b strings.Builder
	b.WriteString("v1\n")
	b.WriteString(strconv.FormatUint(e.Sequence, 10))
	b.WriteByte('\n')
	b.WriteString(e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	b.WriteByte('\n')
	b.WriteString(string(e.Intent))
	b.WriteByte('\n')
	b.WriteString(e.CorrelationID)
	b.WriteByte('\n')
	b.WriteString(e.CausalityID)
	b.WriteByte('\n')
	for _, p := range e.Postings {
		b.WriteString(p.Account.String())
		b.WriteByte('|')
		b.WriteString(string(p.Side))
		b.WriteByte('|')
		b.WriteString(p.Amount.String())
		b.WriteByte('\n')
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Metadata[k])
		b.WriteByte('\n')
	}
	for _, s := range e.Signatures {
		b.WriteString(s.KeyID)
		b.WriteByte('|')
		b.WriteString(s.PublicKey)
		b.WriteByte('|')
		b.WriteString(s.Sig)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Compute returns the hex digest of an entry linked to prevHash. The entry's
// own Hash field is ignored.
func Compute(e domain.Entry, prevHash string) string {
	h := sha256.New()
	h.Write(CanonicalBytes(e))
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify walks entries in order and fails fast at the first broken link.
// It never attempts repair. Entries must be a contiguous slice of the chain;
// when the slice starts at sequence 1 the genesis sentinel is enforced.
func Verify(entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	prevHash := entries[0].PrevHash
	if entries[0].Sequence == 1 && prevHash != domain.GenesisHash {
		return fmt.Errorf("Verify: %w", &BrokenChainError{
			Sequence: 1,
			Detail:   fmt.Sprintf("genesis prev_hash %q, want %q", prevHash, domain.GenesisHash),
		})
	}

	expectSeq := entries[0].Sequence
	for _, e := range entries {
		if e.Sequence != expectSeq {
			return fmt.Errorf("Verify: %w", &BrokenChainError{
				Sequence: e.Sequence,
				Detail:   fmt.Sprintf("sequence gap, want %d", expectSeq),
			})
		}
		if e.PrevHash != prevHash {
			return fmt.Errorf("Verify: %w", &BrokenChainError{
				Sequence: e.Sequence,
				Detail:   "prev_hash does not match predecessor",
			})
		}
		if computed := Compute(e, e.PrevHash); computed != e.Hash {
			return fmt.Errorf("Verify: %w", &BrokenChainError{
				Sequence: e.Sequence,
				Detail:   "recomputed hash differs from stored hash",
			})
		}
		prevHash = e.Hash
		expectSeq++
	}
	return nil
}
