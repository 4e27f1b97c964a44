// Package store persists committed entries as an append-only, newline
// delimited JSON file. Append is the only mutation; recovery derives the tail
// sequence and chain head by scanning to the physical end of the file, never
// from a cached counter that could drift from the bytes on disk.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/arkfin/ledgerd/internal/domain"
)

// maxLineBytes bounds a single serialized entry. Entries are small; a line
// this long means corruption, not a big transaction.
const maxLineBytes = 1 << 20

// storeFile is the slice of *os.File the store needs; a seam for fault
// injection in tests.
type storeFile interface {
	io.Reader
	io.Writer
	io.Closer
	Sync() error
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

type Store struct {
	mu       sync.Mutex
	path     string
	f        storeFile
	tailSeq  uint64
	tailHash string
}

// Open opens or creates the store file and scans it end to end to recover
// the tail. A truncated or unparsable trailing record is an error; the
// operator must audit the file rather than let the writer build on top of it.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	s := &Store{path: path, f: f, tailHash: domain.GenesisHash}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		var e domain.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			f.Close()
			return nil, fmt.Errorf("Open: line %d: %w", line, err)
		}
		if e.Sequence != s.tailSeq+1 {
			f.Close()
			return nil, fmt.Errorf("Open: line %d has sequence %d after %d: %w",
				line, e.Sequence, s.tailSeq, domain.ErrSequenceGap)
		}
		s.tailSeq = e.Sequence
		s.tailHash = e.Hash
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("Open: scan: %w", err)
	}
	return s, nil
}

// Append writes one committed entry. The entry's sequence must be exactly
// tail+1 and its prev hash must match the chain head.
func (s *Store) Append(e domain.Entry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Sequence != s.tailSeq+1 {
		return 0, fmt.Errorf("Append: sequence %d after tail %d: %w", e.Sequence, s.tailSeq, domain.ErrSequenceGap)
	}
	if e.PrevHash != s.tailHash {
		return 0, fmt.Errorf("Append: prev_hash %q does not match tail %q: %w",
			e.PrevHash, s.tailHash, domain.ErrBrokenChain)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("Append: marshal: %w", err)
	}
	b = append(b, '\n')

	// the pre-write offset is the rollback point: a failed write or sync may
	// still have put bytes in the file, and those bytes must not survive
	off, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("Append: seek: %w", err)
	}

	if _, err := s.f.Write(b); err != nil {
		return 0, s.discardPartial(off, fmt.Errorf("Append: write: %w", err))
	}
	if err := s.f.Sync(); err != nil {
		return 0, s.discardPartial(off, fmt.Errorf("Append: sync: %w", err))
	}

	s.tailSeq = e.Sequence
	s.tailHash = e.Hash
	return e.Sequence, nil
}

// discardPartial truncates the file back to the pre-write offset so the
// physical tail again matches the in-memory tail; only then is the failed
// append reported as not committed and safe to retry. When the file cannot
// be restored its physical tail is unknown and the error marks the store
// unusable.
func (s *Store) discardPartial(off int64, cause error) error {
	if err := s.f.Truncate(off); err != nil {
		return fmt.Errorf("Append: truncate to %d: %v: %w", off, err, domain.ErrStoreCorrupt)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("Append: sync after truncate: %v: %w", err, domain.ErrStoreCorrupt)
	}
	return cause
}

// Tail returns the last committed sequence and the chain head hash, as
// recovered from the file itself. An empty store reports (0, GenesisHash).
func (s *Store) Tail() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tailSeq, s.tailHash
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Reader is a lazy, ordered iterator over committed entries. Each reader
// holds its own file handle so readers run concurrently with the writer.
type Reader struct {
	f       *os.File
	sc      *bufio.Scanner
	nextSeq uint64
	started bool
}

// ReadFrom returns a reader positioned at the given sequence (1 reads from
// genesis). The reader is restartable: call ReadFrom again for a new pass.
func (s *Store) ReadFrom(seq uint64) (*Reader, error) {
	if seq == 0 {
		seq = 1
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("ReadFrom: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{f: f, sc: sc, nextSeq: seq}, nil
}

// Next returns the next entry in sequence order, or io.EOF once the reader
// passes the physical end of the store.
func (r *Reader) Next() (domain.Entry, error) {
	for r.sc.Scan() {
		var e domain.Entry
		if err := json.Unmarshal(r.sc.Bytes(), &e); err != nil {
			return domain.Entry{}, fmt.Errorf("Next: %w", err)
		}
		if !r.started && e.Sequence < r.nextSeq {
			continue
		}
		if e.Sequence != r.nextSeq {
			return domain.Entry{}, fmt.Errorf("Next: sequence %d, want %d: %w",
				e.Sequence, r.nextSeq, domain.ErrSequenceGap)
		}
		r.started = true
		r.nextSeq++
		return e, nil
	}
	if err := r.sc.Err(); err != nil {
		return domain.Entry{}, fmt.Errorf("Next: scan: %w", err)
	}
	return domain.Entry{}, io.EOF
}

func (r *Reader) Close() error {
	return r.f.Close()
}
