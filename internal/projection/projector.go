package projection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/domain"
	"github.com/arkfin/ledgerd/internal/store"
)

type entrySource interface {
	Entries(from uint64) (*store.Reader, error)
	Decisions() []compliance.Decision
}

// Projector periodically catches the postgres projection up to the ledger
// tail. It only ever reads from the core's public iterators.
type Projector struct {
	store    *Store
	source   entrySource
	logger   *slog.Logger
	interval time.Duration
}

func NewProjector(st *Store, source entrySource, logger *slog.Logger, interval time.Duration) *Projector {
	return &Projector{store: st, source: source, logger: logger, interval: interval}
}

func (p *Projector) Start(ctx context.Context) {
	p.logger.Info("projector started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("projector stopped")
			return
		case <-ticker.C:
			if err := p.Sync(ctx); err != nil {
				p.logger.Error("projection sync failed", "error", err)
			}
		}
	}
}

// Sync projects every entry past the watermark plus all new decisions.
// Idempotent: running it twice over the same history changes nothing.
func (p *Projector) Sync(ctx context.Context) error {
	asOf, err := p.store.AsOf(ctx)
	if err != nil {
		return fmt.Errorf("Sync: %w", err)
	}

	r, err := p.source.Entries(asOf + 1)
	if err != nil {
		return fmt.Errorf("Sync: %w", err)
	}
	defer r.Close()

	var projected int
	for {
		var e domain.Entry
		e, err = r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("Sync: %w", err)
		}
		if err := p.store.ApplyEntry(ctx, e); err != nil {
			return fmt.Errorf("Sync: %w", err)
		}
		projected++
	}

	for _, d := range p.source.Decisions() {
		if err := p.store.RecordDecision(ctx, d); err != nil {
			return fmt.Errorf("Sync: %w", err)
		}
	}

	if projected > 0 {
		p.logger.Debug("projection advanced", "entries", projected)
	}
	return nil
}
