// Package projection maintains read-optimized postgres copies of derived
// balances and compliance decisions. Projections are consumers of the
// committed history; the write path never reads them and they can always be
// dropped and rebuilt from the store.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS balances (
	account_key TEXT PRIMARY KEY,
	balance     NUMERIC NOT NULL DEFAULT 0,
	updated_seq BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS compliance_decisions (
	id             UUID PRIMARY KEY,
	sequence       BIGINT NOT NULL,
	correlation_id TEXT NOT NULL,
	rule           TEXT NOT NULL,
	stage          TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	reason         TEXT NOT NULL,
	decided_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS projection_state (
	id     INT PRIMARY KEY,
	as_of  BIGINT NOT NULL
);

INSERT INTO projection_state (id, as_of) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// AsOf returns the sequence of the last projected entry.
func (s *Store) AsOf(ctx context.Context) (uint64, error) {
	var asOf uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT as_of FROM projection_state WHERE id = 1`,
	).Scan(&asOf)
	if err != nil {
		return 0, fmt.Errorf("AsOf: %w", err)
	}
	return asOf, nil
}

// ApplyEntry folds one entry's postings into the balance projection. The
// whole entry commits in one transaction guarded by the as-of watermark, so
// re-delivering an already projected entry is a no-op.
func (s *Store) ApplyEntry(ctx context.Context, e domain.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ApplyEntry: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE projection_state SET as_of = $1 WHERE id = 1 AND as_of = $2`,
		e.Sequence, e.Sequence-1,
	)
	if err != nil {
		return fmt.Errorf("ApplyEntry: advance watermark: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("ApplyEntry: %w", err)
	} else if n == 0 {
		// already projected, or delivered out of order
		return nil
	}

	for _, p := range e.Postings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO balances (account_key, balance, updated_seq)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_key) DO UPDATE
			SET balance = balances.balance + EXCLUDED.balance,
			    updated_seq = EXCLUDED.updated_seq`,
			p.Account.String(), p.BalanceDelta().String(), e.Sequence,
		)
		if err != nil {
			return fmt.Errorf("ApplyEntry: posting %s: %w", p.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ApplyEntry: commit: %w", err)
	}
	return nil
}

// Balance reads a projected balance. Accounts the projection has never seen
// report zero, matching the derived-state convention.
func (s *Store) Balance(ctx context.Context, key domain.AccountKey) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance::TEXT FROM balances WHERE account_key = $1`, key.String(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: %w", err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: parse %q: %w", raw, err)
	}
	return d, nil
}

// RecordDecision projects one compliance decision; re-delivery is ignored.
func (s *Store) RecordDecision(ctx context.Context, d compliance.Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_decisions (
			id, sequence, correlation_id, rule, stage, outcome, reason, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.Sequence, d.CorrelationID, d.Rule, d.Stage.String(),
		d.Outcome.String(), d.Reason, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("RecordDecision: %w", err)
	}
	return nil
}

// DecisionCount reports projected decisions for one correlation id.
func (s *Store) DecisionCount(ctx context.Context, correlationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM compliance_decisions WHERE correlation_id = $1`, correlationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("DecisionCount: %w", err)
	}
	return n, nil
}
