package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/domain"
)

type submitter interface {
	Submit(ctx context.Context, c domain.Candidate) (uint64, error)
}

type stateReader interface {
	RiskSnapshot(fn func(*State))
}

// Monitor scans loan positions on a timer and submits a market-close entry
// for every position whose margin ratio has fallen below 1.0. It never
// touches the store directly; liquidations travel the same
// validate-risk-append path as any other candidate.
type Monitor struct {
	engine   *Engine
	ledger   submitter
	state    stateReader
	logger   *slog.Logger
	interval time.Duration
}

func NewMonitor(engine *Engine, ledger submitter, state stateReader, logger *slog.Logger, interval time.Duration) *Monitor {
	return &Monitor{engine: engine, ledger: ledger, state: state, logger: logger, interval: interval}
}

func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("liquidation monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liquidation monitor stopped")
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	var positions []LoanPosition
	var underwater []LoanPosition

	m.state.RiskSnapshot(func(s *State) {
		positions = s.LoanPositions()
		for _, pos := range positions {
			ratio, ok := m.engine.MarginRatio(s, pos.Owner, pos.Asset)
			if ok && ratio.LessThan(decimal.NewFromInt(1)) {
				underwater = append(underwater, pos)
			}
		}
	})

	for _, pos := range underwater {
		if err := m.liquidate(ctx, pos); err != nil {
			m.logger.Error("liquidation failed",
				"owner", pos.Owner,
				"asset", pos.Asset,
				"error", err,
			)
		}
	}
}

func (m *Monitor) liquidate(ctx context.Context, pos LoanPosition) error {
	var repay decimal.Decimal
	m.state.RiskSnapshot(func(s *State) {
		available := s.Available(domain.UserAvailable(pos.Owner, pos.Asset))
		repay = decimal.Min(available, s.Available(domain.UserLoan(pos.Owner, pos.Asset)))
	})
	if !repay.IsPositive() {
		return nil
	}

	debit, err := domain.NewPosting(domain.UserAvailable(pos.Owner, pos.Asset), repay, domain.SideDebit)
	if err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}
	credit, err := domain.NewPosting(domain.UserLoan(pos.Owner, pos.Asset), repay, domain.SideCredit)
	if err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}

	seq, err := m.ledger.Submit(ctx, domain.Candidate{
		Intent:        domain.IntentLiquidation,
		CorrelationID: "liquidation-" + uuid.NewString(),
		Postings:      []domain.Posting{debit, credit},
		Metadata: map[string]string{
			"owner": pos.Owner,
			"asset": pos.Asset,
		},
	})
	if err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}

	m.logger.Info("position liquidated",
		"owner", pos.Owner,
		"asset", pos.Asset,
		"amount", repay,
		"sequence", seq,
	)
	return nil
}
