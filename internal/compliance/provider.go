package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/arkfin/ledgerd/internal/domain"
)

// Status is the externally supplied profile of an owner. The ledger core
// depends only on this boundary, never on a concrete KYC or watchlist
// transport.
type Status struct {
	KYCLevel    int
	Watchlisted bool
}

type Provider interface {
	GetStatus(ctx context.Context, owner string) (Status, error)
}

// timeoutProvider enforces an upper bound on every provider call.
type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func withTimeout(p Provider, d time.Duration) Provider {
	return &timeoutProvider{inner: p, timeout: d}
}

func (p *timeoutProvider) GetStatus(ctx context.Context, owner string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		status Status
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := p.inner.GetStatus(ctx, owner)
		ch <- result{s, err}
	}()

	select {
	case <-ctx.Done():
		return Status{}, fmt.Errorf("GetStatus: %s: %w", owner, domain.ErrProviderUnavailable)
	case r := <-ch:
		if r.err != nil {
			return Status{}, fmt.Errorf("GetStatus: %s: %v: %w", owner, r.err, domain.ErrProviderUnavailable)
		}
		return r.status, nil
	}
}

// StaticProvider serves fixed statuses from memory. Owners without an entry
// get the zero status (KYC level 0, not watchlisted). Test support, and a
// reasonable default for deployments without an external provider.
type StaticProvider map[string]Status

func (p StaticProvider) GetStatus(_ context.Context, owner string) (Status, error) {
	return p[owner], nil
}

// FailingProvider always errors; used to exercise the fail-closed path.
type FailingProvider struct{}

func (FailingProvider) GetStatus(context.Context, string) (Status, error) {
	return Status{}, fmt.Errorf("GetStatus: %w", domain.ErrProviderUnavailable)
}
