package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/metrics"
)

var balanceLog = logrus.WithField("component", "balance_aggregator")

// Aggregator converts a trace's per-currency balances into the viewer's native currency.
// One Aggregator serves one trace; it remembers the last successful NativeValue.
type Aggregator struct {
	Converter domain.ConversionService

	mu   sync.Mutex
	last *domain.NativeValue
}

// NewAggregator creates a new Aggregator instance
func NewAggregator(converter domain.ConversionService) *Aggregator {
	return &Aggregator{
		Converter: converter,
	}
}

// Aggregate computes the NativeValue of a set of donation counters
// Logic:
//  1. Build one batch request of (balance, symbol) pairs, zero balances included
//  2. Delegate to the ConversionService, which converts each pair at its own rate
//  3. Keep the per-currency USD values for the eligibility check
func (a *Aggregator) Aggregate(ctx context.Context, counters []domain.DonationCounter, nativeCurrency string) (*domain.NativeValue, error) {
	if len(counters) == 0 {
		return nil, errors.New("donation counters cannot be empty")
	}
	if nativeCurrency == "" {
		return nil, errors.New("native currency cannot be empty")
	}

	items := make([]domain.ConversionItem, 0, len(counters))
	for _, dc := range counters {
		items = append(items, domain.ConversionItem{
			Amount:   dc.BalanceUnits(),
			Currency: dc.Symbol,
		})
	}

	result, err := a.Converter.ConvertBatch(ctx, nativeCurrency, items)
	if err != nil {
		return nil, fmt.Errorf("failed to convert balances to %s: %w", nativeCurrency, err)
	}

	return &domain.NativeValue{
		Currency:    nativeCurrency,
		Total:       result.Total,
		PerCurrency: result.USDValues,
		Fingerprint: domain.BalanceFingerprint(counters, nativeCurrency),
	}, nil
}

// Refresh recomputes the trace's NativeValue for the viewer when its inputs changed
// Logic:
//   - No counters or no native currency: nothing to compute, returns nil
//   - Same counters and currency as the last value: returns the cached value
//   - Conversion failure: logs, keeps and returns the previous value along with the error
func (a *Aggregator) Refresh(ctx context.Context, trace *domain.Trace, viewer domain.Viewer) (*domain.NativeValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if trace == nil || len(trace.DonationCounters) == 0 || viewer.NativeCurrency == "" {
		a.last = nil
		return nil, nil
	}

	fingerprint := domain.BalanceFingerprint(trace.DonationCounters, viewer.NativeCurrency)
	if a.last != nil && a.last.Fingerprint == fingerprint {
		return a.last, nil
	}

	value, err := a.Aggregate(ctx, trace.DonationCounters, viewer.NativeCurrency)
	if err != nil {
		metrics.RecordConversionFailure()
		balanceLog.WithError(err).WithField("trace", trace.ID).Warn("keeping previous native value")
		return a.last, err
	}

	a.last = value
	return value, nil
}

// Current returns the last computed NativeValue, or nil
func (a *Aggregator) Current() *domain.NativeValue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
