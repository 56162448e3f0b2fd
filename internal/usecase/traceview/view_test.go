package traceview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/usecase/balance"
	"github.com/tracefund/trace-backend/internal/usecase/feed"
)

type emptyBackend struct{}

func (emptyBackend) GetDonations(context.Context, string, int, int) ([]domain.Donation, error) {
	return nil, nil
}

func (emptyBackend) CountDonations(context.Context, string) (int, error) {
	return 0, nil
}

type nopSub struct{}

func (nopSub) Unsubscribe() {}

type pushSubscriber struct {
	mu      sync.Mutex
	onTrace func(*domain.Trace)
}

func (s *pushSubscriber) SubscribeToTrace(_ context.Context, _ domain.TraceRef, onUpdate func(*domain.Trace), _ func()) (domain.Subscription, error) {
	s.mu.Lock()
	s.onTrace = onUpdate
	s.mu.Unlock()
	return nopSub{}, nil
}

func (s *pushSubscriber) SubscribeToNewDonationCount(context.Context, string, func(int), func()) (domain.Subscription, error) {
	return nopSub{}, nil
}

func (s *pushSubscriber) push(t *domain.Trace) {
	s.mu.Lock()
	fn := s.onTrace
	s.mu.Unlock()
	fn(t)
}

// usdConverter prices every currency at a fixed USD rate; EUR is 0.5 USD
type usdConverter struct {
	rates map[string]decimal.Decimal
}

func (c usdConverter) ConvertBatch(_ context.Context, target string, items []domain.ConversionItem) (*domain.ConversionResult, error) {
	res := &domain.ConversionResult{Total: decimal.Zero}
	for _, it := range items {
		usd := it.Amount.Mul(c.rates[it.Currency])
		res.USDValues = append(res.USDValues, domain.CurrencyValue{Symbol: it.Currency, USDValue: usd})
		if target == "EUR" {
			usd = usd.Mul(decimal.NewFromInt(2))
		}
		res.Total = res.Total.Add(usd)
	}
	return res, nil
}

func newManager(sub *pushSubscriber) *ManagerService {
	converter := usdConverter{rates: map[string]decimal.Decimal{
		"ETH": decimal.NewFromInt(2000),
		"DAI": decimal.NewFromInt(1),
	}}
	return NewManagerService(emptyBackend{}, sub, converter, 10, decimal.NewFromInt(50))
}

func traceWith(balances map[string]int64) *domain.Trace {
	t := &domain.Trace{ID: "trace-1", Slug: "trace-one"}
	for symbol, units := range balances {
		t.DonationCounters = append(t.DonationCounters, domain.DonationCounter{
			Symbol:         symbol,
			Decimals:       18,
			CurrentBalance: decimal.New(units, 18),
		})
	}
	return t
}

func TestView_RecomputesOnTraceUpdates(t *testing.T) {
	sub := &pushSubscriber{}
	m := newManager(sub)
	viewer := domain.Viewer{Address: "0xabc", NativeCurrency: "USD"}

	id, view, err := m.Open(context.Background(), domain.TraceRef{ID: "trace-1"}, viewer)
	require.NoError(t, err)
	defer m.Close(id)

	sub.push(traceWith(map[string]int64{"ETH": 1}))
	assert.Eventually(t, func() bool {
		s := view.Snapshot()
		return s.NativeValue != nil && s.NativeValue.Total.Equal(decimal.NewFromInt(2000))
	}, time.Second, 5*time.Millisecond)
	assert.True(t, view.Snapshot().Eligible)

	// A small DAI balance drops below the minimum payout
	sub.push(traceWith(map[string]int64{"ETH": 1, "DAI": 10}))
	assert.Eventually(t, func() bool {
		s := view.Snapshot()
		return s.NativeValue != nil && s.NativeValue.Total.Equal(decimal.NewFromInt(2010))
	}, time.Second, 5*time.Millisecond)
	assert.False(t, view.Snapshot().Eligible)
}

func TestView_CurrencyChangeForcesRecompute(t *testing.T) {
	sub := &pushSubscriber{}
	m := newManager(sub)

	id, view, err := m.Open(context.Background(), domain.TraceRef{ID: "trace-1"}, domain.Viewer{Address: "0xabc", NativeCurrency: "USD"})
	require.NoError(t, err)
	defer m.Close(id)

	sub.push(traceWith(map[string]int64{"DAI": 100}))
	assert.Eventually(t, func() bool {
		return view.Snapshot().NativeValue != nil
	}, time.Second, 5*time.Millisecond)

	view.SetViewer(domain.Viewer{Address: "0xabc", NativeCurrency: "EUR"})
	assert.Eventually(t, func() bool {
		v := view.Snapshot().NativeValue
		return v != nil && v.Currency == "EUR" && v.Total.Equal(decimal.NewFromInt(200))
	}, time.Second, 5*time.Millisecond)

	// Signing out clears the value
	view.SetViewer(domain.Viewer{})
	s := view.Refresh(context.Background())
	assert.Nil(t, s.NativeValue)
	assert.False(t, s.Eligible)
}

func TestView_OpenTwice(t *testing.T) {
	sub := &pushSubscriber{}
	m := newManager(sub)

	id, view, err := m.Open(context.Background(), domain.TraceRef{ID: "trace-1"}, domain.Viewer{})
	require.NoError(t, err)
	defer m.Close(id)

	assert.ErrorIs(t, view.Open(context.Background(), domain.TraceRef{ID: "trace-1"}, domain.Viewer{}), domain.ErrAlreadySubscribed)
}

func TestManager_Lifecycle(t *testing.T) {
	m := newManager(&pushSubscriber{})

	id, _, err := m.Open(context.Background(), domain.TraceRef{Slug: "trace-one"}, domain.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get(id)
	assert.NoError(t, err)

	m.Close(id)
	m.Close(id)
	m.Close(uuid.New())

	_, err = m.Get(id)
	assert.ErrorIs(t, err, domain.ErrFeedDisposed)
	assert.Equal(t, 0, m.Len())
}

func TestManager_CloseAll(t *testing.T) {
	m := newManager(&pushSubscriber{})
	for i := 0; i < 3; i++ {
		_, _, err := m.Open(context.Background(), domain.TraceRef{ID: "trace-1"}, domain.Viewer{})
		require.NoError(t, err)
	}

	m.CloseAll()

	assert.Equal(t, 0, m.Len())
}

// hookConverter runs onConvert inside every conversion before pricing
type hookConverter struct {
	usdConverter
	onConvert func()
}

func (c hookConverter) ConvertBatch(ctx context.Context, target string, items []domain.ConversionItem) (*domain.ConversionResult, error) {
	c.onConvert()
	return c.usdConverter.ConvertBatch(ctx, target, items)
}

func TestView_RefreshReturnsOwnResultWhenSuperseded(t *testing.T) {
	sub := &pushSubscriber{}
	f := feed.NewFeed(emptyBackend{}, sub, 10)

	var view *View
	converter := hookConverter{
		usdConverter: usdConverter{rates: map[string]decimal.Decimal{"DAI": decimal.NewFromInt(1)}},
		// A trace update lands while the balance is being priced
		onConvert: func() {
			view.mu.Lock()
			view.seq++
			view.mu.Unlock()
		},
	}
	view = NewView(f, balance.NewAggregator(converter), decimal.NewFromInt(50))

	// The viewer has no native currency yet, so the pushed snapshot prices nothing
	require.NoError(t, view.Open(context.Background(), domain.TraceRef{ID: "trace-1"}, domain.Viewer{Address: "0xabc"}))
	defer view.Close()
	sub.push(traceWith(map[string]int64{"DAI": 10}))
	require.NotNil(t, f.Trace())

	view.mu.Lock()
	view.viewer = domain.Viewer{Address: "0xabc", NativeCurrency: "USD"}
	view.mu.Unlock()

	snap := view.Refresh(context.Background())

	require.NotNil(t, snap.NativeValue)
	assert.True(t, snap.NativeValue.Total.Equal(decimal.NewFromInt(10)))
	assert.False(t, snap.Eligible)
	assert.NoError(t, snap.BalanceError)
	assert.Equal(t, "USD", snap.Viewer.NativeCurrency)

	// The superseded result is not stored
	assert.Nil(t, view.Snapshot().NativeValue)
}
