package traceview

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/usecase/balance"
	"github.com/tracefund/trace-backend/internal/usecase/eligibility"
	"github.com/tracefund/trace-backend/internal/usecase/feed"
)

var viewLog = logrus.WithField("component", "trace_view")

// Snapshot is everything the view layer shows for one trace
type Snapshot struct {
	Feed        feed.State
	Trace       *domain.Trace
	Viewer      domain.Viewer
	NativeValue *domain.NativeValue
	// Eligible is only meaningful once NativeValue is set
	Eligible      bool
	BalanceError  error
	MinimumPayout decimal.Decimal
}

// View binds a trace's donation feed to the viewer's balance and eligibility.
// The native value is recomputed whenever a trace snapshot arrives or the viewer changes.
type View struct {
	Feed             *feed.Feed
	Balance          *balance.Aggregator
	MinimumPayoutUSD decimal.Decimal

	mu         sync.Mutex
	viewer     domain.Viewer
	value      *domain.NativeValue
	eligible   bool
	balanceErr error
	seq        uint64
	lifetime   context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewView creates a new View instance
func NewView(f *feed.Feed, aggregator *balance.Aggregator, minimumPayoutUSD decimal.Decimal) *View {
	v := &View{
		Feed:             f,
		Balance:          aggregator,
		MinimumPayoutUSD: minimumPayoutUSD,
	}
	f.OnTrace(v.handleTrace)
	return v
}

// Open subscribes the feed to the trace for the given viewer
func (v *View) Open(ctx context.Context, ref domain.TraceRef, viewer domain.Viewer) error {
	v.mu.Lock()
	if v.lifetime != nil && v.lifetime.Err() == nil {
		v.mu.Unlock()
		return domain.ErrAlreadySubscribed
	}
	v.viewer = viewer
	v.value = nil
	v.eligible = false
	v.balanceErr = nil
	v.lifetime, v.cancel = context.WithCancel(context.Background())
	v.mu.Unlock()

	if err := v.Feed.Subscribe(ctx, ref); err != nil {
		v.mu.Lock()
		v.cancel()
		v.mu.Unlock()
		return err
	}
	return nil
}

// SetViewer switches the viewer (sign in, sign out, currency change) and recomputes the balance
func (v *View) SetViewer(viewer domain.Viewer) {
	v.mu.Lock()
	v.viewer = viewer
	v.mu.Unlock()

	if t := v.Feed.Trace(); t != nil {
		v.schedule(t)
	}
}

// Refresh recomputes the native value synchronously and returns the resulting snapshot.
// The returned balance is the one computed by this call, even when a concurrent
// trace update supersedes it in the stored state.
func (v *View) Refresh(ctx context.Context) Snapshot {
	t := v.Feed.Trace()
	if t == nil {
		return v.Snapshot()
	}

	v.mu.Lock()
	v.seq++
	seq, viewer := v.seq, v.viewer
	v.mu.Unlock()

	value, eligible, err := v.recompute(ctx, seq, t, viewer)

	snap := v.Snapshot()
	snap.Trace = t
	snap.Viewer = viewer
	snap.NativeValue = value
	snap.Eligible = eligible
	snap.BalanceError = err
	return snap
}

// Snapshot returns the current state of the view
func (v *View) Snapshot() Snapshot {
	state := v.Feed.State()
	trace := v.Feed.Trace()

	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Feed:          state,
		Trace:         trace,
		Viewer:        v.viewer,
		NativeValue:   v.value,
		Eligible:      v.eligible,
		BalanceError:  v.balanceErr,
		MinimumPayout: v.MinimumPayoutUSD,
	}
}

// Close disposes the feed and waits for pending recomputations
func (v *View) Close() {
	v.Feed.Dispose()

	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.seq++
	v.mu.Unlock()

	v.wg.Wait()
}

// handleTrace runs on the subscription's delivery path and must not block it
func (v *View) handleTrace(t *domain.Trace) {
	v.schedule(t)
}

func (v *View) schedule(t *domain.Trace) {
	v.mu.Lock()
	if v.lifetime == nil || v.lifetime.Err() != nil {
		v.mu.Unlock()
		return
	}
	v.seq++
	seq, viewer, ctx := v.seq, v.viewer, v.lifetime
	v.wg.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.wg.Done()
		v.recompute(ctx, seq, t, viewer)
	}()
}

// recompute prices t for viewer and stores the result unless seq was superseded
func (v *View) recompute(ctx context.Context, seq uint64, t *domain.Trace, viewer domain.Viewer) (*domain.NativeValue, bool, error) {
	value, err := v.Balance.Refresh(ctx, t, viewer)

	eligible := false
	if value != nil {
		eligible = eligibility.IsEligible(value.PerCurrency, v.MinimumPayoutUSD)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		// A newer trace snapshot or viewer change already superseded this one
		return value, eligible, err
	}
	v.value = value
	v.eligible = eligible
	v.balanceErr = err
	if err != nil {
		viewLog.WithError(err).WithField("trace", t.ID).Debug("native value not refreshed")
	}
	return value, eligible, err
}
