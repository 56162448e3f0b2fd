package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/metrics"
)

var feedLog = logrus.WithField("component", "donation_feed")

var (
	// ErrNotSubscribed is returned when a page is requested from a feed with no live subscription
	ErrNotSubscribed = errors.New("feed is not subscribed")

	// ErrTraceNotLoaded is returned when a feed subscribed by slug has not received its trace yet
	ErrTraceNotLoaded = errors.New("trace not loaded yet")

	// ErrSuperseded is returned to a page load whose result was discarded in favour of a newer request
	ErrSuperseded = errors.New("donation page superseded by a newer request")
)

// State is the observable state of a feed
type State struct {
	TraceID   string
	Slug      string
	Donations []domain.Donation
	Loading   bool
	NewCount  int
	NotFound  bool
	LastError error
}

// Total returns the number of donations held in memory
func (s State) Total() int {
	return len(s.Donations)
}

// Feed keeps the live donation list of one trace.
// Push updates and paginated loads are merged under a last-writer-wins request token:
// a page result is applied only if no newer load or Dispose was issued after it.
type Feed struct {
	Backend    domain.DonationBackend
	Subscriber domain.TraceSubscriber
	PageSize   int

	mu        sync.Mutex
	active    bool
	gen       uint64
	token     uint64
	loading   bool
	ref       domain.TraceRef
	trace     *domain.Trace
	donations []domain.Donation
	newCount  int
	notFound  bool
	lastErr   error

	lifetime context.Context
	cancel   context.CancelFunc
	traceSub domain.Subscription
	countSub domain.Subscription

	traceListeners  []func(*domain.Trace)
	changeListeners []func(State)
}

// NewFeed creates a new Feed instance
func NewFeed(backend domain.DonationBackend, subscriber domain.TraceSubscriber, pageSize int) *Feed {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Feed{
		Backend:    backend,
		Subscriber: subscriber,
		PageSize:   pageSize,
	}
}

// OnTrace registers a callback for every trace snapshot pushed to the feed
func (f *Feed) OnTrace(fn func(*domain.Trace)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.traceListeners = append(f.traceListeners, fn)
	f.mu.Unlock()
}

// OnChange registers a callback for feed state changes
func (f *Feed) OnChange(fn func(State)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.changeListeners = append(f.changeListeners, fn)
	f.mu.Unlock()
}

// Subscribe opens the push subscription for a trace
// Logic:
//  1. Refuse if a subscription is already active (Dispose first)
//  2. Open the trace subscription; every snapshot replaces the in-memory trace
//  3. The first snapshot loads the first page and opens the new-donation count subscription
func (f *Feed) Subscribe(ctx context.Context, ref domain.TraceRef) error {
	if ref.IsZero() {
		return errors.New("trace reference cannot be empty")
	}

	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return domain.ErrAlreadySubscribed
	}
	f.active = true
	f.gen++
	gen := f.gen
	f.ref = ref
	f.trace = nil
	f.donations = nil
	f.newCount = 0
	f.notFound = false
	f.lastErr = nil
	f.lifetime, f.cancel = context.WithCancel(context.Background())
	f.mu.Unlock()

	sub, err := f.Subscriber.SubscribeToTrace(ctx, ref,
		func(t *domain.Trace) { f.handleTrace(gen, t) },
		func() { f.handleNotFound(gen) },
	)
	if err != nil {
		f.mu.Lock()
		if f.gen == gen {
			f.active = false
			f.cancel()
		}
		f.mu.Unlock()
		if errors.Is(err, domain.ErrTraceNotFound) {
			f.handleNotFound(gen)
		}
		return err
	}

	f.mu.Lock()
	if f.gen != gen || !f.active {
		// Disposed while the subscription was being opened
		f.mu.Unlock()
		sub.Unsubscribe()
		return domain.ErrFeedDisposed
	}
	f.traceSub = sub
	f.mu.Unlock()

	metrics.SubscriptionOpened()
	feedLog.WithField("trace", ref.String()).Debug("subscribed")
	return nil
}

// LoadPage requests countHint donations and merges them into the feed
// Logic:
//   - fromScratch: offset 0, the result replaces the list
//   - otherwise: offset is the current length, the result is appended
//   - only the latest request's result is applied; older ones return ErrSuperseded
//   - a failure keeps the loaded items and is returned as *domain.FeedError
func (f *Feed) LoadPage(ctx context.Context, fromScratch bool, countHint int) ([]domain.Donation, error) {
	f.mu.Lock()
	if f.notFound {
		f.mu.Unlock()
		return nil, domain.ErrTraceNotFound
	}
	if !f.active {
		f.mu.Unlock()
		return nil, ErrNotSubscribed
	}
	traceID := f.traceIDLocked()
	if traceID == "" {
		f.mu.Unlock()
		return nil, ErrTraceNotLoaded
	}
	if countHint <= 0 {
		countHint = f.PageSize
	}
	offset := 0
	if !fromScratch {
		offset = len(f.donations)
	}
	f.token++
	token := f.token
	gen := f.gen
	f.loading = true
	f.mu.Unlock()
	f.emitChange()

	page, err := f.Backend.GetDonations(ctx, traceID, countHint, offset)
	metrics.RecordPageLoad(fromScratch, err)

	f.mu.Lock()
	if f.gen != gen || !f.active {
		f.mu.Unlock()
		metrics.RecordStaleResponse()
		return nil, domain.ErrFeedDisposed
	}
	if token != f.token {
		f.mu.Unlock()
		metrics.RecordStaleResponse()
		return nil, ErrSuperseded
	}
	f.loading = false

	if err != nil {
		feedErr := &domain.FeedError{TraceID: traceID, Offset: offset, Err: err}
		f.lastErr = feedErr
		f.mu.Unlock()
		feedLog.WithError(err).WithField("trace", traceID).Warn("Some error on fetching trace donations")
		f.emitChange()
		return nil, feedErr
	}

	if fromScratch {
		f.donations = append([]domain.Donation(nil), page...)
	} else {
		f.donations = append(f.donations, page...)
	}
	f.lastErr = nil
	result := append([]domain.Donation(nil), f.donations...)
	f.mu.Unlock()

	f.emitChange()
	return result, nil
}

// Dispose releases the subscriptions and discards any in-flight page result.
// It is idempotent and safe to call before Subscribe.
func (f *Feed) Dispose() {
	f.mu.Lock()
	if !f.active && f.traceSub == nil && f.countSub == nil {
		f.mu.Unlock()
		return
	}
	f.active = false
	f.gen++
	f.token++
	f.loading = false
	traceSub, countSub := f.traceSub, f.countSub
	f.traceSub, f.countSub = nil, nil
	ref := f.ref
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()

	if countSub != nil {
		countSub.Unsubscribe()
	}
	if traceSub != nil {
		traceSub.Unsubscribe()
		metrics.SubscriptionClosed()
	}
	feedLog.WithField("trace", ref.String()).Debug("disposed")
}

// State returns a snapshot of the feed
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

// Trace returns the latest trace snapshot, or nil
func (f *Feed) Trace() *domain.Trace {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trace
}

func (f *Feed) handleTrace(gen uint64, t *domain.Trace) {
	if t == nil {
		return
	}
	// An invalid snapshot is dropped; the last good trace stays current
	if err := t.Validate(); err != nil {
		feedLog.WithError(err).WithField("trace", t.ID).Warn("dropping invalid trace snapshot")
		return
	}

	f.mu.Lock()
	if gen != f.gen || !f.active || f.notFound {
		f.mu.Unlock()
		return
	}
	first := f.trace == nil
	f.trace = t
	listeners := append(([]func(*domain.Trace))(nil), f.traceListeners...)
	lifetime := f.lifetime
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	f.emitChange()

	if first {
		go f.startDonations(lifetime, gen, t.ID)
	}
}

// startDonations loads the first page and starts watching the new-donation count
func (f *Feed) startDonations(ctx context.Context, gen uint64, traceID string) {
	if _, err := f.LoadPage(ctx, true, f.PageSize); err != nil && !errors.Is(err, ErrSuperseded) {
		feedLog.WithError(err).WithField("trace", traceID).Debug("initial page load did not apply")
	}
	if ctx.Err() != nil {
		return
	}

	sub, err := f.Subscriber.SubscribeToNewDonationCount(ctx, traceID,
		func(n int) { f.handleNewCount(gen, n) },
		func() { f.handleCountReset(gen) },
	)
	if err != nil {
		feedLog.WithError(err).WithField("trace", traceID).Warn("failed to subscribe to new donations")
		return
	}

	f.mu.Lock()
	if gen != f.gen || !f.active {
		f.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	f.countSub = sub
	f.mu.Unlock()
}

func (f *Feed) handleNewCount(gen uint64, n int) {
	f.mu.Lock()
	if gen != f.gen || !f.active {
		f.mu.Unlock()
		return
	}
	f.newCount = n
	// Re-request as many donations as are already loaded so the viewer keeps their scroll depth
	hint := len(f.donations)
	lifetime := f.lifetime
	f.mu.Unlock()
	f.emitChange()

	if n > 0 {
		go func() {
			if _, err := f.LoadPage(lifetime, true, hint); err != nil && !errors.Is(err, ErrSuperseded) {
				feedLog.WithError(err).Debug("reload after new donations did not apply")
			}
		}()
	}
}

func (f *Feed) handleCountReset(gen uint64) {
	f.mu.Lock()
	if gen != f.gen || !f.active {
		f.mu.Unlock()
		return
	}
	f.newCount = 0
	f.mu.Unlock()
	f.emitChange()
}

func (f *Feed) handleNotFound(gen uint64) {
	f.mu.Lock()
	if gen != f.gen || f.notFound {
		f.mu.Unlock()
		return
	}
	f.notFound = true
	f.token++
	f.loading = false
	if f.cancel != nil {
		f.cancel()
	}
	ref := f.ref
	f.mu.Unlock()

	feedLog.WithField("trace", ref.String()).Info("trace not found")
	f.emitChange()
}

func (f *Feed) emitChange() {
	f.mu.Lock()
	state := f.stateLocked()
	listeners := append(([]func(State))(nil), f.changeListeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (f *Feed) traceIDLocked() string {
	if f.trace != nil {
		return f.trace.ID
	}
	return f.ref.ID
}

func (f *Feed) stateLocked() State {
	s := State{
		TraceID:   f.traceIDLocked(),
		Slug:      f.ref.Slug,
		Donations: append([]domain.Donation(nil), f.donations...),
		Loading:   f.loading,
		NewCount:  f.newCount,
		NotFound:  f.notFound,
		LastError: f.lastErr,
	}
	if f.trace != nil && f.trace.Slug != "" {
		s.Slug = f.trace.Slug
	}
	return s
}
