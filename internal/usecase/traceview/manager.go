package traceview

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/usecase/balance"
	"github.com/tracefund/trace-backend/internal/usecase/feed"
)

// ManagerService keeps the open trace views, one independent feed and aggregator per handle
type ManagerService struct {
	Backend          domain.DonationBackend
	Subscriber       domain.TraceSubscriber
	Converter        domain.ConversionService
	PageSize         int
	MinimumPayoutUSD decimal.Decimal

	mu    sync.RWMutex
	views map[uuid.UUID]*View
}

// NewManagerService creates a new ManagerService instance
func NewManagerService(
	backend domain.DonationBackend,
	subscriber domain.TraceSubscriber,
	converter domain.ConversionService,
	pageSize int,
	minimumPayoutUSD decimal.Decimal,
) *ManagerService {
	return &ManagerService{
		Backend:          backend,
		Subscriber:       subscriber,
		Converter:        converter,
		PageSize:         pageSize,
		MinimumPayoutUSD: minimumPayoutUSD,
		views:            make(map[uuid.UUID]*View),
	}
}

// Open subscribes a new view to the trace and returns its handle
func (m *ManagerService) Open(ctx context.Context, ref domain.TraceRef, viewer domain.Viewer) (uuid.UUID, *View, error) {
	view := NewView(
		feed.NewFeed(m.Backend, m.Subscriber, m.PageSize),
		balance.NewAggregator(m.Converter),
		m.MinimumPayoutUSD,
	)
	if err := view.Open(ctx, ref, viewer); err != nil {
		return uuid.Nil, nil, err
	}

	id := uuid.New()
	m.mu.Lock()
	m.views[id] = view
	m.mu.Unlock()

	viewLog.WithFields(logrus.Fields{
		"handle": id,
		"trace":  ref.String(),
	}).Info("trace view opened")
	return id, view, nil
}

// Get returns an open view
func (m *ManagerService) Get(id uuid.UUID) (*View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view, ok := m.views[id]
	if !ok {
		return nil, domain.ErrFeedDisposed
	}
	return view, nil
}

// Close disposes a view; closing an unknown handle is a no-op
func (m *ManagerService) Close(id uuid.UUID) {
	m.mu.Lock()
	view, ok := m.views[id]
	delete(m.views, id)
	m.mu.Unlock()

	if ok {
		view.Close()
	}
}

// CloseAll disposes every open view
func (m *ManagerService) CloseAll() {
	m.mu.Lock()
	views := m.views
	m.views = make(map[uuid.UUID]*View)
	m.mu.Unlock()

	for _, view := range views {
		view.Close()
	}
}

// Len returns the number of open views
func (m *ManagerService) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views)
}
