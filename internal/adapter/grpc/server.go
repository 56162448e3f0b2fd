package grpc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/usecase/feed"
	"github.com/tracefund/trace-backend/internal/usecase/traceview"
	"github.com/tracefund/trace-backend/internal/usecase/withdrawal"
)

var serverLog = logrus.WithField("component", "grpc")

// Server implements the TraceService gRPC server
type Server struct {
	Views         *traceview.ManagerService
	Withdrawals   *withdrawal.OrchestratorService
	Notifications *withdrawal.NotificationLog
	// DisplayDecimals returns the rendering precision of a native currency
	DisplayDecimals func(currency string) int32

	mu sync.Mutex
	// attempts started from each open feed, released when the feed closes
	attempts map[uuid.UUID][]uuid.UUID
}

// NewServer creates a new gRPC server instance
func NewServer(
	views *traceview.ManagerService,
	withdrawals *withdrawal.OrchestratorService,
	notifications *withdrawal.NotificationLog,
	displayDecimals func(currency string) int32,
) *Server {
	if displayDecimals == nil {
		displayDecimals = func(string) int32 { return domain.DefaultDisplayDecimals }
	}
	return &Server{
		Views:           views,
		Withdrawals:     withdrawals,
		Notifications:   notifications,
		DisplayDecimals: displayDecimals,
		attempts:        make(map[uuid.UUID][]uuid.UUID),
	}
}

// OpenFeed handles the OpenFeed RPC
func (s *Server) OpenFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref := domain.TraceRef{
		ID:   stringField(req, "traceId"),
		Slug: stringField(req, "slug"),
	}
	if ref.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "traceId or slug is required")
	}

	id, view, err := s.Views.Open(ctx, ref, ViewerFromContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	return s.feedResponse(id, view.Snapshot())
}

// GetFeed handles the GetFeed RPC
func (s *Server) GetFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, view, err := s.view(req)
	if err != nil {
		return nil, err
	}
	return s.feedResponse(id, view.Snapshot())
}

// LoadMoreDonations handles the LoadMoreDonations RPC.
// fromScratch reloads the first countHint donations; otherwise the next page is appended.
func (s *Server) LoadMoreDonations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, view, err := s.view(req)
	if err != nil {
		return nil, err
	}

	_, err = view.Feed.LoadPage(ctx, boolField(req, "fromScratch"), intField(req, "countHint"))
	// A superseded load is not an error for the caller; the newer request's result wins
	if err != nil && !errors.Is(err, feed.ErrSuperseded) {
		return nil, mapError(err)
	}

	return s.feedResponse(id, view.Snapshot())
}

// CloseFeed handles the CloseFeed RPC
func (s *Server) CloseFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "feedId")
	if err != nil {
		return nil, err
	}

	s.Views.Close(id)
	s.releaseAttempts(id)

	return newStruct(map[string]interface{}{
		"feedId": id.String(),
		"closed": true,
	})
}

// GetBalance handles the GetBalance RPC.
// The balance is recomputed for the calling viewer before it is returned.
func (s *Server) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_, view, err := s.view(req)
	if err != nil {
		return nil, err
	}

	snap := s.refreshFor(ctx, view, ViewerFromContext(ctx))
	if snap.Trace == nil {
		return nil, mapError(feed.ErrTraceNotLoaded)
	}

	return newStruct(map[string]interface{}{
		"traceId": snap.Trace.ID,
		"balance": s.balanceFields(snap),
	})
}

// BeginWithdrawal handles the BeginWithdrawal RPC
// Logic:
//  1. The balance is recomputed for the calling viewer
//  2. The viewer may withdraw when it is the trace owner or its effective recipient
//  3. The attempt runs up to the confirmation prompt or stops at a gate
//
// Rejections and failures are part of the returned attempt, not RPC errors.
func (s *Server) BeginWithdrawal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	feedID, view, err := s.view(req)
	if err != nil {
		return nil, err
	}

	viewer := ViewerFromContext(ctx)
	snap := s.refreshFor(ctx, view, viewer)
	if snap.Trace == nil {
		return nil, mapError(feed.ErrTraceNotLoaded)
	}
	if snap.NativeValue == nil && snap.BalanceError != nil && !viewer.IsAnonymous() {
		return nil, status.Errorf(codes.Unavailable, "balance unavailable: %v", snap.BalanceError)
	}

	attempt, err := s.Withdrawals.Begin(ctx, withdrawal.WithdrawRequest{
		Trace:       snap.Trace,
		Viewer:      viewer,
		Network:     domain.NetworkState{ChainID: int64(numberField(req, "chainId"))},
		CanWithdraw: canWithdraw(snap.Trace, viewer),
		NativeValue: snap.NativeValue,
	})
	if attempt == nil {
		return nil, mapError(err)
	}

	s.mu.Lock()
	s.attempts[feedID] = append(s.attempts[feedID], attempt.ID)
	s.mu.Unlock()

	return s.attemptResponse(attempt)
}

// ConfirmWithdrawal handles the ConfirmWithdrawal RPC
func (s *Server) ConfirmWithdrawal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "attemptId")
	if err != nil {
		return nil, err
	}

	attempt, err := s.Withdrawals.Confirm(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return s.attemptResponse(attempt)
}

// CancelWithdrawal handles the CancelWithdrawal RPC
func (s *Server) CancelWithdrawal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "attemptId")
	if err != nil {
		return nil, err
	}

	attempt, err := s.Withdrawals.Cancel(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return s.attemptResponse(attempt)
}

// GetWithdrawal handles the GetWithdrawal RPC
func (s *Server) GetWithdrawal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "attemptId")
	if err != nil {
		return nil, err
	}

	attempt, err := s.Withdrawals.Get(id)
	if err != nil {
		return nil, mapError(err)
	}
	return s.attemptResponse(attempt)
}

func (s *Server) view(req *structpb.Struct) (uuid.UUID, *traceview.View, error) {
	id, err := uuidField(req, "feedId")
	if err != nil {
		return uuid.Nil, nil, err
	}
	view, err := s.Views.Get(id)
	if err != nil {
		return uuid.Nil, nil, mapError(err)
	}
	return id, view, nil
}

// refreshFor switches the view to the viewer when it changed and recomputes the balance
func (s *Server) refreshFor(ctx context.Context, view *traceview.View, viewer domain.Viewer) traceview.Snapshot {
	if view.Snapshot().Viewer != viewer {
		view.SetViewer(viewer)
	}
	return view.Refresh(ctx)
}

// releaseAttempts forgets the finished attempts of a closed feed.
// Attempts still in flight finish on their own and stay queryable.
func (s *Server) releaseAttempts(feedID uuid.UUID) {
	s.mu.Lock()
	ids := s.attempts[feedID]
	delete(s.attempts, feedID)
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Withdrawals.Release(id); err != nil {
			serverLog.WithError(err).WithField("attempt", id).Debug("attempt kept after feed closed")
			continue
		}
		if s.Notifications != nil {
			s.Notifications.Forget(id)
		}
	}
}

// canWithdraw reports whether the viewer owns the trace or receives its funds
func canWithdraw(trace *domain.Trace, viewer domain.Viewer) bool {
	return viewer.Is(trace.OwnerAddress) || viewer.Is(trace.EffectiveRecipient())
}
