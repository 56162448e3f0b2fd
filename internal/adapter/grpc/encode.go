package grpc

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/usecase/feed"
	"github.com/tracefund/trace-backend/internal/usecase/traceview"
	"github.com/tracefund/trace-backend/internal/usecase/withdrawal"
)

func stringField(req *structpb.Struct, key string) string {
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

func numberField(req *structpb.Struct, key string) float64 {
	return req.GetFields()[key].GetNumberValue()
}

func intField(req *structpb.Struct, key string) int {
	return int(numberField(req, key))
}

func boolField(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func uuidField(req *structpb.Struct, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(stringField(req, key))
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", key, err)
	}
	return id, nil
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func (s *Server) feedResponse(id uuid.UUID, snap traceview.Snapshot) (*structpb.Struct, error) {
	donations := make([]interface{}, 0, len(snap.Feed.Donations))
	for _, d := range snap.Feed.Donations {
		donations = append(donations, map[string]interface{}{
			"id":           d.ID,
			"giverAddress": d.GiverAddress,
			"amount":       d.Amount.String(),
			"currency":     d.Currency,
			"status":       string(d.Status),
			"createdAt":    d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	fields := map[string]interface{}{
		"feedId":    id.String(),
		"traceId":   snap.Feed.TraceID,
		"slug":      snap.Feed.Slug,
		"loading":   snap.Feed.Loading,
		"notFound":  snap.Feed.NotFound,
		"newCount":  snap.Feed.NewCount,
		"total":     snap.Feed.Total(),
		"donations": donations,
	}
	if snap.Feed.LastError != nil {
		fields["lastError"] = snap.Feed.LastError.Error()
	}
	if snap.Trace != nil {
		fields["trace"] = traceFields(snap.Trace)
		fields["balance"] = s.balanceFields(snap)
	}
	return newStruct(fields)
}

func traceFields(t *domain.Trace) map[string]interface{} {
	counters := make([]interface{}, 0, len(t.DonationCounters))
	for _, dc := range t.DonationCounters {
		counters = append(counters, map[string]interface{}{
			"symbol":         dc.Symbol,
			"decimals":       int(dc.Decimals),
			"currentBalance": dc.BalanceUnits().String(),
			"donationCount":  dc.DonationCount,
		})
	}

	return map[string]interface{}{
		"id":               t.ID,
		"slug":             t.Slug,
		"title":            t.Title,
		"status":           string(t.Status),
		"kind":             string(t.Kind),
		"campaignId":       t.CampaignID,
		"ownerAddress":     t.OwnerAddress,
		"recipientAddress": t.EffectiveRecipient(),
		"donationCounters": counters,
	}
}

func (s *Server) balanceFields(snap traceview.Snapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"minimumPayoutUsd": snap.MinimumPayout.String(),
	}
	if snap.BalanceError != nil {
		fields["error"] = snap.BalanceError.Error()
	}
	if snap.NativeValue == nil {
		return fields
	}

	perCurrency := make([]interface{}, 0, len(snap.NativeValue.PerCurrency))
	for _, v := range snap.NativeValue.PerCurrency {
		perCurrency = append(perCurrency, map[string]interface{}{
			"symbol":   v.Symbol,
			"usdValue": v.USDValue.String(),
		})
	}

	fields["currency"] = snap.NativeValue.Currency
	fields["total"] = snap.NativeValue.Total.String()
	fields["display"] = snap.NativeValue.Display(s.DisplayDecimals(snap.NativeValue.Currency))
	fields["perCurrency"] = perCurrency
	fields["eligible"] = snap.Eligible
	return fields
}

func (s *Server) attemptResponse(a *domain.WithdrawalAttempt) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"attemptId":     a.ID.String(),
		"traceId":       a.TraceID,
		"phase":         string(a.Phase),
		"isRecipient":   a.IsRecipient,
		"donationCount": a.DonationCount,
	}
	if a.TxURL != "" {
		fields["txUrl"] = a.TxURL
	}

	if p := a.Prompt; p != nil {
		fields["prompt"] = map[string]interface{}{
			"title":                       p.Title,
			"destination":                 p.Destination,
			"donationCount":               p.DonationCount,
			"batchLimit":                  p.BatchLimit,
			"requiresMultipleWithdrawals": p.RequiresMultipleWithdrawals,
			"withdrawals":                 withdrawal.Withdrawals(p.DonationCount, p.BatchLimit),
			"batchWarning":                p.BatchWarning,
			"delayNotice":                 p.DelayNotice,
		}
	}

	if r := a.Rejection; r != nil {
		fields["rejection"] = map[string]interface{}{
			"reason":  string(r.Reason),
			"message": r.Message(),
		}
	}

	if f := a.Failure; f != nil {
		failure := map[string]interface{}{
			"kind":                   string(f.Kind),
			"message":                f.Message(),
			"showsTxLink":            f.ShowsTxLink(),
			"retryable":              f.Retryable(),
			"requiresReconciliation": f.RequiresReconciliation(),
		}
		if f.TxURL != "" {
			failure["txUrl"] = f.TxURL
		}
		fields["failure"] = failure
	}

	if s.Notifications != nil {
		items := s.Notifications.For(a.ID)
		notifications := make([]interface{}, 0, len(items))
		for _, n := range items {
			notifications = append(notifications, map[string]interface{}{
				"kind":    string(n.Kind),
				"message": n.Message,
				"txUrl":   n.TxURL,
			})
		}
		fields["notifications"] = notifications
	}

	return newStruct(fields)
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var feedErr *domain.FeedError
	switch {
	case errors.Is(err, domain.ErrTraceNotFound),
		errors.Is(err, domain.ErrFeedDisposed),
		errors.Is(err, domain.ErrAttemptNotFound):
		return status.Errorf(codes.NotFound, "%s", err.Error())
	case errors.Is(err, domain.ErrAlreadySubscribed):
		return status.Errorf(codes.AlreadyExists, "%s", err.Error())
	case errors.Is(err, feed.ErrNotSubscribed),
		errors.Is(err, feed.ErrTraceNotLoaded),
		errors.Is(err, withdrawal.ErrInvalidTransition):
		return status.Errorf(codes.FailedPrecondition, "%s", err.Error())
	case errors.Is(err, feed.ErrSuperseded):
		return status.Errorf(codes.Aborted, "%s", err.Error())
	case errors.As(err, &feedErr):
		return status.Errorf(codes.Unavailable, "%s", err.Error())
	}

	errorMsg := err.Error()

	// Map common validation errors to InvalidArgument
	if strings.Contains(errorMsg, "invalid") ||
		strings.Contains(errorMsg, "cannot be empty") {
		return status.Errorf(codes.InvalidArgument, "%s", errorMsg)
	}

	// Default to Internal error for unknown errors
	return status.Errorf(codes.Internal, "%s", errorMsg)
}
