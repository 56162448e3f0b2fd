package ledger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/tracefund/trace-backend/internal/domain"
)

// WithdrawalOrder is what the relay needs to build and broadcast a withdrawal transaction
type WithdrawalOrder struct {
	TraceID   string `json:"traceId"`
	TraceKind string `json:"traceKind"`
	From      string `json:"from"`
	Recipient string `json:"recipient"`
	// CampaignID is set for LP milestones, which pay into their campaign
	CampaignID string `json:"campaignId,omitempty"`
}

// Relay broadcasts a withdrawal and returns its transaction hash
type Relay interface {
	Submit(ctx context.Context, order WithdrawalOrder) (string, error)
}

// HTTPRelay submits withdrawals to the transaction relay service
type HTTPRelay struct {
	client *resty.Client
}

// NewHTTPRelay creates a relay client for the service at host
func NewHTTPRelay(host string, timeout time.Duration) *HTTPRelay {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRelay{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(host, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Submit posts the order; a conflict with code no-donations maps to domain.ErrNoDonations
func (r *HTTPRelay) Submit(ctx context.Context, order WithdrawalOrder) (string, error) {
	var out struct {
		TxHash string `json:"txHash"`
	}
	var failure struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("traceId", order.TraceID).
		SetHeader("Content-Type", "application/json").
		SetBody(order).
		SetResult(&out).
		SetError(&failure).
		ForceContentType("application/json").
		Post("/traces/{traceId}/withdrawals")
	if err != nil {
		return "", errors.Wrap(err, "failed to reach relay")
	}

	if resp.IsError() {
		if failure.Code == domain.ErrNoDonations.Error() {
			return "", domain.ErrNoDonations
		}
		msg := failure.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return "", errors.Errorf("relay rejected withdrawal: %s", msg)
	}
	if out.TxHash == "" {
		return "", errors.New("relay returned no transaction hash")
	}
	return out.TxHash, nil
}
