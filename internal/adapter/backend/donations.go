package backend

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tracefund/trace-backend/internal/domain"
)

type donationDTO struct {
	ID           string          `json:"id"`
	TraceID      string          `json:"traceId"`
	GiverAddress string          `json:"giverAddress"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (d donationDTO) toDomain() domain.Donation {
	return domain.Donation{
		ID:           d.ID,
		TraceID:      d.TraceID,
		GiverAddress: d.GiverAddress,
		Amount:       d.Amount,
		Currency:     d.Currency,
		Status:       domain.DonationStatus(d.Status),
		CreatedAt:    d.CreatedAt,
	}
}

type donationPage struct {
	Total int           `json:"total"`
	Data  []donationDTO `json:"data"`
}

// DonationRepository reads trace donations from the backend
type DonationRepository struct {
	client *Client
}

// NewDonationRepository creates a new DonationRepository instance
func NewDonationRepository(client *Client) *DonationRepository {
	return &DonationRepository{client: client}
}

// GetDonations returns a page of the trace's donations, newest first
func (r *DonationRepository) GetDonations(ctx context.Context, traceID string, limit, offset int) ([]domain.Donation, error) {
	var page donationPage
	req := r.client.newRequest(ctx).
		SetPathParam("traceId", traceID).
		SetQueryParams(map[string]string{
			"limit":  strconv.Itoa(limit),
			"offset": strconv.Itoa(offset),
			"sort":   "-createdAt",
		})
	if err := r.client.do(req, http.MethodGet, "/traces/{traceId}/donations", &page); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, domain.ErrTraceNotFound
		}
		return nil, errors.Wrap(err, "failed to get donations")
	}

	donations := make([]domain.Donation, 0, len(page.Data))
	for _, d := range page.Data {
		donations = append(donations, d.toDomain())
	}
	backendLog.WithField("trace", traceID).Debugf("fetched %d donations at offset %d", len(donations), offset)
	return donations, nil
}

// CountDonations returns how many committed donations a withdrawal would settle
func (r *DonationRepository) CountDonations(ctx context.Context, traceID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	req := r.client.newRequest(ctx).
		SetPathParam("traceId", traceID).
		SetQueryParam("status", string(domain.DonationStatusCommitted))
	if err := r.client.do(req, http.MethodGet, "/traces/{traceId}/donations/count", &out); err != nil {
		return 0, errors.Wrap(err, "failed to count donations")
	}
	return out.Count, nil
}

// MarkPaying records the broadcast transaction against the trace's committed donations
func (r *DonationRepository) MarkPaying(ctx context.Context, traceID, txHash string) error {
	body := map[string]string{
		"status": string(domain.DonationStatusPaying),
		"txHash": txHash,
	}
	req := r.client.newRequest(ctx).
		SetPathParam("traceId", traceID).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if err := r.client.do(req, http.MethodPatch, "/traces/{traceId}/donations", nil); err != nil {
		return errors.Wrap(err, "failed to patch donations")
	}
	return nil
}
