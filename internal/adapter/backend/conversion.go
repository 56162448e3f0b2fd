package backend

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tracefund/trace-backend/internal/domain"
)

type conversionItemDTO struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type conversionRequest struct {
	Target string              `json:"target"`
	Items  []conversionItemDTO `json:"items"`
}

type conversionResponse struct {
	Total     decimal.Decimal `json:"total"`
	USDValues []struct {
		Symbol   string          `json:"symbol"`
		USDValue decimal.Decimal `json:"usdValue"`
	} `json:"usdValues"`
}

// ConversionService converts balances through the backend's rate service.
// Requests are throttled because every trace push can trigger a conversion.
type ConversionService struct {
	client  *Client
	limiter *rate.Limiter
}

// NewConversionService creates a new ConversionService; rps <= 0 disables throttling
func NewConversionService(client *Client, rps float64) *ConversionService {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &ConversionService{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ConvertBatch converts every (amount, currency) pair to target at its own rate and sums them
func (s *ConversionService) ConvertBatch(ctx context.Context, target string, items []domain.ConversionItem) (*domain.ConversionResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "conversion throttled")
	}

	body := conversionRequest{Target: target, Items: make([]conversionItemDTO, 0, len(items))}
	for _, it := range items {
		body.Items = append(body.Items, conversionItemDTO{Amount: it.Amount, Currency: it.Currency})
	}

	var out conversionResponse
	req := s.client.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if err := s.client.do(req, http.MethodPost, "/conversions/batch", &out); err != nil {
		return nil, errors.Wrap(err, "failed to convert batch")
	}

	result := &domain.ConversionResult{Total: out.Total}
	for _, v := range out.USDValues {
		result.USDValues = append(result.USDValues, domain.CurrencyValue{Symbol: v.Symbol, USDValue: v.USDValue})
	}
	return result, nil
}
