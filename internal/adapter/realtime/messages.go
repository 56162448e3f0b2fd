package realtime

import (
	"github.com/shopspring/decimal"

	"github.com/tracefund/trace-backend/internal/domain"
)

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"

	topicTrace        = "trace"
	topicNewDonations = "newDonations"

	eventUpdate   = "update"
	eventNotFound = "notFound"
	eventCount    = "count"
	eventReset    = "reset"
)

// Request is a client to server frame
type Request struct {
	Action  string `json:"action"`
	ID      string `json:"id"`
	Topic   string `json:"topic,omitempty"`
	TraceID string `json:"traceId,omitempty"`
	Slug    string `json:"slug,omitempty"`
}

// Event is a server to client frame addressed to one subscription
type Event struct {
	ID    string    `json:"id"`
	Event string    `json:"event"`
	Trace *TraceDTO `json:"trace,omitempty"`
	Count int       `json:"count,omitempty"`
}

// TraceDTO is the wire form of a trace snapshot
type TraceDTO struct {
	ID                      string               `json:"id"`
	Slug                    string               `json:"slug"`
	Title                   string               `json:"title"`
	Status                  string               `json:"status"`
	Type                    string               `json:"type"`
	CampaignID              string               `json:"campaignId"`
	OwnerAddress            string               `json:"ownerAddress"`
	RecipientAddress        string               `json:"recipientAddress"`
	PendingRecipientAddress string               `json:"pendingRecipientAddress"`
	ReviewerAddress         string               `json:"reviewerAddress"`
	IsCapped                bool                 `json:"isCapped"`
	MaxAmount               decimal.Decimal      `json:"maxAmount"`
	DonationCounters        []DonationCounterDTO `json:"donationCounters"`
}

type DonationCounterDTO struct {
	Symbol         string          `json:"symbol"`
	Decimals       int32           `json:"decimals"`
	TotalDonated   decimal.Decimal `json:"totalDonated"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	DonationCount  int             `json:"donationCount"`
}

// ToDomain converts the snapshot; counters are replaced wholesale
func (t *TraceDTO) ToDomain() *domain.Trace {
	trace := &domain.Trace{
		ID:                      t.ID,
		Slug:                    t.Slug,
		Title:                   t.Title,
		Status:                  domain.TraceStatus(t.Status),
		Kind:                    domain.TraceKind(t.Type),
		CampaignID:              t.CampaignID,
		OwnerAddress:            t.OwnerAddress,
		RecipientAddress:        t.RecipientAddress,
		PendingRecipientAddress: t.PendingRecipientAddress,
		ReviewerAddress:         t.ReviewerAddress,
		IsCapped:                t.IsCapped,
		MaxAmount:               t.MaxAmount,
		DonationCounters:        make([]domain.DonationCounter, 0, len(t.DonationCounters)),
	}
	for _, dc := range t.DonationCounters {
		trace.DonationCounters = append(trace.DonationCounters, domain.DonationCounter{
			Symbol:         dc.Symbol,
			Decimals:       dc.Decimals,
			TotalDonated:   dc.TotalDonated,
			CurrentBalance: dc.CurrentBalance,
			DonationCount:  dc.DonationCount,
		})
	}
	return trace
}
