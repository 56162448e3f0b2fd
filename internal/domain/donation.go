package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationStatus represents where a donation is in its lifecycle
type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "Pending"
	DonationStatusCommitted DonationStatus = "Committed"
	DonationStatusPaying    DonationStatus = "Paying"
	DonationStatusPaid      DonationStatus = "Paid"
)

// Donation is a single contribution to a trace.
// Feeds keep donations newest-first, in the order the backend returns them.
type Donation struct {
	ID           string
	TraceID      string
	GiverAddress string
	Amount       decimal.Decimal
	Currency     string
	Status       DonationStatus
	CreatedAt    time.Time
}
