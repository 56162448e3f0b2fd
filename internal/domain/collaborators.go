package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Subscription is a live push subscription handle
type Subscription interface {
	// Unsubscribe releases the subscription. Calling it more than once is a no-op.
	Unsubscribe()
}

// DonationBackend defines the paginated donation source for a trace
type DonationBackend interface {
	// GetDonations returns up to limit donations, newest first, skipping offset
	GetDonations(ctx context.Context, traceID string, limit, offset int) ([]Donation, error)

	// CountDonations returns the number of donations that a withdrawal would settle
	CountDonations(ctx context.Context, traceID string) (int, error)
}

// TraceSubscriber defines the push channel for trace updates
type TraceSubscriber interface {
	// SubscribeToTrace delivers a full trace snapshot on every mutation.
	// onNotFound is called once if the trace does not exist.
	SubscribeToTrace(ctx context.Context, ref TraceRef, onUpdate func(*Trace), onNotFound func()) (Subscription, error)

	// SubscribeToNewDonationCount delivers the number of donations newer than the last full reload
	SubscribeToNewDonationCount(ctx context.Context, traceID string, onCount func(int), onReset func()) (Subscription, error)
}

// ConversionItem is one (amount, currency) pair of a batch conversion
type ConversionItem struct {
	Amount   decimal.Decimal
	Currency string
}

// ConversionResult holds the aggregate of a batch conversion.
// Total is the sum of each item converted at its own rate.
type ConversionResult struct {
	Total     decimal.Decimal
	USDValues []CurrencyValue
}

// ConversionService converts amounts between currencies at reference rates
type ConversionService interface {
	ConvertBatch(ctx context.Context, targetCurrency string, items []ConversionItem) (*ConversionResult, error)
}

// IdentityProvider resolves the viewer's authentication and wallet state
type IdentityProvider interface {
	IsAuthenticated(ctx context.Context, viewer Viewer) (bool, error)

	// CheckBalance returns ErrNoBalance when the wallet cannot pay for a transaction
	CheckBalance(ctx context.Context, viewer Viewer) error
}

// LedgerRequest describes the withdrawal to broadcast
type LedgerRequest struct {
	Trace       *Trace
	FromAddress string
}

// LedgerCallbacks carry the asynchronous lifecycle of a broadcast transaction.
// OnError receives a tagged error (ErrNoDonations, ErrPersistence) or a generic
// failure, together with the transaction URL when one exists.
type LedgerCallbacks struct {
	OnTxHash       func(txURL string)
	OnConfirmation func(txURL string)
	OnError        func(err error, txURL string)
}

// Ledger drives withdrawal transactions on chain
type Ledger interface {
	// Withdraw returns once the transaction has been handed off; progress is reported through callbacks
	Withdraw(ctx context.Context, req LedgerRequest, callbacks LedgerCallbacks) error
}

// WithdrawalRepository keeps an audit trail of withdrawal phase changes
type WithdrawalRepository interface {
	Record(ctx context.Context, attempt *WithdrawalAttempt) error
}

// Notifier receives observable withdrawal events
type Notifier interface {
	Notify(n Notification)
}
