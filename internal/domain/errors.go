package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrTraceNotFound is terminal: the subscribed trace does not exist
	ErrTraceNotFound = errors.New("trace not found")

	// ErrNoBalance means the viewer's wallet cannot pay for the transaction
	ErrNoBalance = errors.New("no balance left on the account")

	// ErrNoDonations is reported by the ledger when there is nothing to withdraw
	ErrNoDonations = errors.New("no-donations")

	// ErrPersistence is reported when the off-chain bookkeeping update fails after an on-chain action
	ErrPersistence = errors.New("patch-error")

	ErrAlreadySubscribed = errors.New("feed already subscribed")
	ErrFeedDisposed      = errors.New("feed disposed")
	ErrAttemptNotFound   = errors.New("withdrawal attempt not found")
)

// FeedError is a recoverable donation page load failure.
// The feed keeps the previously loaded items.
type FeedError struct {
	TraceID string
	Offset  int
	Err     error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("failed to load donations for trace %s at offset %d: %v", e.TraceID, e.Offset, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// PreconditionReason names why a withdrawal was rejected before confirmation
type PreconditionReason string

const (
	ReasonNotAuthenticated PreconditionReason = "not-authenticated"
	ReasonWrongNetwork     PreconditionReason = "wrong-network"
	ReasonNotPermitted     PreconditionReason = "not-permitted"
	ReasonBelowMinimum     PreconditionReason = "below-minimum"
)

// PreconditionError is an expected gate, not a failure: the attempt returns to IDLE
type PreconditionError struct {
	Reason           PreconditionReason
	RequiredChainID  int64
	MinimumPayoutUSD decimal.Decimal
	Currency         string
}

func (e *PreconditionError) Error() string {
	return string(e.Reason)
}

// Message returns the user-facing explanation
func (e *PreconditionError) Message() string {
	switch e.Reason {
	case ReasonNotAuthenticated:
		return "You need to sign in with your wallet before you can withdraw funds."
	case ReasonWrongNetwork:
		return fmt.Sprintf("Please switch your wallet to the network with chain ID %d to withdraw funds.", e.RequiredChainID)
	case ReasonNotPermitted:
		return "Only the recipient or the owner of this trace can withdraw its funds."
	case ReasonBelowMinimum:
		return fmt.Sprintf("A minimum donation balance of %s USD is required before you can collect or disperse the funds.",
			e.MinimumPayoutUSD.String())
	default:
		return "This withdrawal cannot be started right now."
	}
}

// FailureKind is the closed set of withdrawal failure classifications
type FailureKind string

const (
	FailureNoBalance   FailureKind = "no-balance"
	FailureNoDonations FailureKind = "no-donations"
	FailurePersistence FailureKind = "persistence-error"
	FailureTransaction FailureKind = "transaction-error"
	FailureGeneric     FailureKind = "generic"
)

// WithdrawalError is a classified withdrawal failure.
// TxURL is set only when the ledger produced a transaction reference.
type WithdrawalError struct {
	Kind  FailureKind
	TxURL string
	Err   error
}

func (e *WithdrawalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *WithdrawalError) Unwrap() error {
	return e.Err
}

// Message returns the user-facing explanation for the failure kind
func (e *WithdrawalError) Message() string {
	switch e.Kind {
	case FailureNoBalance:
		return "There is no balance left on the account."
	case FailureNoDonations:
		return "Nothing to withdraw. There are no donations to this trace."
	case FailurePersistence:
		return "Issue on connecting server and pushing updates. The transaction may need to be reconciled manually."
	case FailureTransaction:
		return "Something went wrong with the transaction."
	case FailureGeneric:
		return "Something went wrong."
	default:
		return "Something went wrong."
	}
}

// ShowsTxLink reports whether the view should link to the transaction
func (e *WithdrawalError) ShowsTxLink() bool {
	return e.Kind == FailureTransaction && e.TxURL != ""
}

// RequiresReconciliation is set when on-chain and off-chain state may have diverged
func (e *WithdrawalError) RequiresReconciliation() bool {
	return e.Kind == FailurePersistence
}

// Retryable reports whether re-initiating the flow from IDLE is safe
func (e *WithdrawalError) Retryable() bool {
	return e.Kind != FailurePersistence
}

// ClassifyLedgerError maps a ledger callback error onto a failure kind
func ClassifyLedgerError(err error, txURL string) *WithdrawalError {
	switch {
	case errors.Is(err, ErrNoDonations):
		return &WithdrawalError{Kind: FailureNoDonations, Err: err}
	case errors.Is(err, ErrPersistence):
		return &WithdrawalError{Kind: FailurePersistence, TxURL: txURL, Err: err}
	default:
		return &WithdrawalError{Kind: FailureTransaction, TxURL: txURL, Err: err}
	}
}
