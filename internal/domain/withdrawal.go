package domain

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalPhase represents the state of a withdrawal attempt
type WithdrawalPhase string

const (
	PhaseIdle                 WithdrawalPhase = "IDLE"
	PhaseAuthenticating       WithdrawalPhase = "AUTHENTICATING"
	PhasePrecheckRunning      WithdrawalPhase = "PRECHECK_RUNNING"
	PhaseAwaitingConfirmation WithdrawalPhase = "AWAITING_CONFIRMATION"
	PhaseSubmitting           WithdrawalPhase = "SUBMITTING"
	PhasePending              WithdrawalPhase = "PENDING"
	PhaseConfirmed            WithdrawalPhase = "CONFIRMED"
	PhaseFailed               WithdrawalPhase = "FAILED"
	PhaseCancelled            WithdrawalPhase = "CANCELLED"
)

// ValidTransitions defines allowed phase transitions.
// Rejected prechecks fall back to IDLE; every other error exit goes to FAILED.
var ValidTransitions = map[WithdrawalPhase][]WithdrawalPhase{
	PhaseIdle: {
		PhaseAuthenticating,
	},
	PhaseAuthenticating: {
		PhaseIdle,
		PhasePrecheckRunning,
		PhaseFailed,
	},
	PhasePrecheckRunning: {
		PhaseIdle,
		PhaseAwaitingConfirmation,
		PhaseFailed,
	},
	PhaseAwaitingConfirmation: {
		PhaseSubmitting,
		PhaseCancelled,
		PhaseFailed,
	},
	PhaseSubmitting: {
		PhasePending,
		PhaseFailed,
	},
	PhasePending: {
		PhaseConfirmed,
		PhaseFailed,
	},
	// Terminal phases
	PhaseConfirmed: {},
	PhaseFailed:    {},
	PhaseCancelled: {},
}

// CanTransition reports whether moving from one phase to another is allowed
func CanTransition(from, to WithdrawalPhase) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (p WithdrawalPhase) IsTerminal() bool {
	next, ok := ValidTransitions[p]
	return ok && len(next) == 0
}

// ConfirmationPrompt is what the viewer is asked to confirm before a withdrawal is broadcast
type ConfirmationPrompt struct {
	Title         string
	Destination   string
	DonationCount int
	BatchLimit    int
	// RequiresMultipleWithdrawals is set when DonationCount exceeds BatchLimit.
	// Each withdrawal settles at most BatchLimit donations.
	RequiresMultipleWithdrawals bool
	BatchWarning                string
	DelayNotice                 string
}

// WithdrawalAttempt is a transient, in-memory withdrawal flow for one trace
type WithdrawalAttempt struct {
	ID            uuid.UUID
	TraceID       string
	Initiator     string
	IsRecipient   bool
	Phase         WithdrawalPhase
	DonationCount int
	Prompt        *ConfirmationPrompt
	TxURL         string
	Failure       *WithdrawalError
	Rejection     *PreconditionError
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NotificationKind classifies an observable withdrawal event
type NotificationKind string

const (
	NotificationSubmitted NotificationKind = "submitted"
	NotificationConfirmed NotificationKind = "confirmed"
	NotificationFailed    NotificationKind = "failed"
)

// Notification is emitted to the view layer as a withdrawal progresses
type Notification struct {
	AttemptID uuid.UUID
	TraceID   string
	Kind      NotificationKind
	Message   string
	TxURL     string
	Failure   *WithdrawalError
}
