package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/metrics"
	"github.com/tracefund/trace-backend/internal/usecase/eligibility"
)

var withdrawLog = logrus.WithField("component", "withdrawal")

// ErrInvalidTransition is returned when an operation does not apply to the attempt's current phase
var ErrInvalidTransition = errors.New("invalid withdrawal phase transition")

// Config holds the withdrawal policy
type Config struct {
	MinimumPayoutUSD decimal.Decimal
	// BatchLimit is the maximum number of donations one transaction settles
	BatchLimit      int
	RequiredChainID int64
}

// WithdrawRequest carries everything Begin needs about the trace and the viewer.
// CanWithdraw is decided by the caller; the orchestrator does not authorise.
type WithdrawRequest struct {
	Trace       *domain.Trace
	Viewer      domain.Viewer
	Network     domain.NetworkState
	CanWithdraw bool
	NativeValue *domain.NativeValue
}

type entry struct {
	attempt domain.WithdrawalAttempt
	trace   *domain.Trace
	viewer  domain.Viewer
}

// OrchestratorService drives withdrawal attempts through their phases
type OrchestratorService struct {
	Identity  domain.IdentityProvider
	Donations domain.DonationBackend
	Ledger    domain.Ledger
	Audit     domain.WithdrawalRepository
	Notifier  domain.Notifier
	Config    Config

	now func() time.Time

	mu       sync.Mutex
	attempts map[uuid.UUID]*entry
}

// NewOrchestratorService creates a new OrchestratorService instance
func NewOrchestratorService(
	identity domain.IdentityProvider,
	donations domain.DonationBackend,
	ledger domain.Ledger,
	audit domain.WithdrawalRepository,
	notifier domain.Notifier,
	cfg Config,
) *OrchestratorService {
	return &OrchestratorService{
		Identity:  identity,
		Donations: donations,
		Ledger:    ledger,
		Audit:     audit,
		Notifier:  notifier,
		Config:    cfg,
		now:       time.Now,
		attempts:  make(map[uuid.UUID]*entry),
	}
}

// Begin starts a withdrawal attempt and runs it up to the confirmation prompt
// Logic:
//  1. Idle -> Authenticating: the viewer must be signed in, on the required chain and permitted
//  2. Authenticating -> PrecheckRunning: wallet balance and donation count are checked concurrently
//  3. The trace's native value must clear the minimum payout per currency
//  4. PrecheckRunning -> AwaitingConfirmation with the confirmation prompt
//
// Rejected gates return the attempt to Idle with a *domain.PreconditionError.
// Failed prechecks move it to Failed with a *domain.WithdrawalError.
// The attempt is returned in every case once it exists.
func (s *OrchestratorService) Begin(ctx context.Context, req WithdrawRequest) (*domain.WithdrawalAttempt, error) {
	if req.Trace == nil || req.Trace.ID == "" {
		return nil, errors.New("trace cannot be empty")
	}

	now := s.now()
	e := &entry{
		attempt: domain.WithdrawalAttempt{
			ID:          uuid.New(),
			TraceID:     req.Trace.ID,
			Initiator:   req.Viewer.Address,
			IsRecipient: req.Viewer.Is(req.Trace.RecipientAddress),
			Phase:       domain.PhaseIdle,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		trace:  req.Trace,
		viewer: req.Viewer,
	}

	s.mu.Lock()
	s.attempts[e.attempt.ID] = e
	s.mu.Unlock()

	log := withdrawLog.WithFields(logrus.Fields{
		"attempt": e.attempt.ID,
		"trace":   req.Trace.ID,
	})

	// 1. Authenticate
	if err := s.transition(ctx, e.attempt.ID, domain.PhaseAuthenticating, nil); err != nil {
		return nil, err
	}

	if req.Viewer.IsAnonymous() {
		return s.reject(ctx, e.attempt.ID, &domain.PreconditionError{Reason: domain.ReasonNotAuthenticated})
	}
	authenticated, err := s.Identity.IsAuthenticated(ctx, req.Viewer)
	if err != nil {
		log.WithError(err).Warn("failed to resolve authentication state")
		return s.fail(ctx, e.attempt.ID, &domain.WithdrawalError{Kind: domain.FailureGeneric, Err: err})
	}
	if !authenticated {
		return s.reject(ctx, e.attempt.ID, &domain.PreconditionError{Reason: domain.ReasonNotAuthenticated})
	}

	if s.Config.RequiredChainID != 0 && req.Network.ChainID != s.Config.RequiredChainID {
		return s.reject(ctx, e.attempt.ID, &domain.PreconditionError{
			Reason:          domain.ReasonWrongNetwork,
			RequiredChainID: s.Config.RequiredChainID,
		})
	}

	if !req.CanWithdraw {
		return s.reject(ctx, e.attempt.ID, &domain.PreconditionError{Reason: domain.ReasonNotPermitted})
	}

	// 2. Prechecks
	if err := s.transition(ctx, e.attempt.ID, domain.PhasePrecheckRunning, nil); err != nil {
		return nil, err
	}

	count, err := s.runPrechecks(ctx, req)
	if err != nil {
		kind := domain.FailureGeneric
		if errors.Is(err, domain.ErrNoBalance) {
			kind = domain.FailureNoBalance
		}
		log.WithError(err).Warn("withdrawal precheck failed")
		return s.fail(ctx, e.attempt.ID, &domain.WithdrawalError{Kind: kind, Err: err})
	}

	// 3. Eligibility
	var values []domain.CurrencyValue
	if req.NativeValue != nil {
		values = req.NativeValue.PerCurrency
	}
	if violation, blocked := eligibility.FirstViolation(values, s.Config.MinimumPayoutUSD); blocked {
		log.WithField("currency", violation.Symbol).Info("balance below minimum payout")
		return s.reject(ctx, e.attempt.ID, &domain.PreconditionError{
			Reason:           domain.ReasonBelowMinimum,
			MinimumPayoutUSD: s.Config.MinimumPayoutUSD,
			Currency:         violation.Symbol,
		})
	}

	// 4. Confirmation prompt
	prompt := BuildPrompt(req.Trace, e.attempt.IsRecipient, count, s.Config.BatchLimit)
	err = s.transition(ctx, e.attempt.ID, domain.PhaseAwaitingConfirmation, func(a *domain.WithdrawalAttempt) {
		a.DonationCount = count
		a.Prompt = prompt
	})
	if err != nil {
		return nil, err
	}

	return s.Get(e.attempt.ID)
}

// runPrechecks checks the wallet balance and counts the donations a withdrawal would settle
func (s *OrchestratorService) runPrechecks(ctx context.Context, req WithdrawRequest) (int, error) {
	var count int
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Identity.CheckBalance(gctx, req.Viewer)
	})

	g.Go(func() error {
		n, err := s.Donations.CountDonations(gctx, req.Trace.ID)
		if err != nil {
			return fmt.Errorf("failed to count donations: %w", err)
		}
		count = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return count, nil
}

// Confirm broadcasts the withdrawal of an attempt awaiting confirmation.
// From here on the attempt cannot be cancelled; ledger progress arrives through callbacks.
func (s *OrchestratorService) Confirm(ctx context.Context, id uuid.UUID) (*domain.WithdrawalAttempt, error) {
	if err := s.transition(ctx, id, domain.PhaseSubmitting, nil); err != nil {
		return nil, err
	}

	s.mu.Lock()
	e := s.attempts[id]
	trace, from := e.trace, e.viewer.Address
	s.mu.Unlock()

	// The broadcast must outlive the caller's request
	ledgerCtx := context.WithoutCancel(ctx)
	err := s.Ledger.Withdraw(ledgerCtx, domain.LedgerRequest{Trace: trace, FromAddress: from}, domain.LedgerCallbacks{
		OnTxHash:       func(txURL string) { s.handleTxHash(ledgerCtx, id, txURL) },
		OnConfirmation: func(txURL string) { s.handleConfirmation(ledgerCtx, id, txURL) },
		OnError:        func(err error, txURL string) { s.handleLedgerError(ledgerCtx, id, err, txURL) },
	})
	if err != nil {
		s.handleLedgerError(ledgerCtx, id, err, "")
	}

	return s.Get(id)
}

// Cancel abandons an attempt awaiting confirmation
func (s *OrchestratorService) Cancel(ctx context.Context, id uuid.UUID) (*domain.WithdrawalAttempt, error) {
	if err := s.transition(ctx, id, domain.PhaseCancelled, nil); err != nil {
		return nil, err
	}
	metrics.RecordWithdrawalOutcome(string(domain.PhaseCancelled))
	return s.Get(id)
}

// Get returns a snapshot of an attempt
func (s *OrchestratorService) Get(id uuid.UUID) (*domain.WithdrawalAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return snapshot(&e.attempt), nil
}

// Release forgets an attempt that has finished or returned to Idle
func (s *OrchestratorService) Release(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.attempts[id]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if e.attempt.Phase != domain.PhaseIdle && !e.attempt.Phase.IsTerminal() {
		return fmt.Errorf("%w: attempt %s is %s", ErrInvalidTransition, id, e.attempt.Phase)
	}
	delete(s.attempts, id)
	return nil
}

func (s *OrchestratorService) handleTxHash(ctx context.Context, id uuid.UUID, txURL string) {
	err := s.transition(ctx, id, domain.PhasePending, func(a *domain.WithdrawalAttempt) {
		a.TxURL = txURL
	})
	if err != nil {
		withdrawLog.WithError(err).WithField("attempt", id).Warn("ignoring transaction hash")
		return
	}
	s.notify(id, domain.NotificationSubmitted, "Initiating withdrawal from trace...", txURL, nil)
}

func (s *OrchestratorService) handleConfirmation(ctx context.Context, id uuid.UUID, txURL string) {
	a, err := s.Get(id)
	if err != nil {
		withdrawLog.WithError(err).Warn("confirmation for unknown attempt")
		return
	}
	if txURL == "" {
		txURL = a.TxURL
	}

	// A confirmation may arrive without a preceding hash callback
	if a.Phase == domain.PhaseSubmitting {
		s.handleTxHash(ctx, id, txURL)
	}

	err = s.transition(ctx, id, domain.PhaseConfirmed, func(a *domain.WithdrawalAttempt) {
		a.TxURL = txURL
	})
	if err != nil {
		withdrawLog.WithError(err).WithField("attempt", id).Warn("ignoring confirmation")
		return
	}
	metrics.RecordWithdrawalOutcome(string(domain.PhaseConfirmed))
	s.notify(id, domain.NotificationConfirmed, "The trace withdrawal has been initiated...", txURL, nil)
}

func (s *OrchestratorService) handleLedgerError(ctx context.Context, id uuid.UUID, err error, txURL string) {
	failure := domain.ClassifyLedgerError(err, txURL)
	if _, ferr := s.fail(ctx, id, failure); ferr != nil && !errors.Is(ferr, failure) {
		withdrawLog.WithError(ferr).WithField("attempt", id).Warn("ignoring ledger error")
	}
}

// reject returns the attempt to Idle with a precondition error
func (s *OrchestratorService) reject(ctx context.Context, id uuid.UUID, rejection *domain.PreconditionError) (*domain.WithdrawalAttempt, error) {
	err := s.transition(ctx, id, domain.PhaseIdle, func(a *domain.WithdrawalAttempt) {
		a.Rejection = rejection
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordWithdrawalOutcome(string(rejection.Reason))

	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return a, rejection
}

// fail moves the attempt to Failed and emits the failure notification
func (s *OrchestratorService) fail(ctx context.Context, id uuid.UUID, failure *domain.WithdrawalError) (*domain.WithdrawalAttempt, error) {
	err := s.transition(ctx, id, domain.PhaseFailed, func(a *domain.WithdrawalAttempt) {
		a.Failure = failure
		if failure.TxURL != "" {
			a.TxURL = failure.TxURL
		}
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordWithdrawalOutcome(string(failure.Kind))

	flog := withdrawLog.WithFields(logrus.Fields{
		"attempt": id,
		"kind":    failure.Kind,
	})
	if failure.RequiresReconciliation() {
		flog.WithError(failure.Err).Error("withdrawal broadcast but bookkeeping update failed, manual reconciliation required")
	} else {
		flog.WithError(failure.Err).Warn("withdrawal failed")
	}

	s.notify(id, domain.NotificationFailed, failure.Message(), failure.TxURL, failure)

	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return a, failure
}

// transition moves an attempt to the next phase if the transition table allows it,
// then records it to the audit trail
func (s *OrchestratorService) transition(ctx context.Context, id uuid.UUID, to domain.WithdrawalPhase, mutate func(*domain.WithdrawalAttempt)) error {
	s.mu.Lock()
	e, ok := s.attempts[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrAttemptNotFound
	}
	from := e.attempt.Phase
	if !domain.CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	e.attempt.Phase = to
	e.attempt.UpdatedAt = s.now()
	if mutate != nil {
		mutate(&e.attempt)
	}
	record := snapshot(&e.attempt)
	s.mu.Unlock()

	metrics.RecordWithdrawalPhase(string(to))
	withdrawLog.WithFields(logrus.Fields{
		"attempt": id,
		"from":    from,
		"to":      to,
	}).Debug("phase changed")

	if s.Audit != nil {
		if err := s.Audit.Record(ctx, record); err != nil {
			withdrawLog.WithError(err).WithField("attempt", id).Warn("failed to record withdrawal audit")
		}
	}
	return nil
}

func (s *OrchestratorService) notify(id uuid.UUID, kind domain.NotificationKind, message, txURL string, failure *domain.WithdrawalError) {
	if s.Notifier == nil {
		return
	}
	s.mu.Lock()
	traceID := ""
	if e, ok := s.attempts[id]; ok {
		traceID = e.attempt.TraceID
	}
	s.mu.Unlock()

	s.Notifier.Notify(domain.Notification{
		AttemptID: id,
		TraceID:   traceID,
		Kind:      kind,
		Message:   message,
		TxURL:     txURL,
		Failure:   failure,
	})
}

func snapshot(a *domain.WithdrawalAttempt) *domain.WithdrawalAttempt {
	c := *a
	if a.Prompt != nil {
		p := *a.Prompt
		c.Prompt = &p
	}
	return &c
}
