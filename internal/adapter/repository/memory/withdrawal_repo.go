package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
)

var auditLog = logrus.WithField("component", "withdrawal_audit")

// WithdrawalRepository keeps the withdrawal audit trail in memory and mirrors it to the log.
// It is used when no database is configured.
type WithdrawalRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID][]domain.WithdrawalAttempt
}

// NewWithdrawalRepository creates an empty in-memory audit trail
func NewWithdrawalRepository() *WithdrawalRepository {
	return &WithdrawalRepository{records: make(map[uuid.UUID][]domain.WithdrawalAttempt)}
}

// Record appends a copy of the attempt to its history
func (r *WithdrawalRepository) Record(_ context.Context, attempt *domain.WithdrawalAttempt) error {
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}

	r.mu.Lock()
	r.records[attempt.ID] = append(r.records[attempt.ID], *attempt)
	r.mu.Unlock()

	fields := logrus.Fields{
		"attempt":   attempt.ID,
		"trace":     attempt.TraceID,
		"initiator": attempt.Initiator,
		"phase":     attempt.Phase,
	}
	if attempt.Failure != nil {
		fields["failure"] = attempt.Failure.Kind
	}
	if attempt.Rejection != nil {
		fields["rejection"] = attempt.Rejection.Reason
	}
	auditLog.WithFields(fields).Info("withdrawal phase recorded")
	return nil
}

// History returns the recorded phases of an attempt, oldest first
func (r *WithdrawalRepository) History(id uuid.UUID) []domain.WithdrawalPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phases := make([]domain.WithdrawalPhase, 0, len(r.records[id]))
	for _, a := range r.records[id] {
		phases = append(phases, a.Phase)
	}
	return phases
}
