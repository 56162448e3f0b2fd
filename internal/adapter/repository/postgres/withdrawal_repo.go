package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tracefund/trace-backend/internal/domain"
)

// withdrawalRepository implements domain.WithdrawalRepository as an append-only audit table
type withdrawalRepository struct {
	db *DB
}

// NewWithdrawalRepository creates a new withdrawal audit repository
func NewWithdrawalRepository(db *DB) domain.WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

// Record appends one row per phase change of an attempt
func (r *withdrawalRepository) Record(ctx context.Context, attempt *domain.WithdrawalAttempt) error {
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}

	query := `
		INSERT INTO withdrawal_audit (
			id, attempt_id, trace_id, initiator, phase, donation_count,
			tx_url, failure_kind, rejection_reason, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var failureKind, rejection sql.NullString
	if attempt.Failure != nil {
		failureKind = sql.NullString{String: string(attempt.Failure.Kind), Valid: true}
	}
	if attempt.Rejection != nil {
		rejection = sql.NullString{String: string(attempt.Rejection.Reason), Valid: true}
	}
	txURL := sql.NullString{String: attempt.TxURL, Valid: attempt.TxURL != ""}

	_, err := r.db.ExecContext(ctx, query,
		uuid.New(),
		attempt.ID,
		attempt.TraceID,
		attempt.Initiator,
		string(attempt.Phase),
		attempt.DonationCount,
		txURL,
		failureKind,
		rejection,
		attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal audit row: %w", err)
	}
	return nil
}
