package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
)

var donationLog = logrus.WithField("component", "donation_repo")

// defaultBatchLimit matches the number of donations one withdrawal transaction collects
const defaultBatchLimit = 15

// DonationRepository reads the donation read model and records withdrawals against it.
// It implements domain.DonationBackend and the ledger's Bookkeeper.
type DonationRepository struct {
	db         *DB
	batchLimit int
}

// NewDonationRepository creates a new donation repository.
// batchLimit is how many donations a single withdrawal transaction settles.
func NewDonationRepository(db *DB, batchLimit int) *DonationRepository {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &DonationRepository{db: db, batchLimit: batchLimit}
}

// GetDonations returns a page of donations for a trace, newest first
func (r *DonationRepository) GetDonations(ctx context.Context, traceID string, limit, offset int) ([]domain.Donation, error) {
	query := `
		SELECT id, trace_id, giver_address, amount, currency, status, created_at
		FROM donations
		WHERE trace_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, traceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer rows.Close()

	donations := make([]domain.Donation, 0, limit)
	for rows.Next() {
		var d domain.Donation
		var amountStr, status string

		if err := rows.Scan(&d.ID, &d.TraceID, &d.GiverAddress, &amountStr, &d.Currency, &status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount of donation %s: %w", d.ID, err)
		}
		d.Amount = amount
		d.Status = domain.DonationStatus(status)

		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donations: %w", err)
	}

	return donations, nil
}

// CountDonations returns how many committed donations a withdrawal would settle
func (r *DonationRepository) CountDonations(ctx context.Context, traceID string) (int, error) {
	query := `SELECT COUNT(*) FROM donations WHERE trace_id = $1 AND status = $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, traceID, string(domain.DonationStatusCommitted)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count donations: %w", err)
	}
	return count, nil
}

// MarkPaying moves the oldest batch of the trace's committed donations to Paying under the broadcast transaction
// Logic:
//  1. At most batchLimit donations are marked, oldest first, the same set the transaction collects
//  2. Later batches are left Committed for the follow-up withdrawals
//  3. Nothing left to mark is not a failure; the transaction is already on chain
func (r *DonationRepository) MarkPaying(ctx context.Context, traceID, txHash string) error {
	query := `
		UPDATE donations
		SET status = $1, tx_hash = $2
		WHERE id IN (
			SELECT id FROM donations
			WHERE trace_id = $3 AND status = $4
			ORDER BY created_at ASC, id ASC
			LIMIT $5
			FOR UPDATE
		)
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	res, err := dbTx.ExecContext(ctx, query,
		string(domain.DonationStatusPaying),
		txHash,
		traceID,
		string(domain.DonationStatusCommitted),
		r.batchLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to mark donations as paying: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		donationLog.WithFields(logrus.Fields{"trace": traceID, "tx": txHash}).Warn("no committed donations left to mark as paying")
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
