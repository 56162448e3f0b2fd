package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefund/trace-backend/internal/domain"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &DB{DB: db}, mock
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMockDB(t)
	for range schema {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, db.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepository_GetDonations(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDonationRepository(db, 15)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "trace_id", "giver_address", "amount", "currency", "status", "created_at"}).
		AddRow("d-2", "trace-1", "0xabc", "2500000000000000000", "ETH", "Committed", created).
		AddRow("d-1", "trace-1", "0xdef", "10", "DAI", "Paid", created.Add(-time.Hour))
	mock.ExpectQuery("SELECT id, trace_id, giver_address").
		WithArgs("trace-1", 2, 4).
		WillReturnRows(rows)

	donations, err := repo.GetDonations(context.Background(), "trace-1", 2, 4)

	require.NoError(t, err)
	require.Len(t, donations, 2)
	assert.Equal(t, "d-2", donations[0].ID)
	assert.True(t, donations[0].Amount.Equal(decimal.RequireFromString("2500000000000000000")))
	assert.Equal(t, domain.DonationStatusCommitted, donations[0].Status)
	assert.Equal(t, domain.DonationStatusPaid, donations[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepository_GetDonations_BadAmount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDonationRepository(db, 15)

	rows := sqlmock.NewRows([]string{"id", "trace_id", "giver_address", "amount", "currency", "status", "created_at"}).
		AddRow("d-1", "trace-1", "0xabc", "not-a-number", "ETH", "Committed", time.Now())
	mock.ExpectQuery("SELECT id, trace_id, giver_address").WillReturnRows(rows)

	_, err := repo.GetDonations(context.Background(), "trace-1", 10, 0)

	assert.ErrorContains(t, err, "failed to parse amount of donation d-1")
}

func TestDonationRepository_CountDonations(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDonationRepository(db, 15)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM donations`).
		WithArgs("trace-1", "Committed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountDonations(context.Background(), "trace-1")

	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonationRepository_MarkPaying(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		execErr  error
		wantErr  string
		commits  bool
	}{
		{name: "Marks Committed Donations", affected: 3, commits: true},
		{name: "Nothing Left To Mark", affected: 0, commits: true},
		{name: "Update Fails", execErr: errors.New("deadlock"), wantErr: "failed to mark donations as paying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewDonationRepository(db, 15)

			mock.ExpectBegin()
			exec := mock.ExpectExec("UPDATE donations").WithArgs("Paying", "0xhash", "trace-1", "Committed", 15)
			if tt.execErr != nil {
				exec.WillReturnError(tt.execErr)
			} else {
				exec.WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}
			if tt.commits {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			err := repo.MarkPaying(context.Background(), "trace-1", "0xhash")

			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDonationRepository_MarkPayingSequentialBatches(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDonationRepository(db, 15)
	ctx := context.Background()

	// 20 committed donations settle in a batch of 15 and then the remaining 5
	batches := []struct {
		hash      string
		affected  int64
		remaining int
	}{
		{hash: "0xfirst", affected: 15, remaining: 5},
		{hash: "0xsecond", affected: 5, remaining: 0},
	}

	for _, b := range batches {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE donations\s+SET status = \$1, tx_hash = \$2\s+WHERE id IN \(\s+SELECT id FROM donations\s+WHERE trace_id = \$3 AND status = \$4\s+ORDER BY created_at ASC, id ASC\s+LIMIT \$5`).
			WithArgs("Paying", b.hash, "trace-1", "Committed", 15).
			WillReturnResult(sqlmock.NewResult(0, b.affected))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT COUNT").
			WithArgs("trace-1", "Committed").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(b.remaining))
	}

	for _, b := range batches {
		require.NoError(t, repo.MarkPaying(ctx, "trace-1", b.hash))

		count, err := repo.CountDonations(ctx, "trace-1")
		require.NoError(t, err)
		assert.Equal(t, b.remaining, count)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDonationRepository_DefaultBatchLimit(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Equal(t, defaultBatchLimit, NewDonationRepository(db, 0).batchLimit)
	assert.Equal(t, 40, NewDonationRepository(db, 40).batchLimit)
}

func TestWithdrawalRepository_Record(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWithdrawalRepository(db)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	attempt := &domain.WithdrawalAttempt{
		ID:            uuid.New(),
		TraceID:       "trace-1",
		Initiator:     "0xabc",
		Phase:         domain.PhaseFailed,
		DonationCount: 4,
		TxURL:         "https://etherscan.io/tx/0x1",
		Failure:       &domain.WithdrawalError{Kind: domain.FailureTransaction},
		UpdatedAt:     now,
	}
	mock.ExpectExec("INSERT INTO withdrawal_audit").
		WithArgs(sqlmock.AnyArg(), attempt.ID, "trace-1", "0xabc", "FAILED", 4,
			"https://etherscan.io/tx/0x1", "transaction-error", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), attempt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_RecordRejection(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWithdrawalRepository(db)

	attempt := &domain.WithdrawalAttempt{
		ID:        uuid.New(),
		TraceID:   "trace-1",
		Phase:     domain.PhaseIdle,
		Rejection: &domain.PreconditionError{Reason: domain.ReasonWrongNetwork},
	}
	mock.ExpectExec("INSERT INTO withdrawal_audit").
		WithArgs(sqlmock.AnyArg(), attempt.ID, "trace-1", "", "IDLE", 0, nil, nil, "wrong-network", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := repo.Record(context.Background(), attempt)

	assert.ErrorContains(t, err, "failed to insert withdrawal audit row")
	assert.NoError(t, mock.ExpectationsWereMet())
}
