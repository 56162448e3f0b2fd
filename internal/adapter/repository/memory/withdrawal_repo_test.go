package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefund/trace-backend/internal/domain"
)

func TestWithdrawalRepository_Record(t *testing.T) {
	repo := NewWithdrawalRepository()
	ctx := context.Background()
	attempt := &domain.WithdrawalAttempt{ID: uuid.New(), TraceID: "trace-1", Phase: domain.PhaseAuthenticating}

	require.NoError(t, repo.Record(ctx, attempt))

	// Later mutations do not rewrite history
	attempt.Phase = domain.PhaseFailed
	attempt.Failure = &domain.WithdrawalError{Kind: domain.FailureGeneric}
	require.NoError(t, repo.Record(ctx, attempt))

	assert.Equal(t, []domain.WithdrawalPhase{domain.PhaseAuthenticating, domain.PhaseFailed}, repo.History(attempt.ID))
	assert.Empty(t, repo.History(uuid.New()))
	assert.Error(t, repo.Record(ctx, nil))
}
