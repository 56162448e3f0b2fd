package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTrace_Validate(t *testing.T) {
	tests := []struct {
		name    string
		trace   Trace
		wantErr bool
		errMsg  string
	}{
		{
			name:    "Trace without ID should fail",
			trace:   Trace{Slug: "no-id"},
			wantErr: true,
			errMsg:  "trace ID cannot be empty",
		},
		{
			name: "Counter without symbol should fail",
			trace: Trace{
				ID:               "trace-1",
				DonationCounters: []DonationCounter{{Decimals: 18}},
			},
			wantErr: true,
			errMsg:  "donation counter symbol cannot be empty",
		},
		{
			name: "Duplicate counters should fail",
			trace: Trace{
				ID:               "trace-1",
				DonationCounters: []DonationCounter{{Symbol: "ETH"}, {Symbol: "ETH"}},
			},
			wantErr: true,
			errMsg:  "duplicate donation counter for ETH",
		},
		{
			name: "Trace with distinct counters should pass",
			trace: Trace{
				ID:               "trace-1",
				DonationCounters: []DonationCounter{{Symbol: "ETH"}, {Symbol: "DAI"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trace.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTrace_EffectiveRecipient(t *testing.T) {
	tr := Trace{RecipientAddress: "0xaaa"}
	assert.Equal(t, "0xaaa", tr.EffectiveRecipient())

	tr.PendingRecipientAddress = "0xbbb"
	assert.Equal(t, "0xbbb", tr.EffectiveRecipient())
}

func TestTrace_IsLP(t *testing.T) {
	assert.True(t, (&Trace{Kind: TraceKindLPMilestone}).IsLP())
	assert.False(t, (&Trace{Kind: TraceKindCappedMilestone}).IsLP())
	assert.False(t, (&Trace{Kind: TraceKindMilestone}).IsLP())
}

func TestDonationCounter_BalanceUnits(t *testing.T) {
	dc := DonationCounter{Symbol: "ETH", Decimals: 18, CurrentBalance: decimal.RequireFromString("1500000000000000000")}
	assert.True(t, dc.BalanceUnits().Equal(decimal.RequireFromString("1.5")))

	usdc := DonationCounter{Symbol: "USDC", Decimals: 6, CurrentBalance: decimal.NewFromInt(2_000_000)}
	assert.True(t, usdc.BalanceUnits().Equal(decimal.NewFromInt(2)))
}

func TestTraceRef(t *testing.T) {
	assert.True(t, TraceRef{}.IsZero())
	assert.Equal(t, "trace-1", TraceRef{ID: "trace-1", Slug: "ignored"}.String())
	assert.Equal(t, "slug:clean-the-beach", TraceRef{Slug: "clean-the-beach"}.String())
}

func TestViewer_Is(t *testing.T) {
	v := Viewer{Address: "0xAbCd"}
	assert.True(t, v.Is("0xabcd"))
	assert.False(t, v.Is("0xabce"))
	assert.False(t, Viewer{}.Is(""))
	assert.True(t, Viewer{}.IsAnonymous())
}

func TestNativeValue_Display(t *testing.T) {
	v := &NativeValue{Currency: "EUR", Total: decimal.RequireFromString("1234.5678")}
	assert.Equal(t, "1234.57 EUR", v.Display(2))
	assert.Equal(t, "1234.5678 EUR", v.Display(4))
	assert.Equal(t, "1234.57 EUR", v.Display(0))
}

func TestBalanceFingerprint_IgnoresOrder(t *testing.T) {
	eth := DonationCounter{Symbol: "ETH", CurrentBalance: decimal.NewFromInt(1)}
	dai := DonationCounter{Symbol: "DAI", CurrentBalance: decimal.NewFromInt(2)}

	assert.Equal(t,
		BalanceFingerprint([]DonationCounter{eth, dai}, "USD"),
		BalanceFingerprint([]DonationCounter{dai, eth}, "USD"),
	)
	assert.NotEqual(t,
		BalanceFingerprint([]DonationCounter{eth}, "USD"),
		BalanceFingerprint([]DonationCounter{eth}, "EUR"),
	)
}

func TestClassifyLedgerError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		txURL    string
		kind     FailureKind
		showLink bool
		retry    bool
	}{
		{"No donations", ErrNoDonations, "", FailureNoDonations, false, true},
		{"Bookkeeping", errors.Join(ErrPersistence, errors.New("500")), "https://x/tx/1", FailurePersistence, false, false},
		{"Reverted with hash", errors.New("reverted"), "https://x/tx/1", FailureTransaction, true, true},
		{"Rejected before hash", errors.New("denied"), "", FailureTransaction, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure := ClassifyLedgerError(tt.err, tt.txURL)

			assert.Equal(t, tt.kind, failure.Kind)
			assert.Equal(t, tt.showLink, failure.ShowsTxLink())
			assert.Equal(t, tt.retry, failure.Retryable())
			assert.Equal(t, tt.kind == FailurePersistence, failure.RequiresReconciliation())
			assert.ErrorIs(t, failure, tt.err)
		})
	}
}

func TestFailureMessages_AreDistinct(t *testing.T) {
	kinds := []FailureKind{FailureNoBalance, FailureNoDonations, FailurePersistence, FailureTransaction}
	seen := map[string]FailureKind{}
	for _, k := range kinds {
		msg := (&WithdrawalError{Kind: k}).Message()
		_, dup := seen[msg]
		assert.False(t, dup, "duplicate message for %s", k)
		seen[msg] = k
	}
}

func TestPreconditionError_Message(t *testing.T) {
	err := &PreconditionError{Reason: ReasonBelowMinimum, MinimumPayoutUSD: decimal.NewFromInt(35)}
	assert.Contains(t, err.Message(), "35 USD")
	assert.Equal(t, "below-minimum", err.Error())

	network := &PreconditionError{Reason: ReasonWrongNetwork, RequiredChainID: 100}
	assert.Contains(t, network.Message(), "100")
}

func TestFeedError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := &FeedError{TraceID: "trace-1", Offset: 20, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "offset 20")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to WithdrawalPhase
		allowed  bool
	}{
		{PhaseIdle, PhaseAuthenticating, true},
		{PhaseAuthenticating, PhaseIdle, true},
		{PhasePrecheckRunning, PhaseAwaitingConfirmation, true},
		{PhaseAwaitingConfirmation, PhaseCancelled, true},
		{PhaseSubmitting, PhaseCancelled, false},
		{PhasePending, PhaseConfirmed, true},
		{PhaseIdle, PhaseSubmitting, false},
		{PhaseConfirmed, PhaseFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}

	for _, terminal := range []WithdrawalPhase{PhaseConfirmed, PhaseFailed, PhaseCancelled} {
		assert.True(t, terminal.IsTerminal())
	}
	assert.False(t, PhasePending.IsTerminal())
	assert.False(t, WithdrawalPhase("UNKNOWN").IsTerminal())
}
