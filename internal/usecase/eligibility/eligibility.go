package eligibility

import (
	"github.com/shopspring/decimal"
	"github.com/tracefund/trace-backend/internal/domain"
)

// IsEligible decides whether a trace's balances clear the minimum payout policy
// Logic:
//   - A currency with a zero USD value never blocks on its own
//   - The first currency with 0 < usdValue < minimumPayoutUSD makes the trace ineligible
//   - An empty list is eligible
//
// A value exactly equal to the minimum passes.
func IsEligible(values []domain.CurrencyValue, minimumPayoutUSD decimal.Decimal) bool {
	_, blocked := FirstViolation(values, minimumPayoutUSD)
	return !blocked
}

// FirstViolation returns the first currency whose non-zero balance is below the minimum
func FirstViolation(values []domain.CurrencyValue, minimumPayoutUSD decimal.Decimal) (domain.CurrencyValue, bool) {
	for _, v := range values {
		if !v.USDValue.IsZero() && v.USDValue.LessThan(minimumPayoutUSD) {
			return v, true
		}
	}
	return domain.CurrencyValue{}, false
}
