package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDisplayDecimals is used when a native currency has no configured precision
const DefaultDisplayDecimals int32 = 2

// CurrencyValue is the reference (USD) value of one currency's balance
type CurrencyValue struct {
	Symbol   string
	USDValue decimal.Decimal
}

// NativeValue is a trace's balance expressed in the viewer's native currency.
// It is derived, never persisted, and only valid for the Fingerprint it was computed from.
type NativeValue struct {
	Currency    string
	Total       decimal.Decimal
	PerCurrency []CurrencyValue
	Fingerprint string
}

// Display renders Total with the native currency's precision
func (v *NativeValue) Display(decimals int32) string {
	if decimals <= 0 {
		decimals = DefaultDisplayDecimals
	}
	return v.Total.StringFixed(decimals) + " " + v.Currency
}

// BalanceFingerprint identifies a set of donation counters together with a native currency.
// Counter order does not matter.
func BalanceFingerprint(counters []DonationCounter, nativeCurrency string) string {
	parts := make([]string, 0, len(counters))
	for _, dc := range counters {
		parts = append(parts, dc.Symbol+"="+dc.CurrentBalance.String())
	}
	sort.Strings(parts)
	return nativeCurrency + "|" + strings.Join(parts, ",")
}
