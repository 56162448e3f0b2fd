package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// TraceStatus represents the lifecycle status of a trace
type TraceStatus string

const (
	TraceStatusProposed    TraceStatus = "Proposed"
	TraceStatusInProgress  TraceStatus = "InProgress"
	TraceStatusNeedsReview TraceStatus = "NeedsReview"
	TraceStatusCompleted   TraceStatus = "Completed"
	TraceStatusPaying      TraceStatus = "Paying"
	TraceStatusPaid        TraceStatus = "Paid"
	TraceStatusCancelled   TraceStatus = "Cancelled"
	TraceStatusRejected    TraceStatus = "Rejected"
	TraceStatusArchived    TraceStatus = "Archived"
)

// TraceKind distinguishes the on-chain flavour of a trace.
// LP milestones pay out to their campaign instead of a recipient wallet.
type TraceKind string

const (
	TraceKindMilestone        TraceKind = "Milestone"
	TraceKindBridgedMilestone TraceKind = "BridgedMilestone"
	TraceKindCappedMilestone  TraceKind = "LPPCappedMilestone"
	TraceKindLPMilestone      TraceKind = "LPMilestone"
)

// TraceRef identifies a trace either by ID or by slug.
// ID wins when both are set.
type TraceRef struct {
	ID   string
	Slug string
}

// IsZero reports whether neither ID nor slug is set
func (r TraceRef) IsZero() bool {
	return r.ID == "" && r.Slug == ""
}

func (r TraceRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return "slug:" + r.Slug
}

// DonationCounter is the per-currency aggregate of a trace's donations.
// Amounts are kept in base units (wei for ETH); Decimals says how far to shift them.
type DonationCounter struct {
	Symbol         string
	Decimals       int32
	TotalDonated   decimal.Decimal
	CurrentBalance decimal.Decimal
	DonationCount  int
}

// BalanceUnits returns CurrentBalance expressed in whole currency units
func (c DonationCounter) BalanceUnits() decimal.Decimal {
	return c.CurrentBalance.Shift(-c.Decimals)
}

// Trace represents a funded work item (expense, bounty or milestone)
type Trace struct {
	ID                      string
	Slug                    string
	Title                   string
	Status                  TraceStatus
	Kind                    TraceKind
	CampaignID              string
	OwnerAddress            string
	RecipientAddress        string
	PendingRecipientAddress string
	ReviewerAddress         string
	IsCapped                bool
	MaxAmount               decimal.Decimal
	DonationCounters        []DonationCounter
}

// Validate ensures the trace adheres to domain rules
func (t *Trace) Validate() error {
	if t.ID == "" {
		return errors.New("trace ID cannot be empty")
	}

	seen := make(map[string]struct{}, len(t.DonationCounters))
	for _, dc := range t.DonationCounters {
		if dc.Symbol == "" {
			return errors.New("donation counter symbol cannot be empty")
		}
		if _, dup := seen[dc.Symbol]; dup {
			return fmt.Errorf("duplicate donation counter for %s", dc.Symbol)
		}
		seen[dc.Symbol] = struct{}{}
	}

	return nil
}

// EffectiveRecipient returns the address funds are paid to.
// A pending recipient takes over as soon as it is proposed.
func (t *Trace) EffectiveRecipient() string {
	if t.PendingRecipientAddress != "" {
		return t.PendingRecipientAddress
	}
	return t.RecipientAddress
}

// IsLP reports whether the trace pays out to its campaign
func (t *Trace) IsLP() bool {
	return t.Kind == TraceKindLPMilestone
}

// Counter looks up the donation counter for a currency symbol
func (t *Trace) Counter(symbol string) (DonationCounter, bool) {
	for _, dc := range t.DonationCounters {
		if dc.Symbol == symbol {
			return dc, true
		}
	}
	return DonationCounter{}, false
}
