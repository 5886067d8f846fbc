package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// StatisticsAggregator derives reporting rollups from persisted invoices.
// It keeps no state between calls.
type StatisticsAggregator struct {
	source SummarySource
	now    func() time.Time
}

// NewStatisticsAggregator creates a StatisticsAggregator
func NewStatisticsAggregator(source SummarySource) *StatisticsAggregator {
	return &StatisticsAggregator{source: source, now: time.Now}
}

// GetStatistics computes statistics for one tenant, or for all tenants when tenantID is nil.
//
// Cancelled invoices are only counted in CancelledCount. Revenue is attributed
// to the calendar month (UTC) in which an invoice became paid. Amounts in
// different currencies are never added together.
func (a *StatisticsAggregator) GetStatistics(ctx context.Context, tenantID *int64) (*BillingStatistics, error) {
	summaries, err := a.source.ListInvoiceSummaries(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice summaries: %w", err)
	}

	now := a.now().UTC()
	currentStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	previousStart := currentStart.AddDate(0, -1, 0)
	nextStart := currentStart.AddDate(0, 1, 0)

	stats := &BillingStatistics{
		TenantID:             tenantID,
		TotalAmount:          decimal.Zero,
		AverageAmount:        decimal.Zero,
		CurrentMonthRevenue:  decimal.Zero,
		PreviousMonthRevenue: decimal.Zero,
		MonthOverMonthGrowth: decimal.Zero,
		ByCurrency:           []CurrencyStatistics{},
		GeneratedAt:          now,
	}

	groups := make(map[string]*CurrencyStatistics)
	for _, s := range summaries {
		if s.Status == InvoiceStatusCancelled {
			stats.CancelledCount++
			continue
		}

		stats.TotalInvoices++
		switch s.Status {
		case InvoiceStatusPaid:
			stats.PaidCount++
		case InvoiceStatusDraft:
			stats.DraftCount++
		case InvoiceStatusOverdue:
			stats.OverdueCount++
			stats.UnpaidCount++
		case InvoiceStatusSent, InvoiceStatusDisputed:
			stats.UnpaidCount++
		}

		currency := strings.ToUpper(s.Currency)
		group, ok := groups[currency]
		if !ok {
			group = &CurrencyStatistics{
				Currency:             currency,
				TotalAmount:          decimal.Zero,
				AverageAmount:        decimal.Zero,
				CurrentMonthRevenue:  decimal.Zero,
				PreviousMonthRevenue: decimal.Zero,
				MonthOverMonthGrowth: decimal.Zero,
			}
			groups[currency] = group
		}
		group.InvoiceCount++
		group.TotalAmount = group.TotalAmount.Add(s.TotalAmount)

		if s.Status == InvoiceStatusPaid && s.PaidAt != nil {
			paidAt := s.PaidAt.UTC()
			switch {
			case !paidAt.Before(currentStart) && paidAt.Before(nextStart):
				group.CurrentMonthRevenue = group.CurrentMonthRevenue.Add(s.TotalAmount)
			case !paidAt.Before(previousStart) && paidAt.Before(currentStart):
				group.PreviousMonthRevenue = group.PreviousMonthRevenue.Add(s.TotalAmount)
			}
		}
	}

	for _, group := range groups {
		group.AverageAmount = group.TotalAmount.Div(decimal.NewFromInt(int64(group.InvoiceCount))).Round(2)
		if group.PreviousMonthRevenue.IsPositive() {
			group.MonthOverMonthGrowth = group.CurrentMonthRevenue.Sub(group.PreviousMonthRevenue).
				Div(group.PreviousMonthRevenue).Mul(hundred).Round(2)
		}
		stats.ByCurrency = append(stats.ByCurrency, *group)
	}
	sort.Slice(stats.ByCurrency, func(i, j int) bool {
		return stats.ByCurrency[i].Currency < stats.ByCurrency[j].Currency
	})

	if len(stats.ByCurrency) == 1 {
		only := stats.ByCurrency[0]
		stats.Currency = only.Currency
		stats.TotalAmount = only.TotalAmount
		stats.AverageAmount = only.AverageAmount
		stats.CurrentMonthRevenue = only.CurrentMonthRevenue
		stats.PreviousMonthRevenue = only.PreviousMonthRevenue
		stats.MonthOverMonthGrowth = only.MonthOverMonthGrowth
	}

	return stats, nil
}
