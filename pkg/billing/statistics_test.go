package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSummaries struct {
	summaries []*InvoiceSummary
	err       error
	tenantID  *int64
}

func (s *staticSummaries) ListInvoiceSummaries(ctx context.Context, tenantID *int64) ([]*InvoiceSummary, error) {
	s.tenantID = tenantID
	return s.summaries, s.err
}

func paidSummary(total string, at time.Time) *InvoiceSummary {
	return &InvoiceSummary{Status: InvoiceStatusPaid, TotalAmount: dec(total), InvoiceDate: at, PaidAt: &at}
}

func TestStatisticsAggregator_GetStatistics(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	source := &staticSummaries{summaries: []*InvoiceSummary{
		paidSummary("120.00", time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)),
		paidSummary("30.00", time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)),
		paidSummary("100.00", time.Date(2025, time.February, 27, 0, 0, 0, 0, time.UTC)),
		paidSummary("500.00", time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)),
		{Status: InvoiceStatusSent, TotalAmount: dec("50.00")},
		{Status: InvoiceStatusOverdue, TotalAmount: dec("60.00")},
		{Status: InvoiceStatusDisputed, TotalAmount: dec("10.00")},
		{Status: InvoiceStatusDraft, TotalAmount: dec("5.00")},
		{Status: InvoiceStatusCancelled, TotalAmount: dec("999.00")},
	}}

	agg := NewStatisticsAggregator(source)
	agg.now = fixedClock(now)

	stats, err := agg.GetStatistics(context.Background(), int64Ptr(3))
	require.NoError(t, err)

	assert.Equal(t, int64(3), *source.tenantID)
	assert.Equal(t, 8, stats.TotalInvoices)
	assert.Equal(t, "875.00", stats.TotalAmount.StringFixed(2))
	assert.Equal(t, "109.38", stats.AverageAmount.StringFixed(2))
	assert.Equal(t, 4, stats.PaidCount)
	assert.Equal(t, 3, stats.UnpaidCount)
	assert.Equal(t, 1, stats.OverdueCount)
	assert.Equal(t, 1, stats.DraftCount)
	assert.Equal(t, 1, stats.CancelledCount)
	assert.Equal(t, "150.00", stats.CurrentMonthRevenue.StringFixed(2))
	assert.Equal(t, "100.00", stats.PreviousMonthRevenue.StringFixed(2))
	assert.Equal(t, "50.00", stats.MonthOverMonthGrowth.StringFixed(2))
	assert.Equal(t, now, stats.GeneratedAt)
}

func TestStatisticsAggregator_NoPreviousRevenue(t *testing.T) {
	now := time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC)
	agg := NewStatisticsAggregator(&staticSummaries{summaries: []*InvoiceSummary{
		paidSummary("10.00", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)),
	}})
	agg.now = fixedClock(now)

	stats, err := agg.GetStatistics(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, stats.TenantID)
	assert.True(t, stats.MonthOverMonthGrowth.IsZero())
	assert.Equal(t, "10.00", stats.CurrentMonthRevenue.StringFixed(2))
}

func TestStatisticsAggregator_Empty(t *testing.T) {
	agg := NewStatisticsAggregator(&staticSummaries{})

	stats, err := agg.GetStatistics(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalInvoices)
	assert.True(t, stats.AverageAmount.IsZero())
}

func TestStatisticsAggregator_SourceError(t *testing.T) {
	agg := NewStatisticsAggregator(&staticSummaries{err: errors.New("replica lag")})

	_, err := agg.GetStatistics(context.Background(), nil)
	assert.ErrorContains(t, err, "replica lag")
}

func TestStatisticsAggregator_FromMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	r, _ := newTestReconciler(repo)
	inv := seedInvoice(t, repo, InvoiceStatusSent, "100.00", "20.00", "120.00")
	seedInvoice(t, repo, InvoiceStatusSent, "10.00", "2.00", "12.00")

	_, err := r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec("120.00")})
	require.NoError(t, err)

	agg := NewStatisticsAggregator(repo)
	agg.now = fixedClock(testNow)
	stats, err := agg.GetStatistics(ctx, int64Ptr(1))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalInvoices)
	assert.Equal(t, 1, stats.PaidCount)
	assert.Equal(t, 1, stats.UnpaidCount)
	assert.Equal(t, "120.00", stats.CurrentMonthRevenue.StringFixed(2))
}

func TestStatisticsAggregator_SeparatesCurrencies(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	march := time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)
	february := time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC)

	withCurrency := func(s *InvoiceSummary, currency string) *InvoiceSummary {
		s.Currency = currency
		return s
	}

	t.Run("mixed currencies", func(t *testing.T) {
		agg := NewStatisticsAggregator(&staticSummaries{summaries: []*InvoiceSummary{
			withCurrency(paidSummary("239.99", march), "TRY"),
			withCurrency(paidSummary("100.00", february), "TRY"),
			withCurrency(paidSummary("49.90", march), "EUR"),
			{Status: InvoiceStatusSent, Currency: "eur", TotalAmount: dec("10.10")},
		}})
		agg.now = fixedClock(now)

		stats, err := agg.GetStatistics(context.Background(), nil)
		require.NoError(t, err)

		assert.Equal(t, 4, stats.TotalInvoices)
		assert.Equal(t, 3, stats.PaidCount)
		assert.Equal(t, 1, stats.UnpaidCount)
		assert.Empty(t, stats.Currency)
		assert.True(t, stats.TotalAmount.IsZero())
		assert.True(t, stats.CurrentMonthRevenue.IsZero())

		require.Len(t, stats.ByCurrency, 2)
		eur, try := stats.ByCurrency[0], stats.ByCurrency[1]
		assert.Equal(t, "EUR", eur.Currency)
		assert.Equal(t, 2, eur.InvoiceCount)
		assert.Equal(t, "60.00", eur.TotalAmount.StringFixed(2))
		assert.Equal(t, "30.00", eur.AverageAmount.StringFixed(2))
		assert.Equal(t, "49.90", eur.CurrentMonthRevenue.StringFixed(2))
		assert.True(t, eur.MonthOverMonthGrowth.IsZero())

		assert.Equal(t, "TRY", try.Currency)
		assert.Equal(t, "339.99", try.TotalAmount.StringFixed(2))
		assert.Equal(t, "239.99", try.CurrentMonthRevenue.StringFixed(2))
		assert.Equal(t, "100.00", try.PreviousMonthRevenue.StringFixed(2))
		assert.Equal(t, "139.99", try.MonthOverMonthGrowth.StringFixed(2))
	})

	t.Run("single currency fills totals", func(t *testing.T) {
		agg := NewStatisticsAggregator(&staticSummaries{summaries: []*InvoiceSummary{
			withCurrency(paidSummary("239.99", march), "TRY"),
			{Status: InvoiceStatusCancelled, Currency: "EUR", TotalAmount: dec("99.00")},
		}})
		agg.now = fixedClock(now)

		stats, err := agg.GetStatistics(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "TRY", stats.Currency)
		assert.Equal(t, "239.99", stats.TotalAmount.StringFixed(2))
		assert.Equal(t, 1, stats.CancelledCount)
		require.Len(t, stats.ByCurrency, 1)
	})
}
