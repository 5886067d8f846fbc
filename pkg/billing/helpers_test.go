package billing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var seeded atomic.Int64

var testNow = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func int64Ptr(v int64) *int64 {
	return &v
}

// seedInvoice stores a manual invoice with a single line in the given status
func seedInvoice(t *testing.T, repo *MemoryRepository, status InvoiceStatus, net, tax, total string) *Invoice {
	t.Helper()
	inv := &Invoice{
		InvoiceNumber: fmt.Sprintf("TEST-%d", seeded.Add(1)),
		TenantID:      1,
		BillingPeriod: "2025-01",
		InvoiceDate:   testNow,
		DueDate:       testNow.AddDate(0, 0, 30),
		Currency:      "TRY",
		TaxRate:       dec("20"),
		NetAmount:     dec(net),
		TaxAmount:     dec(tax),
		TotalAmount:   dec(total),
		Status:        status,
		Type:          InvoiceTypeService,
		Items: []*InvoiceItem{{
			Description: "Consulting",
			Quantity:    dec("1"),
			UnitPrice:   dec(net),
			NetAmount:   dec(net),
			TaxAmount:   dec(tax),
			TotalAmount: dec(total),
		}},
	}
	require.NoError(t, repo.CreateInvoice(context.Background(), inv))
	return inv
}

func completedPayment(amount string) *PaymentRecord {
	return &PaymentRecord{Amount: dec(amount), Method: "bank_transfer", Status: PaymentStatusCompleted}
}
