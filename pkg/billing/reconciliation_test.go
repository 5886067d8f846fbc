package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(repo *MemoryRepository) (*Reconciler, *recordingMetrics) {
	lifecycle, _ := newTestLifecycle(repo)
	metrics := &recordingMetrics{}
	r := NewReconciler(repo, lifecycle, metrics, nil)
	r.now = fixedClock(testNow)
	return r, metrics
}

func TestReconciler_FullPaymentSettlesInvoice(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	r, metrics := newTestReconciler(repo)
	inv := seedInvoice(t, repo, InvoiceStatusSent, "199.99", "40.00", "239.99")

	payment, err := r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{
		Amount: dec("239.99"), Method: "bank_transfer", ExternalReference: "TRX-1",
		RecordedBy: int64Ptr(7),
	})
	require.NoError(t, err)
	assert.NotZero(t, payment.ID)
	assert.Equal(t, PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "TRY", payment.Currency)
	assert.Equal(t, "TRX-1", payment.ExternalReference)

	settled, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPaid, settled.Status)
	require.NotNil(t, settled.PaidAt)

	_, err = r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec("0.01")})
	assert.ErrorIs(t, err, ErrOverpaymentRejected)

	payments, err := repo.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, []string{"applied", "rejected"}, metrics.payments)
}

func TestReconciler_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("non-positive amount", func(t *testing.T) {
		repo := NewMemoryRepository()
		r, _ := newTestReconciler(repo)
		inv := seedInvoice(t, repo, InvoiceStatusSent, "10.00", "2.00", "12.00")

		_, err := r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec("-1")})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing invoice", func(t *testing.T) {
		r, _ := newTestReconciler(NewMemoryRepository())
		_, err := r.RecordPayment(ctx, 42, RecordPaymentRequest{Amount: dec("1")})
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("cancelled invoice", func(t *testing.T) {
		repo := NewMemoryRepository()
		r, _ := newTestReconciler(repo)
		inv := seedInvoice(t, repo, InvoiceStatusCancelled, "10.00", "2.00", "12.00")

		_, err := r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec("12.00")})
		assert.ErrorIs(t, err, ErrInvoiceCancelled)
	})

	t.Run("default method", func(t *testing.T) {
		repo := NewMemoryRepository()
		r, _ := newTestReconciler(repo)
		inv := seedInvoice(t, repo, InvoiceStatusSent, "10.00", "2.00", "12.00")

		payment, err := r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec("2.00")})
		require.NoError(t, err)
		assert.Equal(t, DefaultPaymentMethod, payment.Method)
	})
}

func TestReconciler_AmountRoundingToZero(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepaid string
		status  InvoiceStatus
	}{
		{name: "sent invoice", status: InvoiceStatusSent},
		{name: "paid invoice", prepaid: "239.99", status: InvoiceStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			r, metrics := newTestReconciler(repo)
			inv := seedInvoice(t, repo, InvoiceStatusSent, "199.99", "40.00", "239.99")
			if tt.prepaid != "" {
				_, err := r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec(tt.prepaid)})
				require.NoError(t, err)
			}
			before, err := repo.ListPayments(ctx, inv.ID)
			require.NoError(t, err)

			_, err = r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec("0.004")})
			assert.ErrorIs(t, err, ErrValidation)

			after, err := repo.ListPayments(ctx, inv.ID)
			require.NoError(t, err)
			assert.Len(t, after, len(before))
			for _, p := range after {
				assert.True(t, p.Amount.IsPositive())
			}

			current, err := repo.GetInvoice(ctx, inv.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, current.Status)
			assert.Equal(t, "invalid", metrics.payments[len(metrics.payments)-1])
		})
	}
}

func TestReconciler_CompletedSumNeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	r, _ := newTestReconciler(repo)
	inv := seedInvoice(t, repo, InvoiceStatusSent, "100.00", "20.00", "120.00")

	amounts := []string{"50.00", "50.00", "30.00", "20.00", "0.01"}
	for _, amount := range amounts {
		_, _ = r.RecordPayment(ctx, inv.ID, RecordPaymentRequest{Amount: dec(amount)})

		payments, err := repo.ListPayments(ctx, inv.ID)
		require.NoError(t, err)
		assert.False(t, CompletedTotal(payments).GreaterThan(inv.TotalAmount))
	}

	payments, err := repo.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, dec("120.00").Equal(CompletedTotal(payments)))

	final, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPaid, final.Status)
}
