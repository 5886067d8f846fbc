//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/tenants"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("meterline_test"),
		tcpostgres.WithUsername("meterline"),
		tcpostgres.WithPassword("meterline_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, Migrate(ctx, db))
	// Migrations are idempotent
	require.NoError(t, Migrate(ctx, db))
	return db
}

func seedTenant(t *testing.T, db *sql.DB, fee string) int64 {
	t.Helper()
	ctx := context.Background()

	var planID int64
	require.NoError(t, db.QueryRowContext(ctx, `
		INSERT INTO subscription_plans (name, plan_type, monthly_fee, currency)
		VALUES ('Pro', 'standard', $1, 'TRY') RETURNING id`, fee).Scan(&planID))

	var tenantID int64
	require.NoError(t, db.QueryRowContext(ctx, `
		INSERT INTO tenants (company_name, subscription_plan_id)
		VALUES ('Acme', $1) RETURNING id`, planID).Scan(&tenantID))
	return tenantID
}

func TestBillingRun_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	tenantID := seedTenant(t, db, "100.00")

	service := billing.NewService(billing.Dependencies{
		Directory:  tenants.NewPostgresDirectory(db),
		Repository: NewInvoiceRepository(NewConnectionManagerFromDB(db)),
	}, billing.ServiceConfig{})

	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	first, err := service.Scheduler().RunAt(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	second, err := service.Scheduler().RunAt(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.SkippedDuplicate)

	page, err := service.ListInvoices(ctx, billing.InvoiceFilter{TenantID: &tenantID}, billing.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)

	inv, err := service.GetInvoice(ctx, page.Invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusSent, inv.Status)
	assert.Equal(t, "2025-01", inv.BillingPeriod)
	assert.Regexp(t, `^INV-2025-\d{6}$`, inv.InvoiceNumber)
	assert.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("120.00")))
	require.Len(t, inv.Items, 1)

	_, err = service.RecordPayment(ctx, inv.ID, &billing.RecordPaymentRequest{
		Amount: decimal.RequireFromString("120.00"),
		Method: "bank_transfer",
	})
	require.NoError(t, err)

	paid, err := service.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	_, err = service.RecordPayment(ctx, inv.ID, &billing.RecordPaymentRequest{
		Amount: decimal.RequireFromString("1.00"),
		Method: "bank_transfer",
	})
	assert.ErrorIs(t, err, billing.ErrOverpaymentRejected)
}

func TestInvoiceRepository_UniqueIndexes_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	tenantID := seedTenant(t, db, "10.00")
	repo := NewInvoiceRepository(NewConnectionManagerFromDB(db))

	var planID int64
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT subscription_plan_id FROM tenants WHERE id = $1", tenantID).Scan(&planID))

	newInvoice := func(number string) *billing.Invoice {
		return &billing.Invoice{
			InvoiceNumber:      number,
			TenantID:           tenantID,
			SubscriptionPlanID: &planID,
			BillingPeriod:      "2025-01",
			InvoiceDate:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			DueDate:            time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			Currency:           "TRY",
			TaxRate:            decimal.NewFromInt(20),
			NetAmount:          decimal.NewFromInt(10),
			TaxAmount:          decimal.NewFromInt(2),
			TotalAmount:        decimal.NewFromInt(12),
			Status:             billing.InvoiceStatusDraft,
			Type:               billing.InvoiceTypeSubscription,
		}
	}

	first := newInvoice("INV-2025-000001")
	require.NoError(t, repo.CreateInvoice(ctx, first))

	err := repo.CreateInvoice(ctx, newInvoice("INV-2025-000001"))
	assert.ErrorIs(t, err, billing.ErrInvoiceNumberTaken)

	err = repo.CreateInvoice(ctx, newInvoice("INV-2025-000002"))
	assert.ErrorIs(t, err, billing.ErrDuplicateInvoice)

	seq1, err := repo.NextInvoiceSequence(ctx, 2025)
	require.NoError(t, err)
	seq2, err := repo.NextInvoiceSequence(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)
}

func TestInvoiceRepository_DeleteCascades_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	tenantID := seedTenant(t, db, "10.00")
	repo := NewInvoiceRepository(NewConnectionManagerFromDB(db))

	inv := &billing.Invoice{
		InvoiceNumber: "INV-2025-000100",
		TenantID:      tenantID,
		BillingPeriod: "2025-01",
		InvoiceDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Currency:      "TRY",
		TaxRate:       decimal.NewFromInt(20),
		NetAmount:     decimal.NewFromInt(10),
		TaxAmount:     decimal.NewFromInt(2),
		TotalAmount:   decimal.NewFromInt(12),
		Status:        billing.InvoiceStatusSent,
		Type:          billing.InvoiceTypeService,
		Items: []*billing.InvoiceItem{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(10),
			NetAmount:   decimal.NewFromInt(10),
			TaxAmount:   decimal.NewFromInt(2),
			TotalAmount: decimal.NewFromInt(12),
		}},
	}
	require.NoError(t, repo.CreateInvoice(ctx, inv))

	_, err := repo.MutateInvoice(ctx, inv.ID, func(locked *billing.Invoice, _ []*billing.PaymentRecord) (billing.Mutation, error) {
		return billing.Mutation{Payment: &billing.PaymentRecord{
			Amount: decimal.NewFromInt(5), Currency: "TRY", Method: "manual", Status: billing.PaymentStatusCompleted,
		}}, nil
	})
	require.NoError(t, err)

	deleted, err := repo.DeleteInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "invoices with payments are never hard-deleted by the repository")

	_, err = db.ExecContext(ctx, "DELETE FROM invoices WHERE id = $1", inv.ID)
	require.NoError(t, err)

	var items, payments int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoice_items WHERE invoice_id = $1", inv.ID).Scan(&items))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payment_records WHERE invoice_id = $1", inv.ID).Scan(&payments))
	assert.Zero(t, items)
	assert.Zero(t, payments)
}
