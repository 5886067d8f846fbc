package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("applies files in order", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS invoices").WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, Migrate(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stops on failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

		err = Migrate(context.Background(), db)
		assert.ErrorContains(t, err, "001_tenants.sql")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrations_ChildRowsFollowInvoice(t *testing.T) {
	script, err := migrationFiles.ReadFile("migrations/002_billing.sql")
	require.NoError(t, err)

	for _, table := range []string{"invoice_items", "payment_records"} {
		t.Run(table, func(t *testing.T) {
			fk := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + ` \(.*?invoice_id\s+BIGINT\s+NOT NULL REFERENCES invoices \(id\) ON DELETE (\w+)`)
			match := fk.FindSubmatch(script)
			require.NotNil(t, match)
			assert.Equal(t, "CASCADE", string(match[1]))
		})
	}
}
