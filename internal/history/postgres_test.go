package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/resilience"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func claimColumns() []string {
	return []string{"tenant_id", "payer", "procedure_group", "submitted_date", "decided_date", "outcome", "paid_amount"}
}

func TestPGReader_Fetch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(claimColumns()).
		AddRow("t1", "BCBS", "Imaging", day(2026, 8, 1), day(2026, 8, 10), "PAID", 120.50).
		AddRow("t1", "BCBS", "Imaging", day(2026, 8, 2), day(2026, 8, 12), "DENIED", 0.0)

	mock.ExpectQuery("SELECT tenant_id, payer, procedure_group").
		WithArgs("t1", day(2026, 8, 1), day(2026, 8, 15)).
		WillReturnRows(rows)

	r := NewPGReader(mock)
	claims, stats, err := r.Fetch(context.Background(), Query{
		TenantID: "t1",
		Window:   model.Window{Start: day(2026, 8, 1), End: day(2026, 8, 15)},
	})
	require.NoError(t, err)
	assert.Len(t, claims, 2)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 0, stats.Excluded)
	assert.Equal(t, model.OutcomeDenied, claims[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGReader_Fetch_SkipsMalformedRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(claimColumns()).
		AddRow("t1", "BCBS", "Imaging", day(2026, 8, 1), day(2026, 8, 10), "PAID", 100.0).
		// Unknown outcome: skipped, counted excluded.
		AddRow("t1", "BCBS", "Imaging", day(2026, 8, 2), day(2026, 8, 11), "PENDING", 0.0).
		// Decided before submitted: skipped, counted excluded.
		AddRow("t1", "BCBS", "Imaging", day(2026, 8, 9), day(2026, 8, 3), "DENIED", 0.0)

	mock.ExpectQuery("SELECT tenant_id, payer, procedure_group").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows)

	r := NewPGReader(mock)
	claims, stats, err := r.Fetch(context.Background(), Query{
		TenantID: "t1",
		Window:   model.Window{Start: day(2026, 8, 1), End: day(2026, 8, 15)},
	})
	require.NoError(t, err)
	assert.Len(t, claims, 1)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 2, stats.Excluded)
}

func TestPGReader_Fetch_PayerAndGroupFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("AND payer = \\$4 AND procedure_group = \\$5").
		WithArgs("t1", day(2026, 8, 1), day(2026, 8, 15), "Aetna", "E&M").
		WillReturnRows(pgxmock.NewRows(claimColumns()))

	r := NewPGReader(mock)
	claims, stats, err := r.Fetch(context.Background(), Query{
		TenantID:       "t1",
		Payer:          "Aetna",
		ProcedureGroup: "E&M",
		Window:         model.Window{Start: day(2026, 8, 1), End: day(2026, 8, 15)},
	})
	require.NoError(t, err)
	assert.Empty(t, claims)
	assert.Equal(t, Stats{}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGReader_Fetch_ReadErrorIsTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT tenant_id").
		WillReturnError(errors.New("connection refused"))

	r := NewPGReader(mock)
	_, _, err = r.Fetch(context.Background(), Query{
		TenantID: "t1",
		Window:   model.Window{Start: day(2026, 8, 1), End: day(2026, 8, 15)},
	})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestPGReader_ListTenants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT tenant_id FROM claims").
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}).AddRow("t1").AddRow("t2"))

	r := NewPGReader(mock)
	tenants, err := r.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)
}
