package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const sampleCSV = `tenant_id,payer,procedure_group,submitted_date,decided_date,outcome,paid_amount
t1,BCBS,Imaging,2026-08-01,2026-08-11,PAID,120.50
t1,BCBS,Imaging,2026-08-02,2026-08-12,DENIED,0
t1,Aetna,E&M,2026-08-03,,,
`

func TestParseCSV(t *testing.T) {
	records, skipped, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 3)

	assert.Equal(t, "t1", records[0].TenantID)
	assert.Equal(t, "PAID", records[0].Outcome)
	require.NotNil(t, records[0].DecidedDate)
	assert.Equal(t, time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC), *records[0].DecidedDate)
	assert.InDelta(t, 120.50, records[0].PaidAmount, 1e-9)

	// Pending claim: no decision yet.
	assert.Nil(t, records[2].DecidedDate)
	assert.Empty(t, records[2].Outcome)
}

func TestParseCSV_SkipsBadRows(t *testing.T) {
	csv := `tenant_id,payer,procedure_group,submitted_date,decided_date,outcome,paid_amount
t1,BCBS,Imaging,2026-08-01,2026-08-11,PAID,100
t1,BCBS,Imaging,2026-08-01,2026-08-11,MAYBE,100
t1,BCBS,Imaging,2026-08-11,2026-08-01,DENIED,0
t1,BCBS,Imaging,2026-08-01,2026-08-11,,100
,BCBS,Imaging,2026-08-01,2026-08-11,PAID,100
t1,BCBS,Imaging,2026-08-01,2026-08-11,PAID,-5
`
	records, skipped, err := ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 5, skipped)
}

func TestParseCSV_RejectsWrongHeader(t *testing.T) {
	_, _, err := ParseCSV(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)

	_, _, err = ParseCSV(strings.NewReader("tenant_id,payer,procedure_group,submitted_date,decided_date,outcome,amount\n"))
	assert.Error(t, err)
}

func TestPGLoader_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records, _, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	mock.ExpectCopyFrom(pgx.Identifier{"claims"}, csvColumns).
		WillReturnResult(int64(len(records)))

	n, err := NewPGLoader(mock).Load(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLoader_Load(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))

	records, _, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	n, err := NewSQLiteLoader(s.DB()).Load(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Pending claims are stored with NULL decision fields, so a decided
	// count of 2 proves the NULL mapping.
	var decided int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM claims WHERE decided_date IS NOT NULL`).Scan(&decided))
	assert.Equal(t, 2, decided)
}
