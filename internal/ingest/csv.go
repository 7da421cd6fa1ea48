// Package ingest loads adjudicated claim history into the claims table from
// CSV exports. It is the only writer of claims in this codebase; the history
// readers stay read-only.
package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/model"
)

// ClaimRecord is one claims-table row. Unlike model.ClaimObservation it can
// represent a still-pending claim: DecidedDate and Outcome stay empty until
// the payer adjudicates.
type ClaimRecord struct {
	TenantID       string
	Payer          string
	ProcedureGroup string
	SubmittedDate  time.Time
	DecidedDate    *time.Time
	Outcome        string
	PaidAmount     float64
}

// csvColumns is the required header, in order.
var csvColumns = []string{"tenant_id", "payer", "procedure_group", "submitted_date", "decided_date", "outcome", "paid_amount"}

const dateLayout = "2006-01-02"

// ParseCSV reads claim records from a CSV export. Rows that cannot be parsed
// are skipped and counted rather than failing the import; a malformed row in
// a multi-million-line export should not abort the load.
func ParseCSV(r io.Reader) ([]ClaimRecord, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: read csv header")
	}
	if err := checkHeader(header); err != nil {
		return nil, 0, err
	}

	log := zap.L().With(zap.String("component", "ingest"))
	var records []ClaimRecord
	var skipped int

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, eris.Wrapf(err, "ingest: read csv line %d", line)
		}

		rec, err := parseRow(row)
		if err != nil {
			log.Debug("row skipped", zap.Int("line", line), zap.Error(err))
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func checkHeader(header []string) error {
	if len(header) != len(csvColumns) {
		return eris.Errorf("ingest: expected %d columns, got %d", len(csvColumns), len(header))
	}
	for i, want := range csvColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return eris.Errorf("ingest: column %d must be %q, got %q", i+1, want, header[i])
		}
	}
	return nil
}

func parseRow(row []string) (ClaimRecord, error) {
	var rec ClaimRecord
	if len(row) != len(csvColumns) {
		return rec, eris.Errorf("expected %d fields, got %d", len(csvColumns), len(row))
	}

	rec.TenantID = strings.TrimSpace(row[0])
	rec.Payer = strings.TrimSpace(row[1])
	rec.ProcedureGroup = strings.TrimSpace(row[2])
	if rec.TenantID == "" || rec.Payer == "" || rec.ProcedureGroup == "" {
		return rec, eris.New("tenant_id, payer, and procedure_group are required")
	}

	submitted, err := time.Parse(dateLayout, strings.TrimSpace(row[3]))
	if err != nil {
		return rec, eris.Wrap(err, "parse submitted_date")
	}
	rec.SubmittedDate = submitted

	// decided_date and outcome travel together: a pending claim has neither.
	decidedRaw := strings.TrimSpace(row[4])
	outcomeRaw := strings.TrimSpace(row[5])
	if (decidedRaw == "") != (outcomeRaw == "") {
		return rec, eris.New("decided_date and outcome must both be set or both be empty")
	}
	if decidedRaw != "" {
		decided, err := time.Parse(dateLayout, decidedRaw)
		if err != nil {
			return rec, eris.Wrap(err, "parse decided_date")
		}
		if decided.Before(submitted) {
			return rec, eris.New("decided_date before submitted_date")
		}
		outcome := model.Outcome(outcomeRaw)
		if !outcome.Valid() {
			return rec, eris.Errorf("unknown outcome %q", outcomeRaw)
		}
		rec.DecidedDate = &decided
		rec.Outcome = outcomeRaw
	}

	if raw := strings.TrimSpace(row[6]); raw != "" {
		paid, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return rec, eris.Wrap(err, "parse paid_amount")
		}
		if paid < 0 {
			return rec, eris.New("paid_amount must not be negative")
		}
		rec.PaidAmount = paid
	}

	return rec, nil
}
