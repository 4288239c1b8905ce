package financial

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// RateFileRow is the Parquet schema of a negotiated-rate extract. One row
// per institution and billing code.
type RateFileRow struct {
	InstitutionID  string  `parquet:"institution_id"`
	BillingCode    string  `parquet:"billing_code"`
	NegotiatedRate float64 `parquet:"negotiated_rate"`
	EffectiveFrom  *string `parquet:"effective_from,optional"`
	ExpirationDate *string `parquet:"expiration_date,optional"`
}

// ReadRateFile loads every row of a Parquet rate extract.
func ReadRateFile(path string) ([]RateFileRow, error) {
	rows, err := parquet.ReadFile[RateFileRow](path)
	if err != nil {
		return nil, fmt.Errorf("read rate parquet %s: %w", path, err)
	}
	return rows, nil
}

// WriteRateFile writes rows as a Snappy-compressed Parquet file.
func WriteRateFile(path string, rows []RateFileRow) error {
	if err := parquet.WriteFile(path, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		return fmt.Errorf("write rate parquet %s: %w", path, err)
	}
	return nil
}

// RejectedRow is a rate file row that could not be converted.
type RejectedRow struct {
	Index  int
	Reason string
}

// ToNegotiatedRates maps file rows onto catalog procedures. Rows with an
// unknown code, a malformed id or date, or a negative rate are rejected.
func ToNegotiatedRates(rows []RateFileRow, procedureIDs map[string]uuid.UUID) ([]*NegotiatedRate, []RejectedRow) {
	var (
		rates    []*NegotiatedRate
		rejected []RejectedRow
	)
	for i, row := range rows {
		instID, err := uuid.Parse(row.InstitutionID)
		if err != nil {
			rejected = append(rejected, RejectedRow{Index: i, Reason: "invalid institution_id"})
			continue
		}
		procID, ok := procedureIDs[row.BillingCode]
		if !ok {
			rejected = append(rejected, RejectedRow{Index: i, Reason: "unknown billing code " + row.BillingCode})
			continue
		}
		if !validMoney(row.NegotiatedRate) {
			rejected = append(rejected, RejectedRow{Index: i, Reason: "negative negotiated rate"})
			continue
		}
		from, err := parseRateDate(row.EffectiveFrom)
		if err != nil {
			rejected = append(rejected, RejectedRow{Index: i, Reason: "invalid effective_from"})
			continue
		}
		to, err := parseRateDate(row.ExpirationDate)
		if err != nil {
			rejected = append(rejected, RejectedRow{Index: i, Reason: "invalid expiration_date"})
			continue
		}
		rates = append(rates, &NegotiatedRate{
			InstitutionID: instID,
			ProcedureID:   procID,
			Rate:          row.NegotiatedRate,
			EffectiveFrom: from,
			EffectiveTo:   to,
			Active:        true,
		})
	}
	return rates, rejected
}

func parseRateDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const exportPageSize = 500

// ExportRates pages through an institution's active negotiated rates and
// maps them back to file rows. Rates whose procedure is missing from the
// catalog are skipped.
func ExportRates(ctx context.Context, repo NegotiatedRateRepository, institutionID uuid.UUID, procedureIDs map[string]uuid.UUID) ([]RateFileRow, error) {
	codes := make(map[uuid.UUID]string, len(procedureIDs))
	for code, id := range procedureIDs {
		codes[id] = code
	}

	var rows []RateFileRow
	for offset := 0; ; offset += exportPageSize {
		page, total, err := repo.ListByInstitution(ctx, institutionID, exportPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list rates for %s: %w", institutionID, err)
		}
		for _, nr := range page {
			code, ok := codes[nr.ProcedureID]
			if !ok || !nr.Active {
				continue
			}
			rows = append(rows, RateFileRow{
				InstitutionID:  nr.InstitutionID.String(),
				BillingCode:    code,
				NegotiatedRate: nr.Rate,
				EffectiveFrom:  formatRateDate(nr.EffectiveFrom),
				ExpirationDate: formatRateDate(nr.EffectiveTo),
			})
		}
		if len(page) == 0 || offset+exportPageSize >= total {
			break
		}
	}
	return rows, nil
}

func formatRateDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
