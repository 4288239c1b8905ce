package financial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var serviceDay = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func TestResolveRates_NegotiatedDiscount(t *testing.T) {
	f := newFixture("medical")
	proc := f.addProcedure("99213", "Office visit")
	f.setRate(proc, 80)

	r := NewRateResolver(f.procedures, f.rates)
	res, err := r.ResolveRates(context.Background(), f.institutionID, serviceDay, 200, []ProcedureLineItem{
		{ProcedureID: proc, Quantity: 2, UnitRate: 100, TotalAmount: 200},
	})
	if err != nil {
		t.Fatalf("ResolveRates() error: %v", err)
	}

	d := res.Details[0]
	if d.Name != "Office visit" || d.Code != "99213" {
		t.Errorf("expected catalog name and code, got %q/%q", d.Name, d.Code)
	}
	if d.StandardRate != 100 || d.NegotiatedRate != 80 || d.AppliedRate != 80 {
		t.Errorf("unexpected rates: %+v", d)
	}
	if d.VarianceReason != VarianceNetworkDiscount {
		t.Errorf("expected NetworkDiscount, got %s", d.VarianceReason)
	}
	if res.StandardTotal != 200 || res.AppliedTotal != 160 || res.RateSavings != 40 {
		t.Errorf("unexpected totals: %+v", res)
	}
}

func TestResolveRates_NoLineItems(t *testing.T) {
	f := newFixture("medical")
	r := NewRateResolver(f.procedures, f.rates)

	res, err := r.ResolveRates(context.Background(), f.institutionID, serviceDay, 750, nil)
	if err != nil {
		t.Fatalf("ResolveRates() error: %v", err)
	}
	if len(res.Details) != 1 {
		t.Fatalf("expected one synthetic line, got %d", len(res.Details))
	}
	d := res.Details[0]
	if d.Name != "Unknown Service" || d.Code != "UNKNOWN" || d.ProcedureID != uuid.Nil {
		t.Errorf("unexpected synthetic line: %+v", d)
	}
	if d.AppliedRate != 750 || d.VarianceReason != VarianceStandardRate || !d.Cataloged {
		t.Errorf("expected standard rate 750, got %+v", d)
	}
	if f.procedures.calls != 0 || f.rates.calls != 0 {
		t.Error("synthetic line must not hit the catalog")
	}
}

func TestResolveRates_UnknownProcedure(t *testing.T) {
	f := newFixture("medical")
	missing := uuid.New()
	r := NewRateResolver(f.procedures, f.rates)

	res, err := r.ResolveRates(context.Background(), f.institutionID, serviceDay, 90, []ProcedureLineItem{
		{ProcedureID: missing, Quantity: 3, TotalAmount: 90},
	})
	if err != nil {
		t.Fatalf("ResolveRates() error: %v", err)
	}
	d := res.Details[0]
	if d.Cataloged || d.Name != "Unknown Service" {
		t.Errorf("expected uncataloged line, got %+v", d)
	}
	if d.StandardRate != 30 {
		t.Errorf("expected unit rate derived from total/quantity = 30, got %v", d.StandardRate)
	}
}

func TestResolveRates_AboveStandardFlagged(t *testing.T) {
	f := newFixture("medical")
	proc := f.addProcedure("70450", "CT head")
	f.setRate(proc, 450)
	r := NewRateResolver(f.procedures, f.rates)

	res, err := r.ResolveRates(context.Background(), f.institutionID, serviceDay, 400, []ProcedureLineItem{
		{ProcedureID: proc, Quantity: 1, UnitRate: 400},
	})
	if err != nil {
		t.Fatalf("ResolveRates() error: %v", err)
	}
	d := res.Details[0]
	if !d.AboveStandard || d.AppliedRate != 450 {
		t.Errorf("expected applied 450 flagged above standard, got %+v", d)
	}
	if res.RateSavings != 0 {
		t.Errorf("savings must not go negative, got %v", res.RateSavings)
	}
}

func TestResolveRates_RepositoryError(t *testing.T) {
	f := newFixture("medical")
	proc := f.addProcedure("99213", "Office visit")
	f.rates.err = errBoom
	r := NewRateResolver(f.procedures, f.rates)

	_, err := r.ResolveRates(context.Background(), f.institutionID, serviceDay, 100, []ProcedureLineItem{
		{ProcedureID: proc, Quantity: 1, UnitRate: 100},
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
}
