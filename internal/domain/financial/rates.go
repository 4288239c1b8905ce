package financial

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RateResolution is the priced view of a claim's line items.
type RateResolution struct {
	Details         []ProcedureRateDetail
	StandardTotal   float64
	NegotiatedTotal float64
	// AppliedTotal is the allowed amount both parties split.
	AppliedTotal float64
	RateSavings  float64
}

// RateResolver prices line items against an institution's negotiated rates.
type RateResolver struct {
	procedures ProcedureRepository
	rates      NegotiatedRateRepository
}

func NewRateResolver(procedures ProcedureRepository, rates NegotiatedRateRepository) *RateResolver {
	return &RateResolver{procedures: procedures, rates: rates}
}

// ResolveRates returns one detail per line item, priced with the rates in
// effect on serviceDate. A claim without line items is priced as a single
// "Unknown Service" line for originalAmount.
func (r *RateResolver) ResolveRates(ctx context.Context, institutionID uuid.UUID, serviceDate time.Time, originalAmount float64, items []ProcedureLineItem) (*RateResolution, error) {
	if len(items) == 0 {
		items = []ProcedureLineItem{{Quantity: 1, UnitRate: originalAmount, TotalAmount: originalAmount}}
	}

	res := &RateResolution{Details: make([]ProcedureRateDetail, 0, len(items))}
	for _, item := range items {
		d, err := r.resolveLine(ctx, institutionID, serviceDate, item)
		if err != nil {
			return nil, err
		}
		res.Details = append(res.Details, d)
		qty := float64(d.Quantity)
		res.StandardTotal += d.StandardRate * qty
		res.NegotiatedTotal += d.NegotiatedRate * qty
		res.AppliedTotal += d.AppliedRate * qty
	}
	res.RateSavings = math.Max(0, res.StandardTotal-res.NegotiatedTotal)
	return res, nil
}

func (r *RateResolver) resolveLine(ctx context.Context, institutionID uuid.UUID, serviceDate time.Time, item ProcedureLineItem) (ProcedureRateDetail, error) {
	qty := item.Quantity
	if qty < 1 {
		qty = 1
	}
	standard := item.UnitRate
	if standard == 0 && item.TotalAmount > 0 {
		standard = item.TotalAmount / float64(qty)
	}

	d := ProcedureRateDetail{
		ProcedureID:    item.ProcedureID,
		Name:           unknownProcedureName,
		Code:           unknownProcedureCode,
		Quantity:       qty,
		StandardRate:   standard,
		NegotiatedRate: standard,
		Cataloged:      true,
	}

	if item.ProcedureID != uuid.Nil {
		proc, err := r.procedures.GetProcedure(ctx, item.ProcedureID)
		if err != nil {
			return d, fmt.Errorf("get procedure %s: %w", item.ProcedureID, err)
		}
		if proc != nil {
			d.Name, d.Code = proc.Name, proc.Code
		} else {
			d.Cataloged = false
		}

		rate, err := r.rates.GetNegotiatedRate(ctx, institutionID, item.ProcedureID, serviceDate)
		if err != nil {
			return d, fmt.Errorf("get negotiated rate %s/%s: %w", institutionID, item.ProcedureID, err)
		}
		if rate != nil && validMoney(*rate) {
			d.NegotiatedRate = *rate
		}
	}

	d.AppliedRate = d.NegotiatedRate
	d.AboveStandard = d.NegotiatedRate > d.StandardRate
	if d.NegotiatedRate < d.StandardRate {
		d.VarianceReason = VarianceNetworkDiscount
	} else {
		d.VarianceReason = VarianceStandardRate
	}
	return d, nil
}
