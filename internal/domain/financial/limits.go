package financial

import "math"

// LimitKind selects which cap a LimitationState describes.
type LimitKind string

const (
	LimitBenefit  LimitKind = "benefit"
	LimitAnnual   LimitKind = "annual"
	LimitLifetime LimitKind = "lifetime"
)

// LifetimeMultiplier scales the dollar limit into the lifetime limit.
const LifetimeMultiplier = 5

// LimitationTracker reports the remaining benefit, annual and lifetime caps.
type LimitationTracker struct {
	lifetimeMultiplier float64
}

func NewLimitationTracker() *LimitationTracker {
	return &LimitationTracker{lifetimeMultiplier: LifetimeMultiplier}
}

// GetLimitation computes one cap. A limit of zero means none is configured,
// not that nothing may be used.
func (t *LimitationTracker) GetLimitation(kind LimitKind, benefit *Benefit, cb *CompanyBenefit, usage *Utilization) LimitationState {
	limit := dollarLimit(benefit, cb)
	var used float64
	if usage != nil {
		switch kind {
		case LimitBenefit:
			used = usage.UsedAmount
		case LimitAnnual:
			used = usage.AnnualUsed
		case LimitLifetime:
			used = usage.LifetimeUsed
		}
	}
	if kind == LimitLifetime {
		limit *= t.lifetimeMultiplier
	}

	used = math.Max(0, used)
	return LimitationState{
		LimitAmount:     limit,
		UsedAmount:      used,
		RemainingAmount: math.Max(0, limit-used),
		AppliedLimit:    limit > 0,
	}
}

func dollarLimit(b *Benefit, cb *CompanyBenefit) float64 {
	if cb != nil && cb.LimitAmount != nil {
		return math.Max(0, *cb.LimitAmount)
	}
	if b != nil {
		return math.Max(0, b.LimitAmount)
	}
	return 0
}
