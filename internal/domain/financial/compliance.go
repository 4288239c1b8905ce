package financial

import (
	"fmt"
	"math"
	"time"
)

const (
	rateComplianceThreshold    = 90
	billingComplianceThreshold = 80
	maxLineDiscountPercent     = 50
	highValueClaimAmount       = 10000
	// line item totals may differ from the billed amount by rounding
	amountMatchTolerance = 0.01
)

const (
	IssueLowRateCompliance    = "Low rate compliance score"
	IssueLowBillingCompliance = "Billing compliance score below threshold"
	IssueHighValueClaim       = "High-value claim requires additional documentation"
	IssueAmountMismatch       = "Claim amount does not match line item total"
	IssueWaitingPeriod        = "Benefit waiting period not satisfied"
	IssueBenefitLimitExceeded = "Claim exceeds remaining benefit limit"
)

// ComplianceChecker flags billing, coding and rate anomalies. Its findings
// are advisory and never stop a calculation.
type ComplianceChecker struct{}

func NewComplianceChecker() *ComplianceChecker { return &ComplianceChecker{} }

// Check scores the negotiated discounts of a claim and collects issues.
func (c *ComplianceChecker) Check(req *ClaimCalculationRequest, details []ProcedureRateDetail) ComplianceResult {
	score := ComplianceScore(details)
	res := ComplianceResult{
		ComplianceScore:   score,
		RateCompliance:    score >= rateComplianceThreshold,
		BillingCompliance: score >= billingComplianceThreshold,
		CodingCompliance:  true,
		Issues:            []string{},
	}

	if !res.RateCompliance {
		res.Issues = append(res.Issues, IssueLowRateCompliance)
	}
	if !res.BillingCompliance {
		res.Issues = append(res.Issues, IssueLowBillingCompliance)
	}
	if req.OriginalAmount > highValueClaimAmount {
		res.Issues = append(res.Issues, IssueHighValueClaim)
	}

	var lineTotal float64
	for _, d := range details {
		lineTotal += d.StandardAmount()
		if !d.Cataloged {
			res.CodingCompliance = false
			res.Issues = append(res.Issues, fmt.Sprintf("Procedure %s not found in catalog", d.ProcedureID))
		}
		if d.AboveStandard {
			res.Issues = append(res.Issues, fmt.Sprintf("Negotiated rate exceeds standard rate for procedure %s", d.Code))
		}
	}
	if len(req.LineItems) > 0 && math.Abs(lineTotal-req.OriginalAmount) > amountMatchTolerance {
		res.Issues = append(res.Issues, IssueAmountMismatch)
	}
	return res
}

// ComplianceScore is the volume-weighted average of each line's discount
// percentage, capped at 50% per line and doubled onto a 0-100 scale. The
// weight is standard rate times quantity. A claim with no weight scores 100.
func ComplianceScore(details []ProcedureRateDetail) float64 {
	var weighted, weight float64
	for _, d := range details {
		w := d.StandardAmount()
		if w <= 0 {
			continue
		}
		pct := (d.StandardRate - d.NegotiatedRate) / d.StandardRate * 100
		pct = clamp(pct, 0, maxLineDiscountPercent)
		weighted += pct * 2 * w
		weight += w
	}
	if weight == 0 {
		return 100
	}
	return weighted / weight
}

// waitingPeriodSatisfied reports false only when both dates are known and
// the service falls inside the benefit's waiting period.
func waitingPeriodSatisfied(member *Member, benefit *Benefit, serviceDate *time.Time) bool {
	if member == nil || benefit == nil || serviceDate == nil || member.EnrollmentDate == nil {
		return true
	}
	if benefit.WaitingPeriodDays <= 0 {
		return true
	}
	eligible := member.EnrollmentDate.AddDate(0, 0, benefit.WaitingPeriodDays)
	return !serviceDate.Before(eligible)
}
