package financial

import "math"

// The member cost-sharing pipeline. Each stage takes the amount left over by
// the previous stage and returns its own state plus the new remainder, so
// the deductible -> copay -> coinsurance order is fixed by the data flow.

// ApplyDeductible consumes up to remaining of the claim amount.
// RemainingDeductible in the returned state is the balance after this claim.
func ApplyDeductible(claimAmount, annual, remaining float64) (DeductibleState, float64) {
	annual = math.Max(0, annual)
	remaining = clamp(remaining, 0, annual)
	claimAmount = math.Max(0, claimAmount)

	applied := math.Min(claimAmount, remaining)
	left := remaining - applied
	return DeductibleState{
		AnnualDeductible:    annual,
		RemainingDeductible: left,
		AppliedAmount:       applied,
		DeductibleMet:       left <= 0,
	}, claimAmount - applied
}

// ApplyCopay charges the flat copay against what the deductible left.
// Nothing left means the copay is waived.
func ApplyCopay(copay, afterDeductible float64) (CopayState, float64) {
	copay = math.Max(0, copay)
	if afterDeductible <= 0 {
		return CopayState{CopayAmount: copay, Waived: true}, 0
	}
	applied := math.Min(copay, afterDeductible)
	return CopayState{
		CopayAmount:   copay,
		AppliedAmount: applied,
	}, afterDeductible - applied
}

// ApplyCoinsurance takes rate percent of what deductible and copay left.
// RemainingResponsibility is the insurer-borne part of that amount.
func ApplyCoinsurance(rate, afterCopay float64) CoinsuranceState {
	rate = clamp(rate, 0, 100)
	afterCopay = math.Max(0, afterCopay)
	amount := afterCopay * rate / 100
	return CoinsuranceState{
		CoinsuranceRate:         rate,
		AppliedToAmount:         afterCopay,
		CoinsuranceAmount:       amount,
		RemainingResponsibility: afterCopay - amount,
	}
}

// ComputeProviderDiscount reports the network savings of the resolved rates.
// It does not change what the member owes.
func ComputeProviderDiscount(details []ProcedureRateDetail) ProviderDiscountState {
	var standard, discounted float64
	for _, d := range details {
		standard += d.StandardAmount()
		discounted += d.AppliedAmount()
	}
	discount := math.Max(0, standard-discounted)
	var rate float64
	if standard > 0 {
		rate = discount / standard * 100
	}
	return ProviderDiscountState{
		StandardAmount:   standard,
		DiscountedAmount: math.Min(discounted, standard),
		DiscountAmount:   discount,
		DiscountRate:     rate,
	}
}

// ApplyOutOfPocket combines this claim's cost sharing with the year-to-date
// total. An annual maximum of zero means no cap is configured.
func ApplyOutOfPocket(annualMaximum, currentTotal, applied float64) OutOfPocketState {
	annualMaximum = math.Max(0, annualMaximum)
	currentTotal = math.Max(0, currentTotal)
	applied = math.Max(0, applied)

	st := OutOfPocketState{
		AnnualMaximum: annualMaximum,
		CurrentTotal:  currentTotal,
		AppliedAmount: applied,
	}
	if annualMaximum == 0 {
		st.FinalAmount = currentTotal + applied
		return st
	}
	st.FinalAmount = math.Min(annualMaximum, currentTotal+applied)
	st.RemainingAmount = annualMaximum - st.FinalAmount
	st.MaximumMet = st.RemainingAmount <= 0
	return st
}

// headroom is how much more the member can pay this year before the cap.
func (o OutOfPocketState) headroom() float64 {
	if o.AnnualMaximum == 0 {
		return math.Inf(1)
	}
	return math.Max(0, o.AnnualMaximum-o.CurrentTotal)
}

// SplitInput is everything the pipeline needs besides the category terms.
type SplitInput struct {
	ClaimAmount         float64
	AnnualDeductible    float64
	RemainingDeductible float64
	OutOfPocketMaximum  float64
	OutOfPocketUsed     float64
}

// SplitResult holds each stage and the member share they add up to.
type SplitResult struct {
	Deductible  DeductibleState
	Copay       CopayState
	Coinsurance CoinsuranceState
	OutOfPocket OutOfPocketState
	// MemberShare is deductible + copay + coinsurance, capped by the
	// out-of-pocket headroom.
	MemberShare float64
}

// Split runs deductible, copay, coinsurance and the out-of-pocket cap in
// that order.
func Split(in SplitInput, terms Terms) SplitResult {
	ded, afterDeductible := ApplyDeductible(in.ClaimAmount, in.AnnualDeductible, in.RemainingDeductible)
	copay, afterCopay := ApplyCopay(terms.Copay, afterDeductible)
	coins := ApplyCoinsurance(terms.CoinsuranceRate, afterCopay)

	costShare := ded.AppliedAmount + copay.AppliedAmount + coins.CoinsuranceAmount
	oop := ApplyOutOfPocket(in.OutOfPocketMaximum, in.OutOfPocketUsed, costShare)

	return SplitResult{
		Deductible:  ded,
		Copay:       copay,
		Coinsurance: coins,
		OutOfPocket: oop,
		MemberShare: math.Min(costShare, oop.headroom()),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
