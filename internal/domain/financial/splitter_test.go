package financial

import (
	"math"
	"testing"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestSplit_MedicalClaimPartiallyMetDeductible(t *testing.T) {
	res := Split(SplitInput{
		ClaimAmount:         1000,
		AnnualDeductible:    500,
		RemainingDeductible: 100,
		OutOfPocketMaximum:  5000,
	}, DefaultCategoryTerms().For("medical"))

	if res.Deductible.AppliedAmount != 100 {
		t.Errorf("deductible applied: expected 100, got %v", res.Deductible.AppliedAmount)
	}
	if !res.Deductible.DeductibleMet || res.Deductible.RemainingDeductible != 0 {
		t.Errorf("expected deductible met with 0 remaining, got %+v", res.Deductible)
	}
	if res.Copay.AppliedAmount != 20 || res.Copay.Waived {
		t.Errorf("copay: expected 20 applied, got %+v", res.Copay)
	}
	if res.Coinsurance.AppliedToAmount != 880 || !approx(res.Coinsurance.CoinsuranceAmount, 176) {
		t.Errorf("coinsurance: expected 20%% of 880 = 176, got %+v", res.Coinsurance)
	}
	if !approx(res.Coinsurance.RemainingResponsibility, 704) {
		t.Errorf("coinsurance remaining: expected 704, got %v", res.Coinsurance.RemainingResponsibility)
	}
	if !approx(res.MemberShare, 296) {
		t.Errorf("member share: expected 296, got %v", res.MemberShare)
	}
}

func TestSplit_DeductibleConsumesSmallClaim(t *testing.T) {
	res := Split(SplitInput{
		ClaimAmount:         50,
		AnnualDeductible:    500,
		RemainingDeductible: 500,
	}, DefaultCategoryTerms().For("medical"))

	if res.Deductible.AppliedAmount != 50 {
		t.Errorf("expected full claim to deductible, got %v", res.Deductible.AppliedAmount)
	}
	if res.Deductible.DeductibleMet || res.Deductible.RemainingDeductible != 450 {
		t.Errorf("expected 450 remaining, got %+v", res.Deductible)
	}
	if !res.Copay.Waived || res.Copay.AppliedAmount != 0 {
		t.Errorf("expected copay waived, got %+v", res.Copay)
	}
	if res.Coinsurance.CoinsuranceAmount != 0 {
		t.Errorf("expected no coinsurance, got %v", res.Coinsurance.CoinsuranceAmount)
	}
	if res.MemberShare != 50 {
		t.Errorf("expected member share 50, got %v", res.MemberShare)
	}
}

func TestSplit_OutOfPocketCap(t *testing.T) {
	// deductible 100 + copay 20 + 20% of 400 = 200 of cost sharing
	res := Split(SplitInput{
		ClaimAmount:         520,
		AnnualDeductible:    100,
		RemainingDeductible: 100,
		OutOfPocketMaximum:  5000,
		OutOfPocketUsed:     4950,
	}, DefaultCategoryTerms().For("medical"))

	oop := res.OutOfPocket
	if !approx(oop.AppliedAmount, 200) {
		t.Fatalf("expected 200 of cost sharing, got %v", oop.AppliedAmount)
	}
	if oop.FinalAmount != 5000 || oop.RemainingAmount != 0 || !oop.MaximumMet {
		t.Errorf("expected maximum met at 5000, got %+v", oop)
	}
	if !approx(res.MemberShare, 50) {
		t.Errorf("expected member share capped at 50, got %v", res.MemberShare)
	}
}

func TestSplit_ZeroClaim(t *testing.T) {
	res := Split(SplitInput{ClaimAmount: 0, AnnualDeductible: 500, RemainingDeductible: 500, OutOfPocketMaximum: 1000},
		DefaultCategoryTerms().For("hospital"))

	if res.Deductible.AppliedAmount != 0 || res.Copay.AppliedAmount != 0 || res.Coinsurance.CoinsuranceAmount != 0 {
		t.Errorf("expected zero applied amounts, got %+v", res)
	}
	if res.MemberShare != 0 {
		t.Errorf("expected zero member share, got %v", res.MemberShare)
	}
}

func TestSplit_NoRemainingDeductible(t *testing.T) {
	res := Split(SplitInput{ClaimAmount: 300, AnnualDeductible: 500, RemainingDeductible: 0},
		DefaultCategoryTerms().For("specialist"))

	if res.Deductible.AppliedAmount != 0 {
		t.Errorf("expected no deductible, got %v", res.Deductible.AppliedAmount)
	}
	if res.Copay.AppliedAmount != 40 {
		t.Errorf("expected copay on full claim, got %v", res.Copay.AppliedAmount)
	}
	if !approx(res.Coinsurance.CoinsuranceAmount, 52) {
		t.Errorf("expected 20%% of 260, got %v", res.Coinsurance.CoinsuranceAmount)
	}
}

func TestSplit_UnknownCategoryUsesDefault(t *testing.T) {
	res := Split(SplitInput{ClaimAmount: 100}, DefaultCategoryTerms().For("acupuncture"))

	if res.Copay.CopayAmount != 0 {
		t.Errorf("expected no copay, got %v", res.Copay.CopayAmount)
	}
	if res.Coinsurance.CoinsuranceRate != 20 || !approx(res.MemberShare, 20) {
		t.Errorf("expected 20%% coinsurance, got %+v", res.Coinsurance)
	}
}

// The deductible has to come before the copay. Charging the copay first
// leaves less for the deductible, so the member ends the claim with a
// different remaining deductible.
func TestSplit_StageOrder(t *testing.T) {
	terms := Terms{Copay: 20, CoinsuranceRate: 20}
	in := SplitInput{ClaimAmount: 50, AnnualDeductible: 500, RemainingDeductible: 40}

	got := Split(in, terms)

	copayFirst := math.Min(terms.Copay, in.ClaimAmount)
	dedSecond := math.Min(in.RemainingDeductible, in.ClaimAmount-copayFirst)

	if got.Deductible.AppliedAmount != 40 || !got.Deductible.DeductibleMet {
		t.Fatalf("expected deductible applied first (40, met), got %+v", got.Deductible)
	}
	if got.Copay.AppliedAmount != 10 {
		t.Errorf("expected copay limited to the 10 left after deductible, got %v", got.Copay.AppliedAmount)
	}
	if dedSecond == got.Deductible.AppliedAmount {
		t.Fatalf("expected copay-first order to apply a different deductible, both gave %v", dedSecond)
	}
	if got.Coinsurance.AppliedToAmount != in.ClaimAmount-got.Deductible.AppliedAmount-got.Copay.AppliedAmount {
		t.Errorf("coinsurance must apply to what deductible and copay left, got %+v", got.Coinsurance)
	}
}

func TestApplyCopay_LargerThanRemainder(t *testing.T) {
	st, rest := ApplyCopay(150, 60)
	if st.AppliedAmount != 60 || rest != 0 || st.Waived {
		t.Errorf("expected copay limited to 60, got %+v rest=%v", st, rest)
	}
}

func TestApplyDeductible_ClampsRemaining(t *testing.T) {
	st, rest := ApplyDeductible(200, 100, 400)
	if st.AppliedAmount != 100 || rest != 100 {
		t.Errorf("remaining above annual must clamp to annual, got %+v rest=%v", st, rest)
	}
}

func TestApplyOutOfPocket_NoMaximum(t *testing.T) {
	st := ApplyOutOfPocket(0, 1200, 300)
	if st.MaximumMet || st.FinalAmount != 1500 {
		t.Errorf("expected uncapped total 1500, got %+v", st)
	}
	if !math.IsInf(st.headroom(), 1) {
		t.Errorf("expected infinite headroom, got %v", st.headroom())
	}
}

func TestApplyOutOfPocket_AlreadyMet(t *testing.T) {
	st := ApplyOutOfPocket(5000, 5200, 100)
	if st.FinalAmount != 5000 || !st.MaximumMet || st.headroom() != 0 {
		t.Errorf("expected no headroom, got %+v", st)
	}
}

func TestComputeProviderDiscount(t *testing.T) {
	st := ComputeProviderDiscount([]ProcedureRateDetail{
		{Quantity: 2, StandardRate: 100, NegotiatedRate: 80, AppliedRate: 80},
	})
	if st.StandardAmount != 200 || st.DiscountedAmount != 160 || st.DiscountAmount != 40 {
		t.Errorf("unexpected discount: %+v", st)
	}
	if math.Abs(st.DiscountRate-20) > eps {
		t.Errorf("expected 20%% discount rate, got %v", st.DiscountRate)
	}
}

func TestComputeProviderDiscount_AboveStandardNeverNegative(t *testing.T) {
	st := ComputeProviderDiscount([]ProcedureRateDetail{
		{Quantity: 1, StandardRate: 100, NegotiatedRate: 130, AppliedRate: 130},
	})
	if st.DiscountAmount != 0 || st.DiscountRate != 0 {
		t.Errorf("expected no discount, got %+v", st)
	}
	if st.DiscountedAmount > st.StandardAmount {
		t.Errorf("discounted amount must not exceed standard, got %+v", st)
	}
}
