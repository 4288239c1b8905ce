package financial

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	mlrHighThreshold = 85
	mlrLowThreshold  = 65
)

// Repositories bundles the collaborators a Service reads from.
type Repositories struct {
	Members      MemberRepository
	Benefits     BenefitRepository
	Institutions InstitutionRepository
	Procedures   ProcedureRepository
	Rates        NegotiatedRateRepository
	Utilization  UtilizationRepository
}

// Service computes claim financial responsibility. It holds no per-claim
// state and is safe for concurrent use.
type Service struct {
	repos      Repositories
	terms      CategoryTerms
	resolver   *RateResolver
	limits     *LimitationTracker
	compliance *ComplianceChecker
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repos Repositories, terms CategoryTerms, logger zerolog.Logger) *Service {
	return &Service{
		repos:      repos,
		terms:      terms,
		resolver:   NewRateResolver(repos.Procedures, repos.Rates),
		limits:     NewLimitationTracker(),
		compliance: NewComplianceChecker(),
		logger:     logger.With().Str("component", "financial").Logger(),
		now:        time.Now,
	}
}

// serviceDate is the day a claim's rates are priced on: its service date,
// or today when the request carries none.
func (s *Service) serviceDate(req *ClaimCalculationRequest) time.Time {
	if req.ServiceDate != nil {
		return *req.ServiceDate
	}
	return s.now()
}

// metricCategory bounds the category label to the configured plan table.
func (s *Service) metricCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return "unknown"
	}
	if _, ok := s.terms.Categories[c]; !ok {
		return "other"
	}
	return c
}

// Terms returns the category table the service was built with.
func (s *Service) Terms() CategoryTerms { return s.terms }

// CalculateFinancialResponsibility splits a claim between member and
// insurer. Missing member, benefit, company benefit or institution records
// abort the calculation with a *NotFoundError.
func (s *Service) CalculateFinancialResponsibility(ctx context.Context, req *ClaimCalculationRequest) (*CalculationResult, error) {
	if req == nil {
		return nil, invalid("", "request is required")
	}
	if err := req.Validate(); err != nil {
		recordOutcome("", "invalid")
		return nil, err
	}

	in, err := s.loadInputs(ctx, req)
	if err != nil {
		if IsNotFound(err) {
			recordOutcome("", "not_found")
		} else {
			recordOutcome("", "error")
		}
		return nil, err
	}

	rates, err := s.resolver.ResolveRates(ctx, req.InstitutionID, s.serviceDate(req), req.OriginalAmount, req.LineItems)
	if err != nil {
		recordOutcome(s.metricCategory(in.benefit.Category), "error")
		return nil, fmt.Errorf("resolve rates: %w", err)
	}

	result := s.assemble(req, in, rates)
	recordResult(s.metricCategory(result.Category), result)

	s.logger.Debug().
		Str("claim_id", req.ClaimID.String()).
		Str("category", result.Category).
		Float64("allowed", result.AllowedAmount).
		Float64("member", result.MemberResponsibility).
		Float64("insurer", result.InsurerResponsibility).
		Msg("claim calculated")
	if len(result.Compliance.Issues) > 0 {
		s.logger.Warn().
			Str("claim_id", req.ClaimID.String()).
			Strs("issues", result.Compliance.Issues).
			Msg("claim compliance issues")
	}
	return result, nil
}

type calcInputs struct {
	member  *Member
	benefit *Benefit
	company *CompanyBenefit
	usage   *Utilization
}

func (s *Service) loadInputs(ctx context.Context, req *ClaimCalculationRequest) (*calcInputs, error) {
	member, err := s.repos.Members.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, notFound("member", req.MemberID.String())
	}

	benefit, err := s.repos.Benefits.GetBenefit(ctx, req.BenefitID)
	if err != nil {
		return nil, fmt.Errorf("get benefit: %w", err)
	}
	if benefit == nil {
		return nil, notFound("benefit", req.BenefitID.String())
	}

	company, err := s.repos.Benefits.GetCompanyBenefit(ctx, member.CompanyID, req.BenefitID)
	if err != nil {
		return nil, fmt.Errorf("get company benefit: %w", err)
	}
	if company == nil {
		return nil, notFound("company benefit", member.CompanyID.String()+"/"+req.BenefitID.String())
	}

	inst, err := s.repos.Institutions.GetInstitution(ctx, req.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("get institution: %w", err)
	}
	if inst == nil {
		return nil, notFound("institution", req.InstitutionID.String())
	}

	usage, err := s.repos.Utilization.GetUtilization(ctx, req.MemberID, req.BenefitID)
	if err != nil {
		return nil, fmt.Errorf("get utilization: %w", err)
	}
	if usage == nil {
		usage = &Utilization{}
	}

	return &calcInputs{member: member, benefit: benefit, company: company, usage: usage}, nil
}

func (s *Service) assemble(req *ClaimCalculationRequest, in *calcInputs, rates *RateResolution) *CalculationResult {
	annualDeductible := overrideOr(in.company.AnnualDeductible, in.benefit.AnnualDeductible)
	split := Split(SplitInput{
		ClaimAmount:         req.OriginalAmount,
		AnnualDeductible:    annualDeductible,
		RemainingDeductible: annualDeductible - in.usage.DeductibleUsed,
		OutOfPocketMaximum:  overrideOr(in.company.OutOfPocketMax, in.benefit.OutOfPocketMax),
		OutOfPocketUsed:     in.usage.OutOfPocketUsed,
	}, s.terms.For(in.benefit.Category))

	allowed := rates.AppliedTotal
	discount := ComputeProviderDiscount(rates.Details)

	member := math.Min(split.MemberShare, allowed)
	insurer := math.Max(0, allowed-member)

	res := &CalculationResult{
		ClaimID:          req.ClaimID,
		MemberID:         req.MemberID,
		BenefitID:        req.BenefitID,
		InstitutionID:    req.InstitutionID,
		Category:         in.benefit.Category,
		OriginalAmount:   req.OriginalAmount,
		AllowedAmount:    allowed,
		ProcedureRates:   rates.Details,
		RateSavings:      rates.RateSavings,
		Deductible:       split.Deductible,
		Copay:            split.Copay,
		Coinsurance:      split.Coinsurance,
		ProviderDiscount: discount,
		OutOfPocket:      split.OutOfPocket,

		BenefitLimit:  s.limits.GetLimitation(LimitBenefit, in.benefit, in.company, in.usage),
		AnnualLimit:   s.limits.GetLimitation(LimitAnnual, in.benefit, in.company, in.usage),
		LifetimeLimit: s.limits.GetLimitation(LimitLifetime, in.benefit, in.company, in.usage),

		Compliance: s.compliance.Check(req, rates.Details),

		MemberResponsibility:  member,
		InsurerResponsibility: insurer,
		TotalSavings:          discount.DiscountAmount,
		MemberPaidPercentage:  percentOf(member, req.OriginalAmount),
		InsurerPaidPercentage: percentOf(insurer, req.OriginalAmount),
	}

	if !waitingPeriodSatisfied(in.member, in.benefit, req.ServiceDate) {
		res.Compliance.Issues = append(res.Compliance.Issues, IssueWaitingPeriod)
	}
	if res.BenefitLimit.AppliedLimit && insurer > res.BenefitLimit.RemainingAmount {
		res.Compliance.Issues = append(res.Compliance.Issues, IssueBenefitLimitExceeded)
	}
	return res
}

// CalculateMLRImpact projects the medical loss ratio of a premium after a
// claim. currentMLR counts only the insurer's share; projectedMLR counts the
// full claim cost as if the member share were also absorbed.
func (s *Service) CalculateMLRImpact(insurerResponsibility, memberResponsibility, premium float64) (*MLRImpact, error) {
	if premium <= 0 || !validMoney(premium) {
		return nil, invalid("premium", "must be greater than zero")
	}
	if !validMoney(insurerResponsibility) {
		return nil, invalid("insurer_responsibility", "must be a non-negative amount")
	}
	if !validMoney(memberResponsibility) {
		return nil, invalid("member_responsibility", "must be a non-negative amount")
	}

	current := percentOf(insurerResponsibility, premium)
	projected := percentOf(insurerResponsibility+memberResponsibility, premium)

	impact := &MLRImpact{CurrentMLR: current, ProjectedMLR: projected}
	switch {
	case projected > mlrHighThreshold:
		impact.Impact = "negative"
		impact.Recommendation = "Review premium rates"
	case projected < mlrLowThreshold:
		impact.Impact = "positive"
		impact.Recommendation = "Consider premium reductions"
	default:
		impact.Impact = "neutral"
		impact.Recommendation = "Maintain current premium rates"
	}
	return impact, nil
}

func overrideOr(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}

// percentOf returns part/whole*100 rounded to two places.
func percentOf(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return decimal.NewFromFloat(part).
		Div(decimal.NewFromFloat(whole)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}
