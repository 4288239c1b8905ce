package financial

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// VarianceReason explains why a line's applied rate differs (or not) from
// its standard rate.
type VarianceReason string

const (
	VarianceNetworkDiscount VarianceReason = "NetworkDiscount"
	VarianceStandardRate    VarianceReason = "StandardRate"
)

const (
	unknownProcedureName = "Unknown Service"
	unknownProcedureCode = "UNKNOWN"
)

// ProcedureLineItem is one billed procedure on a claim.
type ProcedureLineItem struct {
	ProcedureID uuid.UUID `json:"procedure_id"`
	Quantity    int       `json:"quantity" validate:"gte=1"`
	UnitRate    float64   `json:"unit_rate" validate:"gte=0"`
	TotalAmount float64   `json:"total_amount" validate:"gte=0"`
}

// NewProcedureLineItem builds a line item, rejecting non-positive quantities
// and negative money.
func NewProcedureLineItem(procedureID uuid.UUID, quantity int, unitRate, totalAmount float64) (ProcedureLineItem, error) {
	li := ProcedureLineItem{
		ProcedureID: procedureID,
		Quantity:    quantity,
		UnitRate:    unitRate,
		TotalAmount: totalAmount,
	}
	if err := li.Validate(); err != nil {
		return ProcedureLineItem{}, err
	}
	return li, nil
}

func (li ProcedureLineItem) Validate() error {
	if li.Quantity < 1 {
		return invalid("quantity", "must be a positive integer")
	}
	if !validMoney(li.UnitRate) {
		return invalid("unit_rate", "must be a non-negative amount")
	}
	if !validMoney(li.TotalAmount) {
		return invalid("total_amount", "must be a non-negative amount")
	}
	return nil
}

// ClaimCalculationRequest is the immutable input of a calculation.
type ClaimCalculationRequest struct {
	ClaimID        uuid.UUID           `json:"claim_id"`
	OriginalAmount float64             `json:"original_amount" validate:"gt=0"`
	MemberID       uuid.UUID           `json:"member_id"`
	BenefitID      uuid.UUID           `json:"benefit_id"`
	InstitutionID  uuid.UUID           `json:"institution_id"`
	ServiceDate    *time.Time          `json:"service_date,omitempty"`
	LineItems      []ProcedureLineItem `json:"line_items,omitempty" validate:"dive"`
}

func (r *ClaimCalculationRequest) Validate() error {
	if r.OriginalAmount <= 0 || !validMoney(r.OriginalAmount) {
		return invalid("original_amount", "must be greater than zero")
	}
	if r.MemberID == uuid.Nil {
		return invalid("member_id", "is required")
	}
	if r.BenefitID == uuid.Nil {
		return invalid("benefit_id", "is required")
	}
	if r.InstitutionID == uuid.Nil {
		return invalid("institution_id", "is required")
	}
	for i, li := range r.LineItems {
		if err := li.Validate(); err != nil {
			return fmt.Errorf("line_items[%d]: %w", i, err)
		}
	}
	return nil
}

// ProcedureRateDetail is the resolved pricing of one line item.
type ProcedureRateDetail struct {
	ProcedureID    uuid.UUID      `json:"procedure_id"`
	Name           string         `json:"name"`
	Code           string         `json:"code"`
	Quantity       int            `json:"quantity"`
	StandardRate   float64        `json:"standard_rate"`
	NegotiatedRate float64        `json:"negotiated_rate"`
	AppliedRate    float64        `json:"applied_rate"`
	VarianceReason VarianceReason `json:"variance_reason"`
	// AboveStandard marks a negotiated rate that exceeds the billed rate.
	AboveStandard bool `json:"above_standard,omitempty"`
	// Cataloged is false when a procedure id was given but not found.
	Cataloged bool `json:"-"`
}

func (d ProcedureRateDetail) StandardAmount() float64 { return d.StandardRate * float64(d.Quantity) }
func (d ProcedureRateDetail) AppliedAmount() float64  { return d.AppliedRate * float64(d.Quantity) }

type DeductibleState struct {
	AnnualDeductible    float64 `json:"annual_deductible"`
	RemainingDeductible float64 `json:"remaining_deductible"`
	AppliedAmount       float64 `json:"applied_amount"`
	DeductibleMet       bool    `json:"deductible_met"`
}

type CopayState struct {
	CopayAmount   float64 `json:"copay_amount"`
	AppliedAmount float64 `json:"applied_amount"`
	Waived        bool    `json:"waived"`
}

type CoinsuranceState struct {
	CoinsuranceRate         float64 `json:"coinsurance_rate"`
	AppliedToAmount         float64 `json:"applied_to_amount"`
	CoinsuranceAmount       float64 `json:"coinsurance_amount"`
	RemainingResponsibility float64 `json:"remaining_responsibility"`
}

type ProviderDiscountState struct {
	StandardAmount   float64 `json:"standard_amount"`
	DiscountedAmount float64 `json:"discounted_amount"`
	DiscountAmount   float64 `json:"discount_amount"`
	DiscountRate     float64 `json:"discount_rate"`
}

type OutOfPocketState struct {
	AnnualMaximum   float64 `json:"annual_maximum"`
	CurrentTotal    float64 `json:"current_total"`
	AppliedAmount   float64 `json:"applied_amount"`
	FinalAmount     float64 `json:"final_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
	MaximumMet      bool    `json:"maximum_met"`
}

type LimitationState struct {
	LimitAmount     float64 `json:"limit_amount"`
	UsedAmount      float64 `json:"used_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
	AppliedLimit    bool    `json:"applied_limit"`
}

type ComplianceResult struct {
	BillingCompliance bool     `json:"billing_compliance"`
	CodingCompliance  bool     `json:"coding_compliance"`
	RateCompliance    bool     `json:"rate_compliance"`
	ComplianceScore   float64  `json:"compliance_score"`
	Issues            []string `json:"issues"`
}

// CalculationResult is the member/insurer split of one claim. It is built
// once per call and never modified afterwards.
type CalculationResult struct {
	ClaimID        uuid.UUID `json:"claim_id"`
	MemberID       uuid.UUID `json:"member_id"`
	BenefitID      uuid.UUID `json:"benefit_id"`
	InstitutionID  uuid.UUID `json:"institution_id"`
	Category       string    `json:"category"`
	OriginalAmount float64   `json:"original_amount"`
	AllowedAmount  float64   `json:"allowed_amount"`

	ProcedureRates   []ProcedureRateDetail `json:"procedure_rates"`
	RateSavings      float64               `json:"rate_savings"`
	Deductible       DeductibleState       `json:"deductible"`
	Copay            CopayState            `json:"copay"`
	Coinsurance      CoinsuranceState      `json:"coinsurance"`
	ProviderDiscount ProviderDiscountState `json:"provider_discount"`
	OutOfPocket      OutOfPocketState      `json:"out_of_pocket_maximum"`

	BenefitLimit  LimitationState `json:"benefit_limit"`
	AnnualLimit   LimitationState `json:"annual_limit"`
	LifetimeLimit LimitationState `json:"lifetime_limit"`

	Compliance ComplianceResult `json:"compliance"`

	MemberResponsibility  float64 `json:"member_responsibility"`
	InsurerResponsibility float64 `json:"insurer_responsibility"`
	TotalSavings          float64 `json:"total_savings"`
	MemberPaidPercentage  float64 `json:"member_paid_percentage"`
	InsurerPaidPercentage float64 `json:"insurer_paid_percentage"`
}

// MLRImpact describes how a claim moves the medical loss ratio for a premium.
type MLRImpact struct {
	CurrentMLR     float64 `json:"current_mlr"`
	ProjectedMLR   float64 `json:"projected_mlr"`
	Impact         string  `json:"impact"`
	Recommendation string  `json:"recommendation"`
}

// -- Collaborator records --

type Member struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	CompanyID      uuid.UUID  `db:"company_id" json:"company_id"`
	DateOfBirth    *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	EnrollmentDate *time.Time `db:"enrollment_date" json:"enrollment_date,omitempty"`
}

type Benefit struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Category          string    `db:"category" json:"category"`
	LimitAmount       float64   `db:"limit_amount" json:"limit_amount"`
	AnnualDeductible  float64   `db:"annual_deductible" json:"annual_deductible"`
	OutOfPocketMax    float64   `db:"out_of_pocket_max" json:"out_of_pocket_max"`
	WaitingPeriodDays int       `db:"waiting_period_days" json:"waiting_period_days"`
}

// CompanyBenefit carries an employer's overrides of a benefit's defaults.
// Nil pointers fall back to the benefit.
type CompanyBenefit struct {
	CompanyID        uuid.UUID `db:"company_id" json:"company_id"`
	BenefitID        uuid.UUID `db:"benefit_id" json:"benefit_id"`
	CoverageRate     float64   `db:"coverage_rate" json:"coverage_rate"`
	LimitAmount      *float64  `db:"limit_amount" json:"limit_amount,omitempty"`
	AnnualDeductible *float64  `db:"annual_deductible" json:"annual_deductible,omitempty"`
	OutOfPocketMax   *float64  `db:"out_of_pocket_max" json:"out_of_pocket_max,omitempty"`
}

type Institution struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	NetworkStatus string    `db:"network_status" json:"network_status"`
}

type Procedure struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Code string    `db:"code" json:"code"`
}

// Utilization is year-to-date (and lifetime) usage tracked outside this
// package. The calculation reads it and never writes it back.
type Utilization struct {
	UsedAmount      float64 `db:"used_amount" json:"used_amount"`
	AnnualUsed      float64 `db:"annual_used" json:"annual_used"`
	LifetimeUsed    float64 `db:"lifetime_used" json:"lifetime_used"`
	DeductibleUsed  float64 `db:"deductible_used" json:"deductible_used"`
	OutOfPocketUsed float64 `db:"out_of_pocket_used" json:"out_of_pocket_used"`
}

// NegotiatedRate is a provider-specific price for a procedure.
type NegotiatedRate struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	InstitutionID uuid.UUID  `db:"institution_id" json:"institution_id"`
	ProcedureID   uuid.UUID  `db:"procedure_id" json:"procedure_id"`
	Rate          float64    `db:"rate" json:"rate"`
	EffectiveFrom *time.Time `db:"effective_from" json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

func validMoney(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
