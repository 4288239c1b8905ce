package financial

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lookups return (nil, nil) when the record does not exist; the service
// decides whether a missing record is fatal.

type MemberRepository interface {
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
}

type BenefitRepository interface {
	GetBenefit(ctx context.Context, id uuid.UUID) (*Benefit, error)
	GetCompanyBenefit(ctx context.Context, companyID, benefitID uuid.UUID) (*CompanyBenefit, error)
}

type InstitutionRepository interface {
	GetInstitution(ctx context.Context, id uuid.UUID) (*Institution, error)
}

type ProcedureRepository interface {
	GetProcedure(ctx context.Context, id uuid.UUID) (*Procedure, error)
}

// NegotiatedRateRepository returns the provider-specific rate for an
// institution and procedure that is active on the given service date, or nil
// when none is on file.
type NegotiatedRateRepository interface {
	GetNegotiatedRate(ctx context.Context, institutionID, procedureID uuid.UUID, on time.Time) (*float64, error)
	ListByInstitution(ctx context.Context, institutionID uuid.UUID, limit, offset int) ([]*NegotiatedRate, int, error)
}

type UtilizationRepository interface {
	GetUtilization(ctx context.Context, memberID, benefitID uuid.UUID) (*Utilization, error)
}
