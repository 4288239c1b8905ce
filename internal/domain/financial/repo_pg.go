package financial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hib/hib/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgRepo struct{ pool *pgxpool.Pool }

func (r *pgRepo) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// noRows turns pgx.ErrNoRows into a nil result.
func noRows[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// =========== Member Repository ===========

type memberRepoPG struct{ pgRepo }

func NewMemberRepoPG(pool *pgxpool.Pool) MemberRepository { return &memberRepoPG{pgRepo{pool}} }

func (r *memberRepoPG) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	var m Member
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, company_id, date_of_birth, enrollment_date
		FROM member WHERE id = $1`, id).
		Scan(&m.ID, &m.CompanyID, &m.DateOfBirth, &m.EnrollmentDate)
	return noRows(&m, err)
}

// =========== Benefit Repository ===========

type benefitRepoPG struct{ pgRepo }

func NewBenefitRepoPG(pool *pgxpool.Pool) BenefitRepository { return &benefitRepoPG{pgRepo{pool}} }

func (r *benefitRepoPG) GetBenefit(ctx context.Context, id uuid.UUID) (*Benefit, error) {
	var b Benefit
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, category, limit_amount::float8, annual_deductible::float8,
			out_of_pocket_max::float8, waiting_period_days
		FROM benefit WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Category, &b.LimitAmount, &b.AnnualDeductible,
			&b.OutOfPocketMax, &b.WaitingPeriodDays)
	return noRows(&b, err)
}

func (r *benefitRepoPG) GetCompanyBenefit(ctx context.Context, companyID, benefitID uuid.UUID) (*CompanyBenefit, error) {
	var cb CompanyBenefit
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT company_id, benefit_id, coverage_rate::float8, limit_amount::float8,
			annual_deductible::float8, out_of_pocket_max::float8
		FROM company_benefit WHERE company_id = $1 AND benefit_id = $2`, companyID, benefitID).
		Scan(&cb.CompanyID, &cb.BenefitID, &cb.CoverageRate, &cb.LimitAmount,
			&cb.AnnualDeductible, &cb.OutOfPocketMax)
	return noRows(&cb, err)
}

// =========== Institution Repository ===========

type institutionRepoPG struct{ pgRepo }

func NewInstitutionRepoPG(pool *pgxpool.Pool) InstitutionRepository {
	return &institutionRepoPG{pgRepo{pool}}
}

func (r *institutionRepoPG) GetInstitution(ctx context.Context, id uuid.UUID) (*Institution, error) {
	var in Institution
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, network_status FROM institution WHERE id = $1`, id).
		Scan(&in.ID, &in.Name, &in.NetworkStatus)
	return noRows(&in, err)
}

// =========== Procedure Repository ===========

type procedureRepoPG struct{ pgRepo }

func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository { return &procedureRepoPG{pgRepo{pool}} }

func (r *procedureRepoPG) GetProcedure(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	var p Procedure
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, code FROM procedure WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Code)
	return noRows(&p, err)
}

// ProcedureIDsByCode returns the catalog keyed by procedure code.
func ProcedureIDsByCode(ctx context.Context, pool *pgxpool.Pool) (map[string]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id, code FROM procedure`)
	if err != nil {
		return nil, fmt.Errorf("query procedures: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID)
	for rows.Next() {
		var id uuid.UUID
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, fmt.Errorf("scan procedure: %w", err)
		}
		ids[code] = id
	}
	return ids, rows.Err()
}

// =========== Negotiated Rate Repository ===========

type rateRepoPG struct{ pgRepo }

func NewRateRepoPG(pool *pgxpool.Pool) NegotiatedRateRepository { return &rateRepoPG{pgRepo{pool}} }

const rateCols = `id, institution_id, procedure_id, rate::float8, effective_from, effective_to, active, created_at`

func (r *rateRepoPG) GetNegotiatedRate(ctx context.Context, institutionID, procedureID uuid.UUID, on time.Time) (*float64, error) {
	var rate float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT rate::float8 FROM provider_rate
		WHERE institution_id = $1 AND procedure_id = $2 AND active
			AND (effective_from IS NULL OR effective_from <= $3::date)
			AND (effective_to IS NULL OR effective_to >= $3::date)
		ORDER BY effective_from DESC NULLS LAST, created_at DESC
		LIMIT 1`, institutionID, procedureID, on.Format(time.DateOnly)).Scan(&rate)
	return noRows(&rate, err)
}

func (r *rateRepoPG) ListByInstitution(ctx context.Context, institutionID uuid.UUID, limit, offset int) ([]*NegotiatedRate, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM provider_rate WHERE institution_id = $1`, institutionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rateCols+` FROM provider_rate
		WHERE institution_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		institutionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*NegotiatedRate
	for rows.Next() {
		var nr NegotiatedRate
		if err := rows.Scan(&nr.ID, &nr.InstitutionID, &nr.ProcedureID, &nr.Rate,
			&nr.EffectiveFrom, &nr.EffectiveTo, &nr.Active, &nr.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &nr)
	}
	return items, total, rows.Err()
}

// ImportRates bulk loads negotiated rates with COPY in one transaction.
// With replace set, the currently active rates of every institution in the
// batch are deactivated first, so the file becomes the institution's rate
// sheet.
func ImportRates(ctx context.Context, pool *pgxpool.Pool, rates []*NegotiatedRate, replace bool) (int64, error) {
	var n int64
	err := db.InTx(ctx, pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		if replace {
			if _, err := tx.Exec(ctx,
				`UPDATE provider_rate SET active = false WHERE active AND institution_id = ANY($1)`,
				RateInstitutions(rates)); err != nil {
				return fmt.Errorf("deactivate provider rates: %w", err)
			}
		}

		now := time.Now()
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"provider_rate"},
			[]string{"id", "institution_id", "procedure_id", "rate", "effective_from", "effective_to", "active", "created_at"},
			pgx.CopyFromSlice(len(rates), func(i int) ([]any, error) {
				nr := rates[i]
				if nr.ID == uuid.Nil {
					nr.ID = uuid.New()
				}
				return []any{nr.ID, nr.InstitutionID, nr.ProcedureID, nr.Rate,
					nr.EffectiveFrom, nr.EffectiveTo, nr.Active, now}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy provider rates: %w", err)
		}
		n = copied
		return nil
	})
	return n, err
}

// RateInstitutions returns the distinct institutions of rates in first-seen
// order.
func RateInstitutions(rates []*NegotiatedRate) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, nr := range rates {
		if !seen[nr.InstitutionID] {
			seen[nr.InstitutionID] = true
			ids = append(ids, nr.InstitutionID)
		}
	}
	return ids
}

// =========== Utilization Repository ===========

type utilizationRepoPG struct{ pgRepo }

func NewUtilizationRepoPG(pool *pgxpool.Pool) UtilizationRepository {
	return &utilizationRepoPG{pgRepo{pool}}
}

func (r *utilizationRepoPG) GetUtilization(ctx context.Context, memberID, benefitID uuid.UUID) (*Utilization, error) {
	var u Utilization
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT used_amount::float8, annual_used::float8, lifetime_used::float8,
			deductible_used::float8, out_of_pocket_used::float8
		FROM benefit_utilization WHERE member_id = $1 AND benefit_id = $2`, memberID, benefitID).
		Scan(&u.UsedAmount, &u.AnnualUsed, &u.LifetimeUsed, &u.DeductibleUsed, &u.OutOfPocketUsed)
	return noRows(&u, err)
}

// NewPGRepositories wires every collaborator to the pool.
func NewPGRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Members:      NewMemberRepoPG(pool),
		Benefits:     NewBenefitRepoPG(pool),
		Institutions: NewInstitutionRepoPG(pool),
		Procedures:   NewProcedureRepoPG(pool),
		Rates:        NewRateRepoPG(pool),
		Utilization:  NewUtilizationRepoPG(pool),
	}
}
