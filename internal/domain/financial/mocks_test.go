package financial

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockMemberRepo struct {
	items map[uuid.UUID]*Member
	err   error
}

func (m *mockMemberRepo) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.items[id], nil
}

type companyKey struct{ company, benefit uuid.UUID }

type mockBenefitRepo struct {
	benefits  map[uuid.UUID]*Benefit
	companies map[companyKey]*CompanyBenefit
}

func (m *mockBenefitRepo) GetBenefit(_ context.Context, id uuid.UUID) (*Benefit, error) {
	return m.benefits[id], nil
}

func (m *mockBenefitRepo) GetCompanyBenefit(_ context.Context, companyID, benefitID uuid.UUID) (*CompanyBenefit, error) {
	return m.companies[companyKey{companyID, benefitID}], nil
}

type mockInstitutionRepo struct {
	items map[uuid.UUID]*Institution
}

func (m *mockInstitutionRepo) GetInstitution(_ context.Context, id uuid.UUID) (*Institution, error) {
	return m.items[id], nil
}

type mockProcedureRepo struct {
	items map[uuid.UUID]*Procedure
	calls int
}

func (m *mockProcedureRepo) GetProcedure(_ context.Context, id uuid.UUID) (*Procedure, error) {
	m.calls++
	return m.items[id], nil
}

type rateKey struct{ institution, procedure uuid.UUID }

type mockRateRepo struct {
	rates map[rateKey]float64
	list  []*NegotiatedRate
	calls  int
	lastOn time.Time
	err    error
}

func newMockRateRepo() *mockRateRepo {
	return &mockRateRepo{rates: make(map[rateKey]float64)}
}

func (m *mockRateRepo) GetNegotiatedRate(_ context.Context, institutionID, procedureID uuid.UUID, on time.Time) (*float64, error) {
	m.calls++
	m.lastOn = on
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rates[rateKey{institutionID, procedureID}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockRateRepo) ListByInstitution(_ context.Context, institutionID uuid.UUID, limit, offset int) ([]*NegotiatedRate, int, error) {
	var all []*NegotiatedRate
	for _, nr := range m.list {
		if nr.InstitutionID == institutionID {
			all = append(all, nr)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Rate < all[j].Rate })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockUtilizationRepo struct {
	items map[companyKey]*Utilization
}

func (m *mockUtilizationRepo) GetUtilization(_ context.Context, memberID, benefitID uuid.UUID) (*Utilization, error) {
	return m.items[companyKey{memberID, benefitID}], nil
}

// fixture is one member enrolled in one benefit at one institution.
type fixture struct {
	memberID      uuid.UUID
	companyID     uuid.UUID
	benefitID     uuid.UUID
	institutionID uuid.UUID

	members      *mockMemberRepo
	benefits     *mockBenefitRepo
	institutions *mockInstitutionRepo
	procedures   *mockProcedureRepo
	rates        *mockRateRepo
	utilization  *mockUtilizationRepo
}

func newFixture(category string) *fixture {
	f := &fixture{
		memberID:      uuid.New(),
		companyID:     uuid.New(),
		benefitID:     uuid.New(),
		institutionID: uuid.New(),
		procedures:    &mockProcedureRepo{items: make(map[uuid.UUID]*Procedure)},
		rates:         newMockRateRepo(),
	}
	f.members = &mockMemberRepo{items: map[uuid.UUID]*Member{
		f.memberID: {ID: f.memberID, CompanyID: f.companyID},
	}}
	f.benefits = &mockBenefitRepo{
		benefits: map[uuid.UUID]*Benefit{
			f.benefitID: {ID: f.benefitID, Name: "Outpatient", Category: category, LimitAmount: 50000, AnnualDeductible: 500, OutOfPocketMax: 5000},
		},
		companies: map[companyKey]*CompanyBenefit{
			{f.companyID, f.benefitID}: {CompanyID: f.companyID, BenefitID: f.benefitID, CoverageRate: 80},
		},
	}
	f.institutions = &mockInstitutionRepo{items: map[uuid.UUID]*Institution{
		f.institutionID: {ID: f.institutionID, Name: "General Hospital", NetworkStatus: "in_network"},
	}}
	f.utilization = &mockUtilizationRepo{items: make(map[companyKey]*Utilization)}
	return f
}

func (f *fixture) setUsage(u Utilization) {
	f.utilization.items[companyKey{f.memberID, f.benefitID}] = &u
}

func (f *fixture) benefit() *Benefit {
	return f.benefits.benefits[f.benefitID]
}

func (f *fixture) addProcedure(code, name string) uuid.UUID {
	id := uuid.New()
	f.procedures.items[id] = &Procedure{ID: id, Code: code, Name: name}
	return id
}

func (f *fixture) setRate(procedureID uuid.UUID, rate float64) {
	f.rates.rates[rateKey{f.institutionID, procedureID}] = rate
}

func (f *fixture) repos() Repositories {
	return Repositories{
		Members:      f.members,
		Benefits:     f.benefits,
		Institutions: f.institutions,
		Procedures:   f.procedures,
		Rates:        f.rates,
		Utilization:  f.utilization,
	}
}

func (f *fixture) request(amount float64, items ...ProcedureLineItem) *ClaimCalculationRequest {
	return &ClaimCalculationRequest{
		ClaimID:        uuid.New(),
		OriginalAmount: amount,
		MemberID:       f.memberID,
		BenefitID:      f.benefitID,
		InstitutionID:  f.institutionID,
		LineItems:      items,
	}
}

var errBoom = fmt.Errorf("connection reset")
