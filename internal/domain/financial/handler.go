package financial

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hib/hib/internal/platform/auth"
	"github.com/hib/hib/internal/platform/openapi"
	"github.com/hib/hib/pkg/pagination"
)

var validate = validator.New()

type Handler struct {
	svc   *Service
	rates NegotiatedRateRepository
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, rates: svc.repos.Rates}
}

var (
	calcRoles = []string{"billing", "claims"}
	readRoles = []string{"billing", "claims", "network"}
)

func (h *Handler) RegisterRoutes(api *echo.Group) {
	calc := api.Group("", auth.RequireRole(calcRoles...))
	calc.POST("/claims/calculate", h.Calculate)
	calc.POST("/claims/mlr-impact", h.MLRImpact)

	read := api.Group("", auth.RequireRole(readRoles...))
	read.GET("/provider-rates", h.ListProviderRates)
}

type providerRatePage struct {
	pagination.Response
	Data []NegotiatedRate `json:"data"`
}

// Describe adds the routes registered by RegisterRoutes to an API document.
func (h *Handler) Describe(g *openapi.Generator) {
	g.AddSchema("ClaimCalculationRequest", ClaimCalculationRequest{})
	g.AddSchema("CalculationResult", CalculationResult{})
	g.AddSchema("MLRImpactRequest", mlrRequest{})
	g.AddSchema("MLRImpact", MLRImpact{})
	g.AddSchema("ProviderRatePage", providerRatePage{})

	g.AddOperation(openapi.Operation{
		Method:      http.MethodPost,
		Path:        "/claims/calculate",
		OperationID: "calculateClaim",
		Summary:     "Split a claim between member and insurer",
		Tag:         "claims",
		Roles:       calcRoles,
		Request:     "ClaimCalculationRequest",
		Response:    "CalculationResult",
	})
	g.AddOperation(openapi.Operation{
		Method:      http.MethodPost,
		Path:        "/claims/mlr-impact",
		OperationID: "mlrImpact",
		Summary:     "Project the medical loss ratio of a premium after a claim",
		Tag:         "claims",
		Roles:       calcRoles,
		Request:     "MLRImpactRequest",
		Response:    "MLRImpact",
	})
	g.AddOperation(openapi.Operation{
		Method:      http.MethodGet,
		Path:        "/provider-rates",
		OperationID: "listProviderRates",
		Summary:     "List an institution's negotiated rates",
		Tag:         "rates",
		Roles:       readRoles,
		Params: []openapi.Param{
			{Name: "institution_id", In: "query", Type: "string", Format: "uuid", Required: true},
			{Name: "limit", In: "query", Type: "integer"},
			{Name: "offset", In: "query", Type: "integer"},
		},
		Response: "ProviderRatePage",
	})
}

func (h *Handler) Calculate(c echo.Context) error {
	var req ClaimCalculationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.CalculateFinancialResponsibility(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type mlrRequest struct {
	InsurerResponsibility float64 `json:"insurer_responsibility" validate:"gte=0"`
	MemberResponsibility  float64 `json:"member_responsibility" validate:"gte=0"`
	Premium               float64 `json:"premium" validate:"gt=0"`
}

func (h *Handler) MLRImpact(c echo.Context) error {
	var req mlrRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	impact, err := h.svc.CalculateMLRImpact(req.InsurerResponsibility, req.MemberResponsibility, req.Premium)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, impact)
}

func (h *Handler) ListProviderRates(c echo.Context) error {
	instID, err := uuid.Parse(c.QueryParam("institution_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid institution_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.rates.ListByInstitution(c.Request().Context(), instID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func httpError(err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
