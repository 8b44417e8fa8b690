package cases

import (
	"errors"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"

	"github.com/chw/casereport/internal/platform/auth"
	"github.com/chw/casereport/pkg/pagination"
)

// allCasesGroups maps /cases/<path> to the field it groups by.
var allCasesGroups = map[string]GroupField{
	"by-district":          FieldDistrict,
	"gender-distribution":  FieldSex,
	"disease-distribution": FieldDisease,
	"visits":               FieldVisitType,
	"house_type":           FieldHousingType,
	"reporting_methods":    FieldReportingMethod,
	"treatments":           FieldTreatment,
	"followupplan":         FieldFollowUpPlan,
	"encounterlocation":    FieldEncounterLocation,
}

// myCasesGroups maps /my-cases/<path> to the field it groups by.
var myCasesGroups = map[string]GroupField{
	"by-district":            FieldDistrict,
	"disease-distribution":   FieldDisease,
	"gender-distribution":    FieldSex,
	"diagnosis-distribution": FieldDiagnosis,
	"treatment-distribution": FieldTreatment,
	"symptoms-distribution":  FieldSymptoms,
	"house_types":            FieldHousingType,
	"classifications":        FieldClassification,
	"admission-stats":        FieldAdmissionStatus,
	"vitals":                 FieldVitalSigns,
	"triage":                 FieldTriageLevel,
	"procedures-done":        FieldProceduresDone,
	"lab-tests-ordered":      FieldLabTestsOrdered,
}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	h.mount(api.Group("/cases"), ScopeAll, allCasesGroups)
	h.mount(api.Group("/my-cases"), ScopeMine, myCasesGroups)
}

func (h *Handler) mount(g *echo.Group, scope Scope, groups map[string]GroupField) {
	paths := maps.Keys(groups)
	sort.Strings(paths)
	for _, p := range paths {
		g.GET("/"+p, h.GroupCount(scope, groups[p]))
	}
	g.GET("/statistics", h.Statistics(scope))

	g.GET("", h.ListCases(scope))
	g.POST("", h.CreateCase)
	g.GET("/:id", h.GetCase(scope))
	g.PUT("/:id", h.UpdateCase(scope))
	g.DELETE("/:id", h.DeleteCase(scope))
}

// filter resolves the record set a request may touch. The name filter only
// applies to the all-cases view.
func filter(c echo.Context, scope Scope) (Filter, error) {
	caller := auth.UserIDFromContext(c.Request().Context())
	if caller == "" {
		return Filter{}, ErrUnauthenticated
	}
	if scope == ScopeMine {
		return MyCases(caller), nil
	}
	f := AllCases(c.QueryParam("patient_name"))
	f.Caller = caller
	return f, nil
}

func (h *Handler) GroupCount(scope Scope, field GroupField) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filter(c, scope)
		if err != nil {
			return h.fail(c, err)
		}
		rows, err := h.svc.GroupCount(c.Request().Context(), f, field)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func (h *Handler) Statistics(scope Scope) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filter(c, scope)
		if err != nil {
			return h.fail(c, err)
		}
		report, err := h.svc.Statistics(c.Request().Context(), f)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, report)
	}
}

func (h *Handler) ListCases(scope Scope) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filter(c, scope)
		if err != nil {
			return h.fail(c, err)
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListCases(c.Request().Context(), f, pg.Limit, pg.Offset)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
}

// CreateCase is shared by both views; the new record is always owned by
// the caller.
func (h *Handler) CreateCase(c echo.Context) error {
	caller := auth.UserIDFromContext(c.Request().Context())
	if caller == "" {
		return h.fail(c, ErrUnauthenticated)
	}
	var cs Case
	if err := c.Bind(&cs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateCase(c.Request().Context(), caller, &cs); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) GetCase(scope Scope) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filter(c, scope)
		if err != nil {
			return h.fail(c, err)
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		cs, err := h.svc.GetCase(c.Request().Context(), f, id)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, cs)
	}
}

func (h *Handler) UpdateCase(scope Scope) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filter(c, scope)
		if err != nil {
			return h.fail(c, err)
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		var cs Case
		if err := c.Bind(&cs); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		cs.ID = id
		if err := h.svc.UpdateCase(c.Request().Context(), f, &cs); err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, cs)
	}
}

func (h *Handler) DeleteCase(scope Scope) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filter(c, scope)
		if err != nil {
			return h.fail(c, err)
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		if err := h.svc.DeleteCase(c.Request().Context(), f, id); err != nil {
			return h.fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// fail maps domain errors to HTTP responses. Store failures are logged and
// reported without detail.
func (h *Handler) fail(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"message": "validation failed",
			"errors":  verr.Fields,
		})
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication credentials were not provided")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, ErrInvalidGroupField):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).
		Str("request_id", rid).
		Str("path", c.Request().URL.Path).
		Msg("case store failure")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
