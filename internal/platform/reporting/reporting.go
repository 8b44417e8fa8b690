package reporting

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"golang.org/x/exp/maps"
)

// MeasureKind selects how a measure turns a tally into a number.
type MeasureKind string

const (
	// KindCount reports the number of matching records.
	KindCount MeasureKind = "count"
	// KindDistinctAverage reports matching records divided by the number of
	// distinct patients among them.
	KindDistinctAverage MeasureKind = "distinct_average"
)

// Condition restricts a measure to records whose Field equals Value. The zero
// Condition matches every record.
type Condition struct {
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

func (c Condition) IsZero() bool {
	return c.Field == ""
}

func (c Condition) String() string {
	if c.IsZero() {
		return "*"
	}
	return fmt.Sprintf("%s=%q", c.Field, c.Value)
}

// MeasureDefinition is one named number in a statistics report.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Kind        MeasureKind `json:"kind"`
	Condition   Condition   `json:"condition"`
}

// Tally is what a data source reports for one condition.
type Tally struct {
	Records  int
	Patients int
}

// Tallier counts records and distinct patients for each condition.
type Tallier interface {
	Tally(ctx context.Context, conds []Condition) (map[Condition]Tally, error)
}

type TallierFunc func(ctx context.Context, conds []Condition) (map[Condition]Tally, error)

func (f TallierFunc) Tally(ctx context.Context, conds []Condition) (map[Condition]Tally, error) {
	return f(ctx, conds)
}

// Report maps measure ids to their values: int for counts, float64 for
// averages.
type Report map[string]interface{}

// Conditions returns the distinct conditions used by measures, in first-use
// order.
func Conditions(measures []MeasureDefinition) []Condition {
	seen := make(map[Condition]bool, len(measures))
	var out []Condition
	for _, m := range measures {
		if seen[m.Condition] {
			continue
		}
		seen[m.Condition] = true
		out = append(out, m.Condition)
	}
	return out
}

// Evaluate asks t for every condition at once and computes each measure.
func Evaluate(ctx context.Context, t Tallier, measures []MeasureDefinition) (Report, error) {
	tallies, err := t.Tally(ctx, Conditions(measures))
	if err != nil {
		return nil, fmt.Errorf("tally measures: %w", err)
	}

	report := make(Report, len(measures))
	for _, m := range measures {
		tl := tallies[m.Condition]
		switch m.Kind {
		case KindCount:
			report[m.ID] = tl.Records
		case KindDistinctAverage:
			report[m.ID] = Average(tl.Records, tl.Patients)
		default:
			return nil, fmt.Errorf("measure %s: unknown kind %q", m.ID, m.Kind)
		}
	}
	return report, nil
}

// Average divides n by d rounded to 2 decimals. A zero divisor yields 0.
func Average(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*100) / 100
}

// Catalog is a named set of measures served together.
type Catalog struct {
	Name     string              `json:"name"`
	Measures []MeasureDefinition `json:"measures"`
}

// Handler lists the measure catalogs so clients can discover which keys a
// statistics report carries.
type Handler struct {
	catalogs map[string]Catalog
}

func NewHandler(catalogs ...Catalog) *Handler {
	h := &Handler{catalogs: make(map[string]Catalog, len(catalogs))}
	for _, c := range catalogs {
		h.catalogs[c.Name] = c
	}
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:catalog", h.GetCatalog)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	names := maps.Keys(h.catalogs)
	sort.Strings(names)

	out := make([]Catalog, 0, len(names))
	for _, n := range names {
		out = append(out, h.catalogs[n])
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetCatalog(c echo.Context) error {
	cat, ok := h.catalogs[c.Param("catalog")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "catalog not found")
	}
	return c.JSON(http.StatusOK, cat)
}
