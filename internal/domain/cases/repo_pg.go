package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chw/casereport/internal/platform/db"
	"github.com/chw/casereport/internal/platform/reporting"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository { return &caseRepoPG{pool: pool} }

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const caseCols = `id, patient_name, created_by, district, sex, disease, visit_type,
	housing_type, reporting_method, treatment, follow_up_plan, encounter_location,
	classification, admission_status, diagnosis, symptoms, vital_signs, triage_level,
	procedures_done, lab_tests_ordered, created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.PatientName, &c.CreatedBy, &c.District, &c.Sex, &c.Disease, &c.VisitType,
		&c.HousingType, &c.ReportingMethod, &c.Treatment, &c.FollowUpPlan, &c.EncounterLocation,
		&c.Classification, &c.AdmissionStatus, &c.Diagnosis, &c.Symptoms, &c.VitalSigns, &c.TriageLevel,
		&c.ProceduresDone, &c.LabTestsOrdered, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

// sqlArgs collects positional parameters while a statement is built.
type sqlArgs []interface{}

func (a *sqlArgs) add(v interface{}) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// filterConds renders f as SQL predicates.
func filterConds(f Filter, args *sqlArgs) []string {
	var conds []string
	if f.Scope == ScopeMine {
		conds = append(conds, "created_by = "+args.add(f.Caller))
	}
	if f.PatientName != "" {
		conds = append(conds, "patient_name ILIKE "+args.add("%"+escapeLike(f.PatientName)+"%")+` ESCAPE '\'`)
	}
	return conds
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO cases (id, patient_name, created_by, district, sex, disease, visit_type,
			housing_type, reporting_method, treatment, follow_up_plan, encounter_location,
			classification, admission_status, diagnosis, symptoms, vital_signs, triage_level,
			procedures_done, lab_tests_ordered)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientName, c.CreatedBy, c.District, c.Sex, c.Disease, c.VisitType,
		c.HousingType, c.ReportingMethod, c.Treatment, c.FollowUpPlan, c.EncounterLocation,
		c.Classification, c.AdmissionStatus, c.Diagnosis, c.Symptoms, c.VitalSigns, c.TriageLevel,
		c.ProceduresDone, c.LabTestsOrdered).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *caseRepoPG) GetByID(ctx context.Context, f Filter, id uuid.UUID) (*Case, error) {
	args := sqlArgs{}
	conds := append([]string{"id = " + args.add(id)}, filterConds(f, &args)...)
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases`+whereClause(conds), args...))
}

func (r *caseRepoPG) Update(ctx context.Context, f Filter, c *Case) error {
	args := sqlArgs{c.ID, c.PatientName, c.District, c.Sex, c.Disease, c.VisitType,
		c.HousingType, c.ReportingMethod, c.Treatment, c.FollowUpPlan, c.EncounterLocation,
		c.Classification, c.AdmissionStatus, c.Diagnosis, c.Symptoms, c.VitalSigns, c.TriageLevel,
		c.ProceduresDone, c.LabTestsOrdered}
	conds := append([]string{"id = $1"}, filterConds(f, &args)...)

	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE cases SET patient_name=$2, district=$3, sex=$4, disease=$5, visit_type=$6,
			housing_type=$7, reporting_method=$8, treatment=$9, follow_up_plan=$10,
			encounter_location=$11, classification=$12, admission_status=$13, diagnosis=$14,
			symptoms=$15, vital_signs=$16, triage_level=$17, procedures_done=$18,
			lab_tests_ordered=$19, updated_at=NOW()`+whereClause(conds)+`
		RETURNING created_by, created_at, updated_at`,
		args...).Scan(&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *caseRepoPG) Delete(ctx context.Context, f Filter, id uuid.UUID) error {
	args := sqlArgs{}
	conds := append([]string{"id = " + args.add(id)}, filterConds(f, &args)...)
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM cases`+whereClause(conds), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Case, int, error) {
	args := sqlArgs{}
	where := whereClause(filterConds(f, &args))

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + caseCols + ` FROM cases` + where +
		` ORDER BY created_at DESC, id LIMIT ` + args.add(limit) + ` OFFSET ` + args.add(offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// countByQuery builds the grouped count for field under f.
func countByQuery(f Filter, field GroupField) (string, []interface{}, error) {
	col, err := field.column()
	if err != nil {
		return "", nil, err
	}
	args := sqlArgs{}
	where := whereClause(filterConds(f, &args))
	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM cases%[2]s GROUP BY %[1]s ORDER BY %[1]s ASC NULLS LAST`, col, where)
	return query, args, nil
}

func (r *caseRepoPG) CountBy(ctx context.Context, f Filter, field GroupField) ([]GroupCount, error) {
	query, args, err := countByQuery(f, field)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count cases by %s: %w", field, err)
	}
	defer rows.Close()

	out := []GroupCount{}
	for rows.Next() {
		g := GroupCount{Field: field}
		if err := rows.Scan(&g.Value, &g.Count); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// tallyQuery selects a record count and a distinct patient count per
// condition, all in one pass over the filtered set.
func tallyQuery(f Filter, conds []reporting.Condition) (string, []interface{}, error) {
	args := sqlArgs{}
	where := whereClause(filterConds(f, &args))

	cols := make([]string, 0, 2*len(conds))
	for _, c := range conds {
		if c.IsZero() {
			cols = append(cols, "COUNT(*)", "COUNT(DISTINCT patient_name)")
			continue
		}
		col, err := GroupField(c.Field).column()
		if err != nil {
			return "", nil, err
		}
		pred := col + " = " + args.add(c.Value)
		cols = append(cols,
			"COUNT(*) FILTER (WHERE "+pred+")",
			"COUNT(DISTINCT patient_name) FILTER (WHERE "+pred+")")
	}
	if len(cols) == 0 {
		return "", nil, errors.New("no conditions to tally")
	}
	return `SELECT ` + strings.Join(cols, ", ") + ` FROM cases` + where, args, nil
}

func (r *caseRepoPG) Tally(ctx context.Context, f Filter, conds []reporting.Condition) (map[reporting.Condition]reporting.Tally, error) {
	out := make(map[reporting.Condition]reporting.Tally, len(conds))
	if len(conds) == 0 {
		return out, nil
	}
	query, args, err := tallyQuery(f, conds)
	if err != nil {
		return nil, err
	}

	counts := make([]int, 2*len(conds))
	dest := make([]interface{}, len(counts))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("tally cases: %w", err)
	}

	for i, c := range conds {
		out[c] = reporting.Tally{Records: counts[2*i], Patients: counts[2*i+1]}
	}
	return out, nil
}
