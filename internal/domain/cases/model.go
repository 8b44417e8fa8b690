package cases

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

var (
	ErrNotFound          = errors.New("case not found")
	ErrUnauthenticated   = errors.New("caller identity required")
	ErrInvalidGroupField = errors.New("invalid group field")
)

// Case maps to the cases table.
type Case struct {
	ID                uuid.UUID `db:"id" json:"id"`
	PatientName       string    `db:"patient_name" json:"patient_name"`
	CreatedBy         string    `db:"created_by" json:"created_by"`
	District          *string   `db:"district" json:"district"`
	Sex               *string   `db:"sex" json:"sex"`
	Disease           *string   `db:"disease" json:"disease"`
	VisitType         *string   `db:"visit_type" json:"visit_type"`
	HousingType       *string   `db:"housing_type" json:"housing_type"`
	ReportingMethod   *string   `db:"reporting_method" json:"reporting_method"`
	Treatment         *string   `db:"treatment" json:"treatment"`
	FollowUpPlan      *string   `db:"follow_up_plan" json:"follow_up_plan"`
	EncounterLocation *string   `db:"encounter_location" json:"encounter_location"`
	Classification    *string   `db:"classification" json:"classification"`
	AdmissionStatus   *string   `db:"admission_status" json:"admission_status"`
	Diagnosis         *string   `db:"diagnosis" json:"diagnosis"`
	Symptoms          *string   `db:"symptoms" json:"symptoms"`
	VitalSigns        *string   `db:"vital_signs" json:"vital_signs"`
	TriageLevel       *string   `db:"triage_level" json:"triage_level"`
	ProceduresDone    *string   `db:"procedures_done" json:"procedures_done"`
	LabTestsOrdered   *string   `db:"lab_tests_ordered" json:"lab_tests_ordered"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// GroupField is a categorical attribute a case set can be grouped by.
type GroupField string

const (
	FieldDistrict          GroupField = "district"
	FieldSex               GroupField = "sex"
	FieldDisease           GroupField = "disease"
	FieldVisitType         GroupField = "visit_type"
	FieldHousingType       GroupField = "housing_type"
	FieldReportingMethod   GroupField = "reporting_method"
	FieldTreatment         GroupField = "treatment"
	FieldFollowUpPlan      GroupField = "follow_up_plan"
	FieldEncounterLocation GroupField = "encounter_location"
	FieldClassification    GroupField = "classification"
	FieldAdmissionStatus   GroupField = "admission_status"
	FieldDiagnosis         GroupField = "diagnosis"
	FieldSymptoms          GroupField = "symptoms"
	FieldVitalSigns        GroupField = "vital_signs"
	FieldTriageLevel       GroupField = "triage_level"
	FieldProceduresDone    GroupField = "procedures_done"
	FieldLabTestsOrdered   GroupField = "lab_tests_ordered"
)

// groupColumns is the only path from a GroupField to SQL.
var groupColumns = map[GroupField]string{
	FieldDistrict:          "district",
	FieldSex:               "sex",
	FieldDisease:           "disease",
	FieldVisitType:         "visit_type",
	FieldHousingType:       "housing_type",
	FieldReportingMethod:   "reporting_method",
	FieldTreatment:         "treatment",
	FieldFollowUpPlan:      "follow_up_plan",
	FieldEncounterLocation: "encounter_location",
	FieldClassification:    "classification",
	FieldAdmissionStatus:   "admission_status",
	FieldDiagnosis:         "diagnosis",
	FieldSymptoms:          "symptoms",
	FieldVitalSigns:        "vital_signs",
	FieldTriageLevel:       "triage_level",
	FieldProceduresDone:    "procedures_done",
	FieldLabTestsOrdered:   "lab_tests_ordered",
}

// ParseGroupField accepts only the closed set of groupable attributes.
func ParseGroupField(s string) (GroupField, error) {
	f := GroupField(s)
	if _, ok := groupColumns[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroupField, s)
	}
	return f, nil
}

// GroupFields returns every valid field in lexical order.
func GroupFields() []GroupField {
	fields := maps.Keys(groupColumns)
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

func (f GroupField) column() (string, error) {
	col, ok := groupColumns[f]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroupField, string(f))
	}
	return col, nil
}

// Attribute returns the value of field on c, or nil when unset or unknown.
func (c *Case) Attribute(f GroupField) *string {
	switch f {
	case FieldDistrict:
		return c.District
	case FieldSex:
		return c.Sex
	case FieldDisease:
		return c.Disease
	case FieldVisitType:
		return c.VisitType
	case FieldHousingType:
		return c.HousingType
	case FieldReportingMethod:
		return c.ReportingMethod
	case FieldTreatment:
		return c.Treatment
	case FieldFollowUpPlan:
		return c.FollowUpPlan
	case FieldEncounterLocation:
		return c.EncounterLocation
	case FieldClassification:
		return c.Classification
	case FieldAdmissionStatus:
		return c.AdmissionStatus
	case FieldDiagnosis:
		return c.Diagnosis
	case FieldSymptoms:
		return c.Symptoms
	case FieldVitalSigns:
		return c.VitalSigns
	case FieldTriageLevel:
		return c.TriageLevel
	case FieldProceduresDone:
		return c.ProceduresDone
	case FieldLabTestsOrdered:
		return c.LabTestsOrdered
	}
	return nil
}

// Scope selects which records a request may see.
type Scope string

const (
	ScopeAll  Scope = "all"
	ScopeMine Scope = "mine"
)

// Filter narrows the case set before grouping, counting or listing.
type Filter struct {
	Scope       Scope
	Caller      string
	PatientName string
}

// AllCases returns the unscoped filter, optionally matching patient names
// containing name.
func AllCases(name string) Filter {
	return Filter{Scope: ScopeAll, PatientName: strings.TrimSpace(name)}
}

// MyCases returns the filter for records created by caller.
func MyCases(caller string) Filter {
	return Filter{Scope: ScopeMine, Caller: caller}
}

func (f Filter) check() error {
	if f.Scope == ScopeMine && f.Caller == "" {
		return ErrUnauthenticated
	}
	return nil
}

// GroupCount is one row of a grouped count. It encodes as
// {"<field>": value, "count": n} with a null value for unset attributes.
type GroupCount struct {
	Field GroupField
	Value *string
	Count int
}

func (g GroupCount) MarshalJSON() ([]byte, error) {
	key, err := json.Marshal(string(g.Field))
	if err != nil {
		return nil, err
	}
	val, err := json.Marshal(g.Value)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteByte('{')
	b.Write(key)
	b.WriteByte(':')
	b.Write(val)
	b.WriteString(`,"count":`)
	b.WriteString(strconv.Itoa(g.Count))
	b.WriteByte('}')
	return b.Bytes(), nil
}

// ValidationError lists invalid request fields with a reason for each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := maps.Keys(e.Fields)
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

const maxTextLen = 255

// Validate checks required fields and length limits, and trims the patient
// name in place.
func (c *Case) Validate() error {
	errs := map[string]string{}

	c.PatientName = strings.TrimSpace(c.PatientName)
	if c.PatientName == "" {
		errs["patient_name"] = "this field is required"
	} else if len([]rune(c.PatientName)) > maxTextLen {
		errs["patient_name"] = fmt.Sprintf("at most %d characters", maxTextLen)
	}

	for _, f := range GroupFields() {
		if v := c.Attribute(f); v != nil && len([]rune(*v)) > maxTextLen {
			errs[string(f)] = fmt.Sprintf("at most %d characters", maxTextLen)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
