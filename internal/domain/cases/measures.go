package cases

import "github.com/chw/casereport/internal/platform/reporting"

func count(id, name string, field GroupField, value string) reporting.MeasureDefinition {
	return reporting.MeasureDefinition{
		ID:          id,
		Name:        name,
		Description: describe("Number of cases", field, value),
		Kind:        reporting.KindCount,
		Condition:   reporting.Condition{Field: string(field), Value: value},
	}
}

func average(id, name string, field GroupField, value string) reporting.MeasureDefinition {
	return reporting.MeasureDefinition{
		ID:          id,
		Name:        name,
		Description: describe("Cases per distinct patient name", field, value),
		Kind:        reporting.KindDistinctAverage,
		Condition:   reporting.Condition{Field: string(field), Value: value},
	}
}

func describe(prefix string, field GroupField, value string) string {
	if field == "" {
		return prefix
	}
	return prefix + " with " + string(field) + " " + value
}

// AllCasesMeasures backs /cases/statistics.
var AllCasesMeasures = []reporting.MeasureDefinition{
	count("total_cases", "Total Cases", "", ""),
	count("male_cases", "Male Cases", FieldSex, "Male"),
	count("female_cases", "Female Cases", FieldSex, "Female"),
	count("confirmed_cases", "Confirmed Cases", FieldClassification, "Confirmed"),
	count("probable_cases", "Probable Cases", FieldClassification, "Probable"),
	count("per_housing_type", "Permanent Housing", FieldHousingType, "Permanent"),
	count("sem_housing_type", "Semi-permanent Housing", FieldHousingType, "Semi-permanent"),
	count("out_visit_type", "Outpatient Visits", FieldVisitType, "Outpatient"),
	count("inp_visit_type", "Inpatient Visits", FieldVisitType, "Inpatient"),
	count("em_visit_type", "Emergency Visits", FieldVisitType, "Emergency"),
	average("avg_total_cases", "Average Cases per Patient", "", ""),
	average("avg_male_cases", "Average Male Cases per Patient", FieldSex, "Male"),
	average("avg_female_cases", "Average Female Cases per Patient", FieldSex, "Female"),
}

// MyCasesMeasures backs /my-cases/statistics.
var MyCasesMeasures = []reporting.MeasureDefinition{
	count("total_cases", "Total Cases", "", ""),
	count("male_cases", "Male Cases", FieldSex, "Male"),
	count("female_cases", "Female Cases", FieldSex, "Female"),
	count("probable_cases", "Probable Cases", FieldClassification, "Probable"),
	count("confirmed_cases", "Confirmed Cases", FieldClassification, "Confirmed"),
	count("discharged_cases", "Discharged", FieldAdmissionStatus, "Discharged"),
	count("outpatient_cases", "Outpatient", FieldAdmissionStatus, "Outpatient"),
	count("referred_cases", "Referred", FieldAdmissionStatus, "Referred"),
	count("temperature_readings", "Temperature Readings", FieldVitalSigns, "Temperature"),
	count("pulse_readings", "Pulse Readings", FieldVitalSigns, "Pulse"),
	count("respiratory_readings", "Respiratory Rate Readings", FieldVitalSigns, "Respiratory Rate"),
}

// MeasuresFor returns the catalog served for scope.
func MeasuresFor(scope Scope) []reporting.MeasureDefinition {
	if scope == ScopeMine {
		return MyCasesMeasures
	}
	return AllCasesMeasures
}

// Catalogs lists both statistics catalogs for the measures endpoint.
func Catalogs() []reporting.Catalog {
	return []reporting.Catalog{
		{Name: string(ScopeAll), Measures: AllCasesMeasures},
		{Name: string(ScopeMine), Measures: MyCasesMeasures},
	}
}
