package cases

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chw/casereport/internal/platform/reporting"
)

// -- Mock Repository --

type mockCaseRepo struct {
	records map[uuid.UUID]*Case
	calls   int
	err     error
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{records: make(map[uuid.UUID]*Case)}
}

// matches mirrors the store's scope and case-insensitive name filter.
func matches(f Filter, c *Case) bool {
	if f.Scope == ScopeMine && c.CreatedBy != f.Caller {
		return false
	}
	if f.PatientName != "" && !strings.Contains(strings.ToLower(c.PatientName), strings.ToLower(f.PatientName)) {
		return false
	}
	return true
}

func (m *mockCaseRepo) matching(f Filter) []*Case {
	var out []*Case
	for _, c := range m.records {
		if matches(f, c) {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	m.calls++
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.records[c.ID] = &cp
	return m.err
}

func (m *mockCaseRepo) GetByID(_ context.Context, f Filter, id uuid.UUID) (*Case, error) {
	m.calls++
	c, ok := m.records[id]
	if !ok || !matches(f, c) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockCaseRepo) Update(_ context.Context, f Filter, c *Case) error {
	m.calls++
	old, ok := m.records[c.ID]
	if !ok || !matches(f, old) {
		return ErrNotFound
	}
	c.CreatedBy = old.CreatedBy
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now()
	cp := *c
	m.records[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) Delete(_ context.Context, f Filter, id uuid.UUID) error {
	m.calls++
	c, ok := m.records[id]
	if !ok || !matches(f, c) {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockCaseRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Case, int, error) {
	m.calls++
	items := m.matching(f)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (m *mockCaseRepo) CountBy(_ context.Context, f Filter, field GroupField) ([]GroupCount, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	counts := map[string]int{}
	nulls := 0
	for _, c := range m.matching(f) {
		if v := c.Attribute(field); v != nil {
			counts[*v]++
		} else {
			nulls++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []GroupCount
	for _, k := range keys {
		v := k
		out = append(out, GroupCount{Field: field, Value: &v, Count: counts[k]})
	}
	if nulls > 0 {
		out = append(out, GroupCount{Field: field, Count: nulls})
	}
	return out, nil
}

func (m *mockCaseRepo) Tally(_ context.Context, f Filter, conds []reporting.Condition) (map[reporting.Condition]reporting.Tally, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := map[reporting.Condition]reporting.Tally{}
	for _, cond := range conds {
		names := map[string]bool{}
		records := 0
		for _, c := range m.matching(f) {
			if !cond.IsZero() {
				v := c.Attribute(GroupField(cond.Field))
				if v == nil || *v != cond.Value {
					continue
				}
			}
			records++
			names[c.PatientName] = true
		}
		out[cond] = reporting.Tally{Records: records, Patients: len(names)}
	}
	return out, nil
}

func str(s string) *string { return &s }

func seed(t *testing.T, repo *mockCaseRepo, caller string, cases ...*Case) {
	t.Helper()
	for _, c := range cases {
		c.CreatedBy = caller
		if err := repo.Create(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func scenario(t *testing.T) (*Service, *mockCaseRepo) {
	t.Helper()
	repo := newMockCaseRepo()
	seed(t, repo, "X",
		&Case{PatientName: "Jane Doe", District: str("A"), Sex: str("Male")},
		&Case{PatientName: "John Roe", District: str("A"), Sex: str("Female")},
		&Case{PatientName: "Mary Poe", District: str("B"), Sex: str("Male")},
	)
	return NewService(repo), repo
}

// -- Group counts --

func TestGroupCount_ByDistrict(t *testing.T) {
	svc, _ := scenario(t)
	rows, err := svc.GroupCount(context.Background(), AllCases(""), FieldDistrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if *rows[0].Value != "A" || rows[0].Count != 2 {
		t.Errorf("expected A:2, got %s:%d", *rows[0].Value, rows[0].Count)
	}
	if *rows[1].Value != "B" || rows[1].Count != 1 {
		t.Errorf("expected B:1, got %s:%d", *rows[1].Value, rows[1].Count)
	}
}

func TestGroupCount_SumsToFilteredSize(t *testing.T) {
	svc, repo := scenario(t)
	seed(t, repo, "Y", &Case{PatientName: "No District"})

	for _, field := range GroupFields() {
		rows, err := svc.GroupCount(context.Background(), AllCases(""), field)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", field, err)
		}
		sum := 0
		seen := map[string]bool{}
		for _, r := range rows {
			sum += r.Count
			key := "<null>"
			if r.Value != nil {
				key = *r.Value
			}
			if seen[key] {
				t.Errorf("%s: value %q appears twice", field, key)
			}
			seen[key] = true
		}
		if sum != 4 {
			t.Errorf("%s: counts sum to %d, want 4", field, sum)
		}
	}
}

func TestGroupCount_NullsLast(t *testing.T) {
	svc, repo := scenario(t)
	seed(t, repo, "X", &Case{PatientName: "Unknown"})

	rows, err := svc.GroupCount(context.Background(), AllCases(""), FieldDistrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := rows[len(rows)-1]
	if last.Value != nil || last.Count != 1 {
		t.Errorf("expected null group last, got %+v", last)
	}
}

func TestGroupCount_NameFilter(t *testing.T) {
	svc, _ := scenario(t)

	rows, err := svc.GroupCount(context.Background(), AllCases("jan"), FieldSex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || *rows[0].Value != "Male" || rows[0].Count != 1 {
		t.Errorf("expected [Male:1], got %+v", rows)
	}

	rows, err = svc.GroupCount(context.Background(), AllCases("xyz"), FieldSex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestGroupCount_InvalidFieldRejectedBeforeQuery(t *testing.T) {
	svc, repo := scenario(t)
	repo.calls = 0

	_, err := svc.GroupCount(context.Background(), AllCases(""), GroupField("password"))
	if !errors.Is(err, ErrInvalidGroupField) {
		t.Errorf("expected ErrInvalidGroupField, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no store calls, got %d", repo.calls)
	}
}

func TestGroupCount_MineRequiresCaller(t *testing.T) {
	svc, repo := scenario(t)
	repo.calls = 0

	_, err := svc.GroupCount(context.Background(), MyCases(""), FieldDistrict)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no store calls, got %d", repo.calls)
	}
}

func TestGroupCount_MineIsolation(t *testing.T) {
	svc, repo := scenario(t)
	seed(t, repo, "Y", &Case{PatientName: "Other", District: str("C")})

	rows, err := svc.GroupCount(context.Background(), MyCases("Y"), FieldDistrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || *rows[0].Value != "C" {
		t.Errorf("expected only Y's district C, got %+v", rows)
	}
}

func TestGroupCount_MineWithoutCases(t *testing.T) {
	svc, _ := scenario(t)
	rows, err := svc.GroupCount(context.Background(), MyCases("Y"), FieldDistrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %+v", rows)
	}
}

func TestGroupCount_StoreError(t *testing.T) {
	svc, repo := scenario(t)
	repo.err = errors.New("connection reset")

	if _, err := svc.GroupCount(context.Background(), AllCases(""), FieldDistrict); err == nil {
		t.Error("expected store error to propagate")
	}
}

// -- Statistics --

func TestStatistics_All(t *testing.T) {
	svc, _ := scenario(t)
	report, err := svc.Statistics(context.Background(), AllCases(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report["total_cases"] != 3 || report["male_cases"] != 2 || report["female_cases"] != 1 {
		t.Errorf("expected 3/2/1, got %v/%v/%v", report["total_cases"], report["male_cases"], report["female_cases"])
	}
	if report["avg_total_cases"] != 1.0 {
		t.Errorf("avg_total_cases = %v, want 1", report["avg_total_cases"])
	}
	for _, m := range AllCasesMeasures {
		if _, ok := report[m.ID]; !ok {
			t.Errorf("missing key %s", m.ID)
		}
	}
}

func TestStatistics_DistinctAverage(t *testing.T) {
	repo := newMockCaseRepo()
	seed(t, repo, "X",
		&Case{PatientName: "Jane Doe", Sex: str("Female")},
		&Case{PatientName: "Jane Doe", Sex: str("Female")},
		&Case{PatientName: "Ann Lee", Sex: str("Female")},
	)
	report, err := NewService(repo).Statistics(context.Background(), AllCases(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report["avg_total_cases"] != 1.5 {
		t.Errorf("avg_total_cases = %v, want 1.5", report["avg_total_cases"])
	}
	if report["avg_female_cases"] != 1.5 {
		t.Errorf("avg_female_cases = %v, want 1.5", report["avg_female_cases"])
	}
	if report["avg_male_cases"] != 0.0 {
		t.Errorf("avg_male_cases = %v, want 0", report["avg_male_cases"])
	}
}

func TestStatistics_NoMatches(t *testing.T) {
	svc, _ := scenario(t)
	report, err := svc.Statistics(context.Background(), AllCases("xyz"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range AllCasesMeasures {
		switch m.Kind {
		case reporting.KindCount:
			if report[m.ID] != 0 {
				t.Errorf("%s = %v, want 0", m.ID, report[m.ID])
			}
		case reporting.KindDistinctAverage:
			if report[m.ID] != 0.0 {
				t.Errorf("%s = %v, want 0.0", m.ID, report[m.ID])
			}
		}
	}
}

func TestStatistics_Mine(t *testing.T) {
	svc, repo := scenario(t)
	seed(t, repo, "Y",
		&Case{PatientName: "P1", AdmissionStatus: str("Discharged"), VitalSigns: str("Respiratory Rate")},
		&Case{PatientName: "P2", AdmissionStatus: str("Referred"), Classification: str("Confirmed")},
	)

	report, err := svc.Statistics(context.Background(), MyCases("Y"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]int{
		"total_cases":          2,
		"male_cases":           0,
		"discharged_cases":     1,
		"referred_cases":       1,
		"outpatient_cases":     0,
		"confirmed_cases":      1,
		"respiratory_readings": 1,
	}
	for k, v := range want {
		if report[k] != v {
			t.Errorf("%s = %v, want %d", k, report[k], v)
		}
	}
	if len(report) != len(MyCasesMeasures) {
		t.Errorf("expected %d keys, got %d", len(MyCasesMeasures), len(report))
	}
}

func TestStatistics_MineRequiresCaller(t *testing.T) {
	svc, repo := scenario(t)
	repo.calls = 0
	if _, err := svc.Statistics(context.Background(), MyCases("")); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no store calls, got %d", repo.calls)
	}
}

// -- CRUD --

func TestCreateCase_StampsCaller(t *testing.T) {
	repo := newMockCaseRepo()
	svc := NewService(repo)
	c := &Case{PatientName: "  Jane  ", CreatedBy: "someone-else"}

	if err := svc.CreateCase(context.Background(), "X", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CreatedBy != "X" {
		t.Errorf("expected creator X, got %s", c.CreatedBy)
	}
	if c.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if c.PatientName != "Jane" {
		t.Errorf("expected trimmed name, got %q", c.PatientName)
	}
}

func TestCreateCase_RequiresCaller(t *testing.T) {
	svc := NewService(newMockCaseRepo())
	err := svc.CreateCase(context.Background(), "", &Case{PatientName: "Jane"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCreateCase_Validation(t *testing.T) {
	svc := NewService(newMockCaseRepo())
	err := svc.CreateCase(context.Background(), "X", &Case{PatientName: "   "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["patient_name"]; !ok {
		t.Errorf("expected patient_name error, got %v", verr.Fields)
	}
}

func TestGetCase_ScopedToCaller(t *testing.T) {
	svc, repo := scenario(t)
	var id uuid.UUID
	for k := range repo.records {
		id = k
		break
	}

	if _, err := svc.GetCase(context.Background(), MyCases("X"), id); err != nil {
		t.Errorf("owner should see the case: %v", err)
	}
	if _, err := svc.GetCase(context.Background(), MyCases("Y"), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another caller, got %v", err)
	}
	if _, err := svc.GetCase(context.Background(), AllCases(""), id); err != nil {
		t.Errorf("all scope should see the case: %v", err)
	}
}

func TestUpdateCase_KeepsCreator(t *testing.T) {
	svc, repo := scenario(t)
	var id uuid.UUID
	for k := range repo.records {
		id = k
		break
	}
	created := repo.records[id].CreatedAt

	upd := &Case{ID: id, PatientName: "Renamed", CreatedBy: "Y", District: str("Z")}
	if err := svc.UpdateCase(context.Background(), MyCases("X"), upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := repo.records[id]
	if got.CreatedBy != "X" || !got.CreatedAt.Equal(created) {
		t.Errorf("creator or creation time changed: %+v", got)
	}
	if *got.District != "Z" {
		t.Errorf("expected district Z, got %v", got.District)
	}

	err := svc.UpdateCase(context.Background(), MyCases("Y"), &Case{ID: id, PatientName: "Hijack"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another caller, got %v", err)
	}
}

func TestDeleteCase(t *testing.T) {
	svc, repo := scenario(t)
	var id uuid.UUID
	for k := range repo.records {
		id = k
		break
	}

	if err := svc.DeleteCase(context.Background(), MyCases("Y"), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another caller, got %v", err)
	}
	if err := svc.DeleteCase(context.Background(), MyCases("X"), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.records[id]; ok {
		t.Error("expected case to be deleted")
	}
}

func TestListCases(t *testing.T) {
	svc, _ := scenario(t)

	items, total, err := svc.ListCases(context.Background(), AllCases("o"), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Errorf("expected 3 cases containing 'o', got total=%d len=%d", total, len(items))
	}

	items, total, err = svc.ListCases(context.Background(), MyCases("Y"), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("expected no cases for Y, got %d", total)
	}
}
