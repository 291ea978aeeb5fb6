package jobs

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestParseSalary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label  string
		expect SalaryRange
	}{
		{label: "20-40K", expect: SalaryRange{Min: 20, Max: 40}},
		{label: "20K-40K·13薪", expect: SalaryRange{Min: 20, Max: 40}},
		{label: "15-25k·14薪", expect: SalaryRange{Min: 15, Max: 25}},
		{label: "面议", expect: SalaryRange{}},
		{label: "150-200元/天", expect: SalaryRange{}},
		{label: "", expect: SalaryRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			t.Parallel()
			if got := ParseSalary(tt.label); got != tt.expect {
				t.Fatalf("expected %+v, got %+v", tt.expect, got)
			}
		})
	}
}

func TestSalaryOverlap(t *testing.T) {
	t.Parallel()

	a := SalaryRange{Min: 20, Max: 30}
	if !a.Overlaps(SalaryRange{Min: 30, Max: 40}) {
		t.Fatalf("touching ranges should overlap")
	}
	if a.Overlaps(SalaryRange{Min: 31, Max: 40}) {
		t.Fatalf("disjoint ranges should not overlap")
	}
	if a.Overlaps(SalaryRange{}) {
		t.Fatalf("unknown range never overlaps")
	}
}

func TestParseExperience(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label  string
		expect ExperienceBand
	}{
		{label: "1-3年", expect: ExperienceBand{MinMonths: 12, MaxMonths: 36}},
		{label: "5-10年", expect: ExperienceBand{MinMonths: 60, MaxMonths: 120}},
		{label: "10年以上", expect: ExperienceBand{MinMonths: 120}},
		{label: "1年以内", expect: ExperienceBand{MaxMonths: 12}},
		{label: "经验不限", expect: ExperienceBand{}},
		{label: "应届生", expect: ExperienceBand{}},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			t.Parallel()
			if got := ParseExperience(tt.label); got != tt.expect {
				t.Fatalf("expected %+v, got %+v", tt.expect, got)
			}
		})
	}
}

func TestParseEducation(t *testing.T) {
	t.Parallel()

	tests := map[string]Education{
		"本科":             EducationBachelor,
		"硕士":             EducationMaster,
		"博士":             EducationDoctorate,
		"大专":             EducationBelowBachelor,
		"学历不限":           EducationUnknown,
		"Master":         EducationMaster,
		"bachelor":       EducationBachelor,
		"below-bachelor": EducationBelowBachelor,
		"":               EducationUnknown,
	}

	for label, expect := range tests {
		if got := ParseEducation(label); got != expect {
			t.Fatalf("%q: expected %s, got %s", label, expect, got)
		}
	}

	if !(EducationDoctorate > EducationMaster && EducationMaster > EducationBachelor && EducationBachelor > EducationBelowBachelor) {
		t.Fatalf("education levels must be ordered")
	}
}

func TestNormalizeSkills(t *testing.T) {
	t.Parallel()

	got := NormalizeSkills([]string{" Python ", "SQL", "python", "", "Machine  Learning"})
	want := []string{"python", "sql", "machine learning"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPostingsAddAndExclude(t *testing.T) {
	t.Parallel()

	p := &Postings{}
	for _, id := range []string{"a", "b", "c", "a"} {
		p.Add(&JobPosting{ID: id, Company: "co-" + id})
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 unique postings, got %d", p.Len())
	}

	excluded := p.Exclude(PostingCompanyField, []string{"co-b"})
	if !slices.Equal(excluded, []string{"b"}) {
		t.Fatalf("unexpected excluded ids %v", excluded)
	}
	if !slices.Equal(p.IDs(), []string{"a", "c"}) {
		t.Fatalf("order must be preserved, got %v", p.IDs())
	}
	if p.FindByID("b") != nil {
		t.Fatalf("excluded posting still present")
	}
}

func TestReportByCompany(t *testing.T) {
	t.Parallel()

	p := &Postings{Items: []*JobPosting{
		{ID: "1", Title: "Go Developer", Company: "Acme", City: "上海", Salary: SalaryRange{Min: 20, Max: 30}},
		{ID: "2", Title: "SRE", Company: "Acme", City: "北京"},
	}}

	entries := p.ReportByCompany()["Acme"]
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["salary"] != "20-30K" || entries[1]["salary"] != "negotiable" {
		t.Fatalf("unexpected salaries %q %q", entries[0]["salary"], entries[1]["salary"])
	}
}

func TestExcludedPostingsRoundTripThroughFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "excluded.json")

	p := &Postings{Items: []*JobPosting{{ID: "x1", Company: "Acme"}, {ID: "x2", Company: "Globex"}}}
	if err := p.ToExcluded(ExcludeActorOperator, "").ToFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := ExcludedPostingsFromFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !slices.Equal(loaded.PostingIDs(), []string{"x1", "x2"}) {
		t.Fatalf("unexpected ids %v", loaded.PostingIDs())
	}
	if loaded.Items[0].Actor != ExcludeActorOperator {
		t.Fatalf("actor not persisted: %+v", loaded.Items[0])
	}
}
