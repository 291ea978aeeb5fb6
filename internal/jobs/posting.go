// Package jobs holds the posting model shared by search, matching and greeting.
package jobs

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	PostingIDField      = "ID"
	PostingCompanyField = "Company"
)

// JobPosting is one search result. Identity is ID.
type JobPosting struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Company         string         `json:"company"`
	City            string         `json:"city"`
	Salary          SalaryRange    `json:"salary"`
	Experience      ExperienceBand `json:"experience"`
	Education       Education      `json:"education"`
	Skills          []string       `json:"skills,omitempty"`
	Recruiter       string         `json:"recruiter,omitempty"`
	RecruiterActive string         `json:"recruiter_active,omitempty"`
	Remote          bool           `json:"remote,omitempty"`
	URL             string         `json:"url,omitempty"`
	Description     string         `json:"description,omitempty"`
}

func (p *JobPosting) GetStringField(name string) string {
	switch name {
	case PostingIDField:
		return p.ID
	case PostingCompanyField:
		return p.Company
	default:
		return ""
	}
}

// NormalizeSkill turns a free-form skill label into a comparable tag.
func NormalizeSkill(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeSkills normalizes, drops empties and deduplicates, keeping order.
func NormalizeSkills(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		tag := NormalizeSkill(s)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// SalaryRange is a monthly range in thousands of CNY. The zero value means unknown.
type SalaryRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

func (s SalaryRange) Known() bool {
	return s.Max > 0
}

// Overlaps reports whether both ranges are known and intersect.
func (s SalaryRange) Overlaps(o SalaryRange) bool {
	if !s.Known() || !o.Known() {
		return false
	}
	return s.Min <= o.Max && o.Min <= s.Max
}

func (s SalaryRange) String() string {
	if !s.Known() {
		return "negotiable"
	}
	return strconv.Itoa(s.Min) + "-" + strconv.Itoa(s.Max) + "K"
}

var salaryPattern = regexp.MustCompile(`(?i)(\d+)\s*[kK千]?\s*[-~至]\s*(\d+)\s*[kK千]`)

// ParseSalary understands the site's labels such as "20-40K", "20K-40K·13薪"
// and "面议". Anything else is unknown.
func ParseSalary(label string) SalaryRange {
	m := salaryPattern.FindStringSubmatch(label)
	if m == nil {
		return SalaryRange{}
	}

	lo, _ := strconv.Atoi(m[1])
	hi, _ := strconv.Atoi(m[2])
	if lo > hi {
		lo, hi = hi, lo
	}

	return SalaryRange{Min: lo, Max: hi}
}

// ExperienceBand is the required experience in months. MaxMonths 0 means open ended.
type ExperienceBand struct {
	MinMonths int `json:"min_months"`
	MaxMonths int `json:"max_months,omitempty"`
}

var (
	experienceRange = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s*年`)
	experienceAbove = regexp.MustCompile(`(\d+)\s*年以上`)
	experienceBelow = regexp.MustCompile(`(\d+)\s*年以[内下]`)
)

// ParseExperience understands "1-3年", "5-10年", "10年以上", "1年以内",
// "经验不限" and "应届生"/"在校生".
func ParseExperience(label string) ExperienceBand {
	if m := experienceRange.FindStringSubmatch(label); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		return ExperienceBand{MinMonths: lo * 12, MaxMonths: hi * 12}
	}
	if m := experienceAbove.FindStringSubmatch(label); m != nil {
		lo, _ := strconv.Atoi(m[1])
		return ExperienceBand{MinMonths: lo * 12}
	}
	if m := experienceBelow.FindStringSubmatch(label); m != nil {
		hi, _ := strconv.Atoi(m[1])
		return ExperienceBand{MaxMonths: hi * 12}
	}
	return ExperienceBand{}
}

// Education is ordered: a higher value satisfies every lower requirement.
type Education int

const (
	EducationUnknown Education = iota
	EducationBelowBachelor
	EducationBachelor
	EducationMaster
	EducationDoctorate
)

var educationNames = map[Education]string{
	EducationUnknown:       "unknown",
	EducationBelowBachelor: "below-bachelor",
	EducationBachelor:      "bachelor",
	EducationMaster:        "master",
	EducationDoctorate:     "doctorate",
}

func (e Education) String() string {
	if name, ok := educationNames[e]; ok {
		return name
	}
	return "unknown"
}

func (e Education) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Education) UnmarshalText(text []byte) error {
	*e = ParseEducation(string(text))
	return nil
}

var educationLabels = []struct {
	label string
	level Education
}{
	{"below-bachelor", EducationBelowBachelor},
	{"博士", EducationDoctorate},
	{"doctor", EducationDoctorate},
	{"phd", EducationDoctorate},
	{"硕士", EducationMaster},
	{"研究生", EducationMaster},
	{"master", EducationMaster},
	{"本科", EducationBachelor},
	{"学士", EducationBachelor},
	{"bachelor", EducationBachelor},
	{"大专", EducationBelowBachelor},
	{"专科", EducationBelowBachelor},
	{"高中", EducationBelowBachelor},
	{"中专", EducationBelowBachelor},
	{"中技", EducationBelowBachelor},
	{"初中", EducationBelowBachelor},
	{"associate", EducationBelowBachelor},
}

// ParseEducation maps English names and the site's Chinese labels onto the
// enum. "学历不限" and unrecognized labels are EducationUnknown.
func ParseEducation(label string) Education {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" || strings.Contains(l, "不限") {
		return EducationUnknown
	}
	for _, e := range educationLabels {
		if strings.Contains(l, e.label) {
			return e.level
		}
	}
	return EducationUnknown
}
