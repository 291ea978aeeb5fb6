// Package matching scores job postings against a résumé. Scoring is a pure
// function of its inputs: no I/O, no randomness.
package matching

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/resume"
)

const (
	FactorSkill      = "skill-overlap"
	FactorExperience = "experience-fit"
	FactorEducation  = "education-fit"
	FactorSalary     = "salary-fit"
	FactorLocality   = "locality-fit"
)

// SalaryGapTolerance is the relative salary gap at which salary-fit reaches zero.
const SalaryGapTolerance = 0.5

// unknownSalaryFit is used when either side does not state a salary.
const unknownSalaryFit = 0.5

type Factor struct {
	Name     string  `json:"name"`
	Raw      float64 `json:"raw"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

// Result is the explainable score of one posting. It references the posting
// by id only.
type Result struct {
	PostingID string   `json:"posting_id"`
	Score     int      `json:"score"`
	Factors   []Factor `json:"factors"`
}

func (r Result) Factor(name string) (Factor, bool) {
	for _, f := range r.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// Ranked pairs a posting with its score.
type Ranked struct {
	Posting *jobs.JobPosting `json:"posting"`
	Result  Result           `json:"match"`
}

type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score computes the weighted sum of the five factors, scaled to 0..100.
func (s *Scorer) Score(profile resume.Profile, posting *jobs.JobPosting) Result {
	raw := map[string]float64{
		FactorSkill:      SkillOverlap(profile.SkillTags(), posting.Skills),
		FactorExperience: ExperienceFit(profile.TotalExperienceMonths(), posting.Experience.MinMonths),
		FactorEducation:  EducationFit(profile.Education, posting.Education),
		FactorSalary:     SalaryFit(profile.ExpectedSalary, posting.Salary),
		FactorLocality:   LocalityFit(profile.TargetCity, posting.City, posting.Remote),
	}

	res := Result{PostingID: posting.ID, Factors: make([]Factor, 0, len(raw))}
	sum := 0.0
	for _, w := range s.weights.ordered() {
		f := Factor{Name: w.name, Raw: raw[w.name], Weight: w.weight}
		f.Weighted = f.Raw * f.Weight
		sum += f.Weighted
		res.Factors = append(res.Factors, f)
	}

	res.Score = min(max(int(math.Round(100*sum)), 0), 100)
	return res
}

// Rank scores every posting and orders them by score, best first.
func (s *Scorer) Rank(profile resume.Profile, postings []*jobs.JobPosting) []Ranked {
	ranked := make([]Ranked, 0, len(postings))
	for _, p := range postings {
		ranked = append(ranked, Ranked{Posting: p, Result: s.Score(profile, p)})
	}
	SortRanked(ranked)
	return ranked
}

// SortRanked orders by score descending, ties broken by posting id ascending.
func SortRanked(ranked []Ranked) {
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		if c := cmp.Compare(b.Result.Score, a.Result.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Result.PostingID, b.Result.PostingID)
	})
}

// SkillOverlap is |have ∩ required| / max(1, |required|) over normalized tags.
func SkillOverlap(have, required []string) float64 {
	required = jobs.NormalizeSkills(required)
	if len(required) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[jobs.NormalizeSkill(s)] = struct{}{}
	}

	matched := 0
	for _, r := range required {
		if _, ok := set[r]; ok {
			matched++
		}
	}

	return float64(matched) / float64(max(1, len(required)))
}

// ExperienceFit ramps linearly from 0 at zero months to 1 at the requirement.
func ExperienceFit(months, requiredMonths int) float64 {
	if months >= requiredMonths {
		return 1
	}
	if months <= 0 {
		return 0
	}
	return float64(months) / float64(requiredMonths)
}

// EducationFit compares the levels ordinally. An unstated requirement is
// always met.
func EducationFit(have, required jobs.Education) float64 {
	if required == jobs.EducationUnknown || have >= required {
		return 1
	}
	return 0
}

// SalaryFit is 1 for overlapping ranges and decays with the relative gap
// between the nearest bounds otherwise.
func SalaryFit(expected, offered jobs.SalaryRange) float64 {
	if !expected.Known() || !offered.Known() {
		return unknownSalaryFit
	}
	if expected.Overlaps(offered) {
		return 1
	}

	var gap float64
	if offered.Max < expected.Min {
		gap = float64(expected.Min-offered.Max) / float64(expected.Min)
	} else {
		gap = float64(offered.Min-expected.Max) / float64(offered.Min)
	}

	return max(0, 1-gap/SalaryGapTolerance)
}

func LocalityFit(target, city string, remote bool) float64 {
	if remote {
		return 1
	}
	target = strings.TrimSpace(target)
	if target != "" && strings.EqualFold(target, strings.TrimSpace(city)) {
		return 1
	}
	return 0
}
