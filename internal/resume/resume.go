// Package resume loads the job seeker's profile. Structured files are decoded
// directly; plain text goes through a keyword parser; binary containers are
// handed to a pluggable Extractor.
package resume

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

var ErrUnsupportedFormat = errors.New("unsupported resume format")

// ParseError wraps whatever the loader or an extractor returned.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse resume %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Skill struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	Tag  string `yaml:"tag,omitempty" json:"tag"`
}

type Experience struct {
	Role   string `yaml:"role" json:"role"`
	Months int    `yaml:"months" json:"months" validate:"gte=0"`
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`
}

// Profile is immutable once loaded; callers receive copies via Clone.
type Profile struct {
	Name             string           `json:"name"`
	Phone            string           `json:"phone,omitempty" validate:"omitempty,min=5,max=20"`
	Email            string           `json:"email,omitempty" validate:"omitempty,email"`
	Skills           []Skill          `json:"skills" validate:"dive"`
	Experience       []Experience     `json:"experience" validate:"dive"`
	Education        jobs.Education   `json:"education"`
	ExpectedSalary   jobs.SalaryRange `json:"expected_salary"`
	ExpectedPosition string           `json:"expected_position,omitempty"`
	TargetCity       string           `json:"target_city,omitempty"`
}

var validate = validator.New()

func (p *Profile) Validate() error {
	return validate.Struct(p)
}

func (p *Profile) TotalExperienceMonths() int {
	total := 0
	for _, e := range p.Experience {
		total += e.Months
	}
	return total
}

// Years rounds total experience down to whole years.
func (p *Profile) Years() int {
	return p.TotalExperienceMonths() / 12
}

// SkillTags returns the normalized tags in résumé order.
func (p *Profile) SkillTags() []string {
	tags := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		tags = append(tags, s.Tag)
	}
	return tags
}

// SkillNames returns up to limit display names; limit <= 0 means all.
func (p *Profile) SkillNames(limit int) []string {
	names := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		if limit > 0 && len(names) == limit {
			break
		}
		names = append(names, s.Name)
	}
	return names
}

func (p Profile) Clone() Profile {
	p.Skills = slices.Clone(p.Skills)
	p.Experience = slices.Clone(p.Experience)
	return p
}

func (p *Profile) normalize() {
	seen := make(map[string]struct{}, len(p.Skills))
	skills := p.Skills[:0]
	for _, s := range p.Skills {
		if s.Tag == "" {
			s.Tag = jobs.NormalizeSkill(s.Name)
		} else {
			s.Tag = jobs.NormalizeSkill(s.Tag)
		}
		if s.Tag == "" {
			continue
		}
		if _, ok := seen[s.Tag]; ok {
			continue
		}
		seen[s.Tag] = struct{}{}
		skills = append(skills, s)
	}
	p.Skills = skills
}
