package resume

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

// Extractor turns a binary résumé container into plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

type Loader struct {
	// Extractors maps a lower-case extension such as ".pdf" to its extractor.
	Extractors map[string]Extractor
}

// Load reads a résumé with no binary extractors configured.
func Load(path string) (Profile, error) {
	return (&Loader{}).Load(path)
}

func (l *Loader) Load(path string) (Profile, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		p   Profile
		err error
	)

	switch ext {
	case ".yaml", ".yml", ".json":
		p, err = loadStructured(path)
	case ".txt", ".md":
		var raw []byte
		raw, err = os.ReadFile(path)
		if err == nil {
			p = ParseText(string(raw))
		}
	default:
		extractor, ok := l.Extractors[ext]
		if !ok {
			return Profile{}, &ParseError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)}
		}
		var text string
		text, err = extractor.Extract(path)
		if err == nil {
			p = ParseText(text)
		}
	}

	if err != nil {
		return Profile{}, &ParseError{Path: path, Err: err}
	}

	p.normalize()
	if err := p.Validate(); err != nil {
		return Profile{}, &ParseError{Path: path, Err: err}
	}

	return p, nil
}

type document struct {
	Name             string         `yaml:"name"`
	Phone            string         `yaml:"phone"`
	Email            string         `yaml:"email"`
	Skills           []skillField   `yaml:"skills"`
	Experience       []Experience   `yaml:"experience"`
	ExperienceYears  int            `yaml:"experience_years"`
	Education        jobs.Education `yaml:"education"`
	ExpectedSalary   salaryField    `yaml:"expected_salary"`
	ExpectedPosition string         `yaml:"expected_position"`
	TargetCity       string         `yaml:"target_city"`
}

// skillField accepts either "Go" or {name: Go, tag: golang}.
type skillField Skill

func (s *skillField) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = skillField{Name: node.Value}
		return nil
	}
	var skill Skill
	if err := node.Decode(&skill); err != nil {
		return err
	}
	*s = skillField(skill)
	return nil
}

// salaryField accepts either "20-30K" or {min: 20, max: 30}.
type salaryField jobs.SalaryRange

func (s *salaryField) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = salaryField(jobs.ParseSalary(node.Value))
		return nil
	}
	var r jobs.SalaryRange
	if err := node.Decode(&r); err != nil {
		return err
	}
	*s = salaryField(r)
	return nil
}

// loadStructured decodes YAML and, since YAML is a superset, JSON.
func loadStructured(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Profile{}, err
	}

	p := Profile{
		Name:             doc.Name,
		Phone:            doc.Phone,
		Email:            doc.Email,
		Experience:       doc.Experience,
		Education:        doc.Education,
		ExpectedSalary:   jobs.SalaryRange(doc.ExpectedSalary),
		ExpectedPosition: doc.ExpectedPosition,
		TargetCity:       doc.TargetCity,
	}
	for _, s := range doc.Skills {
		p.Skills = append(p.Skills, Skill(s))
	}
	if len(p.Experience) == 0 && doc.ExperienceYears > 0 {
		p.Experience = []Experience{{Role: doc.ExpectedPosition, Months: doc.ExperienceYears * 12}}
	}

	return p, nil
}
