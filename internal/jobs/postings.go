package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Postings struct {
	Items []*JobPosting
}

func (p *Postings) Len() int {
	return len(p.Items)
}

// Add appends the posting unless its id is already present. It reports
// whether the posting was added.
func (p *Postings) Add(posting *JobPosting) bool {
	if posting == nil || p.FindByID(posting.ID) != nil {
		return false
	}
	p.Items = append(p.Items, posting)
	return true
}

func (p *Postings) FindByID(id string) *JobPosting {
	for _, posting := range p.Items {
		if posting.ID == id {
			return posting
		}
	}
	return nil
}

func (p *Postings) IDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, posting := range p.Items {
		ids = append(ids, posting.ID)
	}
	return ids
}

// Exclude removes every posting whose field matches one of targets and
// returns the removed ids. Order is preserved.
func (p *Postings) Exclude(field string, targets []string) []string {
	if len(targets) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}

	return p.ExcludeFunc(func(posting *JobPosting) bool {
		_, ok := set[posting.GetStringField(field)]
		return ok
	})
}

// ExcludeFunc removes every posting for which drop reports true.
func (p *Postings) ExcludeFunc(drop func(*JobPosting) bool) []string {
	var excluded []string
	kept := p.Items[:0]
	for _, posting := range p.Items {
		if drop(posting) {
			excluded = append(excluded, posting.ID)
			continue
		}
		kept = append(kept, posting)
	}
	clear(p.Items[len(kept):])
	p.Items = kept

	return excluded
}

// ReportByCompany groups a short description of every posting by company.
func (p *Postings) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, posting := range p.Items {
		report[posting.Company] = append(report[posting.Company], map[string]string{
			"title":      posting.Title,
			"url":        posting.URL,
			"city":       posting.City,
			"salary":     posting.Salary.String(),
			"education":  posting.Education.String(),
			"experience": fmt.Sprintf("%d+ months", posting.Experience.MinMonths),
			"recruiter":  posting.Recruiter,
		})
	}
	return report
}

func (p *Postings) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "postings_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return file.Name(), nil
}

// Actors that add postings to the exclude file.
const (
	ExcludeActorOperator = "operator"
	ExcludeActorAI       = "ai"
	ExcludeActorGreeting = "greeting"
)

// ToExcluded converts every posting into an exclude entry attributed to actor.
func (p *Postings) ToExcluded(actor, reason string) *ExcludedPostings {
	excluded := &ExcludedPostings{}
	now := time.Now().UTC()
	for _, posting := range p.Items {
		excluded.Items = append(excluded.Items, &ExcludedPosting{
			ID:         posting.ID,
			URL:        posting.URL,
			Company:    posting.Company,
			Actor:      actor,
			Reason:     reason,
			ExcludedAt: now,
		})
	}
	return excluded
}

// ExcludedPostings is the on-disk list of postings the operator never wants
// to see again.
type ExcludedPostings struct {
	Items []*ExcludedPosting
}

type ExcludedPosting struct {
	ID         string
	URL        string
	Company    string
	Actor      string `json:",omitempty"`
	Reason     string `json:",omitempty"`
	ExcludedAt time.Time
}

// ExcludedPostingsFromFile reads the exclude file. An empty file is an empty list.
func ExcludedPostingsFromFile(path string) (*ExcludedPostings, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &ExcludedPostings{}, nil
	}

	var excluded ExcludedPostings
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, fmt.Errorf("decode exclude file %s: %w", path, err)
	}
	return &excluded, nil
}

func (e *ExcludedPostings) Append(s *ExcludedPostings) {
	e.Items = append(e.Items, s.Items...)
}

func (e *ExcludedPostings) PostingIDs() []string {
	ids := make([]string, 0, len(e.Items))
	for _, posting := range e.Items {
		ids = append(ids, posting.ID)
	}
	return ids
}

func (e *ExcludedPostings) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
