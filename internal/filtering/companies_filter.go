package filtering

import (
	"context"
	"strings"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

type companiesFilter struct {
	companies []string
}

// NewExcludedCompanies creates a filter that removes postings by the company names configured.
func NewExcludedCompanies(companies []string) Filter {
	names := make([]string, 0, len(companies))
	for _, c := range companies {
		if c = strings.TrimSpace(c); c != "" {
			names = append(names, c)
		}
	}
	return &companiesFilter{companies: names}
}

func (f *companiesFilter) Name() string { return "companies" }

func (f *companiesFilter) Disable(string) {}

func (f *companiesFilter) IsEnabled() bool { return true }

func (f *companiesFilter) Validate() error { return nil }

func (f *companiesFilter) Apply(_ context.Context, p *jobs.Postings) (*jobs.Postings, Step, error) {
	initial := p.Len()
	p.Exclude(jobs.PostingCompanyField, f.companies)
	return p, stepOf(initial, p), nil
}
