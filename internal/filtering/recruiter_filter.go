package filtering

import (
	"context"
	"slices"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

// StaleRecruiterLabels are activity badges of recruiters who are unlikely to
// read a greeting.
var StaleRecruiterLabels = []string{"2月内活跃", "3月内活跃", "4月内活跃", "5月内活跃", "近半年活跃", "半年前活跃"}

type staleRecruiterFilter struct {
	toggle
	labels []string
}

// NewStaleRecruiters creates a filter that removes postings whose recruiter
// has not been active recently. Postings without a badge are kept.
func NewStaleRecruiters(enabled bool) Filter {
	return &staleRecruiterFilter{toggle: toggle{enabled: enabled}, labels: StaleRecruiterLabels}
}

func (f *staleRecruiterFilter) Name() string { return "stale_recruiters" }

func (f *staleRecruiterFilter) Validate() error { return nil }

func (f *staleRecruiterFilter) Apply(_ context.Context, p *jobs.Postings) (*jobs.Postings, Step, error) {
	initial := p.Len()
	p.ExcludeFunc(func(posting *jobs.JobPosting) bool {
		return slices.Contains(f.labels, posting.RecruiterActive)
	})
	return p, stepOf(initial, p), nil
}

func (f *staleRecruiterFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason}
}
