package filtering

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

type excludeFileFilter struct {
	path string
}

// NewExcludeFile creates a filter that removes postings listed in the exclude file.
func NewExcludeFile(path string) Filter {
	return &excludeFileFilter{path: path}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(string) {}

func (f *excludeFileFilter) IsEnabled() bool { return true }

func (f *excludeFileFilter) Validate() error { return nil }

func (f *excludeFileFilter) Apply(_ context.Context, p *jobs.Postings) (*jobs.Postings, Step, error) {
	initial := p.Len()
	if f.path == "" {
		return p, stepOf(initial, p), nil
	}

	excluded, err := jobs.ExcludedPostingsFromFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return p, stepOf(initial, p), nil
	case err != nil:
		return p, Step{}, fmt.Errorf("getting excluded postings from file: %w", err)
	}

	p.Exclude(jobs.PostingIDField, excluded.PostingIDs())
	return p, stepOf(initial, p), nil
}

func (f *excludeFileFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: true, Details: map[string]string{"path": f.path}}
}
