package filtering

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

const forceFlagSetMsg = "force flag is set"

// Greeted reports whether a posting was greeted in an earlier run.
type Greeted interface {
	Contains(postingID string) bool
}

type greetedHistoryFilter struct {
	deps   *GreetedHistoryDeps
	ignore bool
}

type GreetedHistoryDeps struct {
	History Greeted
	Logger  *zap.Logger
}

type GreetedHistoryConfig struct {
	Ignore bool
}

// NewGreetedHistory creates a filter that removes postings already greeted.
func NewGreetedHistory(cfg *GreetedHistoryConfig, deps *GreetedHistoryDeps) Filter {
	ignore := false
	if cfg != nil {
		ignore = cfg.Ignore
	}

	return &greetedHistoryFilter{deps: deps, ignore: ignore}
}

func (f *greetedHistoryFilter) Name() string { return "greeted_history" }

func (f *greetedHistoryFilter) Disable(string) {}

func (f *greetedHistoryFilter) IsEnabled() bool { return true }

func (f *greetedHistoryFilter) Validate() error {
	if f.ignore {
		return nil
	}
	if f.deps == nil || f.deps.History == nil {
		return errors.New("greeting history is required")
	}
	return nil
}

func (f *greetedHistoryFilter) Apply(_ context.Context, p *jobs.Postings) (*jobs.Postings, Step, error) {
	initial := p.Len()
	log := zap.NewNop()
	if f.deps != nil && f.deps.Logger != nil {
		log = f.deps.Logger
	}

	if f.ignore {
		log.Info("ignoring already greeted postings", zap.String("reason", forceFlagSetMsg))
		return p, stepOf(initial, p), nil
	}

	excluded := p.ExcludeFunc(func(posting *jobs.JobPosting) bool {
		return f.deps.History.Contains(posting.ID)
	})
	if len(excluded) > 0 {
		log.Info("excluding postings greeted in earlier runs",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, stepOf(initial, p), nil
}

func (f *greetedHistoryFilter) Status() Status {
	reason := ""
	if f.ignore {
		reason = "skip requested via flag"
	}
	return Status{
		Name:    f.Name(),
		Enabled: true,
		Reason:  reason,
		Details: map[string]string{"exclude_greeted": strconv.FormatBool(!f.ignore)},
	}
}
