package ai

import (
	"context"

	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/resume"
)

// FitAssessment is a provider's opinion on one posting.
type FitAssessment struct {
	Fit     bool    `json:"fit"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
	Message string  `json:"message,omitempty"`
	Raw     string  `json:"-"`
	Error   string  `json:"error,omitempty"`
}

// Matcher judges whether a posting suits the résumé and drafts a greeting.
type Matcher interface {
	Evaluate(ctx context.Context, profile resume.Profile, posting *jobs.JobPosting) (*FitAssessment, error)
}

// Composer drafts the first message to a recruiter.
type Composer interface {
	Compose(ctx context.Context, profile resume.Profile, posting *jobs.JobPosting) (string, error)
}
