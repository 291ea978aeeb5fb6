package filtering

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/ai"
	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/resume"
)

type aiFitFilter struct {
	toggle
	config *AIFitFilterConfig
	deps   *AIFitFilterDeps

	assessments map[string]*ai.FitAssessment
}

type AIFitFilterDeps struct {
	Logger      *zap.Logger
	Matcher     ai.Matcher
	Profile     *resume.Profile
	ExcludeFile string
}

type AIFitFilterConfig struct {
	Enabled         bool
	Provider        string
	MinimumFitScore float64
	Gemini          *AIGeminiConfig
}

// AIGeminiConfig stores Gemini provider configuration.
type AIGeminiConfig struct {
	Model        string
	MaxLogLength int
}

// NewAIFit creates the AI-based filtering step.
func NewAIFit(cfg *AIFitFilterConfig, deps *AIFitFilterDeps) Filter {
	if cfg == nil {
		cfg = &AIFitFilterConfig{}
	}
	return &aiFitFilter{
		toggle: toggle{enabled: cfg.Enabled},
		config: cfg,
		deps:   deps,
	}
}

func (f *aiFitFilter) Name() string { return "ai_fit" }

func (f *aiFitFilter) Validate() error {
	if f.deps == nil || f.deps.Matcher == nil {
		return errors.New("ai matcher is not initialized: filter is not usable")
	}
	if f.deps.Profile == nil {
		return errors.New("a loaded resume is required when ai filter is enabled")
	}
	if f.config.Gemini == nil || strings.TrimSpace(f.config.Gemini.Model) == "" {
		return errors.New("gemini model is required when ai filter is enabled")
	}
	return nil
}

func (f *aiFitFilter) Apply(ctx context.Context, p *jobs.Postings) (*jobs.Postings, Step, error) {
	initial := p.Len()
	log := logger.WithFields(f.deps.Logger)
	f.assessments = make(map[string]*ai.FitAssessment, initial)

	approved := make([]*jobs.JobPosting, 0, initial)
	for _, posting := range p.Items {
		if err := ctx.Err(); err != nil {
			return p, Step{}, err
		}

		plog := log.With(logger.PostingFields(posting.ID, posting.Company)...)

		assessment, err := f.deps.Matcher.Evaluate(ctx, *f.deps.Profile, posting)
		if err != nil {
			plog.Warn("AI evaluation failed", zap.Error(err))
			f.assessments[posting.ID] = &ai.FitAssessment{Error: err.Error()}
			approved = append(approved, posting)
			continue
		}
		f.assessments[posting.ID] = assessment

		if !assessment.Fit {
			plog.Info("posting rejected by AI provider",
				zap.Float64("ai_score", assessment.Score),
				zap.String("reason", assessment.Reason),
			)
			if err := f.appendToExcludeFile(posting, assessment.Reason); err != nil {
				plog.Warn("failed to append posting to exclude file", zap.Error(err))
			}
			continue
		}

		plog.Info("posting approved by AI", zap.Float64("ai_score", assessment.Score))
		approved = append(approved, posting)
	}

	p.Items = approved

	log.Info("AI filtering completed",
		zap.Int("initial_postings", initial),
		zap.Int("approved_postings", len(approved)),
	)

	return p, stepOf(initial, p), nil
}

func (f *aiFitFilter) Assessments() map[string]*ai.FitAssessment {
	return f.assessments
}

func (f *aiFitFilter) Status() Status {
	details := map[string]string{
		"provider":          f.config.Provider,
		"minimum_fit_score": strconv.FormatFloat(f.config.MinimumFitScore, 'f', 2, 64),
	}
	if f.config.Gemini != nil {
		details["model"] = f.config.Gemini.Model
	}
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason, Details: details}
}

func (f *aiFitFilter) appendToExcludeFile(posting *jobs.JobPosting, reason string) error {
	path := strings.TrimSpace(f.deps.ExcludeFile)
	if path == "" {
		return nil
	}

	excluded, err := jobs.ExcludedPostingsFromFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		excluded = &jobs.ExcludedPostings{}
	case err != nil:
		return fmt.Errorf("load excluded postings: %w", err)
	}

	toAppend := (&jobs.Postings{Items: []*jobs.JobPosting{posting}}).ToExcluded(jobs.ExcludeActorAI, reason)
	excluded.Append(toAppend)

	if err := excluded.ToFile(path); err != nil {
		return fmt.Errorf("write excluded postings: %w", err)
	}
	return nil
}
