package tools

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/ai"
	"github.com/spigell/zhipin-responder/internal/filtering"
	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/matching"
	"github.com/spigell/zhipin-responder/internal/resume"
	"github.com/spigell/zhipin-responder/internal/search"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

type SearchResult struct {
	Postings []*jobs.JobPosting `json:"jobs"`
	Total    int                `json:"total"`
}

// SearchJobs collects postings page by page. Postings found before an error
// are returned with it.
func (t *Toolkit) SearchJobs(ctx context.Context, params SearchParams) (*SearchResult, error) {
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid search parameters: %w", err)
	}

	t.op.Lock()
	defer t.op.Unlock()

	postings, err := t.collect(ctx, params.Query, params.PageCount)
	if postings == nil {
		return nil, err
	}
	return &SearchResult{Postings: postings.Items, Total: postings.Len()}, err
}

func (t *Toolkit) collect(ctx context.Context, q zhipin.Query, pageCount int) (*jobs.Postings, error) {
	m, _, err := t.live()
	if err != nil {
		return nil, err
	}

	var recorder search.Recorder
	if t.deps.Recorder != nil {
		recorder = t.deps.Recorder
	}

	return search.New(m, t.deps.Site, t.deps.Search, t.deps.Logger, recorder).Collect(ctx, q, pageCount)
}

// rank searches, runs the pre-score filters and scores what is left.
func (t *Toolkit) rank(ctx context.Context, keyword string) ([]matching.Ranked, map[string]*ai.FitAssessment, resume.Profile, error) {
	profile, err := t.resume()
	if err != nil {
		return nil, nil, profile, err
	}
	if _, _, err := t.live(); err != nil {
		return nil, nil, profile, err
	}

	postings, err := t.collect(ctx, zhipin.Query{Keyword: keyword}, search.DefaultPageCount)
	if err != nil {
		return nil, nil, profile, err
	}

	var assessments map[string]*ai.FitAssessment
	if t.deps.Filters != nil {
		postings, assessments, err = filtering.Run(ctx, t.deps.Logger, t.deps.Filters(&profile), postings)
		if err != nil {
			return nil, nil, profile, fmt.Errorf("filter postings: %w", err)
		}
	}

	return t.deps.Scorer.Rank(profile, postings.Items), assessments, profile, nil
}

type Recommendation struct {
	Posting *jobs.JobPosting  `json:"job"`
	Score   int               `json:"match_score"`
	Factors []matching.Factor `json:"factors"`
	AI      *ai.FitAssessment `json:"ai,omitempty"`
}

type RecommendResult struct {
	Recommended []Recommendation `json:"recommended_jobs"`
	Resume      ResumeInfo       `json:"resume_info"`
}

// GetRecommendedJobs ranks search results against the loaded résumé without
// greeting anyone.
func (t *Toolkit) GetRecommendedJobs(ctx context.Context, params RecommendParams) (*RecommendResult, error) {
	profile, err := t.resume()
	if err != nil {
		return nil, err
	}
	if params.Keyword == "" {
		params.Keyword = profile.ExpectedPosition
	}
	if params.Keyword == "" {
		return nil, errors.New("keyword is required when the resume names no expected position")
	}
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid recommendation parameters: %w", err)
	}

	t.op.Lock()
	defer t.op.Unlock()

	ranked, assessments, profile, err := t.rank(ctx, params.Keyword)
	if err != nil {
		return nil, err
	}

	selected := greeting.Select(ranked, params.MinScore, params.MaxCount)
	result := &RecommendResult{
		Recommended: make([]Recommendation, 0, len(selected)),
		Resume:      newResumeInfo(&profile),
	}
	for _, r := range selected {
		result.Recommended = append(result.Recommended, Recommendation{
			Posting: r.Posting,
			Score:   r.Result.Score,
			Factors: r.Result.Factors,
			AI:      assessments[r.Posting.ID],
		})
	}

	t.logger.Info("recommendations ready",
		zap.Int("ranked", len(ranked)),
		zap.Int("recommended", len(result.Recommended)),
	)
	return result, nil
}

// MatchAndGreet searches, scores and greets the best matches. When the run
// is aborted the partial report is returned with the *greeting.AbortError.
func (t *Toolkit) MatchAndGreet(ctx context.Context, params GreetParams) (*greeting.Report, error) {
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid greeting parameters: %w", err)
	}

	t.op.Lock()
	defer t.op.Unlock()

	ranked, _, profile, err := t.rank(ctx, params.Keyword)
	if err != nil {
		return nil, err
	}

	_, dispatcher, err := t.live()
	if err != nil {
		return nil, err
	}

	report, err := dispatcher.Dispatch(ctx, ranked, greeting.Request{
		MinScore: params.MinScore,
		MaxCount: params.MaxCount,
		Template: params.CustomMessage,
		Resume:   profile,
	})

	var abort *greeting.AbortError
	if errors.As(err, &abort) {
		return abort.Report, err
	}
	return report, err
}
