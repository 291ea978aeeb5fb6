// Package search drives the paginated job search through the session.
package search

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/utils"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const (
	DefaultPageCount   = 3
	DefaultMaxAttempts = 3
)

var validate = validator.New()

// Session performs paced page loads and classifies the loaded page.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Inspect(ctx context.Context) error
	// Browse scrolls through the loaded page like a reader would.
	Browse(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
}

// Site builds search URLs and parses result pages.
type Site interface {
	SearchURL(q zhipin.Query, page int) string
	ParseSearchResults(html string) ([]*jobs.JobPosting, error)
}

// Recorder receives the number of postings found on each fetched page.
type Recorder interface {
	SearchPage(found int)
}

type Config struct {
	Backoff utils.Backoff
}

func DefaultConfig() Config {
	return Config{
		Backoff: utils.Backoff{
			Attempts: DefaultMaxAttempts,
			Initial:  2 * time.Second,
			Max:      10 * time.Second,
		},
	}
}

type Orchestrator struct {
	session  Session
	site     Site
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

func New(session Session, site Site, cfg Config, log *zap.Logger, recorder Recorder) *Orchestrator {
	if cfg.Backoff.Attempts <= 0 {
		cfg.Backoff.Attempts = DefaultMaxAttempts
	}

	return &Orchestrator{
		session:  session,
		site:     site,
		cfg:      cfg,
		logger:   logger.WithFields(log, zap.String("component", "search")),
		recorder: recorder,
	}
}

// Search yields postings from pages 1..pageCount in order. It stops at the
// first empty page and never yields the same posting id twice. Every call
// loads the pages again.
//
// A session that is not authenticated, a risk page or a captcha ends the
// sequence with the corresponding session error.
func (o *Orchestrator) Search(ctx context.Context, q zhipin.Query, pageCount int) iter.Seq2[*jobs.JobPosting, error] {
	return func(yield func(*jobs.JobPosting, error) bool) {
		if err := validate.Struct(q); err != nil {
			yield(nil, fmt.Errorf("invalid search query: %w", err))
			return
		}
		if pageCount <= 0 {
			pageCount = DefaultPageCount
		}

		seen := make(map[string]struct{})
		for page := 1; page <= pageCount; page++ {
			postings, err := o.fetch(ctx, q, page)
			if err != nil {
				yield(nil, err)
				return
			}

			if len(postings) == 0 {
				o.logger.Info("no more results", zap.Int("page", page))
				return
			}

			for _, p := range postings {
				if _, ok := seen[p.ID]; ok {
					continue
				}
				seen[p.ID] = struct{}{}
				if !yield(p, nil) {
					return
				}
			}
		}
	}
}

// Collect drains Search. On error the postings gathered so far are returned
// with it.
func (o *Orchestrator) Collect(ctx context.Context, q zhipin.Query, pageCount int) (*jobs.Postings, error) {
	postings := &jobs.Postings{}
	for p, err := range o.Search(ctx, q, pageCount) {
		if err != nil {
			return postings, err
		}
		postings.Add(p)
	}

	o.logger.Info("search finished",
		zap.String("keyword", q.Keyword),
		zap.Int("postings", postings.Len()),
	)

	return postings, nil
}

func (o *Orchestrator) fetch(ctx context.Context, q zhipin.Query, page int) ([]*jobs.JobPosting, error) {
	url := o.site.SearchURL(q, page)
	log := o.logger.With(zap.Int("page", page))

	var postings []*jobs.JobPosting
	attempts, err := utils.Retry(ctx, o.cfg.Backoff, browser.IsTransient, func(attempt int) error {
		if attempt > 1 {
			log.Warn("retrying search page", zap.Int("attempt", attempt))
		}

		if err := o.session.Navigate(ctx, url); err != nil {
			return err
		}
		if err := o.session.Inspect(ctx); err != nil {
			return err
		}
		// Cards further down load lazily while scrolling.
		if err := o.session.Browse(ctx); err != nil {
			return err
		}

		html, err := o.session.HTML(ctx)
		if err != nil {
			return err
		}

		postings, err = o.site.ParseSearchResults(html)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search page %d (attempt %d): %w", page, attempts, err)
	}

	log.Debug("search page loaded", zap.Int("postings", len(postings)))
	if o.recorder != nil {
		o.recorder.SearchPage(len(postings))
	}

	return postings, nil
}
