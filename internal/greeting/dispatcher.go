// Package greeting sends the first message to recruiters of the best
// matching postings, once per posting.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/matching"
	"github.com/spigell/zhipin-responder/internal/resume"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/session"
	"github.com/spigell/zhipin-responder/internal/utils"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const (
	DefaultMinScore   = 30
	DefaultMaxCount   = 10
	DefaultSessionCap = 20
)

var validate = validator.New()

// Session is the paced driver of the live browser session.
type Session interface {
	zhipin.Driver
	Acquire(ctx context.Context, class behavior.ActionClass) (scheduler.Permit, error)
	Inspect(ctx context.Context) error
	MarkBanned(reason string) error
}

// Greeter performs the greeting interaction on the site.
type Greeter interface {
	Greet(ctx context.Context, d zhipin.Driver, postingID, message string, check func(context.Context) error) error
}

// Composer drafts a personal message for a posting.
type Composer interface {
	Compose(ctx context.Context, profile resume.Profile, posting *jobs.JobPosting) (string, error)
}

// Recorder receives every recorded outcome.
type Recorder interface {
	GreetingOutcome(outcome string)
}

type Config struct {
	SessionCap int
	Backoff    utils.Backoff
}

func DefaultConfig() Config {
	return Config{
		SessionCap: DefaultSessionCap,
		Backoff: utils.Backoff{
			Attempts: 3,
			Initial:  3 * time.Second,
			Max:      15 * time.Second,
		},
	}
}

type Request struct {
	MinScore int `validate:"gte=0,lte=100"`
	// MaxCount 0 means DefaultMaxCount.
	MaxCount int `validate:"gte=0"`
	// Template overrides the default greeting; see MessageData.
	Template string
	Resume   resume.Profile
}

type Dispatcher struct {
	session  Session
	greeter  Greeter
	history  History
	composer Composer
	recorder Recorder
	cfg      Config
	logger   *zap.Logger

	// mu serializes runs; sent counts greetings over the dispatcher's session.
	mu   sync.Mutex
	sent int
}

type Option func(*Dispatcher)

func WithComposer(c Composer) Option {
	return func(d *Dispatcher) { d.composer = c }
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func New(sess Session, greeter Greeter, history History, cfg Config, log *zap.Logger, opts ...Option) *Dispatcher {
	if cfg.SessionCap <= 0 {
		cfg.SessionCap = DefaultSessionCap
	}
	if cfg.Backoff.Attempts <= 0 {
		cfg.Backoff.Attempts = 3
	}
	if history == nil {
		history = NewMemoryHistory()
	}

	d := &Dispatcher{
		session: sess,
		greeter: greeter,
		history: history,
		cfg:     cfg,
		logger:  logger.WithFields(log, zap.String("component", "greeting")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Select keeps results scoring at least minScore, best first with ties broken
// by posting id, and returns at most maxCount of them.
func Select(ranked []matching.Ranked, minScore, maxCount int) []matching.Ranked {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}

	out := make([]matching.Ranked, 0, len(ranked))
	for _, r := range ranked {
		if r.Result.Score >= minScore {
			out = append(out, r)
		}
	}
	matching.SortRanked(out)

	return out[:min(len(out), maxCount)]
}

// Dispatch greets the selected postings in order and records one outcome
// per item. A ban, a lost session or a captcha stops the run: the remaining
// items are recorded as skipped-aborted and *AbortError is returned together
// with the report.
func (d *Dispatcher) Dispatch(ctx context.Context, ranked []matching.Ranked, req Request) (*Report, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid greeting request: %w", err)
	}

	var custom *template.Template
	if req.Template != "" {
		t, err := ParseTemplate(req.Template)
		if err != nil {
			return nil, err
		}
		custom = t
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	report := newReport(uuid.NewString())
	log := d.logger.With(zap.String("run_id", report.RunID))
	selected := Select(ranked, req.MinScore, req.MaxCount)
	log.Info("greeting run started",
		zap.Int("candidates", len(ranked)),
		zap.Int("selected", len(selected)),
		zap.Int("min_score", req.MinScore),
	)

	seen := make(map[string]struct{}, len(selected))
	for i, r := range selected {
		rec := Record{
			PostingID: r.Result.PostingID,
			Score:     r.Result.Score,
		}
		if r.Posting != nil {
			rec.Company = r.Posting.Company
			rec.Title = r.Posting.Title
		}

		if err := ctx.Err(); err != nil {
			return d.abort(report, selected[i:], rec.PostingID, err, log)
		}

		if _, dup := seen[rec.PostingID]; dup || d.history.Contains(rec.PostingID) {
			rec.Outcome = SkippedDuplicate
			d.record(report, rec, log)
			continue
		}
		seen[rec.PostingID] = struct{}{}

		if d.sent >= d.cfg.SessionCap {
			rec.Outcome = SkippedCap
			d.record(report, rec, log)
			continue
		}

		stop := d.greet(ctx, r, req, custom, &rec, log)
		d.record(report, rec, log)
		if stop != nil {
			return d.abort(report, selected[i+1:], rec.PostingID, stop, log)
		}
	}

	log.Info("greeting run finished", zap.Any("summary", report.Summary))
	return report, nil
}

// greet fills in the outcome of one posting. A non-nil error means the run
// must stop.
func (d *Dispatcher) greet(ctx context.Context, r matching.Ranked, req Request, custom *template.Template, rec *Record, log *zap.Logger) error {
	plog := log.With(zap.String(logger.FieldPostingID, rec.PostingID))

	if _, err := d.session.Acquire(ctx, behavior.Clicking); err != nil {
		rec.Outcome = FailedFatal
		rec.Error = err.Error()
		return err
	}

	posting := r.Posting
	if posting == nil {
		posting = &jobs.JobPosting{ID: rec.PostingID}
	}
	message := d.message(ctx, req, custom, posting, plog)

	attempts, err := utils.Retry(ctx, d.cfg.Backoff, browser.IsTransient, func(attempt int) error {
		if attempt > 1 {
			plog.Warn("retrying greeting", zap.Int(logger.FieldAttempt, attempt))
		}
		return d.greeter.Greet(ctx, d.session, rec.PostingID, message, d.session.Inspect)
	})
	rec.Attempts = attempts

	if err == nil {
		rec.Outcome = Sent
		d.sent++
		if herr := d.history.Add(ctx, posting); herr != nil {
			plog.Warn("failed to persist greeting history", zap.Error(herr))
		}
		return nil
	}
	rec.Error = err.Error()

	switch {
	case errors.Is(err, session.ErrAccountBanned):
		rec.Outcome = FailedFatal
		_ = d.session.MarkBanned("ban detected while greeting " + rec.PostingID)
		return err
	case errors.Is(err, session.ErrCaptchaRequired):
		rec.Outcome = FailedRetryable
		return err
	case stopsRun(ctx, err):
		rec.Outcome = FailedFatal
		return err
	case browser.IsTransient(err):
		rec.Outcome = FailedRetryable
	default:
		rec.Outcome = FailedFatal
	}
	return nil
}

// stopsRun reports errors after which no further posting may be tried.
func stopsRun(ctx context.Context, err error) bool {
	return errors.Is(err, session.ErrSessionExpired) ||
		errors.Is(err, session.ErrClosed) ||
		errors.Is(err, scheduler.ErrCancelled) ||
		ctx.Err() != nil
}

func (d *Dispatcher) message(ctx context.Context, req Request, custom *template.Template, posting *jobs.JobPosting, log *zap.Logger) string {
	data := newMessageData(req.Resume, posting)

	if custom != nil {
		msg, err := render(custom, data)
		if err == nil {
			return msg
		}
		log.Warn("custom greeting failed, using default", zap.Error(err))
	} else if d.composer != nil {
		msg, err := d.composer.Compose(ctx, req.Resume, posting)
		if err == nil && msg != "" {
			log.Debug("drafted greeting", zap.String("message", utils.TruncateForLog(msg, 80)))
			return msg
		}
		log.Warn("message drafting failed, using default", zap.Error(err))
	}

	msg, _ := render(defaultTemplate, data)
	return msg
}

func (d *Dispatcher) record(report *Report, rec Record, log *zap.Logger) {
	report.add(rec)

	fields := []zap.Field{
		zap.String(logger.FieldPostingID, rec.PostingID),
		zap.String(logger.FieldOutcome, string(rec.Outcome)),
		zap.Int("score", rec.Score),
	}
	if rec.Attempts > 0 {
		fields = append(fields, zap.Int(logger.FieldAttempt, rec.Attempts))
	}

	switch rec.Outcome {
	case Sent, SkippedDuplicate, SkippedCap, SkippedAborted:
		log.Info("greeting recorded", fields...)
	default:
		log.Warn("greeting failed", append(fields, zap.String("error", rec.Error))...)
	}

	if d.recorder != nil {
		d.recorder.GreetingOutcome(string(rec.Outcome))
	}
}

func (d *Dispatcher) abort(report *Report, rest []matching.Ranked, postingID string, cause error, log *zap.Logger) (*Report, error) {
	for _, r := range rest {
		d.record(report, Record{
			PostingID: r.Result.PostingID,
			Score:     r.Result.Score,
			Outcome:   SkippedAborted,
		}, log)
	}

	log.Error("greeting run aborted", zap.String(logger.FieldPostingID, postingID), zap.Error(cause))
	return report, &AbortError{PostingID: postingID, Err: cause, Report: report}
}

// Sent returns how many greetings this dispatcher has sent.
func (d *Dispatcher) Sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}
