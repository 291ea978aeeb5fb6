// Package tools exposes the job-seeker operations as tool-style calls. Every
// call goes through the session manager, so the browser is never driven
// outside its scheduler.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/filtering"
	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/matching"
	"github.com/spigell/zhipin-responder/internal/resume"
	"github.com/spigell/zhipin-responder/internal/search"
	"github.com/spigell/zhipin-responder/internal/session"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

var (
	ErrNoResume    = errors.New("no resume loaded: call load_resume first")
	ErrUnknownTool = errors.New("unknown tool")
)

// SessionFactory builds a session manager for the given settings.
type SessionFactory func(cfg session.Config) (*session.Manager, error)

// FilterFactory returns the pre-score filters for a run.
type FilterFactory func(profile *resume.Profile) []filtering.Filter

// Recorder receives search and greeting samples.
type Recorder interface {
	search.Recorder
	greeting.Recorder
}

type Deps struct {
	NewSession SessionFactory
	// Session is the base configuration; login parameters override the
	// browser and rate settings.
	Session  session.Config
	Site     *zhipin.Site
	Scorer   *matching.Scorer
	History  greeting.History
	Greeting greeting.Config
	Search   search.Config
	Filters  FilterFactory
	Composer greeting.Composer
	Loader   *resume.Loader
	Recorder Recorder
	Logger   *zap.Logger
}

// Toolkit holds the live session and the loaded résumé.
type Toolkit struct {
	deps   Deps
	logger *zap.Logger

	// op serializes the operations that drive the page.
	op sync.Mutex

	// mu guards the fields below; CloseBrowser takes only mu so it can
	// interrupt an operation that holds op.
	mu         sync.Mutex
	manager    *session.Manager
	dispatcher *greeting.Dispatcher
	profile    *resume.Profile
}

func New(deps Deps) (*Toolkit, error) {
	if deps.NewSession == nil {
		return nil, errors.New("tools require a session factory")
	}
	if deps.Site == nil {
		deps.Site = zhipin.New("")
	}
	if deps.Scorer == nil {
		scorer, err := matching.NewScorer(matching.DefaultWeights())
		if err != nil {
			return nil, err
		}
		deps.Scorer = scorer
	}
	if deps.History == nil {
		deps.History = greeting.NewMemoryHistory()
	}
	if deps.Greeting == (greeting.Config{}) {
		deps.Greeting = greeting.DefaultConfig()
	}
	if deps.Search == (search.Config{}) {
		deps.Search = search.DefaultConfig()
	}
	if deps.Loader == nil {
		deps.Loader = &resume.Loader{}
	}

	return &Toolkit{
		deps:   deps,
		logger: logger.WithFields(deps.Logger, zap.String("component", "tools")),
	}, nil
}

type LoginResult struct {
	State    session.State `json:"state"`
	LoggedIn bool          `json:"logged_in"`
	Captcha  string        `json:"captcha_marker,omitempty"`
	Message  string        `json:"message"`
}

// Login authenticates the account. A live session keeps its browser
// settings, which is what lets a captcha flow resume in the same window;
// close the browser to change them. A captcha is reported in the result,
// not as an error.
func (t *Toolkit) Login(ctx context.Context, params LoginParams) (*LoginResult, error) {
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid login parameters: %w", err)
	}

	t.op.Lock()
	defer t.op.Unlock()

	m, err := t.ensureManager(params)
	if err != nil {
		return nil, err
	}

	state, err := m.Login(ctx, session.Credentials{Phone: params.Phone, Password: params.Password})

	var captcha *session.CaptchaError
	switch {
	case errors.As(err, &captcha):
		return &LoginResult{
			State:   state,
			Captcha: captcha.Marker,
			Message: "captcha detected: solve it in the browser window and call login again",
		}, nil
	case err != nil:
		return nil, err
	}

	return &LoginResult{State: state, LoggedIn: state == session.Authenticated, Message: "logged in"}, nil
}

func (t *Toolkit) ensureManager(params LoginParams) (*session.Manager, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.manager != nil {
		return t.manager, nil
	}

	cfg := t.deps.Session
	cfg.Headless = params.Headless
	cfg.UseProxy = params.UseProxy
	cfg.AntiDetection = params.EnableAntiDetection
	cfg.MaxRequestsPerMinute = params.MaxRequestsPerMinute

	m, err := t.deps.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	opts := []greeting.Option{}
	if t.deps.Composer != nil {
		opts = append(opts, greeting.WithComposer(t.deps.Composer))
	}
	if t.deps.Recorder != nil {
		opts = append(opts, greeting.WithRecorder(t.deps.Recorder))
	}

	t.manager = m
	t.dispatcher = greeting.New(m, t.deps.Site, t.deps.History, t.deps.Greeting, t.deps.Logger, opts...)

	return m, nil
}

// live returns the current manager or ErrSessionExpired when there is none.
func (t *Toolkit) live() (*session.Manager, *greeting.Dispatcher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.manager == nil {
		return nil, nil, session.ErrSessionExpired
	}
	return t.manager, t.dispatcher, nil
}

type StatusResult struct {
	State    session.State `json:"state"`
	LoggedIn bool          `json:"logged_in"`
	Browser  bool          `json:"browser_started"`
	Permits  int           `json:"permits_in_window"`
	Ceiling  int           `json:"permit_ceiling,omitempty"`
}

// CheckLoginStatus reads the session state without navigating.
func (t *Toolkit) CheckLoginStatus(ctx context.Context) (*StatusResult, error) {
	m, _, err := t.live()
	if err != nil {
		return &StatusResult{State: session.Anonymous}, nil
	}

	state, err := m.CheckStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := m.Stats()
	return &StatusResult{
		State:    state,
		LoggedIn: state == session.Authenticated,
		Browser:  true,
		Permits:  stats.InWindow,
		Ceiling:  stats.Ceiling,
	}, nil
}

// CloseBrowser cancels pending waits and releases the browser. It is safe to
// call at any time and more than once.
func (t *Toolkit) CloseBrowser(ctx context.Context) error {
	t.mu.Lock()
	m := t.manager
	t.manager = nil
	t.dispatcher = nil
	t.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close(ctx)
}

// LoadResume replaces the loaded résumé. Parse failures are returned as
// *resume.ParseError.
func (t *Toolkit) LoadResume(_ context.Context, path string) (resume.Profile, error) {
	if err := validate.Struct(ResumeParams{Path: path}); err != nil {
		return resume.Profile{}, fmt.Errorf("invalid resume parameters: %w", err)
	}

	profile, err := t.deps.Loader.Load(path)
	if err != nil {
		return resume.Profile{}, err
	}

	t.mu.Lock()
	t.profile = &profile
	t.mu.Unlock()

	t.logger.Info("resume loaded",
		zap.Int("skills", len(profile.Skills)),
		zap.Int("experience_months", profile.TotalExperienceMonths()),
	)
	return profile.Clone(), nil
}

// ResumeInfo is the summary of the loaded résumé.
type ResumeInfo struct {
	Name             string   `json:"name"`
	Skills           []string `json:"skills"`
	ExperienceYears  int      `json:"experience_years"`
	Education        string   `json:"education"`
	ExpectedPosition string   `json:"expected_position,omitempty"`
	ExpectedCity     string   `json:"expected_city,omitempty"`
	ExpectedSalary   string   `json:"expected_salary"`
}

func newResumeInfo(p *resume.Profile) ResumeInfo {
	return ResumeInfo{
		Name:             p.Name,
		Skills:           p.SkillNames(0),
		ExperienceYears:  p.Years(),
		Education:        p.Education.String(),
		ExpectedPosition: p.ExpectedPosition,
		ExpectedCity:     p.TargetCity,
		ExpectedSalary:   p.ExpectedSalary.String(),
	}
}

// GetResumeInfo returns ErrNoResume until a résumé is loaded.
func (t *Toolkit) GetResumeInfo() (*ResumeInfo, error) {
	p, err := t.resume()
	if err != nil {
		return nil, err
	}
	info := newResumeInfo(&p)
	return &info, nil
}

func (t *Toolkit) resume() (resume.Profile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.profile == nil {
		return resume.Profile{}, ErrNoResume
	}
	return t.profile.Clone(), nil
}
