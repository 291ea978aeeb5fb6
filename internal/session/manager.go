// Package session owns the single browser session: it runs the login state
// machine, persists cookies and hands out scheduler permits only while the
// session may act.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const (
	DefaultMaxLoginFailures = 3
	DefaultMaxSessionAge    = 30 * time.Minute
	DefaultCookieTTL        = 7 * 24 * time.Hour
)

type Config struct {
	Headless             bool
	AntiDetection        bool
	UseProxy             bool
	Proxies              []string
	BrowserBin           string
	NavigationTimeout    time.Duration
	MaxRequestsPerMinute int
	// Window overrides the one minute rate window.
	Window           time.Duration
	MaxLoginFailures int
	MaxSessionAge    time.Duration
	CookieTTL        time.Duration
}

// Metrics receives state transitions and permit samples.
type Metrics interface {
	SessionTransition(from, to string)
	RecordPermit(class string, waited time.Duration)
}

type Deps struct {
	Launcher browser.Launcher
	Store    Store
	Site     *zhipin.Site
	Profile  *behavior.Profile
	// Jitter defaults to Profile.
	Jitter  scheduler.Jitter
	Logger  *zap.Logger
	Metrics Metrics
}

type Credentials struct {
	Phone    string
	Password string
}

// Session is a snapshot of the live session.
type Session struct {
	Account         string
	State           State
	Cookies         []browser.Cookie
	AuthenticatedAt time.Time
	CaptchaPending  bool
}

type Manager struct {
	cfg      Config
	launcher browser.Launcher
	store    Store
	site     *zhipin.Site
	profile  *behavior.Profile
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	metrics  Metrics

	root   context.Context
	cancel context.CancelFunc

	// opMu serializes login and teardown; mu guards the fields below.
	opMu sync.Mutex
	mu   sync.Mutex

	state    State
	session  Session
	page     browser.Page
	human    *browser.Human
	failures int
	launches int
	closed   bool
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if cfg.MaxLoginFailures <= 0 {
		cfg.MaxLoginFailures = DefaultMaxLoginFailures
	}
	if cfg.MaxSessionAge == 0 {
		cfg.MaxSessionAge = DefaultMaxSessionAge
	}
	if cfg.CookieTTL == 0 {
		cfg.CookieTTL = DefaultCookieTTL
	}
	if cfg.UseProxy && len(cfg.Proxies) == 0 {
		return nil, ErrNoProxies
	}
	if deps.Launcher == nil {
		return nil, errors.New("session manager requires a browser launcher")
	}
	if deps.Store == nil {
		return nil, errors.New("session manager requires a store")
	}
	if deps.Site == nil {
		deps.Site = zhipin.New("")
	}
	if deps.Profile == nil {
		deps.Profile = behavior.NewRandom(behavior.Options{AntiDetection: cfg.AntiDetection})
	}
	if deps.Jitter == nil {
		deps.Jitter = deps.Profile
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	root, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		launcher: deps.Launcher,
		store:    deps.Store,
		site:     deps.Site,
		profile:  deps.Profile,
		logger:   deps.Logger.Named("session"),
		metrics:  deps.Metrics,
		root:     root,
		cancel:   cancel,
		state:    Anonymous,
	}

	opts := []scheduler.Option{scheduler.WithGate(m)}
	if deps.Metrics != nil {
		opts = append(opts, scheduler.WithRecorder(deps.Metrics))
	}

	sched, err := scheduler.New(scheduler.Config{
		MaxPerWindow: cfg.MaxRequestsPerMinute,
		Window:       cfg.Window,
	}, deps.Jitter, deps.Logger.Named("scheduler"), opts...)
	if err != nil {
		cancel()
		return nil, err
	}
	m.sched = sched

	return m, nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	s.State = m.state
	s.Cookies = append([]browser.Cookie(nil), m.session.Cookies...)
	return s
}

func (m *Manager) Stats() scheduler.Stats {
	return m.sched.Stats()
}

type loginFlowKey struct{}

// withLoginFlow marks ctx as belonging to the login flow, the only actions
// allowed while LOGGING_IN.
func withLoginFlow(ctx context.Context) context.Context {
	return context.WithValue(ctx, loginFlowKey{}, true)
}

func isLoginFlow(ctx context.Context) bool {
	v, _ := ctx.Value(loginFlowKey{}).(bool)
	return v
}

// Allow implements scheduler.Gate. It is consulted before a wait and again
// right before a permit is granted.
func (m *Manager) Allow(ctx context.Context, _ behavior.ActionClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	switch m.state {
	case Authenticated:
		if m.agedLocked() {
			_ = m.transitionLocked(Expired, "maximum session age reached")
			return ErrSessionExpired
		}
		return nil
	case LoggingIn:
		if isLoginFlow(ctx) {
			return nil
		}
		return ErrSessionExpired
	case Banned:
		return ErrAccountBanned
	default:
		return ErrSessionExpired
	}
}

func (m *Manager) agedLocked() bool {
	return m.cfg.MaxSessionAge > 0 && time.Since(m.session.AuthenticatedAt) > m.cfg.MaxSessionAge
}

// Acquire is the only way to obtain a permit for an outbound action.
func (m *Manager) Acquire(ctx context.Context, class behavior.ActionClass) (scheduler.Permit, error) {
	ctx, done := m.bind(ctx)
	defer done()

	permit, err := m.sched.Submit(ctx, class)
	if err != nil && m.root.Err() != nil {
		return permit, scheduler.ErrCancelled
	}
	return permit, err
}

// bind derives a context that is also cancelled when the manager closes.
func (m *Manager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.root, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// transitionLocked moves the state machine along a legal edge. Illegal
// transitions are programming errors: they are logged and refused.
func (m *Manager) transitionLocked(to State, reason string) error {
	from := m.state
	if !CanTransition(from, to) {
		m.logger.Error("refusing session transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", reason),
		)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.state = to
	m.logger.Info("session state changed",
		zap.String("account", maskAccount(m.session.Account)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	if m.metrics != nil {
		m.metrics.SessionTransition(string(from), string(to))
	}
	return nil
}

// MarkExpired records that the site logged the session out.
func (m *Manager) MarkExpired(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Expired {
		return nil
	}
	return m.transitionLocked(Expired, reason)
}

// MarkBanned records a ban or lockout. Every later permit request fails fast.
func (m *Manager) MarkBanned(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Banned {
		return nil
	}
	return m.transitionLocked(Banned, reason)
}

// Close cancels pending scheduler waits, releases the browser and returns
// the state to ANONYMOUS. It is safe to call more than once.
func (m *Manager) Close(_ context.Context) error {
	m.sched.Close()
	m.cancel()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.page != nil {
		err = m.page.Close()
		m.page = nil
		m.human = nil
	}

	if m.state != Anonymous {
		_ = m.transitionLocked(Anonymous, "teardown")
	}
	m.session.Cookies = nil
	m.session.CaptchaPending = false

	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	m.logger.Info("browser session released")
	return nil
}

func maskAccount(account string) string {
	r := []rune(account)
	if len(r) < 7 {
		return account
	}
	return string(r[:3]) + "****" + string(r[len(r)-4:])
}
