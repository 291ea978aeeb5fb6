package session

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/browser/browsertest"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const phone = "13800000000"

var (
	loginForm   = []string{".ipt-phone", ".ipt-pwd", ".btn-login"}
	loggedIn    = []string{".user-avatar"}
	creds       = Credentials{Phone: phone, Password: "secret"}
	authCookies = []browser.Cookie{{Name: "wt2", Value: "token", Domain: ".zhipin.com"}}
)

type zeroJitter struct{}

func (zeroJitter) Delay(behavior.ActionClass) time.Duration { return 0 }

type harness struct {
	site     *zhipin.Site
	page     *browsertest.Page
	launcher *browsertest.Launcher
	store    *FileStore
	mgr      *Manager
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	site := zhipin.New("")
	page := browsertest.New()
	page.Screens[site.HomeURL()] = browsertest.Screen{Present: loginForm}

	core, logs := observer.New(zapcore.DebugLevel)

	h := &harness{
		site:     site,
		page:     page,
		launcher: &browsertest.Launcher{Page: page},
		store:    NewFileStore(t.TempDir()),
		logs:     logs,
	}

	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 100
	}

	mgr, err := NewManager(cfg, Deps{
		Launcher: h.launcher,
		Store:    h.store,
		Site:     site,
		Profile:  behavior.NewSeeded(1, behavior.Options{AntiDetection: false}),
		Jitter:   zeroJitter{},
		Logger:   zap.New(core),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	h.mgr = mgr
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	return h
}

// acceptLogin makes the submit button land on an authenticated page.
func (h *harness) acceptLogin() {
	h.page.OnClick[".btn-login"] = func(p *browsertest.Page) {
		_ = p.SetCookies(context.Background(), authCookies)
		p.Show(browsertest.Screen{URL: h.site.HomeURL(), Present: loggedIn})
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()

	h.acceptLogin()
	state, err := h.mgr.Login(context.Background(), creds)
	if err != nil || state != Authenticated {
		t.Fatalf("login: state %s, err %v", state, err)
	}
}

func TestTransitionsFollowEdges(t *testing.T) {
	t.Parallel()

	all := []State{Anonymous, LoggingIn, AwaitingCaptcha, Authenticated, Expired, Banned}
	allowed := map[State][]State{
		Anonymous:       {Anonymous, LoggingIn},
		LoggingIn:       {Anonymous, LoggingIn, AwaitingCaptcha, Authenticated, Banned},
		AwaitingCaptcha: {Anonymous, LoggingIn},
		Authenticated:   {Anonymous, Expired, Banned},
		Expired:         {Anonymous, LoggingIn},
		Banned:          {Anonymous},
	}

	for _, from := range all {
		for _, to := range all {
			want := slices.Contains(allowed[from], to)
			if got := CanTransition(from, to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	if _, err := h.mgr.Login(context.Background(), Credentials{Phone: phone}); !errors.Is(err, ErrEmptyCredentials) {
		t.Fatalf("expected ErrEmptyCredentials, got %v", err)
	}
	if len(h.launcher.Launches()) != 0 {
		t.Fatalf("browser must not be launched for empty credentials")
	}
}

func TestLoginSuccessPersistsCookies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.login(t)

	if h.page.Typed(".ipt-phone") != phone || h.page.Typed(".ipt-pwd") != "secret" {
		t.Fatalf("credentials were not typed into the form")
	}

	rec, err := h.store.Load(context.Background(), phone)
	if err != nil {
		t.Fatalf("load stored session: %v", err)
	}
	if len(rec.Cookies) != 1 || rec.Cookies[0].Value != "token" || rec.AuthenticatedAt.IsZero() {
		t.Fatalf("unexpected stored record %+v", rec)
	}

	s := h.mgr.Session()
	if s.State != Authenticated || s.Account != phone || len(s.Cookies) != 1 {
		t.Fatalf("unexpected session %+v", s)
	}

	changes := h.logs.FilterMessage("session state changed").Len()
	if changes != 2 {
		t.Fatalf("expected 2 logged transitions, got %d", changes)
	}
	for _, entry := range h.logs.All() {
		for _, f := range entry.Context {
			if f.String == "secret" {
				t.Fatalf("password leaked into log entry %q", entry.Message)
			}
		}
	}
}

func TestLoginReusesStoredCookies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	if err := h.store.Save(context.Background(), &Record{Account: phone, Cookies: authCookies, AuthenticatedAt: time.Now()}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	h.page.Screens[h.site.HomeURL()] = browsertest.Screen{Present: loggedIn}

	state, err := h.mgr.Login(context.Background(), creds)
	if err != nil || state != Authenticated {
		t.Fatalf("login: state %s, err %v", state, err)
	}

	if h.page.Typed(".ipt-phone") != "" {
		t.Fatalf("credentials must not be resubmitted when cookies are valid")
	}
	if got := h.page.StoredCookies(); len(got) != 1 || got[0].Name != "wt2" {
		t.Fatalf("stored cookies were not applied, got %+v", got)
	}
}

func TestLoginDropsRejectedCookies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	if err := h.store.Save(context.Background(), &Record{Account: phone, Cookies: authCookies, AuthenticatedAt: time.Now()}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	h.page.OnClick[".btn-login"] = func(p *browsertest.Page) {
		p.Show(browsertest.Screen{Present: append(slices.Clone(loginForm), ".login-error")})
	}

	if _, err := h.mgr.Login(context.Background(), creds); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if _, err := h.store.Load(context.Background(), phone); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("rejected cookies must be deleted, got %v", err)
	}
}

func TestLoginCaptchaThenResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.page.OnClick[".btn-login"] = func(p *browsertest.Page) {
		p.Show(browsertest.Screen{URL: h.site.HomeURL(), Present: []string{".geetest_slider_button"}})
	}

	state, err := h.mgr.Login(context.Background(), creds)
	if state != AwaitingCaptcha {
		t.Fatalf("expected AWAITING_CAPTCHA, got %s", state)
	}
	if !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected captcha signal, got %v", err)
	}
	var cerr *CaptchaError
	if !errors.As(err, &cerr) || cerr.Marker != "geetest-slider" {
		t.Fatalf("expected CaptchaError with marker, got %v", err)
	}
	if !h.mgr.Session().CaptchaPending {
		t.Fatalf("captcha must be flagged as pending")
	}

	// The operator solves the challenge in the browser.
	h.page.Show(browsertest.Screen{URL: h.site.HomeURL(), Present: loggedIn})

	state, err = h.mgr.Login(context.Background(), creds)
	if err != nil || state != Authenticated {
		t.Fatalf("resume: state %s, err %v", state, err)
	}
	if h.page.Typed(".ipt-phone") != phone {
		t.Fatalf("resuming must not retype credentials, typed %q", h.page.Typed(".ipt-phone"))
	}
	if h.mgr.Session().CaptchaPending {
		t.Fatalf("captcha flag must clear after authentication")
	}
}

func TestRepeatedFailuresBanAndFailFast(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxLoginFailures: 2})
	h.page.OnClick[".btn-login"] = func(p *browsertest.Page) {
		p.Show(browsertest.Screen{Present: append(slices.Clone(loginForm), ".login-error")})
	}

	state, err := h.mgr.Login(context.Background(), creds)
	if state != LoggingIn || !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("first attempt: state %s, err %v", state, err)
	}

	state, err = h.mgr.Login(context.Background(), creds)
	if state != Banned || !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("second attempt: state %s, err %v", state, err)
	}

	navigations := len(h.page.Navigations())
	state, err = h.mgr.Login(context.Background(), creds)
	if state != Banned || !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("banned login: state %s, err %v", state, err)
	}
	if len(h.page.Navigations()) != navigations {
		t.Fatalf("banned session must fail fast without navigation")
	}

	if _, err := h.mgr.Acquire(context.Background(), behavior.Navigation); !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("expected permits to be refused, got %v", err)
	}
}

func TestUnfillableLoginFormCountsAsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxLoginFailures: 3})
	// The site swapped its layout: the home page has no login form.
	h.page.Screens[h.site.HomeURL()] = browsertest.Screen{}

	for attempt := 1; attempt < 3; attempt++ {
		state, err := h.mgr.Login(context.Background(), creds)
		if state != LoggingIn || !errors.Is(err, browser.ErrNotFound) {
			t.Fatalf("attempt %d: state %s, err %v", attempt, state, err)
		}
	}

	state, err := h.mgr.Login(context.Background(), creds)
	if state != Banned || !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("third attempt: state %s, err %v", state, err)
	}
	if h.mgr.State() != Banned {
		t.Fatalf("expected BANNED, got %s", h.mgr.State())
	}
	if h.logs.FilterMessage("login attempt failed").Len() != 3 {
		t.Fatalf("expected three counted failures, got %d", h.logs.FilterMessage("login attempt failed").Len())
	}
}

func TestActionsRequireAuthentication(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	if err := h.mgr.Navigate(context.Background(), h.site.SearchURL(zhipin.Query{Keyword: "go"}, 1)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("anonymous navigate: expected ErrSessionExpired, got %v", err)
	}
	if len(h.launcher.Launches()) != 0 || len(h.page.Navigations()) != 0 {
		t.Fatalf("no network action may happen while anonymous")
	}

	h.login(t)
	if err := h.mgr.MarkExpired("test"); err != nil {
		t.Fatalf("mark expired: %v", err)
	}

	navigations := len(h.page.Navigations())
	if err := h.mgr.Navigate(context.Background(), h.site.HomeURL()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expired navigate: expected ErrSessionExpired, got %v", err)
	}
	if len(h.page.Navigations()) != navigations {
		t.Fatalf("no network action may happen while expired")
	}
}

func TestCheckStatusOnlyReads(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	if state, err := h.mgr.CheckStatus(context.Background()); err != nil || state != Anonymous {
		t.Fatalf("anonymous status: %s %v", state, err)
	}

	h.login(t)
	navigations := len(h.page.Navigations())
	granted := h.mgr.Stats().Granted

	if state, _ := h.mgr.CheckStatus(context.Background()); state != Authenticated {
		t.Fatalf("expected AUTHENTICATED, got %s", state)
	}

	h.page.Show(browsertest.Screen{Present: loginForm})
	if state, _ := h.mgr.CheckStatus(context.Background()); state != Expired {
		t.Fatalf("expected EXPIRED once the marker disappears, got %s", state)
	}

	if h.mgr.State() != Authenticated {
		t.Fatalf("check status must not mutate state")
	}
	if len(h.page.Navigations()) != navigations || h.mgr.Stats().Granted != granted {
		t.Fatalf("check status must not navigate or consume permits")
	}
}

func TestInspectClassifiesPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.login(t)

	h.page.Show(browsertest.Screen{Present: append(slices.Clone(loggedIn), ".verify-slider")})
	if err := h.mgr.Inspect(context.Background()); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected captcha, got %v", err)
	}
	if h.mgr.State() != Authenticated {
		t.Fatalf("captcha must not change state, got %s", h.mgr.State())
	}

	h.page.Show(browsertest.Screen{Present: []string{".forbidden-page"}})
	if err := h.mgr.Inspect(context.Background()); !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("expected ban, got %v", err)
	}
	if h.mgr.State() != Banned {
		t.Fatalf("expected BANNED, got %s", h.mgr.State())
	}
}

func TestInspectExpiresLoggedOutSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.login(t)

	h.page.Show(browsertest.Screen{Present: loginForm})
	if err := h.mgr.Inspect(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if h.mgr.State() != Expired {
		t.Fatalf("expected EXPIRED, got %s", h.mgr.State())
	}
}

func TestSessionAgeLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxSessionAge: 20 * time.Millisecond})
	h.login(t)

	time.Sleep(40 * time.Millisecond)

	if _, err := h.mgr.Acquire(context.Background(), behavior.Clicking); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if h.mgr.State() != Expired {
		t.Fatalf("expected EXPIRED, got %s", h.mgr.State())
	}
}

func TestCloseCancelsPendingWaitAndReleasesBrowser(t *testing.T) {
	t.Parallel()

	// Login consumes exactly five permits, filling the window.
	h := newHarness(t, Config{MaxRequestsPerMinute: 5, Window: time.Hour})
	h.login(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Acquire(context.Background(), behavior.Clicking)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := h.mgr.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, scheduler.ErrCancelled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending acquire did not return after close")
	}

	if !h.page.Closed() {
		t.Fatalf("browser page must be released")
	}
	if h.mgr.State() != Anonymous {
		t.Fatalf("expected ANONYMOUS after close, got %s", h.mgr.State())
	}

	if err := h.mgr.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if h.page.CloseCalls() != 1 {
		t.Fatalf("page closed %d times", h.page.CloseCalls())
	}

	if _, err := h.mgr.Login(context.Background(), creds); !errors.Is(err, ErrClosed) {
		t.Fatalf("login after close: expected ErrClosed, got %v", err)
	}
}

func TestNewManagerValidatesConfig(t *testing.T) {
	t.Parallel()

	deps := Deps{Launcher: &browsertest.Launcher{}, Store: NewFileStore(t.TempDir())}

	if _, err := NewManager(Config{MaxRequestsPerMinute: 0}, deps); !errors.Is(err, scheduler.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
	if _, err := NewManager(Config{MaxRequestsPerMinute: 8, UseProxy: true}, deps); !errors.Is(err, ErrNoProxies) {
		t.Fatalf("expected ErrNoProxies, got %v", err)
	}
}

func TestLaunchUsesProxyAndFingerprint(t *testing.T) {
	t.Parallel()

	site := zhipin.New("")
	page := browsertest.New()
	page.Screens[site.HomeURL()] = browsertest.Screen{Present: loggedIn}
	launcher := &browsertest.Launcher{Page: page}
	store := NewFileStore(t.TempDir())
	_ = store.Save(context.Background(), &Record{Account: phone, Cookies: authCookies, AuthenticatedAt: time.Now()})

	mgr, err := NewManager(Config{
		MaxRequestsPerMinute: 100,
		AntiDetection:        true,
		UseProxy:             true,
		Proxies:              []string{"socks5://127.0.0.1:1080"},
		Headless:             true,
	}, Deps{Launcher: launcher, Store: store, Site: site, Profile: behavior.NewSeeded(3, behavior.DefaultOptions()), Jitter: zeroJitter{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.Close(context.Background())

	if _, err := mgr.Login(context.Background(), creds); err != nil {
		t.Fatalf("login: %v", err)
	}

	launches := launcher.Launches()
	if len(launches) != 1 {
		t.Fatalf("expected one launch, got %d", len(launches))
	}
	opts := launches[0]
	if opts.Proxy != "socks5://127.0.0.1:1080" || !opts.Headless || !opts.AntiDetection {
		t.Fatalf("unexpected launch options %+v", opts)
	}
	if opts.Fingerprint.UserAgent == "" || opts.Fingerprint.Width == 0 {
		t.Fatalf("expected a fingerprint, got %+v", opts.Fingerprint)
	}
}

func TestBrowseScrollsWithOnePermit(t *testing.T) {
	t.Parallel()

	site := zhipin.New("")
	page := browsertest.New()
	page.Screens[site.HomeURL()] = browsertest.Screen{Present: loggedIn}
	store := NewFileStore(t.TempDir())
	_ = store.Save(context.Background(), &Record{Account: phone, Cookies: authCookies, AuthenticatedAt: time.Now()})

	mgr, err := NewManager(Config{MaxRequestsPerMinute: 100, AntiDetection: true}, Deps{
		Launcher: &browsertest.Launcher{Page: page},
		Store:    store,
		Site:     site,
		Profile:  behavior.NewSeeded(4, behavior.DefaultOptions()),
		Jitter:   zeroJitter{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.Close(context.Background())

	if err := mgr.Browse(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("anonymous browse: expected ErrSessionExpired, got %v", err)
	}

	if _, err := mgr.Login(context.Background(), creds); err != nil {
		t.Fatalf("login: %v", err)
	}

	before := mgr.Stats().Granted
	if err := mgr.Browse(context.Background()); err != nil {
		t.Fatalf("browse: %v", err)
	}
	if got := mgr.Stats().Granted - before; got != 1 {
		t.Fatalf("a reading pass must take exactly one permit, took %d", got)
	}

	scrolls := page.Scrolls()
	if len(scrolls) == 0 || scrolls[0] <= 0 {
		t.Fatalf("expected a pass starting with a downward movement, got %v", scrolls)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Load(ctx, phone); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}

	rec := &Record{Account: phone, Cookies: authCookies, AuthenticatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(store.path(phone))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("session file must be private, got %v", info.Mode().Perm())
	}

	got, err := store.Load(ctx, phone)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.AuthenticatedAt.Equal(rec.AuthenticatedAt) || got.Cookies[0].Value != "token" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := store.Delete(ctx, phone); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, phone); err != nil {
		t.Fatalf("deleting a missing record must succeed: %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("ZHIPIN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ZHIPIN_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	store, client, err := NewRedisStoreFromURL(ctx, url, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	account := "test-" + phone
	t.Cleanup(func() { _ = store.Delete(ctx, account) })

	if err := store.Save(ctx, &Record{Account: account, Cookies: authCookies, AuthenticatedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ttl, err := client.TTL(ctx, redisKey(account)).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("expected a ttl on the session key, got %v %v", ttl, err)
	}

	got, err := store.Load(ctx, account)
	if err != nil || len(got.Cookies) != 1 {
		t.Fatalf("load: %+v %v", got, err)
	}

	if err := store.Delete(ctx, account); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, account); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord after delete, got %v", err)
	}
}
