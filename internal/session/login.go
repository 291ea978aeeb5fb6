package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

// Login authenticates the account. A stored cookie set is tried first; the
// password form is used only when those cookies are missing or rejected.
//
// A *CaptchaError leaves the session in AWAITING_CAPTCHA; once the challenge
// is solved in the browser, calling Login again resumes from there.
func (m *Manager) Login(ctx context.Context, creds Credentials) (State, error) {
	if creds.Phone == "" || creds.Password == "" {
		return m.State(), ErrEmptyCredentials
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, done := m.bind(ctx)
	defer done()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Anonymous, ErrClosed
	}

	switch m.state {
	case Banned:
		m.mu.Unlock()
		return Banned, ErrAccountBanned
	case Authenticated:
		if m.session.Account == creds.Phone && !m.agedLocked() {
			m.mu.Unlock()
			return Authenticated, nil
		}
		if err := m.transitionLocked(Expired, "re-login requested"); err != nil {
			m.mu.Unlock()
			return Authenticated, err
		}
	}

	if err := m.transitionLocked(LoggingIn, "login requested"); err != nil {
		state := m.state
		m.mu.Unlock()
		return state, err
	}
	m.session.Account = creds.Phone
	resume := m.session.CaptchaPending
	m.mu.Unlock()

	return m.login(withLoginFlow(ctx), creds, resume)
}

func (m *Manager) login(ctx context.Context, creds Credentials, resume bool) (State, error) {
	log := m.logger.With(zap.String("account", maskAccount(creds.Phone)))

	page, err := m.ensurePage(ctx)
	if err != nil {
		return LoggingIn, err
	}

	if resume {
		// The operator solved the challenge in the open browser.
		if state, decided, err := m.classify(ctx, page, false); decided {
			return state, err
		}
	} else if state, decided, err := m.restoreCookies(ctx, page, creds.Phone, log); decided {
		return state, err
	}

	log.Info("submitting login form")
	if err := m.site.SubmitLogin(ctx, m, creds.Phone, creds.Password); err != nil {
		if state, decided, cerr := m.classify(ctx, page, false); decided {
			switch state {
			case Authenticated:
				return state, nil
			case AwaitingCaptcha, Banned:
				return state, cerr
			}
		}
		if ctx.Err() != nil || errors.Is(err, scheduler.ErrCancelled) || errors.Is(err, ErrClosed) {
			return LoggingIn, err
		}
		// A form that cannot be filled in counts like a rejected one.
		return m.failAttempt(fmt.Errorf("submit login form: %w", err), false)
	}

	// The form submits asynchronously; wait a navigation-sized pause before reading.
	if _, err := m.Acquire(ctx, behavior.Navigation); err != nil {
		return m.State(), err
	}

	state, _, err := m.classify(ctx, page, true)
	return state, err
}

// classify reads the page after a login step. decided is false when nothing
// conclusive is shown; with final set, that counts as a failed attempt.
func (m *Manager) classify(ctx context.Context, page browser.Page, final bool) (State, bool, error) {
	if err := m.site.Inspect(ctx, page); err != nil {
		var pe *zhipin.PageError
		if !errors.As(err, &pe) {
			return LoggingIn, true, err
		}
		if errors.Is(pe, zhipin.ErrRiskControl) {
			_ = m.MarkBanned("risk marker " + pe.Marker + " during login")
			return Banned, true, fmt.Errorf("%w: %s", ErrAccountBanned, pe.Marker)
		}

		m.mu.Lock()
		m.session.CaptchaPending = true
		_ = m.transitionLocked(AwaitingCaptcha, "captcha marker "+pe.Marker)
		m.mu.Unlock()
		return AwaitingCaptcha, true, &CaptchaError{Marker: pe.Marker, URL: pe.URL}
	}

	ok, err := m.site.LoggedIn(ctx, page)
	if err != nil {
		return LoggingIn, true, err
	}
	if ok {
		if err := m.authenticate(ctx, page); err != nil {
			return LoggingIn, true, err
		}
		return Authenticated, true, nil
	}

	if !final {
		return LoggingIn, false, nil
	}

	rejected, _ := m.site.LoginRejected(ctx, page)

	state, err := m.failAttempt(ErrBadCredentials, rejected)
	return state, true, err
}

// failAttempt counts a failed login. Reaching MaxLoginFailures bans the
// account; below it the session stays in LOGGING_IN and cause is returned.
func (m *Manager) failAttempt(cause error, rejected bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	m.logger.Warn("login attempt failed",
		zap.Int("failures", m.failures),
		zap.Int("max_failures", m.cfg.MaxLoginFailures),
		zap.Bool("form_rejected", rejected),
		zap.Error(cause),
	)
	if m.failures >= m.cfg.MaxLoginFailures {
		_ = m.transitionLocked(Banned, "too many failed logins")
		return Banned, fmt.Errorf("%w: %d failed logins", ErrAccountBanned, m.failures)
	}
	// LOGGING_IN -> LOGGING_IN: the caller may retry with other credentials.
	_ = m.transitionLocked(LoggingIn, "login attempt failed")
	return LoggingIn, cause
}

// restoreCookies tries the stored cookie set. decided is true when the probe
// settled the login either way; stale or rejected records are removed.
func (m *Manager) restoreCookies(ctx context.Context, page browser.Page, account string, log *zap.Logger) (State, bool, error) {
	rec, err := m.store.Load(ctx, account)
	if err != nil {
		if !errors.Is(err, ErrNoRecord) {
			log.Warn("failed to load stored session", zap.Error(err))
		}
		return LoggingIn, false, nil
	}

	if time.Since(rec.AuthenticatedAt) > m.cfg.CookieTTL || len(rec.Cookies) == 0 {
		log.Info("stored session is stale", zap.Time("authenticated_at", rec.AuthenticatedAt))
		_ = m.store.Delete(ctx, account)
		return LoggingIn, false, nil
	}

	if err := page.SetCookies(ctx, rec.Cookies); err != nil {
		log.Warn("failed to apply stored cookies", zap.Error(err))
		return LoggingIn, false, nil
	}
	if err := m.Navigate(ctx, m.site.HomeURL()); err != nil {
		if ctx.Err() != nil {
			return LoggingIn, true, err
		}
		log.Warn("failed to probe stored session", zap.Error(err))
		return LoggingIn, false, nil
	}

	state, decided, err := m.classify(ctx, page, false)
	switch {
	case decided && state == Authenticated:
		log.Info("stored session accepted")
		return state, true, nil
	case decided && (state == AwaitingCaptcha || state == Banned):
		return state, true, err
	}

	log.Info("stored session rejected")
	_ = m.store.Delete(ctx, account)
	return LoggingIn, false, nil
}

// authenticate persists the live cookie set and enters AUTHENTICATED.
func (m *Manager) authenticate(ctx context.Context, page browser.Page) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}

	now := time.Now().UTC()

	m.mu.Lock()
	account := m.session.Account
	if err := m.transitionLocked(Authenticated, "login succeeded"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.session.Cookies = cookies
	m.session.AuthenticatedAt = now
	m.session.CaptchaPending = false
	m.failures = 0
	m.mu.Unlock()

	if err := m.store.Save(ctx, &Record{Account: account, Cookies: cookies, AuthenticatedAt: now}); err != nil {
		m.logger.Warn("failed to persist session", zap.Error(err))
	}
	return nil
}

// ensurePage launches the browser on first use with the profile's fingerprint.
func (m *Manager) ensurePage(ctx context.Context) (browser.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		return m.page, nil
	}

	opts := browser.Options{
		Headless:          m.cfg.Headless,
		AntiDetection:     m.cfg.AntiDetection,
		Bin:               m.cfg.BrowserBin,
		NavigationTimeout: m.cfg.NavigationTimeout,
	}
	if m.cfg.AntiDetection {
		opts.Fingerprint = m.profile.Fingerprint()
	}
	if m.cfg.UseProxy {
		opts.Proxy = m.cfg.Proxies[m.launches%len(m.cfg.Proxies)]
	}
	m.launches++

	page, err := m.launcher.Launch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	m.page = page
	m.human = browser.NewHuman(page, m.profile)
	return page, nil
}
