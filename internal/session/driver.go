package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

// live returns the page and its human driver, or ErrSessionExpired when no
// browser is open.
func (m *Manager) live() (browser.Page, *browser.Human, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	if m.page == nil {
		return nil, nil, ErrSessionExpired
	}
	return m.page, m.human, nil
}

// Navigate loads url after a navigation permit is granted.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	if _, err := m.Acquire(ctx, behavior.Navigation); err != nil {
		return err
	}
	page, _, err := m.live()
	if err != nil {
		return err
	}
	return page.Navigate(ctx, url)
}

func (m *Manager) Click(ctx context.Context, selector string) error {
	if _, err := m.Acquire(ctx, behavior.Clicking); err != nil {
		return err
	}
	_, human, err := m.live()
	if err != nil {
		return err
	}
	return human.Click(ctx, selector)
}

func (m *Manager) Type(ctx context.Context, selector, text string) error {
	if _, err := m.Acquire(ctx, behavior.Typing); err != nil {
		return err
	}
	_, human, err := m.live()
	if err != nil {
		return err
	}
	return human.Type(ctx, selector, text)
}

// Browse skims the loaded page with the mouse wheel. The whole pass takes
// one scrolling permit; the pauses between movements come from the profile.
// Without anti-detection there is nothing to do.
func (m *Manager) Browse(ctx context.Context) error {
	plan := m.profile.ScrollPlan()
	if len(plan) == 0 {
		return nil
	}

	if _, err := m.Acquire(ctx, behavior.Scrolling); err != nil {
		return err
	}
	_, human, err := m.live()
	if err != nil {
		return err
	}
	return human.Scroll(ctx, plan)
}

// Has reads the rendered page; it is not an outbound action.
func (m *Manager) Has(ctx context.Context, selector string) (bool, error) {
	page, _, err := m.live()
	if err != nil {
		return false, err
	}
	return page.Has(ctx, selector)
}

func (m *Manager) HTML(ctx context.Context) (string, error) {
	page, _, err := m.live()
	if err != nil {
		return "", err
	}
	return page.HTML(ctx)
}

// Inspect checks the current page of an authenticated session. A risk page
// bans the session, a logged-out page expires it, and a challenge is
// returned as *CaptchaError without changing state.
func (m *Manager) Inspect(ctx context.Context) error {
	page, _, err := m.live()
	if err != nil {
		return err
	}

	if err := m.site.Inspect(ctx, page); err != nil {
		var pe *zhipin.PageError
		if !errors.As(err, &pe) {
			return err
		}
		if errors.Is(pe, zhipin.ErrRiskControl) {
			_ = m.MarkBanned("risk marker " + pe.Marker)
			return fmt.Errorf("%w: %s", ErrAccountBanned, pe.Marker)
		}

		m.mu.Lock()
		m.session.CaptchaPending = true
		m.mu.Unlock()
		return &CaptchaError{Marker: pe.Marker, URL: pe.URL}
	}

	ok, err := m.site.LoggedIn(ctx, page)
	if err != nil {
		return err
	}
	if !ok {
		_ = m.MarkExpired("logged-in marker missing")
		return ErrSessionExpired
	}
	return nil
}

// CheckStatus reports the session state from the page already loaded. It
// never navigates, consumes no permit and changes nothing.
func (m *Manager) CheckStatus(ctx context.Context) (State, error) {
	m.mu.Lock()
	state := m.state
	page := m.page
	aged := state == Authenticated && m.agedLocked()
	m.mu.Unlock()

	if state != Authenticated || page == nil {
		return state, nil
	}
	if aged {
		return Expired, nil
	}

	ok, err := m.site.LoggedIn(ctx, page)
	if err != nil {
		return state, err
	}
	if !ok {
		return Expired, nil
	}
	return Authenticated, nil
}
