// Package zhipin knows the BOSS Zhipin web pages: URLs, selectors, the login
// and greeting forms and how search results are laid out.
package zhipin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
)

const DefaultBaseURL = "https://www.zhipin.com"

const (
	selLoginEntry   = ".btn-start"
	selPhone        = ".ipt-phone"
	selPassword     = ".ipt-pwd"
	selLoginSubmit  = ".btn-login"
	selLoginError   = ".login-error"
	selStartChat    = ".btn-startchat"
	selMessage      = ".msg-textarea"
	selSend         = ".btn-send"
	selContinueChat = ".btn-continue"
)

// loggedInMarkers only render for an authenticated visitor.
var loggedInMarkers = []string{".user-avatar", ".header-avatar img", ".nav-user", ".nav-figure"}

var (
	ErrCaptcha     = errors.New("captcha challenge shown")
	ErrRiskControl = errors.New("risk control page shown")
	ErrNoChat      = errors.New("posting has no chat button")
	ErrBadLogin    = errors.New("login rejected")
)

// PageError reports a challenge or risk page together with the marker that
// identified it.
type PageError struct {
	Err    error
	Marker string
	URL    string
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%v (marker %s at %s)", e.Err, e.Marker, e.URL)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Driver performs paced actions on the session's page and exposes read-only
// access to what is currently rendered.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Has(ctx context.Context, selector string) (bool, error)
}

type Site struct {
	base string
}

func New(base string) *Site {
	if base == "" {
		base = DefaultBaseURL
	}
	return &Site{base: strings.TrimRight(base, "/")}
}

func (s *Site) HomeURL() string {
	return s.base + "/"
}

func (s *Site) JobURL(id string) string {
	return s.base + "/job_detail/" + url.PathEscape(id) + ".html"
}

// Query is a job search. Empty fields are not sent.
type Query struct {
	Keyword    string `json:"keyword" mapstructure:"keyword" validate:"required"`
	City       string `json:"city,omitempty" mapstructure:"city"`
	Experience string `json:"experience,omitempty" mapstructure:"experience"`
	Education  string `json:"education,omitempty" mapstructure:"education"`
	Salary     string `json:"salary,omitempty" mapstructure:"salary"`
}

// SearchURL builds the result page URL. Human readable filters are mapped to
// the site's codes; unknown values are passed through as given.
func (s *Site) SearchURL(q Query, page int) string {
	v := url.Values{}
	v.Set("query", q.Keyword)
	if q.City != "" {
		v.Set("city", lookup(cityCodes, q.City))
	}
	if q.Experience != "" {
		v.Set("experience", lookup(experienceCodes, q.Experience))
	}
	if q.Education != "" {
		v.Set("degree", lookup(degreeCodes, q.Education))
	}
	if q.Salary != "" {
		v.Set("salary", lookup(salaryCodes, q.Salary))
	}
	if page > 1 {
		v.Set("page", strconv.Itoa(page))
	}
	return s.base + "/web/geek/job?" + v.Encode()
}

// LoggedIn reads the authenticated-only markers on the current page.
func (s *Site) LoggedIn(ctx context.Context, page browser.Page) (bool, error) {
	for _, sel := range loggedInMarkers {
		ok, err := page.Has(ctx, sel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot collects what the captcha and risk classifiers look at.
func (s *Site) Snapshot(ctx context.Context, page browser.Page) (behavior.Snapshot, error) {
	var snap behavior.Snapshot

	u, err := page.URL(ctx)
	if err != nil {
		return snap, err
	}
	snap.URL = u

	text, err := page.Text(ctx, "body")
	if err != nil && !errors.Is(err, browser.ErrNotFound) {
		return snap, err
	}
	snap.Text = text

	for _, sel := range behavior.ProbeSelectors() {
		ok, err := page.Has(ctx, sel)
		if err != nil {
			return snap, err
		}
		if ok {
			snap.Present = append(snap.Present, sel)
		}
	}

	return snap, nil
}

// Inspect classifies the current page. Risk pages take precedence over
// captcha challenges.
func (s *Site) Inspect(ctx context.Context, page browser.Page) error {
	snap, err := s.Snapshot(ctx, page)
	if err != nil {
		return fmt.Errorf("inspect page: %w", err)
	}

	if ok, marker := behavior.DetectRisk(snap); ok {
		return &PageError{Err: ErrRiskControl, Marker: marker, URL: snap.URL}
	}
	if ok, marker := behavior.DetectCaptcha(snap); ok {
		return &PageError{Err: ErrCaptcha, Marker: marker, URL: snap.URL}
	}
	return nil
}

// SubmitLogin opens the password form on the home page and submits it.
func (s *Site) SubmitLogin(ctx context.Context, d Driver, phone, password string) error {
	if err := d.Navigate(ctx, s.HomeURL()); err != nil {
		return fmt.Errorf("open home page: %w", err)
	}

	ok, err := d.Has(ctx, selLoginEntry)
	if err != nil {
		return err
	}
	if ok {
		if err := d.Click(ctx, selLoginEntry); err != nil {
			return fmt.Errorf("open login form: %w", err)
		}
	}

	if err := d.Type(ctx, selPhone, phone); err != nil {
		return fmt.Errorf("enter phone: %w", err)
	}
	if err := d.Type(ctx, selPassword, password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	if err := d.Click(ctx, selLoginSubmit); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	return nil
}

// LoginRejected reports whether the form shows a credentials error.
func (s *Site) LoginRejected(ctx context.Context, page browser.Page) (bool, error) {
	return page.Has(ctx, selLoginError)
}

// Greet opens the posting, starts a chat with its recruiter and sends message.
// The caller inspects the page for challenges through check after navigation.
func (s *Site) Greet(ctx context.Context, d Driver, postingID, message string, check func(context.Context) error) error {
	if err := d.Navigate(ctx, s.JobURL(postingID)); err != nil {
		return fmt.Errorf("open posting %s: %w", postingID, err)
	}
	if check != nil {
		if err := check(ctx); err != nil {
			return err
		}
	}

	ok, err := d.Has(ctx, selStartChat)
	if err != nil {
		return err
	}
	if !ok {
		if chatted, _ := d.Has(ctx, selContinueChat); chatted {
			return fmt.Errorf("%w: chat with posting %s already open", ErrNoChat, postingID)
		}
		return fmt.Errorf("%w: %s", ErrNoChat, postingID)
	}
	if err := d.Click(ctx, selStartChat); err != nil {
		return fmt.Errorf("start chat for %s: %w", postingID, err)
	}

	if message != "" {
		if err := d.Type(ctx, selMessage, message); err != nil {
			return fmt.Errorf("type message for %s: %w", postingID, err)
		}
	}
	if err := d.Click(ctx, selSend); err != nil {
		return fmt.Errorf("send message for %s: %w", postingID, err)
	}

	return nil
}
