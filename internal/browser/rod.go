package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	elementTimeout           = 10 * time.Second
	// A wheel movement is split into this many scroll events.
	wheelSteps = 6
)

type RodLauncher struct {
	logger *zap.Logger
}

func NewRodLauncher(logger *zap.Logger) *RodLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodLauncher{logger: logger}
}

// Launch starts Chromium. The browser outlives ctx; only Page.Close stops it.
func (r *RodLauncher) Launch(ctx context.Context, opts Options) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	if opts.AntiDetection {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}
	if fp := opts.Fingerprint; fp.Width > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", fp.Width, fp.Height))
		if len(fp.Languages) > 0 {
			l = l.Set("lang", fp.Languages[0])
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	var page *rod.Page
	if opts.AntiDetection {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if fp := opts.Fingerprint; fp.Width > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             fp.Width,
			Height:            fp.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			r.logger.Warn("failed to set viewport", zap.Error(err))
		}
	}
	if fp := opts.Fingerprint; fp.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      fp.UserAgent,
			AcceptLanguage: fp.AcceptLanguage,
			Platform:       fp.Platform,
		}); err != nil {
			r.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}

	timeout := opts.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}

	r.logger.Info("browser launched",
		zap.Bool("headless", opts.Headless),
		zap.Bool("proxy", opts.Proxy != ""),
		zap.Bool("anti_detection", opts.AntiDetection),
	)

	return &rodPage{browser: b, page: page, launcher: l, navTimeout: timeout}, nil
}

type rodPage struct {
	browser    *rod.Browser
	page       *rod.Page
	launcher   *launcher.Launcher
	navTimeout time.Duration
	closed     bool
}

// transient tags navigation and timeout failures so callers can retry them.
func transient(err error) error {
	if err == nil {
		return nil
	}
	var navErr *rod.ErrNavigation
	if errors.As(err, &navErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Timeout(elementTimeout).Element(selector)
	if err != nil {
		var notFound *rod.ErrElementNotFound
		if errors.As(err, &notFound) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return nil, err
	}
	return el, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := page.Navigate(url); err != nil {
		return transient(err)
	}
	return transient(page.WaitLoad())
}

func (p *rodPage) URL(context.Context) (string, error) {
	info, err := p.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	return html, transient(err)
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.element(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *rodPage) Has(ctx context.Context, selector string) (bool, error) {
	ok, _, err := p.page.Context(ctx).Has(selector)
	return ok, err
}

func (p *rodPage) Box(ctx context.Context, selector string) (Box, error) {
	el, err := p.element(ctx, selector)
	if err != nil {
		return Box{}, err
	}
	if err := el.ScrollIntoView(); err != nil {
		return Box{}, err
	}
	shape, err := el.Shape()
	if err != nil {
		return Box{}, err
	}
	rect := shape.Box()
	return Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return transient(el.Click(proto.InputMouseButtonLeft, 1))
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Input(text)
}

func (p *rodPage) MoveMouse(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse.MoveTo(proto.NewPoint(x, y))
}

func (p *rodPage) ClickMouse(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Scroll(ctx context.Context, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse.Scroll(0, dy, wheelSteps)
}

func (p *rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, err
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			cookie.Expires = c.Expires.Time()
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (p *rodPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, param)
	}
	return p.page.Context(ctx).SetCookies(params)
}

func (p *rodPage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	if err := p.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	p.launcher.Cleanup()

	return errors.Join(errs...)
}
