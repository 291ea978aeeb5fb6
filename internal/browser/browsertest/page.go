// Package browsertest provides a scripted browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/spigell/zhipin-responder/internal/browser"
)

// Screen is what the page shows after navigating to a URL.
type Screen struct {
	URL     string
	HTML    string
	Text    string
	Present []string
	// Texts holds the text of individual selectors.
	Texts map[string]string
}

// Page is a browser.Page whose content comes from Screens. It records every
// interaction so tests can assert on them.
type Page struct {
	mu sync.Mutex

	// Screens maps a URL to its content. URLs without a screen show Fallback.
	Screens  map[string]Screen
	Fallback Screen
	// NavigateErrors are returned by successive Navigate calls before any succeed.
	NavigateErrors []error
	// OnClick runs after a click on the selector; it may change the screen.
	OnClick map[string]func(p *Page)

	current     Screen
	cookies     []browser.Cookie
	navigations []string
	clicks      []string
	typed       map[string]string
	moves       int
	scrolls     []float64
	armed       string
	closed      bool
	closeCalls  int
}

func New() *Page {
	return &Page{
		Screens: map[string]Screen{},
		OnClick: map[string]func(p *Page){},
		typed:   map[string]string{},
	}
}

// Show replaces the current screen without recording a navigation.
func (p *Page) Show(s Screen) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.navigations)
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.clicks)
}

func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

func (p *Page) Moves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *Page) StoredCookies() []browser.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.cookies)
}

func (p *Page) check(ctx context.Context) error {
	if p.closed {
		return browser.ErrClosed
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(ctx); err != nil {
		return err
	}

	p.navigations = append(p.navigations, url)

	if len(p.NavigateErrors) > 0 {
		err := p.NavigateErrors[0]
		p.NavigateErrors = p.NavigateErrors[1:]
		if err != nil {
			return err
		}
	}

	screen, ok := p.Screens[url]
	if !ok {
		screen = p.Fallback
	}
	if screen.URL == "" {
		screen.URL = url
	}
	p.current = screen

	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.current.URL, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.current.HTML, nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	if text, ok := p.current.Texts[selector]; ok {
		return text, nil
	}
	if selector == "body" {
		return p.current.Text, nil
	}
	if slices.Contains(p.current.Present, selector) {
		return "", nil
	}
	return "", fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return false, err
	}
	return p.present(selector), nil
}

func (p *Page) present(selector string) bool {
	if slices.Contains(p.current.Present, selector) {
		return true
	}
	_, ok := p.current.Texts[selector]
	return ok
}

func (p *Page) Box(ctx context.Context, selector string) (browser.Box, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return browser.Box{}, err
	}
	if !p.present(selector) {
		return browser.Box{}, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.armed = selector
	return browser.Box{X: 100, Y: 200, Width: 120, Height: 32}, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.present(selector) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.clicks = append(p.clicks, selector)
	hook := p.OnClick[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	if !p.present(selector) {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.typed[selector] += text
	return nil
}

func (p *Page) MoveMouse(ctx context.Context, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.moves++
	return nil
}

// ClickMouse clicks whatever selector Box was last called for, the way a
// pointer click lands on the element it was moved to.
func (p *Page) ClickMouse(ctx context.Context) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	target := p.armed
	if target == "" {
		target = "mouse"
	}
	p.clicks = append(p.clicks, target)
	hook := p.OnClick[target]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Scroll(ctx context.Context, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.scrolls = append(p.scrolls, dy)
	return nil
}

// Scrolls returns every wheel movement in order.
func (p *Page) Scrolls() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.scrolls)
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(p.cookies), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.cookies = slices.Clone(cookies)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	return nil
}

// Launcher hands out a prepared Page.
type Launcher struct {
	mu       sync.Mutex
	Page     *Page
	Err      error
	launches []browser.Options
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.launches = append(l.launches, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Page, nil
}

func (l *Launcher) Launches() []browser.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.launches)
}
