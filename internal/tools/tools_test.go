package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/browser/browsertest"
	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/session"
	"github.com/spigell/zhipin-responder/internal/utils"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const (
	phone   = "13800000000"
	keyword = "golang"
)

var (
	loginForm = []string{".ipt-phone", ".ipt-pwd", ".btn-login"}
	loggedIn  = []string{".user-avatar"}
	chatForm  = []string{".user-avatar", ".btn-startchat", ".msg-textarea", ".btn-send"}
)

type zeroJitter struct{}

func (zeroJitter) Delay(behavior.ActionClass) time.Duration { return 0 }

type card struct {
	id, company, city, salary string
	skills                    []string
}

func resultPage(cards ...card) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, c := range cards {
		fmt.Fprintf(&b, `<li class="job-card-wrapper" data-jobid="%s"><span class="job-title">Go 开发</span><span class="company-name">%s</span><span class="salary">%s</span>`, c.id, c.company, c.salary)
		fmt.Fprintf(&b, `<div class="info-primary"><span>%s</span><span>1-3年</span><span>本科</span></div><ul class="skill-tags">`, c.city)
		for _, s := range c.skills {
			fmt.Fprintf(&b, "<li>%s</li>", s)
		}
		b.WriteString("</ul></li>")
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

type harness struct {
	site     *zhipin.Site
	page     *browsertest.Page
	launcher *browsertest.Launcher
	history  *greeting.MemoryHistory
	kit      *Toolkit
}

func newHarness(t *testing.T, base session.Config) *harness {
	t.Helper()

	site := zhipin.New("")
	page := browsertest.New()
	page.Screens[site.HomeURL()] = browsertest.Screen{Present: loginForm}
	page.Fallback = browsertest.Screen{Present: loggedIn}
	page.OnClick[".btn-login"] = func(p *browsertest.Page) {
		_ = p.SetCookies(context.Background(), []browser.Cookie{{Name: "wt2", Value: "token", Domain: ".zhipin.com"}})
		p.Show(browsertest.Screen{URL: site.HomeURL(), Present: loggedIn})
	}

	page.Screens[site.SearchURL(zhipin.Query{Keyword: keyword}, 1)] = browsertest.Screen{
		Present: loggedIn,
		HTML: resultPage(
			card{id: "a1", company: "字节跳动", city: "北京", salary: "20-30K", skills: []string{"Go", "Redis"}},
			card{id: "b2", company: "外包公司", city: "上海", salary: "5-8K", skills: []string{"Java"}},
			card{id: "c3", company: "美团", city: "北京", salary: "20-30K", skills: []string{"Go", "Kafka"}},
		),
	}
	for _, id := range []string{"a1", "b2", "c3"} {
		page.Screens[site.JobURL(id)] = browsertest.Screen{Present: chatForm}
	}

	h := &harness{
		site:     site,
		page:     page,
		launcher: &browsertest.Launcher{Page: page},
		history:  greeting.NewMemoryHistory(),
	}

	store := session.NewFileStore(t.TempDir())
	kit, err := New(Deps{
		NewSession: func(cfg session.Config) (*session.Manager, error) {
			return session.NewManager(cfg, session.Deps{
				Launcher: h.launcher,
				Store:    store,
				Site:     site,
				Profile:  behavior.NewSeeded(1, behavior.Options{AntiDetection: false}),
				Jitter:   zeroJitter{},
				Logger:   zap.NewNop(),
			})
		},
		Session: base,
		Site:    site,
		History: h.history,
		Greeting: greeting.Config{
			SessionCap: greeting.DefaultSessionCap,
			Backoff:    utils.Backoff{Attempts: 2, Initial: time.Millisecond},
		},
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}
	h.kit = kit
	t.Cleanup(func() { _ = kit.CloseBrowser(context.Background()) })

	return h
}

func (h *harness) login(t *testing.T, perMinute int) {
	t.Helper()

	params := NewLoginParams(phone, "secret")
	params.MaxRequestsPerMinute = perMinute
	res, err := h.kit.Login(context.Background(), params)
	if err != nil || !res.LoggedIn {
		t.Fatalf("login: %+v, %v", res, err)
	}
}

func (h *harness) loadResume(t *testing.T) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "resume.yaml")
	content := `
name: 李雷
skills: [Go, Redis]
experience:
  - role: 后端开发
    months: 40
education: 本科
expected_salary: 20-30K
expected_position: golang
target_city: 北京
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write resume: %v", err)
	}
	if _, err := h.kit.LoadResume(context.Background(), path); err != nil {
		t.Fatalf("load resume: %v", err)
	}
}

func TestOperationsBeforeLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})

	if _, err := h.kit.SearchJobs(context.Background(), NewSearchParams(keyword)); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if len(h.launcher.Launches()) != 0 || len(h.page.Navigations()) != 0 {
		t.Fatalf("no browser activity expected before login")
	}

	status, err := h.kit.CheckLoginStatus(context.Background())
	if err != nil || status.State != session.Anonymous || status.LoggedIn {
		t.Fatalf("unexpected status %+v, %v", status, err)
	}

	if _, err := h.kit.GetResumeInfo(); !errors.Is(err, ErrNoResume) {
		t.Fatalf("expected ErrNoResume, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := h.kit.CloseBrowser(context.Background()); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}

func TestSearchRecommendAndGreet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.login(t, 500)
	h.loadResume(t)

	found, err := h.kit.SearchJobs(context.Background(), NewSearchParams(keyword))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if found.Total != 3 {
		t.Fatalf("expected 3 postings, got %d", found.Total)
	}

	clicks := len(h.page.Clicks())
	rec, err := h.kit.GetRecommendedJobs(context.Background(), NewRecommendParams(""))
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	var ids []string
	for _, r := range rec.Recommended {
		ids = append(ids, r.Posting.ID)
	}
	if !slices.Equal(ids, []string{"a1", "c3"}) {
		t.Fatalf("unexpected recommendations %v", ids)
	}
	if rec.Recommended[0].Score != 100 || rec.Resume.Name != "李雷" {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
	if len(h.page.Clicks()) != clicks {
		t.Fatalf("recommendations must not greet, clicks %v", h.page.Clicks())
	}

	params := NewGreetParams(keyword)
	params.MaxCount = 2
	report, err := h.kit.MatchAndGreet(context.Background(), params)
	if err != nil {
		t.Fatalf("match and greet: %v", err)
	}
	if !slices.Equal(report.Sent(), []string{"a1", "c3"}) {
		t.Fatalf("unexpected sent ids %v", report.Sent())
	}
	if !h.history.Contains("a1") || !h.history.Contains("c3") {
		t.Fatalf("greeted postings must be remembered")
	}
	if msg := h.page.Typed(".msg-textarea"); !strings.Contains(msg, "李雷") {
		t.Fatalf("unexpected greeting %q", msg)
	}

	again, err := h.kit.MatchAndGreet(context.Background(), params)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(again.Sent()) != 0 || again.Summary[greeting.SkippedDuplicate] != 2 {
		t.Fatalf("second run must not greet again: %+v", again.Summary)
	}
}

func TestGreetRequiresResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.login(t, 500)

	if _, err := h.kit.MatchAndGreet(context.Background(), NewGreetParams(keyword)); !errors.Is(err, ErrNoResume) {
		t.Fatalf("expected ErrNoResume, got %v", err)
	}
	if _, err := h.kit.GetRecommendedJobs(context.Background(), NewRecommendParams(keyword)); !errors.Is(err, ErrNoResume) {
		t.Fatalf("expected ErrNoResume, got %v", err)
	}
}

func TestLoginReportsCaptcha(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.page.OnClick[".btn-login"] = func(p *browsertest.Page) {
		p.Show(browsertest.Screen{URL: h.site.HomeURL(), Present: []string{".geetest_slider_button"}})
	}

	res, err := h.kit.Login(context.Background(), NewLoginParams(phone, "secret"))
	if err != nil {
		t.Fatalf("captcha must not be an error: %v", err)
	}
	if res.State != session.AwaitingCaptcha || res.Captcha != "geetest-slider" || res.LoggedIn {
		t.Fatalf("unexpected result %+v", res)
	}

	h.page.Show(browsertest.Screen{URL: h.site.HomeURL(), Present: loggedIn})

	res, err = h.kit.Login(context.Background(), NewLoginParams(phone, "secret"))
	if err != nil || res.State != session.Authenticated {
		t.Fatalf("resume: %+v, %v", res, err)
	}
	if n := len(h.launcher.Launches()); n != 1 {
		t.Fatalf("resuming must reuse the browser, launched %d times", n)
	}
}

func TestCloseBrowserCancelsPendingSearch(t *testing.T) {
	t.Parallel()

	// Login consumes exactly five permits, filling the window.
	h := newHarness(t, session.Config{Window: time.Hour})
	h.login(t, 5)

	done := make(chan error, 1)
	go func() {
		_, err := h.kit.SearchJobs(context.Background(), NewSearchParams(keyword))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := h.kit.CloseBrowser(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, scheduler.ErrCancelled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending search did not return after close")
	}

	if !h.page.Closed() {
		t.Fatal("browser must be released")
	}
	status, _ := h.kit.CheckLoginStatus(context.Background())
	if status.State != session.Anonymous {
		t.Fatalf("expected ANONYMOUS, got %s", status.State)
	}
}

func TestLoginRejectsNonPositiveRate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})

	params := NewLoginParams(phone, "secret")
	params.MaxRequestsPerMinute = 0
	if _, err := h.kit.Login(context.Background(), params); !errors.Is(err, scheduler.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
	if len(h.launcher.Launches()) != 0 {
		t.Fatalf("browser must not be launched with a broken rate limit")
	}
}

func TestCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})

	if _, err := h.kit.Call(context.Background(), "apply_everywhere", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if _, err := h.kit.Call(context.Background(), ToolLogin, map[string]any{"phone": phone}); err == nil {
		t.Fatal("expected validation error without password")
	}
	if _, err := h.kit.Call(context.Background(), ToolSearchJobs, map[string]any{"keyword": keyword, "pages": 2}); err == nil {
		t.Fatal("expected an error for an unknown argument")
	}

	res, err := h.kit.Call(context.Background(), ToolLogin, map[string]any{
		"phone":                   phone,
		"password":                "secret",
		"max_requests_per_minute": float64(500),
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.(*LoginResult).LoggedIn {
		t.Fatalf("unexpected login result %+v", res)
	}

	// JSON numbers arrive as float64.
	out, err := h.kit.Call(context.Background(), ToolSearchJobs, map[string]any{"keyword": keyword, "page_count": float64(1)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := out.(*SearchResult).Total; got != 3 {
		t.Fatalf("expected 3 postings, got %d", got)
	}
	if n := len(h.page.Navigations()); !strings.Contains(h.page.Navigations()[n-1], "query=golang") {
		t.Fatalf("expected the search page to load last, navigations %v", h.page.Navigations())
	}
}

func TestDefinitionsListEveryTool(t *testing.T) {
	t.Parallel()

	var names []string
	for _, d := range Definitions() {
		names = append(names, d.Name)
		if d.InputSchema["type"] != "object" {
			t.Fatalf("%s: schema must be an object", d.Name)
		}
	}

	want := []string{ToolLogin, ToolLoadResume, ToolSearchJobs, ToolMatchAndGreet, ToolRecommend, ToolCheckStatus, ToolGetResumeInfo, ToolCloseBrowser}
	if !slices.Equal(names, want) {
		t.Fatalf("unexpected tools %v", names)
	}

	greet := Definitions()[3].InputSchema["properties"].(map[string]any)["min_score"].(map[string]any)
	if greet["default"] != greeting.DefaultMinScore {
		t.Fatalf("unexpected min_score default %v", greet["default"])
	}
}
