package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/session"
	"github.com/spigell/zhipin-responder/internal/utils"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

type fakeSession struct {
	site        *zhipin.Site
	pages       map[string]string
	navErrors   []error
	inspectErr  map[string]error
	navigations []string
	browsed     []string
	current     string
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigations = append(s.navigations, url)
	if len(s.navErrors) > 0 {
		err := s.navErrors[0]
		s.navErrors = s.navErrors[1:]
		if err != nil {
			return err
		}
	}
	s.current = url
	return nil
}

func (s *fakeSession) Inspect(context.Context) error {
	return s.inspectErr[s.current]
}

func (s *fakeSession) Browse(context.Context) error {
	s.browsed = append(s.browsed, s.current)
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	return s.pages[s.current], nil
}

type countingRecorder struct {
	pages []int
}

func (r *countingRecorder) SearchPage(found int) {
	r.pages = append(r.pages, found)
}

func resultPage(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<li class="job-card-wrapper" data-jobid="%s"><span class="job-title">Go 开发 %s</span><span class="company-name">公司%s</span><span class="salary">20-30K</span></li>`, id, id, id)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

var query = zhipin.Query{Keyword: "golang", City: "北京"}

func newOrchestrator(sess Session, rec Recorder) *Orchestrator {
	cfg := Config{Backoff: utils.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}}
	return New(sess, zhipin.New(""), cfg, nil, rec)
}

func newFakeSession() *fakeSession {
	site := zhipin.New("")
	return &fakeSession{
		site:       site,
		pages:      map[string]string{},
		inspectErr: map[string]error{},
	}
}

func TestSearchFetchesPagesInOrderAndDedups(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.pages[sess.site.SearchURL(query, 1)] = resultPage("a", "b")
	sess.pages[sess.site.SearchURL(query, 2)] = resultPage("b", "c")
	sess.pages[sess.site.SearchURL(query, 3)] = resultPage("d")

	rec := &countingRecorder{}
	postings, err := newOrchestrator(sess, rec).Collect(context.Background(), query, 3)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := strings.Join(postings.IDs(), ","); got != "a,b,c,d" {
		t.Fatalf("expected a,b,c,d, got %s", got)
	}

	want := []string{sess.site.SearchURL(query, 1), sess.site.SearchURL(query, 2), sess.site.SearchURL(query, 3)}
	if strings.Join(sess.navigations, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected navigation order %v", sess.navigations)
	}
	if strings.Join(sess.browsed, " ") != strings.Join(want, " ") {
		t.Fatalf("every result page must be scrolled after loading, got %v", sess.browsed)
	}
	if len(rec.pages) != 3 || rec.pages[1] != 2 {
		t.Fatalf("unexpected recorded pages %v", rec.pages)
	}
}

func TestSearchStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.pages[sess.site.SearchURL(query, 1)] = resultPage("a")
	sess.pages[sess.site.SearchURL(query, 2)] = resultPage()
	sess.pages[sess.site.SearchURL(query, 3)] = resultPage("z")

	postings, err := newOrchestrator(sess, nil).Collect(context.Background(), query, 5)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if postings.Len() != 1 {
		t.Fatalf("expected 1 posting, got %d", postings.Len())
	}
	if len(sess.navigations) != 2 {
		t.Fatalf("expected to stop after the empty page, navigated %d times", len(sess.navigations))
	}
}

func TestSearchIsLazyAndRestartable(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.pages[sess.site.SearchURL(query, 1)] = resultPage("a", "b")
	sess.pages[sess.site.SearchURL(query, 2)] = resultPage("c")

	o := newOrchestrator(sess, nil)
	seq := o.Search(context.Background(), query, 2)

	if len(sess.navigations) != 0 {
		t.Fatalf("creating the sequence must not load pages")
	}

	for p, err := range seq {
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if p.ID == "a" {
			break
		}
	}
	if len(sess.navigations) != 1 {
		t.Fatalf("stopping early must not load more pages, navigated %d times", len(sess.navigations))
	}

	if _, err := o.Collect(context.Background(), query, 2); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(sess.navigations) != 3 {
		t.Fatalf("a fresh search must reload pages, navigated %d times", len(sess.navigations))
	}
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.pages[sess.site.SearchURL(query, 1)] = resultPage("a")
	sess.navErrors = []error{browser.ErrTransient, context.DeadlineExceeded}

	postings, err := newOrchestrator(sess, nil).Collect(context.Background(), query, 1)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if postings.Len() != 1 || len(sess.navigations) != 3 {
		t.Fatalf("expected success on the third attempt, got %d postings after %d navigations", postings.Len(), len(sess.navigations))
	}
}

func TestSearchSurfacesExhaustedRetries(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.pages[sess.site.SearchURL(query, 1)] = resultPage("a")
	sess.pages[sess.site.SearchURL(query, 2)] = resultPage("b")
	sess.navErrors = []error{nil, browser.ErrTransient, browser.ErrTransient, browser.ErrTransient}

	postings, err := newOrchestrator(sess, nil).Collect(context.Background(), query, 2)
	if !errors.Is(err, browser.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "search page 2") {
		t.Fatalf("error must name the page: %v", err)
	}
	if postings.Len() != 1 {
		t.Fatalf("postings from earlier pages must be kept, got %d", postings.Len())
	}
}

func TestSearchSurfacesSessionErrorsWithoutRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		nav     error
		inspect error
		want    error
	}{
		{name: "not authenticated", nav: session.ErrSessionExpired, want: session.ErrSessionExpired},
		{name: "banned", inspect: session.ErrAccountBanned, want: session.ErrAccountBanned},
		{name: "captcha", inspect: &session.CaptchaError{Marker: "verify-slider"}, want: session.ErrCaptchaRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sess := newFakeSession()
			url := sess.site.SearchURL(query, 1)
			sess.pages[url] = resultPage("a")
			sess.navErrors = []error{tt.nav}
			sess.inspectErr[url] = tt.inspect

			var yielded int
			var got error
			for p, err := range newOrchestrator(sess, nil).Search(context.Background(), query, 3) {
				if err != nil {
					got = err
					break
				}
				if p != nil {
					yielded++
				}
			}

			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if yielded != 0 {
				t.Fatalf("no partial results may be yielded, got %d", yielded)
			}
			if len(sess.navigations) != 1 {
				t.Fatalf("session errors must not be retried, navigated %d times", len(sess.navigations))
			}
		})
	}
}

func TestSearchValidatesQuery(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	_, err := newOrchestrator(sess, nil).Collect(context.Background(), zhipin.Query{City: "北京"}, 1)
	if err == nil || !strings.Contains(err.Error(), "invalid search query") {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(sess.navigations) != 0 {
		t.Fatalf("invalid query must not navigate")
	}
}
