package zhipin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

var jobIDFromHref = regexp.MustCompile(`/job_detail/([^/?#]+?)\.html`)

// ParseSearchResults extracts postings from a rendered result page. Cards
// without an id are skipped.
func (s *Site) ParseSearchResults(html string) ([]*jobs.JobPosting, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse result page: %w", err)
	}

	var postings []*jobs.JobPosting
	doc.Find(".job-card-wrapper").Each(func(_ int, card *goquery.Selection) {
		if p := s.parseCard(card); p != nil {
			postings = append(postings, p)
		}
	})

	return postings, nil
}

func (s *Site) parseCard(card *goquery.Selection) *jobs.JobPosting {
	id, _ := card.Attr("data-jobid")
	if id == "" {
		if href, ok := card.Find("a[href*='/job_detail/']").First().Attr("href"); ok {
			if m := jobIDFromHref.FindStringSubmatch(href); m != nil {
				id = m[1]
			}
		}
	}
	if id == "" {
		return nil
	}

	p := &jobs.JobPosting{
		ID:              id,
		Title:           firstText(card, ".job-title", ".job-name"),
		Company:         firstText(card, ".company-name"),
		Salary:          jobs.ParseSalary(firstText(card, ".salary")),
		Recruiter:       firstText(card, ".hr-name", ".info-public"),
		RecruiterActive: firstText(card, ".hr-active-status"),
		Description:     firstText(card, ".job-desc"),
		URL:             s.JobURL(id),
	}

	// .info-primary spans are city, experience, education in that order.
	info := card.Find(".info-primary span")
	if info.Length() > 0 {
		p.City = cleanText(info.Eq(0))
		p.Experience = jobs.ParseExperience(cleanText(info.Eq(1)))
		p.Education = jobs.ParseEducation(cleanText(info.Eq(2)))
	} else {
		p.City = firstText(card, ".job-area")
		tags := card.Find(".job-info .tag-list li")
		p.Experience = jobs.ParseExperience(cleanText(tags.Eq(0)))
		p.Education = jobs.ParseEducation(cleanText(tags.Eq(1)))
	}
	if i := strings.IndexAny(p.City, "·・"); i > 0 {
		p.City = p.City[:i]
	}

	var skills []string
	card.Find(".job-card-footer .tag-list li, .skill-tags li").Each(func(_ int, li *goquery.Selection) {
		skills = append(skills, cleanText(li))
	})
	p.Skills = jobs.NormalizeSkills(skills)

	p.Remote = strings.Contains(p.Title, "远程") || strings.Contains(p.City, "远程") || strings.Contains(strings.ToLower(p.Title), "remote")

	return p
}

func firstText(card *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if el := card.Find(sel).First(); el.Length() > 0 {
			if text := cleanText(el); text != "" {
				return text
			}
		}
	}
	return ""
}

func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
