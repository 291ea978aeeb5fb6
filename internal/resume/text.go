package resume

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

var (
	namePattern     = regexp.MustCompile(`姓\s*名[：:]\s*([^\n]{2,10})`)
	phonePattern    = regexp.MustCompile(`(?:电\s*话|手\s*机)[：:]\s*(\d{11})`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	positionPattern = regexp.MustCompile(`期望职位[：:]\s*([^\n]{2,20})`)
	cityPattern     = regexp.MustCompile(`期望城市[：:]\s*([^\n]{2,10})`)
	salaryLine      = regexp.MustCompile(`期望薪[资酬][：:]\s*([^\n]+)`)
	yearsPattern    = regexp.MustCompile(`(\d{1,2})\s*年(?:以上)?(?:工作|开发|相关)?经验|经验[：:]\s*(\d{1,2})\s*年`)
)

var knownSkills = []string{
	"Python", "Java", "JavaScript", "TypeScript", "Go", "Golang", "Rust", "C++", "C#",
	"React", "Vue", "Angular", "Node.js", "Django", "Flask", "Spring",
	"MySQL", "PostgreSQL", "MongoDB", "Redis", "Elasticsearch", "Kafka", "SQL",
	"Docker", "Kubernetes", "AWS", "Azure", "GCP", "Linux", "Git",
	"Machine Learning", "深度学习", "NLP", "计算机视觉",
	"Playwright", "Selenium", "Appium", "自动化测试",
}

var skillBoundary = regexp.MustCompile(`[A-Za-z0-9+#.]`)

// ParseText extracts a profile from free-form résumé text using labelled
// fields and a keyword list. It never fails; missing fields stay empty.
func ParseText(text string) Profile {
	var p Profile

	if m := namePattern.FindStringSubmatch(text); m != nil {
		p.Name = strings.TrimSpace(m[1])
	}
	if m := phonePattern.FindStringSubmatch(text); m != nil {
		p.Phone = m[1]
	}
	p.Email = emailPattern.FindString(text)
	if m := positionPattern.FindStringSubmatch(text); m != nil {
		p.ExpectedPosition = strings.TrimSpace(m[1])
	}
	if m := cityPattern.FindStringSubmatch(text); m != nil {
		p.TargetCity = strings.TrimSpace(m[1])
	}
	if m := salaryLine.FindStringSubmatch(text); m != nil {
		p.ExpectedSalary = jobs.ParseSalary(m[1])
	}

	for _, skill := range knownSkills {
		if containsWord(text, skill) {
			p.Skills = append(p.Skills, Skill{Name: skill})
		}
	}

	if m := yearsPattern.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if years, err := strconv.Atoi(raw); err == nil && years > 0 {
			p.Experience = []Experience{{Role: p.ExpectedPosition, Months: years * 12}}
		}
	}

	for _, level := range []string{"博士", "硕士", "本科", "大专", "高中", "中专"} {
		if strings.Contains(text, level) {
			p.Education = jobs.ParseEducation(level)
			break
		}
	}

	return p
}

// containsWord matches skill case-insensitively without accepting it as
// part of a longer latin token, so "Go" does not match "Google".
func containsWord(text, skill string) bool {
	lower := strings.ToLower(text)
	needle := strings.ToLower(skill)

	for from := 0; ; {
		idx := strings.Index(lower[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)

		before := start == 0 || !skillBoundary.MatchString(lower[start-1:start])
		after := end == len(lower) || !skillBoundary.MatchString(lower[end:end+1])
		if before && after {
			return true
		}
		from = start + 1
	}
}
