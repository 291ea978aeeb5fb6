package greeting

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/resume"
)

const DefaultTemplate = "您好！我是{{.Name}}，我对您发布的{{.Title}}岗位很感兴趣。" +
	"我的技能包括{{.Skills}}，有{{.Years}}年工作经验。期待与您进一步沟通！"

const (
	anonymousName = "求职者"
	messageSkills = 5
)

var defaultTemplate = template.Must(template.New("default").Parse(DefaultTemplate))

// MessageData is what a greeting template can refer to.
type MessageData struct {
	Name    string
	Skills  string
	Years   int
	Title   string
	Company string
	City    string
}

func newMessageData(profile resume.Profile, posting *jobs.JobPosting) MessageData {
	name := profile.Name
	if name == "" {
		name = anonymousName
	}

	return MessageData{
		Name:    name,
		Skills:  strings.Join(profile.SkillNames(messageSkills), ", "),
		Years:   profile.Years(),
		Title:   posting.Title,
		Company: posting.Company,
		City:    posting.City,
	}
}

// ParseTemplate compiles a custom greeting. Plain text without actions is
// sent as is.
func ParseTemplate(text string) (*template.Template, error) {
	t, err := template.New("custom").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse greeting template: %w", err)
	}
	return t, nil
}

func render(t *template.Template, data MessageData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render greeting: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
