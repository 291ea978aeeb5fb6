package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/ai"
	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/resume"
	"github.com/spigell/zhipin-responder/internal/utils"
)

const provider = "gemini"

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Matcher asks Gemini whether a posting fits and for a first message. It
// remembers assessments per posting so drafting after filtering costs no
// extra request.
type Matcher struct {
	generator contentGenerator
	minScore  float64
	logger    *zap.Logger
	maxLogLen int

	mu   sync.Mutex
	seen map[string]*ai.FitAssessment
}

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

func NewMatcher(generator contentGenerator, log *zap.Logger, minScore float64, maxLogLength int) *Matcher {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Matcher{
		generator: generator,
		minScore:  minScore,
		logger:    logger.WithAIFields(log, provider, generator.Model()),
		maxLogLen: maxLogLength,
		seen:      map[string]*ai.FitAssessment{},
	}
}

type resumePayload struct {
	Name           string              `json:"name,omitempty"`
	Position       string              `json:"expected_position,omitempty"`
	City           string              `json:"target_city,omitempty"`
	Skills         []string            `json:"skills"`
	Experience     []resume.Experience `json:"experience"`
	Years          int                 `json:"experience_years"`
	Education      jobs.Education      `json:"education"`
	ExpectedSalary string              `json:"expected_salary"`
}

func (m *Matcher) Evaluate(ctx context.Context, profile resume.Profile, posting *jobs.JobPosting) (*ai.FitAssessment, error) {
	if posting == nil {
		return nil, errors.New("posting is required")
	}

	resumeJSON, err := json.MarshalIndent(resumePayload{
		Name:           profile.Name,
		Position:       profile.ExpectedPosition,
		City:           profile.TargetCity,
		Skills:         profile.SkillNames(0),
		Experience:     profile.Experience,
		Years:          profile.Years(),
		Education:      profile.Education,
		ExpectedSalary: profile.ExpectedSalary.String(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resume payload: %w", err)
	}

	postingJSON, err := json.MarshalIndent(posting, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting payload: %w", err)
	}

	prompt := buildPrompt(string(resumeJSON), string(postingJSON))
	log := m.logger.With(zap.String(logger.FieldPostingID, posting.ID))

	log.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, m.maxLogLen)),
	)

	raw, err := m.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	if m.minScore > 0 && assessment.Score < m.minScore {
		log.Debug("set fit to false by score threshold",
			zap.Float64("score", assessment.Score),
			zap.Float64("threshold", m.minScore),
		)
		assessment.Fit = false
	}

	assessment.Raw = raw

	m.mu.Lock()
	m.seen[posting.ID] = assessment
	m.mu.Unlock()

	return assessment, nil
}

// Compose returns the drafted message, evaluating the posting first when it
// has not been seen.
func (m *Matcher) Compose(ctx context.Context, profile resume.Profile, posting *jobs.JobPosting) (string, error) {
	m.mu.Lock()
	assessment := m.seen[posting.ID]
	m.mu.Unlock()

	if assessment == nil {
		var err error
		if assessment, err = m.Evaluate(ctx, profile, posting); err != nil {
			return "", err
		}
	}

	if assessment.Message == "" {
		return "", fmt.Errorf("gemini drafted no message for posting %s", posting.ID)
	}
	return assessment.Message, nil
}

func buildPrompt(resumeJSON, postingJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Resume:\n{{RESUME_JSON}}\n\nPosting:\n{{POSTING_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{RESUME_JSON}}", resumeJSON)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	return prompt
}

func parseResponse(raw string) (*ai.FitAssessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		score = 0
	}

	return &ai.FitAssessment{
		Fit:     coerceBool(data["fit"]),
		Score:   score,
		Reason:  coerceString(data["reason"]),
		Message: coerceString(data["message"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
