package tools

import (
	"github.com/go-playground/validator/v10"

	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/search"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const (
	DefaultRecommendMinScore = 50
	DefaultRecommendMaxCount = 20
)

var validate = validator.New()

// LoginParams are the login tool arguments. A non-positive
// MaxRequestsPerMinute is left to the session, which reports it as
// scheduler.ErrMisconfigured.
type LoginParams struct {
	Phone                string `mapstructure:"phone" json:"phone" validate:"required"`
	Password             string `mapstructure:"password" json:"-" validate:"required"`
	Headless             bool   `mapstructure:"headless" json:"headless"`
	UseProxy             bool   `mapstructure:"use_proxy" json:"use_proxy"`
	EnableAntiDetection  bool   `mapstructure:"enable_anti_detection" json:"enable_anti_detection"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute" json:"max_requests_per_minute"`
}

func NewLoginParams(phone, password string) LoginParams {
	return LoginParams{
		Phone:                phone,
		Password:             password,
		EnableAntiDetection:  true,
		MaxRequestsPerMinute: scheduler.DefaultMaxPerWindow,
	}
}

type ResumeParams struct {
	Path string `mapstructure:"resume_path" validate:"required"`
}

type SearchParams struct {
	zhipin.Query `mapstructure:",squash"`
	PageCount    int `mapstructure:"page_count" json:"page_count" validate:"gt=0,lte=10"`
}

func NewSearchParams(keyword string) SearchParams {
	return SearchParams{Query: zhipin.Query{Keyword: keyword}, PageCount: search.DefaultPageCount}
}

type GreetParams struct {
	Keyword       string `mapstructure:"keyword" json:"keyword" validate:"required"`
	MinScore      int    `mapstructure:"min_score" json:"min_score" validate:"gte=0,lte=100"`
	MaxCount      int    `mapstructure:"max_count" json:"max_count" validate:"gt=0"`
	CustomMessage string `mapstructure:"custom_message" json:"custom_message,omitempty"`
}

func NewGreetParams(keyword string) GreetParams {
	return GreetParams{Keyword: keyword, MinScore: greeting.DefaultMinScore, MaxCount: greeting.DefaultMaxCount}
}

// RecommendParams defaults Keyword to the résumé's expected position.
type RecommendParams struct {
	Keyword  string `mapstructure:"keyword" json:"keyword"`
	MinScore int    `mapstructure:"min_score" json:"min_score" validate:"gte=0,lte=100"`
	MaxCount int    `mapstructure:"max_count" json:"max_count" validate:"gt=0"`
}

func NewRecommendParams(keyword string) RecommendParams {
	return RecommendParams{Keyword: keyword, MinScore: DefaultRecommendMinScore, MaxCount: DefaultRecommendMaxCount}
}
