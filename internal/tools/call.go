package tools

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/search"
)

const (
	ToolLogin         = "login"
	ToolLoadResume    = "load_resume"
	ToolSearchJobs    = "search_jobs"
	ToolMatchAndGreet = "match_and_greet"
	ToolRecommend     = "get_recommended_jobs"
	ToolCheckStatus   = "check_login_status"
	ToolGetResumeInfo = "get_resume_info"
	ToolCloseBrowser  = "close_browser"
)

// Definition describes a tool for discovery.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type property struct {
	kind        string
	description string
	def         any
}

func schema(required []string, props map[string]property) map[string]any {
	out := map[string]any{}
	for name, p := range props {
		entry := map[string]any{"type": p.kind, "description": p.description}
		if p.def != nil {
			entry["default"] = p.def
		}
		out[name] = entry
	}
	s := map[string]any{"type": "object", "properties": out}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Definitions lists every tool with its parameters and defaults.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        ToolLogin,
			Description: "登录BOSS直聘账号（需要手机号和密码），支持反机器人检测",
			InputSchema: schema([]string{"phone", "password"}, map[string]property{
				"phone":                   {kind: "string", description: "手机号"},
				"password":                {kind: "string", description: "密码"},
				"headless":                {kind: "boolean", description: "是否无头模式运行浏览器", def: false},
				"use_proxy":               {kind: "boolean", description: "是否使用代理IP", def: false},
				"enable_anti_detection":   {kind: "boolean", description: "是否启用反检测功能", def: true},
				"max_requests_per_minute": {kind: "integer", description: "每分钟最大请求数", def: scheduler.DefaultMaxPerWindow},
			}),
		},
		{
			Name:        ToolLoadResume,
			Description: "解析本地简历文件，提取关键信息",
			InputSchema: schema([]string{"resume_path"}, map[string]property{
				"resume_path": {kind: "string", description: "简历文件路径"},
			}),
		},
		{
			Name:        ToolSearchJobs,
			Description: "在BOSS直聘上搜索符合条件的岗位",
			InputSchema: schema([]string{"keyword"}, map[string]property{
				"keyword":    {kind: "string", description: "搜索关键词，如'Python开发'"},
				"city":       {kind: "string", description: "期望城市，如'北京'"},
				"experience": {kind: "string", description: "工作经验要求，如'1-3年'"},
				"education":  {kind: "string", description: "学历要求，如'本科'"},
				"salary":     {kind: "string", description: "薪资范围，如'20-50K'"},
				"page_count": {kind: "integer", description: "搜索页数", def: search.DefaultPageCount},
			}),
		},
		{
			Name:        ToolMatchAndGreet,
			Description: "根据简历信息匹配岗位并自动打招呼（需要先登录和加载简历）",
			InputSchema: schema([]string{"keyword"}, map[string]property{
				"keyword":        {kind: "string", description: "搜索关键词"},
				"min_score":      {kind: "integer", description: "最低匹配分数阈值(0-100)", def: greeting.DefaultMinScore},
				"max_count":      {kind: "integer", description: "最多打招呼的岗位数量", def: greeting.DefaultMaxCount},
				"custom_message": {kind: "string", description: "自定义打招呼消息模板"},
			}),
		},
		{
			Name:        ToolRecommend,
			Description: "根据已加载的简历智能推荐匹配的岗位",
			InputSchema: schema(nil, map[string]property{
				"keyword":   {kind: "string", description: "搜索关键词，默认使用简历中的期望职位"},
				"min_score": {kind: "integer", description: "最低匹配分数", def: DefaultRecommendMinScore},
				"max_count": {kind: "integer", description: "返回的最大岗位数量", def: DefaultRecommendMaxCount},
			}),
		},
		{Name: ToolCheckStatus, Description: "检查登录状态", InputSchema: schema(nil, nil)},
		{Name: ToolGetResumeInfo, Description: "获取当前已加载的简历信息", InputSchema: schema(nil, nil)},
		{Name: ToolCloseBrowser, Description: "关闭浏览器会话", InputSchema: schema(nil, nil)},
	}
}

func decode(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// Call runs the named tool with loosely typed arguments, as received from a
// JSON transport. Omitted arguments take their defaults.
func (t *Toolkit) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	log := t.logger.With(zap.String(logger.FieldTool, name))
	log.Info("tool call")

	result, err := t.call(ctx, name, args)
	if err != nil {
		log.Warn("tool call failed", zap.Error(err))
	}
	return result, err
}

func (t *Toolkit) call(ctx context.Context, name string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}

	switch name {
	case ToolLogin:
		params := NewLoginParams("", "")
		if err := decode(args, &params); err != nil {
			return nil, err
		}
		return t.Login(ctx, params)
	case ToolLoadResume:
		var params ResumeParams
		if err := decode(args, &params); err != nil {
			return nil, err
		}
		profile, err := t.LoadResume(ctx, params.Path)
		if err != nil {
			return nil, err
		}
		return newResumeInfo(&profile), nil
	case ToolSearchJobs:
		params := NewSearchParams("")
		if err := decode(args, &params); err != nil {
			return nil, err
		}
		return t.SearchJobs(ctx, params)
	case ToolMatchAndGreet:
		params := NewGreetParams("")
		if err := decode(args, &params); err != nil {
			return nil, err
		}
		return t.MatchAndGreet(ctx, params)
	case ToolRecommend:
		params := NewRecommendParams("")
		if err := decode(args, &params); err != nil {
			return nil, err
		}
		return t.GetRecommendedJobs(ctx, params)
	case ToolCheckStatus:
		return t.CheckLoginStatus(ctx)
	case ToolGetResumeInfo:
		return t.GetResumeInfo()
	case ToolCloseBrowser:
		if err := t.CloseBrowser(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"message": "browser closed"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}
