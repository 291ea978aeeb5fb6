package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/ai/gemini"
	"github.com/spigell/zhipin-responder/internal/browser"
	"github.com/spigell/zhipin-responder/internal/filtering"
	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/metrics"
	"github.com/spigell/zhipin-responder/internal/resume"
	"github.com/spigell/zhipin-responder/internal/search"
	"github.com/spigell/zhipin-responder/internal/secrets"
	"github.com/spigell/zhipin-responder/internal/session"
	"github.com/spigell/zhipin-responder/internal/tools"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const maxCaptchaRounds = 3

// application is everything a command needs, built once from the config.
type application struct {
	config    *Config
	logger    *zap.Logger
	toolkit   *tools.Toolkit
	registry  *prometheus.Registry
	collector *metrics.Collector
	redis     *redis.Client
}

// newApplication builds the logger, the stores and the toolkit. Nothing
// touches the browser until a tool is called.
func newApplication(ctx context.Context, cmd *cobra.Command) (*application, error) {
	output := "stdout"
	if viper.GetBool("server.stdio") {
		output = "stderr"
	}
	log, err := logger.NewTo(output, viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	log.Info("starting the zhipin-responder", zap.String("version", version), zap.String("command", cmd.Name()))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	a := &application{
		config:   config,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.collector = metrics.NewCollector(a.registry)

	store, err := a.sessionStore(ctx)
	if err != nil {
		return nil, err
	}

	history, err := greeting.OpenFileHistory(config.Greet.HistoryFile)
	if err != nil {
		return nil, fmt.Errorf("open greeting history: %w", err)
	}

	site := zhipin.New("")
	launcher := browser.NewRodLauncher(log.Named("browser"))

	var matcher *gemini.Matcher
	if config.AI != nil && (config.AI.Enabled || config.AI.Compose) {
		matcher, err = newAIMatcher(ctx, config.AI, log)
		if err != nil {
			if config.AI.Enabled {
				return nil, fmt.Errorf("build ai matcher: %w", err)
			}
			log.Warn("skipping ai message drafting", zap.Error(err))
		}
	}

	ignoreGreeted := false
	if flag := cmd.Flag("do-not-exclude-greeted"); flag != nil && strings.EqualFold(flag.Value.String(), "true") {
		ignoreGreeted = true
	}

	deps := tools.Deps{
		NewSession: func(cfg session.Config) (*session.Manager, error) {
			return session.NewManager(cfg, session.Deps{
				Launcher: launcher,
				Store:    store,
				Site:     site,
				Logger:   log,
				Metrics:  a.collector,
			})
		},
		Session: session.Config{
			Headless:             config.Browser.Headless,
			AntiDetection:        config.Browser.AntiDetection,
			UseProxy:             config.Browser.UseProxy,
			Proxies:              config.Browser.Proxies,
			BrowserBin:           config.Browser.Bin,
			NavigationTimeout:    config.Browser.NavigationTimeout,
			MaxRequestsPerMinute: config.Rate.MaxRequestsPerMinute,
			MaxLoginFailures:     config.Session.MaxLoginFailures,
			MaxSessionAge:        config.Session.MaxAge,
			CookieTTL:            config.Session.CookieTTL,
		},
		Site:    site,
		History: history,
		Greeting: greeting.Config{
			SessionCap: config.Greet.SessionCap,
			Backoff:    greeting.DefaultConfig().Backoff,
		},
		Search:   search.DefaultConfig(),
		Filters:  a.filters(matcher, history, ignoreGreeted),
		Loader:   &resume.Loader{},
		Recorder: a.collector,
		Logger:   log,
	}
	if matcher != nil && config.AI.Compose {
		deps.Composer = matcher
	}

	a.toolkit, err = tools.New(deps)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *application) sessionStore(ctx context.Context) (session.Store, error) {
	cfg := a.config.Session

	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "file":
		return session.NewFileStore(cfg.Dir), nil
	case "redis":
		url := cfg.RedisURL
		if url == "" {
			return nil, errors.New("session.redis-url is required for the redis store")
		}
		store, client, err := session.NewRedisStoreFromURL(ctx, url, cfg.CookieTTL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Store)
	}
}

// filters builds the pre-score steps for one run.
func (a *application) filters(matcher *gemini.Matcher, history filtering.Greeted, ignoreGreeted bool) tools.FilterFactory {
	cfg := a.config

	return func(profile *resume.Profile) []filtering.Filter {
		steps := []filtering.Filter{
			filtering.NewStaleRecruiters(cfg.Exclude.StaleRecruiters),
			filtering.NewExcludedCompanies(cfg.Exclude.Companies),
			filtering.NewExcludeFile(cfg.Exclude.File),
			filtering.NewGreetedHistory(
				&filtering.GreetedHistoryConfig{Ignore: ignoreGreeted},
				&filtering.GreetedHistoryDeps{History: history, Logger: a.logger},
			),
		}

		if cfg.AI == nil || !cfg.AI.Enabled || matcher == nil {
			return steps
		}

		aiConfig := &filtering.AIFitFilterConfig{
			Enabled:         true,
			Provider:        cfg.AI.Provider,
			MinimumFitScore: cfg.AI.MinimumFitScore,
		}
		if cfg.AI.Gemini != nil {
			aiConfig.Gemini = &filtering.AIGeminiConfig{
				Model:        cfg.AI.Gemini.Model,
				MaxLogLength: cfg.AI.Gemini.MaxLogLength,
			}
		}

		return append(steps, filtering.NewAIFit(aiConfig, &filtering.AIFitFilterDeps{
			Logger:      a.logger,
			Matcher:     matcher,
			Profile:     profile,
			ExcludeFile: cfg.Exclude.File,
		}))
	}
}

func newAIMatcher(ctx context.Context, cfg *AIConfig, log *zap.Logger) (*gemini.Matcher, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}
	log.Debug("gemini api key loaded", zap.String("key", secrets.Mask(apiKey)))

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	minScore := cfg.MinimumFitScore
	if minScore < 0 {
		minScore = 0
	}

	return gemini.NewMatcher(generator, log, minScore, cfg.Gemini.MaxLogLength), nil
}

// login signs in with the configured account. When a captcha shows up the
// operator solves it in the browser window and confirms, then login is
// retried on the same page.
func (a *application) login(ctx context.Context) error {
	password, err := secrets.Load(secrets.Source{
		Name:  "account password",
		File:  a.config.Account.PasswordFile,
		Env:   envPrefix + "_PASSWORD",
		Value: a.config.Account.Password,
	})
	if err != nil {
		return fmt.Errorf("%w (set account.password-file or %s_PASSWORD)", err, envPrefix)
	}

	params := tools.NewLoginParams(a.config.Account.Phone, password)
	params.Headless = a.config.Browser.Headless
	params.UseProxy = a.config.Browser.UseProxy
	params.EnableAntiDetection = a.config.Browser.AntiDetection
	params.MaxRequestsPerMinute = a.config.Rate.MaxRequestsPerMinute

	for round := 0; round < maxCaptchaRounds; round++ {
		res, err := a.toolkit.Login(ctx, params)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if res.LoggedIn {
			a.logger.Info("logged in", zap.String(logger.FieldState, string(res.State)))
			return nil
		}

		a.logger.Warn("captcha detected", zap.String("marker", res.Captcha), zap.String("hint", res.Message))
		if a.config.Browser.Headless {
			return errors.New("captcha detected in headless mode: run login without headless to solve it")
		}

		confirm := promptui.Prompt{
			Label:     "Solved the captcha in the browser window",
			IsConfirm: true,
		}
		if _, err := confirm.Run(); err != nil {
			return fmt.Errorf("captcha not confirmed: %w", err)
		}
	}

	return fmt.Errorf("login: %w", session.ErrCaptchaRequired)
}

func (a *application) loadResume(ctx context.Context) error {
	path := strings.TrimSpace(a.config.Resume)
	if path == "" {
		return errors.New("résumé path is required: set resume in the config or pass --resume")
	}

	profile, err := a.toolkit.LoadResume(ctx, path)
	if err != nil {
		return err
	}

	a.logger.Info("résumé loaded",
		zap.String("name", profile.Name),
		zap.String("expected_position", profile.ExpectedPosition),
		zap.Int("skills", len(profile.Skills)),
	)
	return nil
}

func (a *application) close() {
	if err := a.toolkit.CloseBrowser(context.Background()); err != nil {
		a.logger.Warn("closing browser", zap.Error(err))
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}

// report logs v as indented JSON, the way results are shown on the console.
func (a *application) report(msg string, v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		a.logger.Warn("encode result", zap.Error(err))
		return
	}
	a.logger.Info(msg + "\n" + string(pretty))
}
