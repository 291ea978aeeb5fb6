package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/scheduler"
	"github.com/spigell/zhipin-responder/internal/search"
	"github.com/spigell/zhipin-responder/internal/server"
	"github.com/spigell/zhipin-responder/internal/session"
	"github.com/spigell/zhipin-responder/internal/tools"
	"github.com/spigell/zhipin-responder/internal/zhipin"
)

const (
	app       = "zhipin-responder"
	envPrefix = "ZHIPIN"
)

type Config struct {
	Account   AccountConfig   `mapstructure:"account"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Rate      RateConfig      `mapstructure:"rate"`
	Session   SessionConfig   `mapstructure:"session"`
	Search    SearchConfig    `mapstructure:"search"`
	Greet     GreetConfig     `mapstructure:"greet"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Resume    string          `mapstructure:"resume"`
	Exclude   ExcludeConfig   `mapstructure:"exclude"`
	AI        *AIConfig       `mapstructure:"ai"`
	Server    ServerConfig    `mapstructure:"server"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

type AccountConfig struct {
	Phone        string `mapstructure:"phone"`
	Password     string `mapstructure:"password" json:"-"`
	PasswordFile string `mapstructure:"password-file"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UseProxy          bool          `mapstructure:"use-proxy"`
	Proxies           []string      `mapstructure:"proxies"`
	AntiDetection     bool          `mapstructure:"anti-detection"`
	Bin               string        `mapstructure:"bin"`
	NavigationTimeout time.Duration `mapstructure:"navigation-timeout"`
}

type RateConfig struct {
	MaxRequestsPerMinute int `mapstructure:"max-requests-per-minute"`
}

type SessionConfig struct {
	Store            string        `mapstructure:"store"`
	Dir              string        `mapstructure:"dir"`
	RedisURL         string        `mapstructure:"redis-url"`
	MaxAge           time.Duration `mapstructure:"max-age"`
	CookieTTL        time.Duration `mapstructure:"cookie-ttl"`
	MaxLoginFailures int           `mapstructure:"max-login-failures"`
}

type SearchConfig struct {
	zhipin.Query `mapstructure:",squash"`
	PageCount    int `mapstructure:"page-count"`
}

type GreetConfig struct {
	MinScore    int    `mapstructure:"min-score"`
	MaxCount    int    `mapstructure:"max-count"`
	Message     string `mapstructure:"message"`
	SessionCap  int    `mapstructure:"session-cap"`
	HistoryFile string `mapstructure:"history-file"`
}

type RecommendConfig struct {
	MinScore int `mapstructure:"min-score"`
	MaxCount int `mapstructure:"max-count"`
}

type ExcludeConfig struct {
	Companies       []string `mapstructure:"companies"`
	File            string   `mapstructure:"file"`
	StaleRecruiters bool     `mapstructure:"stale-recruiters"`
}

type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	MinimumFitScore float64       `mapstructure:"minimum-fit-score"`
	Compose         bool          `mapstructure:"compose"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type ServerConfig struct {
	Listen            string `mapstructure:"listen"`
	RequestsPerMinute int    `mapstructure:"requests-per-minute"`
	Stdio             bool   `mapstructure:"stdio"`
}

type ScheduleConfig struct {
	Spec string `mapstructure:"spec"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "zhipin-responder searches BOSS Zhipin, ranks postings against a résumé and greets recruiters at a human pace",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is zhipin-responder.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("resume", "", "path to the résumé file")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("resume", rootCmd.PersistentFlags().Lookup("resume"))
}

func initConfig() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// A missing default config is fine, everything can come from the
	// environment. An explicit or broken one is not.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

// setDefaults registers every key so that ZHIPIN_* variables are picked up
// by Unmarshal, not only by explicit Get calls.
func setDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("account.phone", "")
	v.SetDefault("account.password", "")
	v.SetDefault("account.password-file", "")

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.use-proxy", false)
	v.SetDefault("browser.proxies", []string{})
	v.SetDefault("browser.anti-detection", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.navigation-timeout", 30*time.Second)

	v.SetDefault("rate.max-requests-per-minute", scheduler.DefaultMaxPerWindow)

	v.SetDefault("session.store", "file")
	v.SetDefault("session.dir", ".sessions")
	v.SetDefault("session.redis-url", "")
	v.SetDefault("session.max-age", session.DefaultMaxSessionAge)
	v.SetDefault("session.cookie-ttl", session.DefaultCookieTTL)
	v.SetDefault("session.max-login-failures", session.DefaultMaxLoginFailures)

	v.SetDefault("search.keyword", "")
	v.SetDefault("search.city", "")
	v.SetDefault("search.experience", "")
	v.SetDefault("search.education", "")
	v.SetDefault("search.salary", "")
	v.SetDefault("search.page-count", search.DefaultPageCount)

	v.SetDefault("greet.min-score", greeting.DefaultMinScore)
	v.SetDefault("greet.max-count", greeting.DefaultMaxCount)
	v.SetDefault("greet.message", "")
	v.SetDefault("greet.session-cap", greeting.DefaultSessionCap)
	v.SetDefault("greet.history-file", "greeted.json")

	v.SetDefault("recommend.min-score", tools.DefaultRecommendMinScore)
	v.SetDefault("recommend.max-count", tools.DefaultRecommendMaxCount)

	v.SetDefault("resume", "")

	v.SetDefault("exclude.companies", []string{})
	v.SetDefault("exclude.file", "")
	v.SetDefault("exclude.stale-recruiters", false)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.minimum-fit-score", 0.6)
	v.SetDefault("ai.compose", false)
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "")
	v.SetDefault("ai.gemini.max-log-length", 200)

	v.SetDefault("server.listen", server.DefaultListen)
	v.SetDefault("server.requests-per-minute", server.DefaultRequestsPerMinute)

	v.SetDefault("schedule.spec", "@every 6h")
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("config is empty")
	}

	return config, nil
}
