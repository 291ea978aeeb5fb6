package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/greeting"
)

func TestDecodeConfigDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	if cfg.Greet.MinScore != 30 || cfg.Greet.MaxCount != 10 || cfg.Greet.SessionCap != 20 {
		t.Fatalf("unexpected greet defaults %+v", cfg.Greet)
	}
	if cfg.Recommend.MinScore != 50 || cfg.Recommend.MaxCount != 20 {
		t.Fatalf("unexpected recommend defaults %+v", cfg.Recommend)
	}
	if cfg.Rate.MaxRequestsPerMinute != 8 {
		t.Fatalf("unexpected rate default %d", cfg.Rate.MaxRequestsPerMinute)
	}
	if !cfg.Browser.AntiDetection || cfg.Browser.Headless {
		t.Fatalf("unexpected browser defaults %+v", cfg.Browser)
	}
	if cfg.Session.MaxAge != 30*time.Minute || cfg.Session.Store != "file" {
		t.Fatalf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.Search.PageCount != 3 {
		t.Fatalf("unexpected page count %d", cfg.Search.PageCount)
	}
}

func TestDecodeConfigFileAndEnvironment(t *testing.T) {
	t.Setenv("ZHIPIN_GREET_MIN_SCORE", "45")
	t.Setenv("ZHIPIN_SESSION_MAX_AGE", "10m")

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	const file = `
account:
  phone: "13800138000"
search:
  keyword: Go
  city: 北京
  page-count: 2
exclude:
  companies: [外包公司]
ai:
  enabled: true
  gemini:
    model: gemini-2.5-flash
`
	if err := v.ReadConfig(strings.NewReader(file)); err != nil {
		t.Fatalf("read config: %v", err)
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	if cfg.Greet.MinScore != 45 {
		t.Fatalf("environment should override greet.min-score, got %d", cfg.Greet.MinScore)
	}
	if cfg.Session.MaxAge != 10*time.Minute {
		t.Fatalf("environment should override session.max-age, got %s", cfg.Session.MaxAge)
	}
	if cfg.Search.Keyword != "Go" || cfg.Search.City != "北京" || cfg.Search.PageCount != 2 {
		t.Fatalf("unexpected search config %+v", cfg.Search)
	}
	if len(cfg.Exclude.Companies) != 1 || cfg.Exclude.Companies[0] != "外包公司" {
		t.Fatalf("unexpected excluded companies %v", cfg.Exclude.Companies)
	}
	if cfg.AI == nil || !cfg.AI.Enabled || cfg.AI.Gemini == nil || cfg.AI.Gemini.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected ai config %+v", cfg.AI)
	}
	if cfg.AI.Gemini.MaxLogLength != 200 {
		t.Fatalf("nested default lost, got %d", cfg.AI.Gemini.MaxLogLength)
	}
}

func TestFiltersWithoutMatcher(t *testing.T) {
	t.Parallel()

	a := &application{
		config: &Config{AI: &AIConfig{Enabled: true}},
		logger: zap.NewNop(),
	}

	steps := a.filters(nil, greeting.NewMemoryHistory(), false)(nil)

	var names []string
	for _, s := range steps {
		names = append(names, s.Name())
	}
	want := "stale_recruiters,companies,exclude_file,greeted_history"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("expected steps %s, got %s", want, got)
	}
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out, "0123456789ab-dirty")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[0] != app+" "+version || lines[1] != "commit: 0123456789ab-dirty" || !strings.HasPrefix(lines[2], "go: ") {
		t.Fatalf("unexpected version output %q", out.String())
	}

	out.Reset()
	printVersion(&out, "")
	if strings.Contains(out.String(), "commit:") {
		t.Fatalf("commit line must be omitted without a revision, got %q", out.String())
	}
}
