package behavior

import (
	"slices"
	"strings"
)

// Snapshot is what a caller could observe on the current page: its URL, the
// visible text and which of the probed selectors are present.
type Snapshot struct {
	URL     string
	Text    string
	Present []string
}

type marker struct {
	id       string
	selector string
	urlPart  string
	text     string
}

var captchaMarkers = []marker{
	{id: "geetest-slider", selector: ".geetest_slider_button"},
	{id: "geetest-panel", selector: ".geetest_panel"},
	{id: "verify-slider", selector: ".verify-slider"},
	{id: "captcha-box", selector: ".captcha"},
	{id: "verify-wrap", selector: "#verify-wrap"},
	{id: "captcha-url", urlPart: "captcha"},
	{id: "verify-url", urlPart: "/verify"},
	{id: "security-check-text", text: "安全验证"},
	{id: "drag-slider-text", text: "拖动滑块"},
	{id: "complete-verify-text", text: "请完成验证"},
}

var riskMarkers = []marker{
	{id: "risk-dialog", selector: ".risk-dialog"},
	{id: "forbidden-page", selector: ".forbidden-page"},
	{id: "verify-dialog", selector: ".verify-dialog"},
	{id: "account-abnormal-text", text: "账号异常"},
	{id: "account-frozen-text", text: "账号已被冻结"},
	{id: "access-denied-text", text: "访问受限"},
	{id: "too-frequent-text", text: "操作过于频繁"},
}

// CaptchaSelectors lists selectors a caller should probe before classification.
func CaptchaSelectors() []string {
	return selectors(captchaMarkers)
}

// RiskSelectors lists selectors whose presence signals a ban or lockout.
func RiskSelectors() []string {
	return selectors(riskMarkers)
}

// ProbeSelectors is the union of captcha and risk selectors.
func ProbeSelectors() []string {
	return append(CaptchaSelectors(), RiskSelectors()...)
}

// DetectCaptcha reports whether the snapshot shows a challenge, and which marker matched.
func DetectCaptcha(s Snapshot) (bool, string) {
	return classify(s, captchaMarkers)
}

// DetectRisk reports whether the snapshot shows a ban, lockout or throttling page.
func DetectRisk(s Snapshot) (bool, string) {
	return classify(s, riskMarkers)
}

func classify(s Snapshot, markers []marker) (bool, string) {
	url := strings.ToLower(s.URL)

	for _, m := range markers {
		switch {
		case m.selector != "" && slices.Contains(s.Present, m.selector):
			return true, m.id
		case m.urlPart != "" && strings.Contains(url, m.urlPart):
			return true, m.id
		case m.text != "" && strings.Contains(s.Text, m.text):
			return true, m.id
		}
	}

	return false, ""
}

func selectors(markers []marker) []string {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if m.selector != "" {
			out = append(out, m.selector)
		}
	}
	return out
}
