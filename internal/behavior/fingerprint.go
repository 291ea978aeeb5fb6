package behavior

import "fmt"

// Fingerprint is the set of client identifying signals presented by the browser.
type Fingerprint struct {
	UserAgent           string
	Platform            string
	AcceptLanguage      string
	Languages           []string
	Width               int
	Height              int
	HardwareConcurrency int
}

type uaTemplate struct {
	platform string
	format   string
}

var uaPool = []uaTemplate{
	{platform: "Win32", format: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36"},
	{platform: "MacIntel", format: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36"},
}

var chromeVersions = []int{120, 121, 122, 123, 124, 125, 126}

// Screen sizes weighted roughly by desktop market share.
var viewports = []struct {
	width, height, weight int
}{
	{1920, 1080, 30},
	{1536, 864, 18},
	{1366, 768, 16},
	{1440, 900, 12},
	{1280, 720, 10},
	{1600, 900, 8},
	{2560, 1440, 6},
}

var concurrency = []int{4, 8, 16}

const viewportNoise = 40

// Fingerprint returns the fingerprint of this profile. It is drawn on the
// first call and stays fixed afterwards so a session presents one identity.
func (p *Profile) Fingerprint() Fingerprint {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finger == nil {
		f := p.drawFingerprint()
		p.finger = &f
	}

	return *p.finger
}

func (p *Profile) drawFingerprint() Fingerprint {
	if !p.opts.AntiDetection {
		return Fingerprint{
			UserAgent:           fmt.Sprintf(uaPool[0].format, chromeVersions[len(chromeVersions)-1]),
			Platform:            uaPool[0].platform,
			AcceptLanguage:      "zh-CN,zh;q=0.9,en;q=0.8",
			Languages:           []string{"zh-CN", "zh", "en"},
			Width:               viewports[0].width,
			Height:              viewports[0].height,
			HardwareConcurrency: 8,
		}
	}

	tpl := uaPool[p.rnd.IntN(len(uaPool))]
	version := chromeVersions[p.rnd.IntN(len(chromeVersions))]

	total := 0
	for _, v := range viewports {
		total += v.weight
	}
	pick := p.rnd.IntN(total)
	vp := viewports[0]
	for _, v := range viewports {
		if pick < v.weight {
			vp = v
			break
		}
		pick -= v.weight
	}

	// Browser chrome eats part of the screen, so the window is never larger than it.
	width := vp.width - p.rnd.IntN(viewportNoise+1)
	height := vp.height - p.rnd.IntN(viewportNoise+1)

	return Fingerprint{
		UserAgent:           fmt.Sprintf(tpl.format, version),
		Platform:            tpl.platform,
		AcceptLanguage:      "zh-CN,zh;q=0.9,en;q=0.8",
		Languages:           []string{"zh-CN", "zh", "en"},
		Width:               width,
		Height:              height,
		HardwareConcurrency: concurrency[p.rnd.IntN(len(concurrency))],
	}
}
