// Package behavior produces the client fingerprint and the human-like timing
// and pointer movement used to pace browser actions. It performs no I/O.
package behavior

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ActionClass groups outbound actions that share a timing distribution.
type ActionClass string

const (
	Navigation ActionClass = "navigation"
	Typing     ActionClass = "typing"
	Clicking   ActionClass = "clicking"
	Scrolling  ActionClass = "scrolling"
)

// DelaySpec describes a log-normal delay distribution clamped to [Min, Max].
type DelaySpec struct {
	Median time.Duration
	Sigma  float64
	Min    time.Duration
	Max    time.Duration
}

// Options tunes a Profile.
type Options struct {
	// AntiDetection disables randomization when false: delays collapse to the
	// class minimum and the fingerprint is the first entry of each pool.
	AntiDetection bool
	Delays        map[ActionClass]DelaySpec
}

// DefaultDelays are derived from observed pacing of a person browsing
// listings: page loads take seconds, keystroke bursts a fraction of one.
func DefaultDelays() map[ActionClass]DelaySpec {
	return map[ActionClass]DelaySpec{
		Navigation: {Median: 2500 * time.Millisecond, Sigma: 0.35, Min: 1500 * time.Millisecond, Max: 6 * time.Second},
		Typing:     {Median: 250 * time.Millisecond, Sigma: 0.4, Min: 80 * time.Millisecond, Max: 900 * time.Millisecond},
		Clicking:   {Median: 900 * time.Millisecond, Sigma: 0.3, Min: 300 * time.Millisecond, Max: 2500 * time.Millisecond},
		Scrolling:  {Median: 700 * time.Millisecond, Sigma: 0.3, Min: 300 * time.Millisecond, Max: 2 * time.Second},
	}
}

func DefaultOptions() Options {
	return Options{AntiDetection: true, Delays: DefaultDelays()}
}

// Profile is safe for concurrent use.
type Profile struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	opts   Options
	finger *Fingerprint
}

// New creates a profile drawing from src.
func New(src rand.Source, opts Options) *Profile {
	if opts.Delays == nil {
		opts.Delays = DefaultDelays()
	}

	return &Profile{
		rnd:  rand.New(src),
		opts: opts,
	}
}

// NewSeeded creates a profile with a deterministic source.
func NewSeeded(seed uint64, opts Options) *Profile {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), opts)
}

// NewRandom creates a profile seeded from the runtime random source.
func NewRandom(opts Options) *Profile {
	return NewSeeded(rand.Uint64(), opts)
}

func (p *Profile) AntiDetection() bool {
	return p.opts.AntiDetection
}

// Delay draws the pause that precedes an action of the given class.
// Unknown classes use the clicking distribution.
func (p *Profile) Delay(class ActionClass) time.Duration {
	spec, ok := p.opts.Delays[class]
	if !ok {
		spec = p.opts.Delays[Clicking]
	}

	if !p.opts.AntiDetection {
		return spec.Min
	}

	p.mu.Lock()
	n := p.rnd.NormFloat64()
	p.mu.Unlock()

	return spec.sample(n)
}

// KeystrokeDelay is the pause between typed chunks inside a single typing action.
func (p *Profile) KeystrokeDelay() time.Duration {
	if !p.opts.AntiDetection {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return time.Duration(40+p.rnd.IntN(140)) * time.Millisecond
}

func (s DelaySpec) sample(n float64) time.Duration {
	median := float64(s.Median)
	if median <= 0 {
		return s.Min
	}

	d := time.Duration(median * math.Exp(s.Sigma*n))
	if d < s.Min {
		return s.Min
	}
	if s.Max > 0 && d > s.Max {
		return s.Max
	}

	return d
}

func (p *Profile) intN(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rnd.IntN(n)
}

func (p *Profile) float() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rnd.Float64()
}
