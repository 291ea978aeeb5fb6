package behavior

import "time"

const (
	MinScrollSteps = 1
	MaxScrollSteps = 4

	minScrollDownPx = 300
	maxScrollDownPx = 600
	minScrollUpPx   = 100
	maxScrollUpPx   = 200
	// Chance that a downward movement is followed by a short move back up.
	scrollBackChance = 0.3

	minScrollPause = 300 * time.Millisecond
	maxScrollPause = 800 * time.Millisecond
)

// ScrollSteps draws how many downward wheel movements a reader makes over a
// freshly loaded result page. It is zero without anti-detection.
func (p *Profile) ScrollSteps() int {
	if !p.opts.AntiDetection {
		return 0
	}
	return MinScrollSteps + p.intN(MaxScrollSteps-MinScrollSteps+1)
}

// ScrollDistance draws one downward wheel movement in CSS pixels.
func (p *Profile) ScrollDistance() float64 {
	return float64(minScrollDownPx + p.intN(maxScrollDownPx-minScrollDownPx+1))
}

// ScrollPlan is a reading pass: ScrollSteps downward movements, some of them
// followed by a short upward correction (negative values).
func (p *Profile) ScrollPlan() []float64 {
	steps := p.ScrollSteps()
	if steps == 0 {
		return nil
	}

	plan := make([]float64, 0, steps*2)
	for range steps {
		plan = append(plan, p.ScrollDistance())
		if p.float() < scrollBackChance {
			plan = append(plan, -float64(minScrollUpPx+p.intN(maxScrollUpPx-minScrollUpPx+1)))
		}
	}
	return plan
}

// ScrollPause is the pause after one wheel movement inside a reading pass.
func (p *Profile) ScrollPause() time.Duration {
	if !p.opts.AntiDetection {
		return 0
	}
	spread := int((maxScrollPause - minScrollPause) / time.Millisecond)
	return minScrollPause + time.Duration(p.intN(spread+1))*time.Millisecond
}
