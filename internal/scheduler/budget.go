package scheduler

import "time"

// budget is the rolling window of granted action timestamps. It is only
// touched under Scheduler.mu.
type budget struct {
	stamps  []time.Time
	ceiling int
	window  time.Duration
}

func newBudget(ceiling int, window time.Duration) *budget {
	return &budget{
		stamps:  make([]time.Time, 0, ceiling),
		ceiling: ceiling,
		window:  window,
	}
}

// prune drops timestamps that no longer fall inside (now-window, now].
func (b *budget) prune(now time.Time) {
	i := 0
	for i < len(b.stamps) && !b.stamps[i].Add(b.window).After(now) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// waitFor returns how long until n more actions fit into the window.
func (b *budget) waitFor(now time.Time, n int) time.Duration {
	b.prune(now)

	over := len(b.stamps) + n - b.ceiling
	if over <= 0 {
		return 0
	}

	return b.stamps[over-1].Add(b.window).Sub(now)
}

func (b *budget) record(now time.Time, n int) {
	for i := 0; i < n; i++ {
		b.stamps = append(b.stamps, now)
	}
}
