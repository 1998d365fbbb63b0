package analysis

import (
	"sync"

	"golang.org/x/time/rate"

	"newspulse/internal/domain/entity"
)

// runLimiters hands out one token-bucket limiter per active run, so each
// run's LLM calls are throttled independently at its own params.rate_per_second
// (spec §4.8 step 3, clamped to [MinRatePerSecond, MaxRatePerSecond]).
type runLimiters struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func newRunLimiters() *runLimiters {
	return &runLimiters{limiters: make(map[int64]*rate.Limiter)}
}

func clampRate(r float64) float64 {
	if r <= 0 {
		return entity.DefaultRatePerSecond
	}
	if r < entity.MinRatePerSecond {
		return entity.MinRatePerSecond
	}
	if r > entity.MaxRatePerSecond {
		return entity.MaxRatePerSecond
	}
	return r
}

func (rl *runLimiters) forRun(runID int64, ratePerSecond float64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[runID]; ok {
		return l
	}
	r := clampRate(ratePerSecond)
	l := rate.NewLimiter(rate.Limit(r), 1)
	rl.limiters[runID] = l
	return l
}

func (rl *runLimiters) forget(runID int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, runID)
}
