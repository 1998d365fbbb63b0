// Package feedhealth recomputes a feed's rolling fetch-reliability stats
// from its recent FetchLog window after every fetch attempt (spec §4.3
// steps 8/9, supplemented by original_source/app/services/feed_health_service.py's
// reachability/stability windows).
package feedhealth

import (
	"context"
	"fmt"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

// RollingWindow bounds how many recent fetch attempts feed the ok_ratio and
// avg_response_time_ms stats, mirroring the original's last-10-attempts
// reachability window.
const RollingWindow = 10

const (
	uptimeWindow24h = 24 * time.Hour
	uptimeWindow7d  = 7 * 24 * time.Hour
)

// Scorer recomputes and persists FeedHealth after each fetch attempt.
type Scorer struct {
	health repository.FeedHealthRepository
	logs   repository.FetchLogRepository
}

// New constructs a Scorer.
func New(health repository.FeedHealthRepository, logs repository.FetchLogRepository) *Scorer {
	return &Scorer{health: health, logs: logs}
}

// RecordOutcome loads the feed's current health row, folds in the latest
// attempt, recomputes the rolling window stats from FetchLog, and persists
// the result.
func (s *Scorer) RecordOutcome(ctx context.Context, feedID int64, success bool, responseTimeMs int64) error {
	h, err := s.health.Get(ctx, feedID)
	if err != nil {
		return fmt.Errorf("load feed health: %w", err)
	}

	now := time.Now()
	if success {
		h.ConsecutiveFails = 0
		h.LastSuccess = &now
	} else {
		h.ConsecutiveFails++
		h.LastFailure = &now
	}

	recent, err := s.logs.RecentByFeed(ctx, feedID, RollingWindow)
	if err != nil {
		return fmt.Errorf("load recent fetch logs: %w", err)
	}

	h.OkRatio = okRatio(recent)
	h.AvgResponseTimeMs = avgResponseTimeMs(recent)
	h.Uptime24h = uptimeSince(recent, now.Add(-uptimeWindow24h))
	h.Uptime7d = uptimeSince(recent, now.Add(-uptimeWindow7d))

	if success {
		return s.health.RecordSuccess(ctx, h)
	}
	return s.health.RecordFailure(ctx, h)
}

func okRatio(logs []*entity.FetchLog) float64 {
	if len(logs) == 0 {
		return 0
	}
	ok := 0
	for _, l := range logs {
		if l.Status == entity.FetchStatusSuccess || l.Status == entity.FetchStatusNotModified {
			ok++
		}
	}
	return float64(ok) / float64(len(logs))
}

func avgResponseTimeMs(logs []*entity.FetchLog) float64 {
	var sum int64
	n := 0
	for _, l := range logs {
		if l.Status == entity.FetchStatusError {
			continue
		}
		sum += l.ResponseTimeMs
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// uptimeSince returns the success ratio among logs started at or after
// cutoff, or 1.0 (assume healthy) when no log falls in the window.
func uptimeSince(logs []*entity.FetchLog, cutoff time.Time) float64 {
	total, ok := 0, 0
	for _, l := range logs {
		if l.StartedAt.Before(cutoff) {
			continue
		}
		total++
		if l.Status == entity.FetchStatusSuccess || l.Status == entity.FetchStatusNotModified {
			ok++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}
