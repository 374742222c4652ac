package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluentkids/phonotrail/internal/analysis"
	"github.com/fluentkids/phonotrail/internal/level"
	"github.com/fluentkids/phonotrail/internal/observe"
	"github.com/fluentkids/phonotrail/internal/progress"
	"github.com/fluentkids/phonotrail/internal/queue"
	"github.com/fluentkids/phonotrail/internal/resilience"
)

// ErrReplayActive is returned when a replay is already running. Replays are
// single-flight; overlapping runs would double-settle queued attempts.
var ErrReplayActive = errors.New("reconcile: replay already in progress")

// ReplayStats summarises one replay pass.
type ReplayStats struct {
	// Replayed counts attempts settled and removed from the queue.
	Replayed int

	// Dropped counts stale attempts evicted without settlement.
	Dropped int

	// Remaining counts attempts left queued after the pass.
	Remaining int
}

// Replay drains the offline queue through the normal upload-and-settle path.
// Each queued attempt gets one try; a failure increments its retry count and
// leaves it queued. Stale attempts (too old or out of retries) are evicted.
// An open circuit breaker ends the pass early, leaving the rest queued.
func (p *Pipeline) Replay(ctx context.Context) (ReplayStats, error) {
	if !p.replayMu.TryLock() {
		return ReplayStats{}, ErrReplayActive
	}
	defer p.replayMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "reconcile.replay")
	defer span.End()
	log := observe.Logger(ctx)

	queued, err := p.queue.List(ctx)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("reconcile: replay list: %w", err)
	}

	var stats ReplayStats
	now := p.now()
	for _, att := range queued {
		if err := ctx.Err(); err != nil {
			break
		}

		if att.Stale(now) {
			if err := p.queue.Remove(ctx, att.ID); err != nil {
				log.Warn("stale queue eviction failed", "attempt_id", att.ID, "error", err)
				continue
			}
			if p.metrics != nil {
				p.metrics.QueueDepth.Add(ctx, -1)
			}
			log.Info("stale queued attempt dropped",
				"attempt_id", att.ID, "queued_at", att.QueuedAt, "retries", att.RetryCount)
			stats.Dropped++
			continue
		}

		err := p.replayOne(ctx, att)
		if errors.Is(err, resilience.ErrOpen) {
			log.Warn("analysis circuit open, ending replay pass")
			break
		}
		if err != nil {
			log.Warn("queued attempt replay failed", "attempt_id", att.ID, "error", err)
			if rerr := p.queue.IncrementRetry(ctx, att.ID); rerr != nil {
				log.Warn("retry count update failed", "attempt_id", att.ID, "error", rerr)
			}
			continue
		}
		stats.Replayed++
	}

	remaining, err := p.queue.Len(ctx)
	if err != nil {
		return stats, fmt.Errorf("reconcile: replay len: %w", err)
	}
	stats.Remaining = remaining

	log.Info("offline queue replay finished",
		"replayed", stats.Replayed, "dropped", stats.Dropped, "remaining", stats.Remaining)
	return stats, nil
}

// replayOne gives a queued attempt a single upload try and, on success,
// settles it exactly like an inline attempt.
func (p *Pipeline) replayOne(ctx context.Context, att queue.Attempt) error {
	var res analysis.Result
	err := p.breaker.Do(func() error {
		var aerr error
		res, aerr = p.analyzer.Analyze(ctx, analysis.Request{
			Exercise:      analysis.Exercise(att.Exercise),
			Audio:         att.Audio,
			Metrics:       att.Metrics,
			TargetPhoneme: att.Phoneme,
		})
		return aerr
	})
	if err != nil {
		return err
	}

	cfg := p.config()
	xp := level.XPReward(att.BaseXP, res.Stars, att.Metrics.CompletionPercent)
	if cfg.StrictPhoneme && res.PhonemeMatch != nil && !*res.PhonemeMatch {
		xp = penalizeXP(xp, cfg.PhonemePenalty)
	}
	feedback := res.Feedback
	if feedback == "" {
		feedback = fallbackFeedback(analysis.Exercise(att.Exercise), res.Stars)
	}

	if _, err := p.store.RecordAttempt(ctx, progress.Attempt{
		ID:           att.ID,
		UserID:       att.UserID,
		LevelID:      att.LevelID,
		Exercise:     att.Exercise,
		Metrics:      att.Metrics,
		Stars:        res.Stars,
		XPEarned:     xp,
		ClinicalPass: res.ClinicalPass,
		GamePass:     res.GamePass,
		Confidence:   res.Confidence,
		Feedback:     feedback,
		Analyzed:     true,
		CreatedAt:    p.now().UTC(),
	}); err != nil {
		return fmt.Errorf("persist replayed attempt: %w", err)
	}

	if err := p.queue.Remove(ctx, att.ID); err != nil {
		return fmt.Errorf("remove settled attempt: %w", err)
	}
	if p.metrics != nil {
		p.metrics.QueueDepth.Add(ctx, -1)
		p.metrics.RecordStars(ctx, res.Stars)
		p.metrics.RecordAnalysisResult(ctx, att.Exercise, "replayed")
	}
	return nil
}
