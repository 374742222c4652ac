package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluentkids/phonotrail/internal/analysis"
	"github.com/fluentkids/phonotrail/internal/game"
	"github.com/fluentkids/phonotrail/internal/level"
	"github.com/fluentkids/phonotrail/internal/observe"
	"github.com/fluentkids/phonotrail/internal/progress"
	"github.com/fluentkids/phonotrail/internal/queue"
	"github.com/fluentkids/phonotrail/internal/resilience"
)

// Defaults for the retry schedule.
const (
	// DefaultMaxUploadAttempts bounds the inline upload tries per attempt,
	// the first try included.
	DefaultMaxUploadAttempts = 3

	// DefaultRetryBackoff is the wait before the second try; it doubles for
	// each try after that.
	DefaultRetryBackoff = 2 * time.Second

	// DefaultPhonemePenalty is the XP multiplier applied in strict-phoneme
	// mode when the spoken phoneme did not match the prompt.
	DefaultPhonemePenalty = 0.5
)

// Config tunes the pipeline. The zero value gets sensible defaults from
// [New].
type Config struct {
	MaxUploadAttempts int
	RetryBackoff      time.Duration

	// StrictPhoneme reduces the XP award by PhonemePenalty when the analysis
	// reports a phoneme mismatch. Stars are never reduced; the penalty only
	// tempers the reward.
	StrictPhoneme  bool
	PhonemePenalty float64
}

// Completed is a finished game attempt handed to the pipeline.
type Completed struct {
	UserID   string
	Level    level.Level
	Exercise analysis.Exercise

	// Audio is the WAV-encoded recording of the attempt.
	Audio []byte

	Metrics game.Metrics
}

// Final is the settled outcome delivered on [Outcome.Final] exactly once.
type Final struct {
	// Attempt is the persisted record. Zero-valued when Queued or Err is set.
	Attempt progress.Attempt

	// Progress is the user's aggregate after the attempt folded in.
	Progress progress.UserProgress

	// Next is the adaptive follow-up level; nil when progression is locked
	// or no resolver is configured.
	Next *level.Level

	// Result is the raw analysis result, when one arrived.
	Result *analysis.Result

	// Queued is true when the upload was exhausted and the attempt went to
	// the offline queue instead. The caller keeps showing the optimistic
	// stars; XP is credited when the replay eventually lands.
	Queued bool

	Err error
}

// Outcome is returned by [Pipeline.Complete] immediately. OptimisticStars is
// safe to show right away; the authoritative settlement arrives on Final.
type Outcome struct {
	AttemptID       string
	OptimisticStars int
	Final           <-chan Final
}

// Pipeline reconciles finished attempts against the analysis service.
// Safe for concurrent use.
type Pipeline struct {
	cfgMu    sync.RWMutex
	cfg      Config
	analyzer analysis.Analyzer
	store    progress.Store
	queue    *queue.Store
	breaker  *resilience.Breaker
	resolver *level.Resolver
	metrics  *observe.Metrics

	// sleep waits between upload tries; injected by tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	replayMu sync.Mutex
}

// Option is a functional option for configuring the [Pipeline].
type Option func(*Pipeline)

// WithBreaker replaces the default circuit breaker guarding the analysis
// service.
func WithBreaker(b *resilience.Breaker) Option {
	return func(p *Pipeline) { p.breaker = b }
}

// WithResolver enables adaptive next-level selection on settlement.
func WithResolver(r *level.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithMetrics enables instrument recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline. analyzer, store, and q are required; a nil resolver
// simply disables next-level selection.
func New(cfg Config, analyzer analysis.Analyzer, store progress.Store, q *queue.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      normalizeConfig(cfg),
		analyzer: analyzer,
		store:    store,
		queue:    q,
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = resilience.New(resilience.Config{Name: "analysis"})
	}
	return p
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxUploadAttempts <= 0 {
		cfg.MaxUploadAttempts = DefaultMaxUploadAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.PhonemePenalty <= 0 {
		cfg.PhonemePenalty = DefaultPhonemePenalty
	}
	return cfg
}

// SetConfig swaps the retry schedule and scoring knobs at runtime. Attempts
// already settling finish under the schedule they started with.
func (p *Pipeline) SetConfig(cfg Config) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	p.cfg = normalizeConfig(cfg)
}

func (p *Pipeline) config() Config {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

// Complete accepts a finished attempt and returns immediately with the
// optimistic star estimate. Settlement runs in the background and is
// delivered exactly once on the returned channel; it survives cancellation
// of the caller's context so an abandoned connection does not lose the
// attempt.
func (p *Pipeline) Complete(ctx context.Context, c Completed) Outcome {
	id := uuid.NewString()
	ch := make(chan Final, 1)

	bg := context.WithoutCancel(ctx)
	go func() {
		ch <- p.settle(bg, id, c)
	}()

	return Outcome{
		AttemptID:       id,
		OptimisticStars: OptimisticStars(c.Metrics.CompletionPercent),
		Final:           ch,
	}
}

// settle uploads, reconciles, and persists one attempt.
func (p *Pipeline) settle(ctx context.Context, id string, c Completed) Final {
	ctx, span := observe.StartSpan(ctx, "reconcile.settle")
	defer span.End()
	log := observe.Logger(ctx).With("attempt_id", id, "user_id", c.UserID, "level_id", c.Level.ID)

	res, err := p.upload(ctx, analysis.Request{
		Exercise:      c.Exercise,
		Audio:         c.Audio,
		Metrics:       c.Metrics,
		TargetPhoneme: c.Level.TargetPhoneme,
	})
	if err != nil {
		log.Warn("analysis upload exhausted, queueing attempt", "error", err)
		if qerr := p.enqueue(ctx, id, c); qerr != nil {
			log.Error("offline queue append failed, attempt lost", "error", qerr)
			return Final{Err: errors.Join(err, qerr)}
		}
		if p.metrics != nil {
			p.metrics.RecordQueued(ctx, "upload_failed")
		}
		return Final{Queued: true}
	}

	att := p.buildAttempt(id, c, res)
	prog, err := p.store.RecordAttempt(ctx, att)
	if err != nil {
		log.Error("attempt persist failed", "error", err)
		return Final{Result: &res, Err: fmt.Errorf("reconcile: persist attempt: %w", err)}
	}

	var next *level.Level
	if p.resolver != nil {
		next, err = p.resolver.Next(ctx, c.Level, prog, res.Confidence, res.Stars)
		if err != nil {
			log.Warn("next-level selection failed", "error", err)
			next, err = nil, nil
		}
	}

	if p.metrics != nil {
		p.metrics.RecordStars(ctx, att.Stars)
		p.metrics.RecordAnalysisResult(ctx, string(c.Exercise), "ok")
	}
	log.Info("attempt settled",
		"stars", att.Stars, "xp", att.XPEarned, "total_xp", prog.TotalXP,
		"clinical_pass", res.ClinicalPass, "confidence", res.Confidence)

	return Final{Attempt: att, Progress: prog, Next: next, Result: &res}
}

// buildAttempt turns an analysis result into the persisted attempt record.
func (p *Pipeline) buildAttempt(id string, c Completed, res analysis.Result) progress.Attempt {
	cfg := p.config()
	xp := level.XPReward(c.Level.XPReward, res.Stars, c.Metrics.CompletionPercent)
	if cfg.StrictPhoneme && res.PhonemeMatch != nil && !*res.PhonemeMatch {
		xp = penalizeXP(xp, cfg.PhonemePenalty)
	}

	feedback := res.Feedback
	if feedback == "" {
		feedback = fallbackFeedback(c.Exercise, res.Stars)
	}

	return progress.Attempt{
		ID:           id,
		UserID:       c.UserID,
		LevelID:      c.Level.ID,
		Exercise:     string(c.Exercise),
		Metrics:      c.Metrics,
		Stars:        res.Stars,
		XPEarned:     xp,
		ClinicalPass: res.ClinicalPass,
		GamePass:     res.GamePass,
		Confidence:   res.Confidence,
		Feedback:     feedback,
		Analyzed:     true,
		CreatedAt:    p.now().UTC(),
	}
}

// upload runs the retry schedule against the analysis service. The breaker
// guards every try; an open breaker fails fast instead of burning the
// remaining schedule.
func (p *Pipeline) upload(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	cfg := p.config()
	var lastErr error
	backoff := cfg.RetryBackoff

	for try := 1; try <= cfg.MaxUploadAttempts; try++ {
		start := p.now()
		var res analysis.Result
		err := p.breaker.Do(func() error {
			var aerr error
			res, aerr = p.analyzer.Analyze(ctx, req)
			return aerr
		})
		if p.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			p.metrics.RecordUpload(ctx, string(req.Exercise), status, p.now().Sub(start).Seconds())
		}
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, resilience.ErrOpen) {
			return analysis.Result{}, fmt.Errorf("reconcile: upload try %d: %w", try, err)
		}
		if try == cfg.MaxUploadAttempts {
			break
		}

		slog.Debug("analysis upload failed, retrying",
			"try", try, "backoff", backoff, "error", err)
		if p.metrics != nil {
			p.metrics.RecordUploadRetry(ctx, string(req.Exercise))
		}
		if serr := p.sleep(ctx, backoff); serr != nil {
			return analysis.Result{}, serr
		}
		backoff *= 2
	}

	return analysis.Result{}, fmt.Errorf("reconcile: upload failed after %d tries: %w",
		cfg.MaxUploadAttempts, lastErr)
}

// enqueue captures everything a later replay needs. The retry count starts
// at zero: the inline schedule does not count against the replay budget.
func (p *Pipeline) enqueue(ctx context.Context, id string, c Completed) error {
	return p.queue.Append(ctx, queue.Attempt{
		ID:       id,
		UserID:   c.UserID,
		LevelID:  c.Level.ID,
		Exercise: string(c.Exercise),
		Audio:    c.Audio,
		Metrics:  c.Metrics,
		Phoneme:  c.Level.TargetPhoneme,
		BaseXP:   c.Level.XPReward,
		QueuedAt: p.now().UTC(),
	})
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
