package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fluentkids/phonotrail/internal/analysis"
	"github.com/fluentkids/phonotrail/internal/queue"
)

func queuedAttempt(queuedAt time.Time) queue.Attempt {
	return queue.Attempt{
		ID:       uuid.NewString(),
		UserID:   "kid-1",
		LevelID:  "w-sss",
		Exercise: "snake",
		Audio:    []byte("RIFF"),
		Metrics:  wonMetrics(),
		Phoneme:  "s",
		BaseXP:   10,
		QueuedAt: queuedAt,
	}
}

func TestReplay_SettlesQueuedAttempt(t *testing.T) {
	az := &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) { return passingResult() }}
	p, store, q := newTestPipeline(t, Config{}, az)
	ctx := context.Background()

	att := queuedAttempt(time.Now().UTC())
	if err := q.Append(ctx, att); err != nil {
		t.Fatalf("Append: %v", err)
	}

	stats, err := p.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.Replayed != 1 || stats.Dropped != 0 || stats.Remaining != 0 {
		t.Errorf("stats = %+v, want 1 replayed, 0 dropped, 0 remaining", stats)
	}

	attempts := store.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("persisted attempts = %d, want 1", len(attempts))
	}
	if attempts[0].ID != att.ID {
		t.Errorf("attempt ID = %q, want %q", attempts[0].ID, att.ID)
	}
	if attempts[0].XPEarned != 16 {
		t.Errorf("XPEarned = %d, want 16", attempts[0].XPEarned)
	}

	prog, err := store.Get(ctx, "kid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if prog.TotalXP != 16 {
		t.Errorf("TotalXP = %d, want 16", prog.TotalXP)
	}
}

func TestReplay_EvictsStaleAttempts(t *testing.T) {
	az := &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) { return passingResult() }}
	p, _, q := newTestPipeline(t, Config{}, az)
	ctx := context.Background()

	old := queuedAttempt(time.Now().UTC().Add(-8 * 24 * time.Hour))
	if err := q.Append(ctx, old); err != nil {
		t.Fatalf("Append: %v", err)
	}
	exhausted := queuedAttempt(time.Now().UTC())
	exhausted.RetryCount = queue.MaxRetries
	if err := q.Append(ctx, exhausted); err != nil {
		t.Fatalf("Append: %v", err)
	}

	stats, err := p.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.Dropped != 2 || stats.Replayed != 0 || stats.Remaining != 0 {
		t.Errorf("stats = %+v, want 2 dropped", stats)
	}
	// Evicted attempts never reach the service.
	if got := az.callCount(); got != 0 {
		t.Errorf("analyzer calls = %d, want 0", got)
	}
}

func TestReplay_FailureIncrementsRetryCount(t *testing.T) {
	az := &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return analysis.Result{}, errors.New("still down")
	}}
	p, store, q := newTestPipeline(t, Config{}, az)
	ctx := context.Background()

	if err := q.Append(ctx, queuedAttempt(time.Now().UTC())); err != nil {
		t.Fatalf("Append: %v", err)
	}

	stats, err := p.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.Replayed != 0 || stats.Remaining != 1 {
		t.Errorf("stats = %+v, want 0 replayed, 1 remaining", stats)
	}

	queued, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 || queued[0].RetryCount != 1 {
		t.Errorf("queued = %+v, want one attempt with RetryCount 1", queued)
	}
	if got := len(store.Attempts()); got != 0 {
		t.Errorf("persisted attempts = %d, want 0", got)
	}
}

func TestReplay_SingleFlight(t *testing.T) {
	az := &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) { return passingResult() }}
	p, _, _ := newTestPipeline(t, Config{}, az)

	p.replayMu.Lock()
	defer p.replayMu.Unlock()

	_, err := p.Replay(context.Background())
	if !errors.Is(err, ErrReplayActive) {
		t.Errorf("overlapping Replay error = %v, want ErrReplayActive", err)
	}
}
