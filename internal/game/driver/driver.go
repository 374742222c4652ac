// Package driver runs the game state machine against a wall clock. It owns
// the per-attempt scheduling loop: a ticker fires at the target frame rate,
// each firing computes the delta since the previous one and advances the
// state machine with the most recent amplitude sample.
//
// The ticker is an injected abstraction so tests drive the loop with
// hand-crafted timestamps instead of a real frame source.
package driver

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluentkids/phonotrail/internal/game"
)

// DefaultTickInterval targets ~60 ticks per second.
const DefaultTickInterval = 16667 * time.Microsecond

// Ticker is the next-tick primitive driving the loop. The times delivered on
// C are used as the loop's clock, so a test ticker fully controls time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker with the given period.
type TickerFactory func(period time.Duration) Ticker

// wallTicker adapts [time.Ticker] to the [Ticker] interface.
type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// NewWallTicker is the production [TickerFactory].
func NewWallTicker(period time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(period)}
}

// Config configures a [Driver].
type Config struct {
	// PathLength is the length of the level path in path units.
	PathLength float64

	// Level is the per-level contract passed through to the state machine.
	Level game.LevelConfig

	// Tunables provides the numeric thresholds. Zero value means
	// [game.DefaultTunables].
	Tunables game.Tunables

	// TickInterval is the scheduling period. Zero means [DefaultTickInterval].
	TickInterval time.Duration

	// NewTicker overrides the tick source. Zero means [NewWallTicker].
	NewTicker TickerFactory

	// OnTick, when non-nil, receives every post-tick state snapshot. Called
	// from the loop goroutine; must not block for long.
	OnTick func(game.State)

	// OnWin and OnTimeout receive the terminal metrics snapshot. Each attempt
	// fires at most one of them, exactly once, from the loop goroutine after
	// the state mutation has fully completed, never reentrantly inside it.
	OnWin     func(game.Metrics)
	OnTimeout func(game.Metrics)

	// PerfBudget, when > 0, is the per-tick processing budget used by
	// [Driver.Perf] to flag p95 regressions. It never alters behaviour.
	PerfBudget time.Duration
}

// Driver schedules the state machine at the target frame rate. All exported
// methods are safe for concurrent use; the state itself has exactly one
// writer (the loop goroutine).
type Driver struct {
	cfg Config

	// amplitude is the shared most-recent-wins cell between the capture
	// callback and the loop tick, stored as float64 bits.
	amplitude atomic.Uint64

	mu       sync.Mutex
	state    game.State
	running  bool
	finished bool
	stop     chan struct{}
	lastTick time.Time
	haveLast bool
	perf     *perfWindow
}

// New creates a Driver in the reset (not running) position.
func New(cfg Config) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewWallTicker
	}
	if cfg.Tunables == (game.Tunables{}) {
		cfg.Tunables = game.DefaultTunables()
	}
	d := &Driver{
		cfg:  cfg,
		perf: newPerfWindow(perfWindowSize),
	}
	d.state = game.NewState(cfg.PathLength, cfg.Level)
	return d
}

// UpdateAmplitude publishes the latest amplitude sample. Non-blocking; a
// sample arriving between ticks simply overwrites the previous one. Safe to
// call from any goroutine at any rate.
func (d *Driver) UpdateAmplitude(sample float64) {
	if math.IsNaN(sample) || sample < 0 {
		sample = 0
	}
	d.amplitude.Store(math.Float64bits(sample))
}

// Start begins scheduling. It is a no-op when the loop is already running.
// Starting after a finished attempt clears the terminal flags and begins a
// fresh attempt.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	if d.finished {
		d.state = game.NewState(d.cfg.PathLength, d.cfg.Level)
		d.finished = false
	}
	d.perf.reset()
	d.launchLocked()
}

// Pause stops scheduling without touching game state. Elapsed time freezes
// until [Driver.Resume].
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Resume restarts scheduling after a pause. The first tick after resuming
// only re-arms the delta reference, so pause length never leaks into dt.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.finished {
		return
	}
	d.launchLocked()
}

// Reset stops scheduling and reinitialises the attempt from scratch. No tick
// scheduled before the reset fires after it.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.state = game.NewState(d.cfg.PathLength, d.cfg.Level)
	d.finished = false
	d.perf.reset()
	d.amplitude.Store(0)
}

// Snapshot returns a copy of the current game state.
func (d *Driver) Snapshot() game.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Running reports whether the loop is currently scheduled.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Perf returns the rolling per-tick processing statistics.
func (d *Driver) Perf() PerfStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perf.stats(d.cfg.PerfBudget)
}

// launchLocked starts the loop goroutine. Caller holds d.mu.
func (d *Driver) launchLocked() {
	d.running = true
	d.haveLast = false
	stop := make(chan struct{})
	d.stop = stop
	ticker := d.cfg.NewTicker(d.cfg.TickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C():
				if done := d.tick(now, stop); done {
					return
				}
			}
		}
	}()
}

// stopLocked cancels the pending loop goroutine. Caller holds d.mu.
func (d *Driver) stopLocked() {
	if !d.running {
		return
	}
	d.running = false
	close(d.stop)
	d.stop = nil
}

// tick advances the state machine once. Returns true when the attempt has
// reached a terminal state and the loop should stop rescheduling. Terminal
// callbacks run after the state mutation is complete and the lock released.
func (d *Driver) tick(now time.Time, stop chan struct{}) bool {
	started := time.Now()

	d.mu.Lock()
	// A stale tick can race a concurrent Pause/Reset; the closed stop channel
	// marks it as cancelled.
	select {
	case <-stop:
		d.mu.Unlock()
		return true
	default:
	}

	if !d.haveLast {
		// First firing after start/resume only establishes the delta
		// reference; processing it would produce a huge dt.
		d.lastTick = now
		d.haveLast = true
		d.mu.Unlock()
		return false
	}

	dt := now.Sub(d.lastTick).Seconds()
	d.lastTick = now

	amp := math.Float64frombits(d.amplitude.Load())
	wasTerminal := d.state.Terminal()
	d.state = d.cfg.Tunables.Tick(d.state, amp, dt, d.cfg.Level)
	st := d.state
	d.perf.record(time.Since(started))

	terminal := st.Terminal() && !wasTerminal
	if terminal {
		d.running = false
		d.finished = true
		d.stop = nil
	}
	d.mu.Unlock()

	if d.cfg.OnTick != nil {
		d.cfg.OnTick(st)
	}
	if terminal {
		m := st.Snapshot()
		switch {
		case st.Won && d.cfg.OnWin != nil:
			d.cfg.OnWin(m)
		case st.TimedOut && d.cfg.OnTimeout != nil:
			d.cfg.OnTimeout(m)
		}
		slog.Debug("attempt finished",
			"won", st.Won,
			"timed_out", st.TimedOut,
			"duration_achieved", m.DurationAchieved,
			"completion_pct", m.CompletionPercent,
		)
	}
	return terminal
}
