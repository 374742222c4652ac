package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/fluentkids/phonotrail/internal/analysis"
	"github.com/fluentkids/phonotrail/internal/audio"
	"github.com/fluentkids/phonotrail/internal/game"
	"github.com/fluentkids/phonotrail/internal/game/driver"
	"github.com/fluentkids/phonotrail/internal/level"
	"github.com/fluentkids/phonotrail/internal/observe"
	"github.com/fluentkids/phonotrail/internal/reconcile"
)

const (
	// defaultSampleRate matches the expected phone-microphone capture rate.
	defaultSampleRate = 16000

	// defaultPathLength is used when the client does not report its own
	// path geometry.
	defaultPathLength = 100.0

	// maxCaptureBytes caps the per-attempt PCM buffer. At 16 kHz mono this
	// is a little over two minutes, far beyond any level's target duration.
	maxCaptureBytes = 4 << 20
)

// session owns one websocket connection and the attempt lifecycle on it: the
// game loop, the amplitude meter, the PCM capture buffer, and the handoff of
// finished attempts to the reconciliation pipeline.
type session struct {
	conn *websocket.Conn
	srv  *Server
	log  *slog.Logger

	// writeMu serializes frames onto the connection; the tick pump, the
	// read loop, and settlement goroutines all write.
	writeMu sync.Mutex

	// ctx is canceled when the connection goes away, stopping the pump and
	// any pending attempt.
	ctx    context.Context
	cancel context.CancelFunc

	// states carries the latest tick snapshot to the pump; stale snapshots
	// are overwritten, never queued.
	states chan game.State

	mu       sync.Mutex
	drv      *driver.Driver
	meter    *audio.Meter
	pcm      []byte
	lvl      level.Level
	userID   string
	exercise analysis.Exercise
	rate     int
}

func newSession(ctx context.Context, conn *websocket.Conn, srv *Server) *session {
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		conn:   conn,
		srv:    srv,
		log:    observe.Logger(ctx),
		ctx:    ctx,
		cancel: cancel,
		states: make(chan game.State, 1),
	}
}

// run services the connection until the client disconnects or the context
// ends. It blocks for the lifetime of the session.
func (s *session) run() {
	defer s.close()

	go s.pumpStates()

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || s.ctx.Err() != nil {
				return
			}
			s.log.Debug("session read ended", "error", err)
			return
		}
		switch typ {
		case websocket.MessageText:
			if err := s.handleControl(data); err != nil {
				s.sendError(err)
			}
		case websocket.MessageBinary:
			s.handleAudio(data)
		}
	}
}

// close tears the session down. Safe to call more than once.
func (s *session) close() {
	s.cancel()
	s.mu.Lock()
	if s.drv != nil {
		s.drv.Reset()
	}
	s.mu.Unlock()
	s.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// pumpStates writes tick snapshots to the client. Running it on its own
// goroutine keeps the game loop's OnTick callback non-blocking regardless of
// how slow the network is.
func (s *session) pumpStates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case st := <-s.states:
			if err := s.writeJSON(stateMsg(st)); err != nil {
				return
			}
		}
	}
}

// publishState hands the pump the freshest snapshot, dropping the previous
// one if it was never sent.
func (s *session) publishState(st game.State) {
	for {
		select {
		case s.states <- st:
			return
		default:
			select {
			case <-s.states:
			default:
			}
		}
	}
}

func (s *session) handleControl(data []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("server: malformed control frame: %w", err)
	}

	switch msg.Type {
	case msgStart:
		return s.handleStart(msg)
	case msgPause:
		return s.withDriver(func(d *driver.Driver) { d.Pause() })
	case msgResume:
		return s.withDriver(func(d *driver.Driver) { d.Resume() })
	case msgReset:
		return s.handleReset()
	default:
		return fmt.Errorf("server: unknown control type %q", msg.Type)
	}
}

func (s *session) handleStart(msg clientMessage) error {
	if msg.UserID == "" || msg.LevelID == "" {
		return errors.New("server: start requires user_id and level_id")
	}
	exercise := analysis.Exercise(msg.Exercise)
	if !exercise.IsValid() {
		return fmt.Errorf("server: unknown exercise %q", msg.Exercise)
	}

	item, err := s.srv.content.Item(s.ctx, msg.LevelID)
	if err != nil {
		return fmt.Errorf("server: level %s: %w", msg.LevelID, err)
	}
	if !item.SupportsExercise(string(exercise)) {
		return fmt.Errorf("server: level %s does not support exercise %s", msg.LevelID, exercise)
	}
	lvl, err := level.Derive(item)
	if err != nil {
		return fmt.Errorf("server: level %s: %w", msg.LevelID, err)
	}

	rate := msg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	pathLength := msg.PathLength
	if pathLength <= 0 {
		pathLength = defaultPathLength
	}

	s.mu.Lock()
	if s.drv != nil && s.drv.Running() {
		s.mu.Unlock()
		return errors.New("server: attempt already running")
	}
	s.userID = msg.UserID
	s.exercise = exercise
	s.lvl = lvl
	s.rate = rate
	s.meter = audio.NewMeter(0, 0)
	s.pcm = nil
	tunables, tickInterval := s.srv.gameConfig()
	s.drv = driver.New(driver.Config{
		PathLength:   pathLength,
		Level:        lvl.Config(),
		Tunables:     tunables,
		TickInterval: tickInterval,
		NewTicker:    s.srv.newTicker,
		OnTick:       s.publishState,
		OnWin:        func(m game.Metrics) { go s.settle(m, true) },
		OnTimeout:    func(m game.Metrics) { go s.settle(m, false) },
	})
	drv := s.drv
	s.mu.Unlock()

	s.log.Info("attempt started",
		"user_id", msg.UserID,
		"level_id", lvl.ID,
		"exercise", exercise,
	)

	if err := s.writeJSON(levelMessage{
		Type:           msgLevel,
		ID:             lvl.ID,
		Prompt:         lvl.Prompt,
		Tier:           lvl.Tier,
		TargetPhoneme:  lvl.TargetPhoneme,
		TargetDuration: lvl.TargetDuration,
		AllowPauses:    lvl.AllowPauses,
		PathLength:     pathLength,
	}); err != nil {
		return err
	}
	drv.Start()
	return nil
}

func (s *session) handleReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return errors.New("server: no attempt to reset")
	}
	s.drv.Reset()
	s.meter.Reset()
	s.pcm = nil
	return nil
}

// withDriver runs fn against the current driver, failing when no attempt has
// been started yet.
func (s *session) withDriver(fn func(*driver.Driver)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return errors.New("server: no attempt started")
	}
	fn(s.drv)
	return nil
}

// handleAudio folds one binary PCM frame into the meter and the capture
// buffer. Frames before the first start are dropped.
func (s *session) handleAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return
	}
	amp := s.meter.Process(audio.DecodePCM16(data))
	s.drv.UpdateAmplitude(amp)
	if len(s.pcm)+len(data) <= maxCaptureBytes {
		s.pcm = append(s.pcm, data...)
	}
}

// settle hands a finished attempt to the reconciliation pipeline, pushes the
// optimistic result immediately, and pushes the settled outcome when it
// lands. Runs on its own goroutine so the game loop never waits on it.
func (s *session) settle(m game.Metrics, won bool) {
	s.mu.Lock()
	if perf := s.drv.Perf(); perf.Samples > 0 {
		s.log.Debug("attempt loop perf",
			"samples", perf.Samples, "mean", perf.Mean, "p95", perf.P95, "max", perf.Max)
	}
	wav := audio.EncodeWAV(s.pcm, s.rate, 1)
	c := reconcile.Completed{
		UserID:   s.userID,
		Level:    s.lvl,
		Exercise: s.exercise,
		Audio:    wav,
		Metrics:  m,
	}
	s.mu.Unlock()

	out := s.srv.pipeline.Complete(s.ctx, c)

	if err := s.writeJSON(resultMessage{
		Type:      msgResult,
		AttemptID: out.AttemptID,
		Stars:     out.OptimisticStars,
		Won:       won,
		Metrics:   m,
	}); err != nil {
		s.log.Debug("optimistic result not delivered", "error", err)
	}

	fin := <-out.Final
	if fin.Err != nil {
		s.log.Warn("attempt settlement failed",
			"attempt_id", out.AttemptID,
			"queued", fin.Queued,
			"error", fin.Err,
		)
	}

	final := finalMessage{
		Type:      msgFinal,
		AttemptID: out.AttemptID,
		Queued:    fin.Queued,
	}
	if fin.Queued || fin.Err != nil {
		final.Stars = out.OptimisticStars
	} else {
		final.Stars = fin.Attempt.Stars
		final.XPEarned = fin.Attempt.XPEarned
		final.Feedback = fin.Attempt.Feedback
		final.TotalXP = fin.Progress.TotalXP
		final.CurrentTier = fin.Progress.CurrentTier
		if fin.Next != nil {
			final.NextLevelID = fin.Next.ID
		}
	}
	if err := s.writeJSON(final); err != nil {
		s.log.Debug("final result not delivered", "attempt_id", out.AttemptID, "error", err)
	}
}

func (s *session) sendError(err error) {
	s.log.Debug("session error", "error", err)
	if werr := s.writeJSON(errorMessage{Type: msgError, Error: err.Error()}); werr != nil {
		s.log.Debug("error not delivered", "error", werr)
	}
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal %T: %w", v, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write: %w", err)
	}
	return nil
}
