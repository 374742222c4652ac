package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fluentkids/phonotrail/internal/analysis"
	"github.com/fluentkids/phonotrail/internal/content"
	contentmock "github.com/fluentkids/phonotrail/internal/content/mock"
	"github.com/fluentkids/phonotrail/internal/game/driver"
	"github.com/fluentkids/phonotrail/internal/health"
	progressmock "github.com/fluentkids/phonotrail/internal/progress/mock"
	"github.com/fluentkids/phonotrail/internal/queue"
	"github.com/fluentkids/phonotrail/internal/reconcile"
)

// envelope is the superset of every server message shape, for test reads.
type envelope struct {
	Type              string  `json:"type"`
	Error             string  `json:"error"`
	ID                string  `json:"id"`
	Prompt            string  `json:"prompt"`
	TargetDuration    float64 `json:"target_duration"`
	Amplitude         float64 `json:"amplitude"`
	CompletionPercent float64 `json:"completion_percentage"`
	Won               bool    `json:"won"`
	AttemptID         string  `json:"attempt_id"`
	Stars             int     `json:"stars"`
	XPEarned          int     `json:"xp_earned"`
	TotalXP           int     `json:"total_xp"`
	CurrentTier       int     `json:"current_tier"`
	Feedback          string  `json:"feedback"`
	Queued            bool    `json:"queued"`
}

// fakeAnalyzer implements [analysis.Analyzer] with a programmable response.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	fn    func(analysis.Request) (analysis.Result, error)
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (analysis.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(req)
}

func passingResult() analysis.Result {
	return analysis.Result{
		GamePass:     true,
		ClinicalPass: true,
		Stars:        analysis.StarsPass,
		Confidence:   0.9,
		Feedback:     "Great job!",
	}
}

// testTicker is a hand-driven [driver.Ticker] sharing one channel across
// attempts so the test fully controls session time.
type testTicker struct{ c chan time.Time }

func (t *testTicker) C() <-chan time.Time { return t.c }
func (t *testTicker) Stop()               {}

type testEnv struct {
	srv      *httptest.Server
	store    *progressmock.Store
	analyzer *fakeAnalyzer
	ticks    chan time.Time
}

func newTestEnv(t *testing.T, az *fakeAnalyzer) *testEnv {
	t.Helper()

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	store := progressmock.New()
	pipeline := reconcile.New(
		reconcile.Config{MaxUploadAttempts: 1},
		az, store, q,
	)

	items := &contentmock.Store{}
	items.Add(content.Item{
		ID:            "w-sss",
		Text:          "sss",
		Phoneme:       "s",
		PhonemeCode:   "s",
		Tier:          1,
		Type:          content.TypeWord,
		SyllableCount: 1,
		Exercises:     []string{"snake"},
	})

	ticks := make(chan time.Time)
	s := New(Config{
		Content:  items,
		Pipeline: pipeline,
		Health:   health.New(),
		NewTicker: func(time.Duration) driver.Ticker {
			return &testTicker{c: ticks}
		},
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, analyzer: az, ticks: ticks}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/game"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// pumpTicks feeds virtual 50 ms frames to any running attempt until the test
// finishes.
func (e *testEnv) pumpTicks(t *testing.T) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		now := time.Unix(0, 0)
		for {
			now = now.Add(50 * time.Millisecond)
			select {
			case e.ticks <- now:
			case <-stop:
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// loudFrame is 100 ms of well-voiced 16 kHz PCM.
func loudFrame() []byte {
	const samples = 1600
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(16000)))
	}
	return buf
}

func sendAudio(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, loudFrame()); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return env
}

// readUntil discards messages (typically state snapshots) until one of the
// wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) envelope {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
		if env.Type == msgError {
			t.Fatalf("got error waiting for %q: %s", typ, env.Error)
		}
	}
	t.Fatalf("no %q message before deadline", typ)
	return envelope{}
}

func startMsg() clientMessage {
	return clientMessage{
		Type:       msgStart,
		UserID:     "u1",
		LevelID:    "w-sss",
		Exercise:   "snake",
		SampleRate: 16000,
		PathLength: 100,
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return passingResult(), nil
	}})

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestStartRejectsUnknownExercise(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return passingResult(), nil
	}})
	conn := env.dial(t)

	msg := startMsg()
	msg.Exercise = "juggling"
	sendJSON(t, conn, msg)

	got := readEnvelope(t, conn)
	if got.Type != msgError {
		t.Fatalf("message type = %q, want %q", got.Type, msgError)
	}
	if !strings.Contains(got.Error, "juggling") {
		t.Errorf("error = %q, want mention of the exercise", got.Error)
	}
}

func TestStartRejectsUnknownLevel(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return passingResult(), nil
	}})
	conn := env.dial(t)

	msg := startMsg()
	msg.LevelID = "nope"
	sendJSON(t, conn, msg)

	if got := readEnvelope(t, conn); got.Type != msgError {
		t.Fatalf("message type = %q, want %q", got.Type, msgError)
	}
}

func TestPauseBeforeStartErrors(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return passingResult(), nil
	}})
	conn := env.dial(t)

	sendJSON(t, conn, clientMessage{Type: msgPause})
	if got := readEnvelope(t, conn); got.Type != msgError {
		t.Fatalf("message type = %q, want %q", got.Type, msgError)
	}
}

func TestResetAllowsRestart(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return passingResult(), nil
	}})
	conn := env.dial(t)

	sendJSON(t, conn, startMsg())
	if lvl := readEnvelope(t, conn); lvl.Type != msgLevel {
		t.Fatalf("message type = %q, want %q", lvl.Type, msgLevel)
	}

	// A second start while the attempt is live must be refused.
	sendJSON(t, conn, startMsg())
	if got := readEnvelope(t, conn); got.Type != msgError {
		t.Fatalf("message type = %q, want %q", got.Type, msgError)
	}

	sendJSON(t, conn, clientMessage{Type: msgReset})
	sendJSON(t, conn, startMsg())
	if lvl := readUntil(t, conn, msgLevel); lvl.ID != "w-sss" {
		t.Errorf("level id = %q, want w-sss", lvl.ID)
	}
}

func TestAttemptWinsAndSettles(t *testing.T) {
	az := &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return passingResult(), nil
	}}
	env := newTestEnv(t, az)
	conn := env.dial(t)

	sendJSON(t, conn, startMsg())
	lvl := readUntil(t, conn, msgLevel)
	if lvl.TargetDuration != 2 {
		t.Fatalf("target duration = %v, want 2", lvl.TargetDuration)
	}

	sendAudio(t, conn)
	env.pumpTicks(t)

	res := readUntil(t, conn, msgResult)
	if !res.Won {
		t.Fatal("result reports a loss")
	}
	if res.Stars != 1 {
		t.Errorf("optimistic stars = %d, want 1", res.Stars)
	}
	if res.AttemptID == "" {
		t.Error("result has no attempt id")
	}

	fin := readUntil(t, conn, msgFinal)
	if fin.Queued {
		t.Fatal("attempt was queued, want settled")
	}
	if fin.Stars != analysis.StarsPass {
		t.Errorf("final stars = %d, want %d", fin.Stars, analysis.StarsPass)
	}
	if fin.XPEarned != 16 {
		t.Errorf("xp earned = %d, want 16", fin.XPEarned)
	}
	if fin.TotalXP != 16 {
		t.Errorf("total xp = %d, want 16", fin.TotalXP)
	}
	if fin.Feedback != "Great job!" {
		t.Errorf("feedback = %q, want the analyzer's", fin.Feedback)
	}

	atts := env.store.Attempts()
	if len(atts) != 1 {
		t.Fatalf("persisted attempts = %d, want 1", len(atts))
	}
	if atts[0].Exercise != "snake" {
		t.Errorf("attempt exercise = %q, want snake", atts[0].Exercise)
	}
}

func TestAttemptQueuedWhenAnalysisDown(t *testing.T) {
	az := &fakeAnalyzer{fn: func(analysis.Request) (analysis.Result, error) {
		return analysis.Result{}, errors.New("analysis service down")
	}}
	env := newTestEnv(t, az)
	conn := env.dial(t)

	sendJSON(t, conn, startMsg())
	readUntil(t, conn, msgLevel)
	sendAudio(t, conn)
	env.pumpTicks(t)

	res := readUntil(t, conn, msgResult)
	fin := readUntil(t, conn, msgFinal)
	if !fin.Queued {
		t.Fatal("attempt not queued, want queued")
	}
	if fin.Stars != res.Stars {
		t.Errorf("queued final stars = %d, want optimistic %d", fin.Stars, res.Stars)
	}
	if fin.XPEarned != 0 {
		t.Errorf("queued final xp = %d, want 0 until replay", fin.XPEarned)
	}
	if atts := env.store.Attempts(); len(atts) != 0 {
		t.Errorf("persisted attempts = %d, want 0 until replay", len(atts))
	}
}
