// Package server exposes the game engine over a websocket. Each connection
// gets its own session: JSON control frames (start, pause, resume, reset)
// drive the attempt lifecycle, binary frames carry raw PCM audio, and the
// server streams state snapshots, the optimistic result, and the settled
// outcome back as JSON.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluentkids/phonotrail/internal/content"
	"github.com/fluentkids/phonotrail/internal/game"
	"github.com/fluentkids/phonotrail/internal/game/driver"
	"github.com/fluentkids/phonotrail/internal/health"
	"github.com/fluentkids/phonotrail/internal/observe"
	"github.com/fluentkids/phonotrail/internal/reconcile"
)

// readLimit bounds a single websocket frame. Audio frames are a few KiB;
// anything near the limit is a misbehaving client.
const readLimit = 1 << 20

// Config configures a [Server]. Content and Pipeline are required.
type Config struct {
	Content  content.Store
	Pipeline *reconcile.Pipeline

	// Health, when non-nil, has its endpoints registered on the server mux.
	Health *health.Handler

	// Metrics enables instrument recording. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Tunables and TickInterval configure every session's game loop. Zero
	// values select the package defaults.
	Tunables     game.Tunables
	TickInterval time.Duration

	// NewTicker overrides the tick source, letting tests drive sessions
	// with hand-crafted timestamps.
	NewTicker driver.TickerFactory
}

// Server is the websocket front end. Safe for concurrent use.
type Server struct {
	content  content.Store
	pipeline *reconcile.Pipeline
	metrics  *observe.Metrics

	mu           sync.RWMutex
	tunables     game.Tunables
	tickInterval time.Duration

	newTicker driver.TickerFactory

	handler http.Handler
}

// New creates a Server and builds its handler: the game endpoint at /game,
// Prometheus metrics at /metrics, and the health endpoints when configured.
func New(cfg Config) *Server {
	s := &Server{
		content:      cfg.Content,
		pipeline:     cfg.Pipeline,
		metrics:      cfg.Metrics,
		tunables:     cfg.Tunables,
		tickInterval: cfg.TickInterval,
		newTicker:    cfg.NewTicker,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/game", s.handleGame)
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// SetGameConfig swaps the game-loop tuning for sessions started from now on.
// Attempts already running keep the tuning they started with.
func (s *Server) SetGameConfig(t game.Tunables, tickInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunables = t
	s.tickInterval = tickInterval
}

func (s *Server) gameConfig() (game.Tunables, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tunables, s.tickInterval
}

// handleGame upgrades the request and services the session until the client
// goes away.
func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx := r.Context()
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	newSession(ctx, conn, s).run()
}
