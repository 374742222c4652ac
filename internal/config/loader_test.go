package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
analysis:
  base_url: "http://analysis:5000"
  timeout: 10s
  max_upload_attempts: 3
  retry_backoff: 2s
  strict_phoneme: true
  phoneme_penalty: 0.5
storage:
  postgres_dsn: "postgres://localhost:5432/phonotrail?sslmode=disable"
  queue_path: "/var/lib/phonotrail/queue.db"
game:
  amplitude_threshold: 0.1
  silence_grace: 0.1
  sleep_overlay_delay: 2.0
  timeout_multiplier: 2.0
  max_speed_multiplier: 3.0
  tick_rate: 60
progression:
  exercise: snake
  fallback_level_id: w-sss
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Analysis.Timeout != 10*time.Second || cfg.Analysis.RetryBackoff != 2*time.Second {
		t.Errorf("analysis timings = %v / %v", cfg.Analysis.Timeout, cfg.Analysis.RetryBackoff)
	}
	if cfg.Game.TickRate != 60 {
		t.Errorf("TickRate = %d", cfg.Game.TickRate)
	}
	if cfg.Progression.Exercise != "snake" {
		t.Errorf("Exercise = %q", cfg.Progression.Exercise)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listne_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("typo in field name should fail decoding")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"tls missing key", func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} }},
		{"negative timeout", func(c *Config) { c.Analysis.Timeout = -time.Second }},
		{"penalty above one", func(c *Config) { c.Analysis.PhonemePenalty = 1.5 }},
		{"amplitude threshold out of range", func(c *Config) { c.Game.AmplitudeThreshold = 1.0 }},
		{"timeout multiplier below one", func(c *Config) { c.Game.TimeoutMultiplier = 0.5 }},
		{"tick rate out of range", func(c *Config) { c.Game.TickRate = 1000 }},
		{"unknown exercise", func(c *Config) { c.Progression.Exercise = "rocket" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("base config invalid: %v", err)
			}
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestValidate_ZeroValuesAccepted(t *testing.T) {
	// An empty config only warns; defaults cover everything.
	if err := Validate(&Config{}); err != nil {
		t.Errorf("Validate(zero) = %v, want nil", err)
	}
}

func TestGameConfig_TunablesDefaults(t *testing.T) {
	tun := GameConfig{}.Tunables()
	if tun.AmplitudeThreshold != 0.1 {
		t.Errorf("AmplitudeThreshold = %v, want default 0.1", tun.AmplitudeThreshold)
	}
	if tun.TimeoutMultiplier != 2.0 {
		t.Errorf("TimeoutMultiplier = %v, want default 2.0", tun.TimeoutMultiplier)
	}

	tun = GameConfig{AmplitudeThreshold: 0.2, MaxSpeedMultiplier: 4}.Tunables()
	if tun.AmplitudeThreshold != 0.2 || tun.MaxSpeedMultiplier != 4 {
		t.Errorf("overrides not applied: %+v", tun)
	}
	if tun.SilenceGrace != 0.1 {
		t.Errorf("SilenceGrace = %v, untouched fields must keep defaults", tun.SilenceGrace)
	}
}

func TestGameConfig_TickInterval(t *testing.T) {
	if got := (GameConfig{}).TickInterval(); got != time.Second/60 {
		t.Errorf("default TickInterval = %v, want %v", got, time.Second/60)
	}
	if got := (GameConfig{TickRate: 30}).TickInterval(); got != time.Second/30 {
		t.Errorf("TickInterval(30) = %v, want %v", got, time.Second/30)
	}
}
