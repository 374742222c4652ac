package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluentkids/phonotrail/internal/analysis"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Analysis
	if cfg.Analysis.BaseURL == "" {
		slog.Warn("analysis.base_url is empty; attempts will settle through the offline queue only")
	}
	if cfg.Analysis.Timeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout %s must not be negative", cfg.Analysis.Timeout))
	}
	if cfg.Analysis.MaxUploadAttempts < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_upload_attempts %d must not be negative", cfg.Analysis.MaxUploadAttempts))
	}
	if p := cfg.Analysis.PhonemePenalty; p != 0 && (p <= 0 || p > 1) {
		errs = append(errs, fmt.Errorf("analysis.phoneme_penalty %.2f is out of range (0, 1]", p))
	}
	if cfg.Analysis.StrictPhoneme && cfg.Analysis.PhonemePenalty == 0 {
		slog.Warn("analysis.strict_phoneme is set without phoneme_penalty; defaulting to 0.5")
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; progress will not survive restarts")
	}
	if cfg.Storage.QueuePath == "" {
		slog.Warn("storage.queue_path is empty; failed uploads will be dropped instead of queued")
	}

	// Game
	if a := cfg.Game.AmplitudeThreshold; a < 0 || a >= 1 {
		errs = append(errs, fmt.Errorf("game.amplitude_threshold %.2f is out of range [0, 1)", a))
	}
	if m := cfg.Game.TimeoutMultiplier; m != 0 && m < 1 {
		errs = append(errs, fmt.Errorf("game.timeout_multiplier %.2f must be at least 1", m))
	}
	if m := cfg.Game.MaxSpeedMultiplier; m != 0 && m < 1 {
		errs = append(errs, fmt.Errorf("game.max_speed_multiplier %.2f must be at least 1", m))
	}
	if r := cfg.Game.TickRate; r != 0 && (r < 1 || r > 240) {
		errs = append(errs, fmt.Errorf("game.tick_rate %d is out of range [1, 240]", r))
	}

	// Progression
	if ex := cfg.Progression.Exercise; ex != "" && !analysis.Exercise(ex).IsValid() {
		errs = append(errs, fmt.Errorf("progression.exercise %q is invalid; valid values: snake, turtle, balloon, onetap", ex))
	}

	return errors.Join(errs...)
}
