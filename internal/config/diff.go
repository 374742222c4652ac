package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// sets RequiresRestart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GameChanged is true when any loop tunable changed. Running sessions
	// keep their tunables; new sessions pick up the new values.
	GameChanged bool

	// AnalysisChanged is true when the retry schedule or the strict-phoneme
	// settings changed.
	AnalysisChanged bool

	// RequiresRestart is true when a non-reloadable field changed
	// (listen address, TLS, storage backends).
	RequiresRestart bool
}

// Changed reports whether the diff carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GameChanged || d.AnalysisChanged || d.RequiresRestart
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Game != new.Game {
		d.GameChanged = true
	}

	if old.Analysis.MaxUploadAttempts != new.Analysis.MaxUploadAttempts ||
		old.Analysis.RetryBackoff != new.Analysis.RetryBackoff ||
		old.Analysis.Timeout != new.Analysis.Timeout ||
		old.Analysis.StrictPhoneme != new.Analysis.StrictPhoneme ||
		old.Analysis.PhonemePenalty != new.Analysis.PhonemePenalty {
		d.AnalysisChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Analysis.BaseURL != new.Analysis.BaseURL ||
		old.Storage != new.Storage ||
		old.Progression != new.Progression {
		d.RequiresRestart = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
