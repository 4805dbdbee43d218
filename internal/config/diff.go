package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GameChanged is true if pacing, timer or encouragement settings differ.
	// New sessions pick the values up.
	GameChanged bool

	// HintChanged is true if the hint voice, speed, language or timeout
	// differ.
	HintChanged bool

	// CurriculumChanged is true if the curriculum path differs. The file
	// itself may also have changed under the same path; callers reload it on
	// every reload.
	CurriculumChanged bool

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether d contains any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GameChanged || d.HintChanged || d.CurriculumChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.GameChanged = !gameEqual(old.Game, new.Game)
	d.HintChanged = old.Hint != new.Hint
	d.CurriculumChanged = old.Curriculum != new.Curriculum

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.JWTSecret != new.Server.JWTSecret ||
		old.Server.MaxUploadBytes != new.Server.MaxUploadBytes ||
		old.Server.SessionTTL != new.Server.SessionTTL ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !entryEqual(old.Providers.STT, new.Providers.STT) || !entryEqual(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !fallbacksEqual(old.Fallbacks, new.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "fallbacks")
	}
	if old.Gateway != new.Gateway {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}
	if old.Ledger != new.Ledger {
		d.RestartRequired = append(d.RestartRequired, "ledger")
	}

	return d
}

func gameEqual(a, b GameConfig) bool {
	return a.AdvanceDelay == b.AdvanceDelay &&
		a.LevelAdvanceDelay == b.LevelAdvanceDelay &&
		a.RetryDelay == b.RetryDelay &&
		a.TimeAttackSuccessDelay == b.TimeAttackSuccessDelay &&
		a.TimeAttackFailDelay == b.TimeAttackFailDelay &&
		a.TimeBudget == b.TimeBudget &&
		a.TimeBonus == b.TimeBonus &&
		slices.Equal(a.Encouragements, b.Encouragements)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual compares the comparable fields of two entries. Options maps
// are compared by their string rendering of keys and scalar values.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Language != b.Language || len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !scalarEqual(v, w) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		// Nested values are treated as changed.
		return false
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}

func fallbacksEqual(a, b FallbacksConfig) bool {
	if a.MaxFailures != b.MaxFailures || a.ResetTimeout != b.ResetTimeout ||
		len(a.STT) != len(b.STT) || len(a.TTS) != len(b.TTS) {
		return false
	}
	for i := range a.STT {
		if !entryEqual(a.STT[i], b.STT[i]) {
			return false
		}
	}
	for i := range a.TTS {
		if !entryEqual(a.TTS[i], b.TTS[i]) {
			return false
		}
	}
	return true
}
