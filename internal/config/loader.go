package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultSessionTTL     = 30 * time.Minute
	DefaultMaxUploadBytes = 8 << 20
	DefaultGatewayTimeout = 10 * time.Second

	DefaultAdvanceDelay           = 2500 * time.Millisecond
	DefaultLevelAdvanceDelay      = 2500 * time.Millisecond
	DefaultTimeAttackSuccessDelay = 400 * time.Millisecond
	DefaultTimeAttackFailDelay    = 800 * time.Millisecond
	DefaultTimeBudget             = 60
	DefaultTimeBonus              = 2

	DefaultHintSpeed    = 0.55
	DefaultHintLanguage = "en-US"
	DefaultHintTimeout  = 8 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "openai", "mock"},
	"tts": {"elevenlabs", "openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.SessionTTL == 0 {
		s.SessionTTL = DefaultSessionTTL
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = GatewayProvider
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = DefaultGatewayTimeout
	}

	g := &cfg.Game
	if g.AdvanceDelay == 0 {
		g.AdvanceDelay = DefaultAdvanceDelay
	}
	if g.LevelAdvanceDelay == 0 {
		g.LevelAdvanceDelay = DefaultLevelAdvanceDelay
	}
	if g.TimeAttackSuccessDelay == 0 {
		g.TimeAttackSuccessDelay = DefaultTimeAttackSuccessDelay
	}
	if g.TimeAttackFailDelay == 0 {
		g.TimeAttackFailDelay = DefaultTimeAttackFailDelay
	}
	if g.TimeBudget == 0 {
		g.TimeBudget = DefaultTimeBudget
	}
	if g.TimeBonus == 0 {
		g.TimeBonus = DefaultTimeBonus
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = LedgerMemory
	}

	h := &cfg.Hint
	if h.Speed == 0 {
		h.Speed = DefaultHintSpeed
	}
	if h.Language == "" {
		h.Language = DefaultHintLanguage
	}
	if h.Timeout == 0 {
		h.Timeout = DefaultHintTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl %s must not be negative", cfg.Server.SessionTTL))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Fallbacks.STT {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("fallbacks.stt[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Fallbacks.TTS {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("fallbacks.tts[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	if cfg.Fallbacks.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.max_failures %d must not be negative", cfg.Fallbacks.MaxFailures))
	}

	// Gateway ↔ provider cross-validation
	switch cfg.Gateway.Mode {
	case GatewayProvider:
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("gateway.mode \"provider\" requires providers.stt"))
		}
	case GatewayRemote:
		if cfg.Gateway.RemoteURL == "" {
			errs = append(errs, errors.New("gateway.remote_url is required when gateway.mode is remote"))
		}
		if cfg.Providers.STT.Name != "" {
			slog.Warn("providers.stt is ignored when gateway.mode is remote", "stt", cfg.Providers.STT.Name)
		}
	default:
		errs = append(errs, fmt.Errorf("gateway.mode %q is invalid; valid values: provider, remote", cfg.Gateway.Mode))
	}
	if cfg.Gateway.Timeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout %s must not be negative", cfg.Gateway.Timeout))
	}

	// Game
	g := cfg.Game
	for name, d := range map[string]time.Duration{
		"advance_delay":             g.AdvanceDelay,
		"level_advance_delay":       g.LevelAdvanceDelay,
		"retry_delay":               g.RetryDelay,
		"time_attack_success_delay": g.TimeAttackSuccessDelay,
		"time_attack_fail_delay":    g.TimeAttackFailDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("game.%s %s must not be negative", name, d))
		}
	}
	if g.TimeBudget < 0 {
		errs = append(errs, fmt.Errorf("game.time_budget %d must not be negative", g.TimeBudget))
	}
	if g.TimeBonus < 0 {
		errs = append(errs, fmt.Errorf("game.time_bonus %d must not be negative", g.TimeBonus))
	}
	for i, msg := range g.Encouragements {
		if msg == "" {
			errs = append(errs, fmt.Errorf("game.encouragements[%d] is empty", i))
		}
	}

	// Ledger
	switch cfg.Ledger.Backend {
	case "", LedgerMemory:
	case LedgerFile:
		if cfg.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path is required when ledger.backend is file"))
		}
	case LedgerPostgres:
		if cfg.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn is required when ledger.backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend %q is invalid; valid values: memory, file, postgres", cfg.Ledger.Backend))
	}

	// Hint
	if cfg.Hint.Speed < 0 || cfg.Hint.Speed > 2 {
		errs = append(errs, fmt.Errorf("hint.speed %.2f is out of range (0, 2]", cfg.Hint.Speed))
	}
	if cfg.Providers.TTS.Name == "" && cfg.Hint.VoiceID != "" {
		slog.Warn("hint.voice_id is set but providers.tts is not configured; hints are disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
