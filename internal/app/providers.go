package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/vocalis/pkg/provider/stt/mock"
	sttopenai "github.com/MrWong99/vocalis/pkg/provider/stt/openai"
	"github.com/MrWong99/vocalis/pkg/provider/stt/whisper"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	"github.com/MrWong99/vocalis/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/MrWong99/vocalis/pkg/provider/tts/mock"
	ttsopenai "github.com/MrWong99/vocalis/pkg/provider/tts/openai"
)

// mockSpeechDuration is the length of the silent clip returned by the mock
// TTS provider.
const mockSpeechDuration = 500 * time.Millisecond

// RegisterBuiltinProviders wires every provider that ships with Vocalis into
// reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if c, ok := config.OptFloat(entry.Options, "default_confidence"); ok {
			opts = append(opts, whisper.WithDefaultConfidence(c))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, sttopenai.WithLanguage(entry.Language))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	// mock hears the configured transcript on every attempt. Useful for
	// local development without an STT account.
	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Provider, error) {
		conf, ok := config.OptFloat(entry.Options, "confidence")
		if !ok {
			conf = 1
		}
		return &sttmock.Provider{Finals: []stt.Transcript{{
			Text:       config.OptString(entry.Options, "transcript"),
			Confidence: conf,
		}}}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		f := audio.SpeechFormat
		return &ttsmock.Provider{Speech: tts.Speech{
			PCM:    make([]byte, int(float64(f.BytesPerSecond())*mockSpeechDuration.Seconds())),
			Format: f,
		}}, nil
	})

	for _, kind := range []string{"stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// canceled keeps caller cancellation from tripping breakers or failing over.
func canceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func fallbackConfig(cfg config.FallbacksConfig, m *observe.Metrics, log *slog.Logger) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerChange(name, to.String())
			},
			Logger: log,
		},
		Permanent: canceled,
		Logger:    log,
	}
}

// buildSTT creates the primary STT provider and, when fallbacks are
// configured, wraps it in a failover group.
func buildSTT(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (stt.Provider, error) {
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	log.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	if len(cfg.Fallbacks.STT) == 0 {
		return primary, nil
	}

	group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fallbackConfig(cfg.Fallbacks, m, log))
	for i, entry := range cfg.Fallbacks.STT {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("fallbacks.stt[%d]: %w", i, err)
		}
		group.AddFallback(entry.Name, p)
	}
	log.Info("stt failover enabled", "chain", group.Names())
	return group, nil
}

// buildTTS is [buildSTT] for speech synthesis. It returns nil when no TTS
// provider is configured.
func buildTTS(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (tts.Provider, error) {
	if cfg.Providers.TTS.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, err
	}
	log.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	if len(cfg.Fallbacks.TTS) == 0 {
		return primary, nil
	}

	group := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, fallbackConfig(cfg.Fallbacks, m, log))
	for i, entry := range cfg.Fallbacks.TTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("fallbacks.tts[%d]: %w", i, err)
		}
		group.AddFallback(entry.Name, p)
	}
	return group, nil
}
