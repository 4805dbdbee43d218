// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint.
//
// The endpoint is clip-based, so each session buffers the recording and
// uploads it as a single WAV file when the session is closed.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelGPT4oMiniTranscribe

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// fallbackConfidence is reported when the model returns no token log
	// probabilities (whisper-1 does not).
	fallbackConfidence = 0.9
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      oai.AudioModel
	language   string
	sampleRate int
}

type config struct {
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
	timeout    time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the transcription model (e.g., "whisper-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 language hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithTimeout sets a per-request HTTP timeout. Ignored when WithHTTPClient
// is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI transcription Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{language: defaultLanguage}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	model := oai.AudioModel(cfg.model)
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		language:   cfg.language,
		sampleRate: defaultSampleRate,
	}, nil
}

// StartStream opens a buffered session. Nothing is sent until Close.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = p.sampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	// Only the primary subtag is accepted by the API.
	lang, _, _ = strings.Cut(lang, "-")

	terms := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		terms = append(terms, kw.Keyword)
	}
	prompt := strings.Join(terms, ", ")

	return stt.NewBatchSession(ctx, func(ctx context.Context, pcm []byte) (stt.Transcript, error) {
		return p.transcribe(ctx, pcm, f, lang, prompt)
	}), nil
}

func (p *Provider) transcribe(ctx context.Context, pcm []byte, f audio.Format, lang, prompt string) (stt.Transcript, error) {
	wav := audio.EncodeWAV(audio.PCM{Data: pcm, Format: f})

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if prompt != "" {
		params.Prompt = oai.String(prompt)
	}
	if p.model != oai.AudioModelWhisper1 {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	conf := fallbackConfidence
	if n := len(resp.Logprobs); n > 0 {
		var sum float64
		for _, lp := range resp.Logprobs {
			sum += lp.Logprob
		}
		conf = math.Exp(sum / float64(n))
	}
	return stt.Transcript{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: conf,
		Duration:   f.Duration(len(pcm)),
	}, nil
}
