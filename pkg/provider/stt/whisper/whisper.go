// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It connects to a running whisper-server binary (which exposes a REST API at
// POST /inference). whisper.cpp is a batch engine, so each session buffers the
// player's recording and submits it as one WAV upload when the session is
// closed.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcm)
//	handle.Close()
//	transcript := <-handle.Finals()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// defaultConfidence is reported when the server returns no per-segment
	// log probabilities.
	defaultConfidence = 0.9
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the default PCM sample rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithDefaultConfidence sets the confidence reported when the server does
// not return segment log probabilities.
func WithDefaultConfidence(c float64) Option {
	return func(p *Provider) {
		p.defaultConfidence = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL         string
	model             string
	language          string
	sampleRate        int
	defaultConfidence float64
	httpClient        *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:         strings.TrimRight(serverURL, "/"),
		language:          defaultLanguage,
		sampleRate:        defaultSampleRate,
		defaultConfidence: defaultConfidence,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a buffered session. No network connection is made until
// the session is closed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	req := inferRequest{
		language: cfg.Language,
		format:   audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
	}
	if req.language == "" {
		req.language = p.language
	}
	if req.format.SampleRate <= 0 {
		req.format.SampleRate = p.sampleRate
	}
	if req.format.Channels <= 0 {
		req.format.Channels = 1
	}
	for _, kw := range cfg.Keywords {
		req.prompt = append(req.prompt, kw.Keyword)
	}

	return stt.NewBatchSession(ctx, func(ctx context.Context, pcm []byte) (stt.Transcript, error) {
		return p.infer(ctx, req, pcm)
	}), nil
}

type inferRequest struct {
	language string
	format   audio.Format
	prompt   []string
}

// inferResponse is the verbose_json body returned by whisper-server. Older
// servers return only "text".
type inferResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// infer encodes pcm as WAV and POSTs it to /inference as multipart/form-data.
func (p *Provider) infer(ctx context.Context, r inferRequest, pcm []byte) (stt.Transcript, error) {
	wav := audio.EncodeWAV(audio.PCM{Data: pcm, Format: r.format})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        r.language,
		"model":           p.model,
		"prompt":          strings.Join(r.prompt, ", "),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var result inferResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	conf := p.defaultConfidence
	if len(result.Segments) > 0 {
		var sum float64
		for _, s := range result.Segments {
			sum += s.AvgLogprob
		}
		conf = math.Exp(sum / float64(len(result.Segments)))
	}

	return stt.Transcript{
		Text:       strings.TrimSpace(result.Text),
		Confidence: conf,
		Duration:   r.format.Duration(len(pcm)),
	}, nil
}
