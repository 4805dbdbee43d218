package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const maxRemoteBody = 1 << 20

// RemoteOption configures a [Remote] gateway.
type RemoteOption func(*Remote)

// WithRemoteTimeout bounds each request. Default: 10s.
func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		r.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Default: a client without its own
// timeout; requests are bounded by the gateway timeout instead.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

// WithRemoteLogger sets the logger. Default: slog.Default().
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) {
		r.log = l
	}
}

// Remote forwards attempts to a check-speech endpoint. The request is a
// multipart form with the recording in field "audioBlob" and the expected
// text in field "text"; the response follows Deepgram's prerecorded JSON
// layout.
type Remote struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

var _ Gateway = (*Remote)(nil)

// NewRemote returns a gateway posting to url.
func NewRemote(url string, opts ...RemoteOption) (*Remote, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("gateway: remote url must not be empty")
	}
	r := &Remote{
		url:     url,
		client:  &http.Client{},
		timeout: defaultTimeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// checkSpeechResponse is the subset of the Deepgram prerecorded response the
// endpoint returns.
type checkSpeechResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe uploads the sample as-is. Undecodable containers such as WebM
// are accepted since the endpoint does its own decoding.
func (r *Remote) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio.Data) == 0 {
		return Result{}, fmt.Errorf("%w: sample is empty", ErrBadAudio)
	}
	body, contentType, err := encodeForm(req)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: encode form: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: check-speech: %w", ErrUnavailable, ctx.Err())
		}
		return Result{}, fmt.Errorf("%w: check-speech: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, fmt.Errorf("%w: check-speech returned %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: check-speech returned %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out checkSpeechResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteBody)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode check-speech response: %w", ErrUnavailable, err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return Result{}, ErrEmptyTranscript
	}
	alt := out.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return Result{}, ErrEmptyTranscript
	}
	r.log.Debug("attempt transcribed remotely", "expected", req.Expected, "transcript", text, "confidence", alt.Confidence)
	return Result{Transcript: text, Confidence: clamp01(alt.Confidence)}, nil
}

func encodeForm(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audioBlob"; filename="speech%s"`, req.Audio.Encoding.Ext()))
	h.Set("Content-Type", req.Audio.Encoding.MIMEType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Audio.Data); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("text", req.Expected); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
