package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/vocalis/internal/gateway"
	"github.com/MrWong99/vocalis/internal/hint"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/session"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	ttsmock "github.com/MrWong99/vocalis/pkg/provider/tts/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// firstRand always draws the first pool item.
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

// fakeGateway rejects undecodable audio and otherwise echoes the expected
// word unless a reply is queued.
type fakeGateway struct {
	mu      sync.Mutex
	replies []gateway.Result
	errs    []error
	creds   []string
}

func (g *fakeGateway) queue(r gateway.Result, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, r)
	g.errs = append(g.errs, err)
}

func (g *fakeGateway) Transcribe(_ context.Context, req gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = append(g.creds, req.Credential)
	if _, err := audio.DecodeTo(req.Audio, audio.SpeechFormat); err != nil {
		return gateway.Result{}, fmt.Errorf("%w: %w", gateway.ErrBadAudio, err)
	}
	if len(g.replies) == 0 {
		return gateway.Result{Transcript: req.Expected, Confidence: 1}, nil
	}
	r, err := g.replies[0], g.errs[0]
	g.replies, g.errs = g.replies[1:], g.errs[1:]
	return r, err
}

func (g *fakeGateway) credentials() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.creds...)
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

var hintPCM = bytes.Repeat([]byte{1, 0}, 800)

type fixture struct {
	srv    *Server
	http   *httptest.Server
	gw     *fakeGateway
	led    *ledger.MemLedger
	voices *ttsmock.Provider
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		gw:  &fakeGateway{},
		led: ledger.NewMemLedger(),
		voices: &ttsmock.Provider{Speech: tts.Speech{
			PCM:    hintPCM,
			Format: audio.SpeechFormat,
		}},
	}
	speaker, err := hint.New(f.voices, hint.WithMetrics(m))
	if err != nil {
		t.Fatalf("hint.New: %v", err)
	}

	factory := func(_ context.Context, req SessionRequest) (*session.Engine, error) {
		opts := []session.Option{
			session.WithDelays(session.NoDelays()),
			session.WithTickInterval(0),
			session.WithRand(firstRand{}),
			session.WithMetrics(m),
		}
		if req.Level > 0 {
			opts = append(opts, session.WithStartLevel(req.Level))
		}
		return session.New(session.Config{
			Mode:       req.Mode,
			Gateway:    f.gw,
			Ledger:     f.led,
			Hint:       speaker,
			Credential: req.Credential,
		}, opts...)
	}

	f.srv, err = New(factory, f.led, append([]Option{WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.http.Close()
		f.srv.Sessions().CloseAll()
	})
	return f
}

// do sends a request with an optional bearer token and decodes a JSON reply
// into out when out is non-nil.
func (f *fixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp
}

func (f *fixture) create(t *testing.T, mode, token string) sessionResponse {
	t.Helper()
	var out sessionResponse
	resp := f.do(t, http.MethodPost, "/api/sessions", token, bytes.NewBufferString(`{"mode":"`+mode+`"}`), "application/json", &out)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	return out
}

// upload builds a multipart attempt body.
func upload(t *testing.T, format string, data []byte) (io.Reader, string) {
	t.Helper()
	return uploadFields(t, map[string]string{"format": format}, data)
}

// uploadFields builds a multipart attempt body with arbitrary form fields.
// Empty values are left out.
func uploadFields(t *testing.T, fields map[string]string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if data != nil {
		fw, err := mw.CreateFormFile("audioBlob", "recording")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func wavBytes() []byte {
	return audio.EncodeWAV(audio.PCM{Data: make([]byte, 3200), Format: audio.SpeechFormat})
}

func (f *fixture) attempt(t *testing.T, id, token string) (*http.Response, attemptResponse) {
	t.Helper()
	body, ct := upload(t, "wav", wavBytes())
	var out attemptResponse
	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/attempts", token, body, ct, &out)
	return resp, out
}
