package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/coder/websocket"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("nova-2"), WithLanguage("en-GB"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	q := mustQuery(t, rawURL)
	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "en-GB", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithLanguage("en"))
	rawURL, err := p.buildURL(stt.StreamConfig{Language: "en-US", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	assertEqual(t, "language", "en-US", mustQuery(t, rawURL).Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()

	cfg := stt.StreamConfig{
		SampleRate: 16000,
		Keywords:   []stt.KeywordBoost{{Keyword: "BANANA", Boost: 5}, {Keyword: "TIGER", Boost: 3.5}},
	}

	nova3, _ := New("key")
	rawURL, _ := nova3.buildURL(cfg)
	q := mustQuery(t, rawURL)
	if got := q["keyterm"]; len(got) != 2 || got[0] != "BANANA" || got[1] != "TIGER" {
		t.Errorf("nova-3 keyterm = %v", got)
	}
	if _, ok := q["keywords"]; ok {
		t.Error("nova-3 must not use weighted keywords")
	}

	nova2, _ := New("key", WithModel("nova-2"))
	rawURL, _ = nova2.buildURL(cfg)
	q = mustQuery(t, rawURL)
	found := map[string]bool{}
	for _, kw := range q["keywords"] {
		found[kw] = true
	}
	if !found["BANANA:5"] || !found["TIGER:3.5"] {
		t.Errorf("keywords = %v", q["keywords"])
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"duration": 1.5,
		"channel": {
			"alternatives": [{
				"transcript": "the cat",
				"confidence": 0.95,
				"words": [
					{"word": "the", "start": 0.1, "end": 0.3, "confidence": 0.97},
					{"word": "cat", "start": 0.4, "end": 0.8, "confidence": 0.93}
				]
			}]
		}
	}`)

	tr, final, ok := parseDeepgramResponse(raw)
	if !ok || !final {
		t.Fatalf("ok=%v final=%v, want both true", ok, final)
	}
	assertEqual(t, "text", "the cat", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if len(tr.Words) != 2 || tr.Words[1].Word != "cat" {
		t.Fatalf("words = %+v", tr.Words)
	}
	if tr.Words[0].Start != time.Duration(0.1*float64(time.Second)) {
		t.Errorf("unexpected start: %v", tr.Words[0].Start)
	}
	if tr.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", tr.Duration)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range tests {
		if _, _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- Streaming tests ----

// fakeDeepgram accepts one stream, counts audio bytes until CloseStream and
// then replies with the given messages before closing.
type fakeDeepgram struct {
	mu         sync.Mutex
	authHeader string
	query      url.Values
	audioBytes int
	replies    []string
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authHeader = r.Header.Get("Authorization")
	f.query = r.URL.Query()
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			f.mu.Lock()
			f.audioBytes += len(msg)
			f.mu.Unlock()
			continue
		}
		if strings.Contains(string(msg), "CloseStream") {
			break
		}
	}
	for _, reply := range f.replies {
		if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()

	fake := &fakeDeepgram{replies: []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"ca","confidence":0.4}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"cat","confidence":0.92}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
		`{"type":"Metadata"}`,
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1, Keywords: []stt.KeywordBoost{{Keyword: "CAT"}}})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	for range 4 {
		if err := h.SendAudio(make([]byte, 640)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var finals []stt.Transcript
	for tr := range h.Finals() {
		finals = append(finals, tr)
	}
	if len(finals) != 1 || finals[0].Text != "cat" || finals[0].Confidence != 0.92 {
		t.Fatalf("finals = %+v, want one 'cat' result", finals)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assertEqual(t, "auth", "Token secret", fake.authHeader)
	assertEqual(t, "keyterm", "CAT", fake.query.Get("keyterm"))
	if fake.audioBytes != 2560 {
		t.Errorf("server received %d audio bytes, want 2560", fake.audioBytes)
	}

	if err := h.SendAudio([]byte{0}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ---- helpers ----

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	return u.Query()
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
