package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	"github.com/coder/websocket"
)

// ---- URL and settings ----

func TestBuildURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithEndpoint("wss://example.test/v1/text-to-speech/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw := p.buildURL(tts.VoiceProfile{ID: "voice-abc", Language: "en-US"})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/v1/text-to-speech/voice-abc/stream-input" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("model_id") != defaultModel || q.Get("output_format") != "pcm_16000" || q.Get("language_code") != "en" {
		t.Errorf("query = %v", q)
	}
}

func TestSettingsFor_ClampsSpeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		speed float64
		want  float64
	}{
		{speed: 0, want: 0},
		{speed: 0.55, want: 0.7},
		{speed: 1.0, want: 1.0},
		{speed: 2.0, want: 1.2},
	}
	for _, tt := range tests {
		got := settingsFor(tts.VoiceProfile{SpeedFactor: tt.speed}).Speed
		if got != tt.want {
			t.Errorf("speed %v: got %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	f, err := parseOutputFormat("pcm_24000")
	if err != nil || f != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Fatalf("pcm_24000 = %v, %v", f, err)
	}
	for _, bad := range []string{"mp3_44100_128", "pcm_", "pcm_x"} {
		if _, err := parseOutputFormat(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("New should reject non-PCM output formats")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- Synthesize ----

// fakeStream records the client's messages and answers the flush with two
// audio chunks followed by a final marker.
type fakeStream struct {
	mu       sync.Mutex
	messages []map[string]any
	replies  []string
}

func (f *fakeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		f.mu.Lock()
		f.messages = append(f.messages, m)
		f.mu.Unlock()
		if m["text"] == "" {
			break
		}
	}
	for _, reply := range f.replies {
		if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
			return
		}
	}
	// Keep the connection open until the client hangs up.
	_, _, _ = conn.Read(ctx)
}

func audioMsg(b []byte) string {
	return fmt.Sprintf(`{"audio":%q,"isFinal":false}`, base64.StdEncoding.EncodeToString(b))
}

func TestSynthesize_CollectsUntilFinal(t *testing.T) {
	t.Parallel()

	fake := &fakeStream{replies: []string{
		audioMsg([]byte{1, 2, 3, 4}),
		audioMsg([]byte{5, 6}),
		`{"isFinal":true}`,
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sp, err := p.Synthesize(ctx, "banana", tts.VoiceProfile{ID: "v1", SpeedFactor: 0.55})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(sp.PCM) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("PCM = %v", sp.PCM)
	}
	if sp.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("Format = %v", sp.Format)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.messages) != 3 {
		t.Fatalf("server saw %d messages, want 3", len(fake.messages))
	}
	if fake.messages[0]["xi_api_key"] != "xi-key" {
		t.Errorf("BOI = %v", fake.messages[0])
	}
	vs, _ := fake.messages[0]["voice_settings"].(map[string]any)
	if vs["speed"] != 0.7 {
		t.Errorf("voice_settings = %v", vs)
	}
	if fake.messages[1]["text"] != "banana " {
		t.Errorf("text message = %v", fake.messages[1])
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	fake := &fakeStream{replies: []string{`{"error":"quota_exceeded","message":"out of credits"}`}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.Synthesize(context.Background(), "tiger", tts.VoiceProfile{ID: "v1"})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Fatalf("err = %v, want quota error", err)
	}
}

func TestSynthesize_InvalidInput(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "cat", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
	if _, err := p.Synthesize(context.Background(), "  ", tts.VoiceProfile{ID: "v"}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american","language":"en"}},
			{"voice_id":"v2","name":"Clyde","labels":{}}
		]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithVoicesURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	v := voices[0]
	if v.ID != "v1" || v.Name != "Rachel" || v.Provider != "elevenlabs" || v.Language != "en" {
		t.Errorf("voice = %+v", v)
	}
	if v.Metadata["category"] != "premade" || v.Metadata["accent"] != "american" {
		t.Errorf("metadata = %v", v.Metadata)
	}

	bad, _ := New("wrong", WithVoicesURL(srv.URL))
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Error("expected error on 403")
	}
}
