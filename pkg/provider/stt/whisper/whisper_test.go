package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields seen by the mock server.
type capturedRequest struct {
	fields map[string]string
	wav    []byte
}

// newMockServer creates a test server that answers POST /inference with body.
// Every request's form is stored in *got.
func newMockServer(t *testing.T, body any, calls *atomic.Int32, got *capturedRequest) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			mu.Lock()
			got.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				got.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				got.wav, _ = io.ReadAll(f)
				f.Close()
			}
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(h stt.SessionHandle) []stt.Transcript {
	var out []stt.Transcript
	for tr := range h.Finals() {
		out = append(out, tr)
	}
	return out
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestStartStream_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestClose_SubmitsBufferedClip(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var got capturedRequest
	srv := newMockServer(t, map[string]string{"text": " cat "}, &calls, &got)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Keywords:   []stt.KeywordBoost{{Keyword: "CAT", Boost: 2}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	chunk := make([]byte, 320)
	for range 3 {
		if err := h.SendAudio(chunk); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if calls.Load() != 0 {
		t.Fatal("audio must not be submitted before Close")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	finals := collect(h)
	if len(finals) != 1 {
		t.Fatalf("got %d finals, want 1", len(finals))
	}
	if finals[0].Text != "cat" {
		t.Errorf("Text = %q, want %q", finals[0].Text, "cat")
	}
	if finals[0].Confidence != 0.9 {
		t.Errorf("Confidence = %v, want default 0.9", finals[0].Confidence)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	if got.fields["prompt"] != "CAT" || got.fields["model"] != "base.en" || got.fields["language"] != "en" {
		t.Errorf("fields = %v", got.fields)
	}
	pcm, err := audio.DecodeWAV(got.wav)
	if err != nil {
		t.Fatalf("uploaded file is not WAV: %v", err)
	}
	if len(pcm.Data) != 960 || pcm.Format != audio.SpeechFormat {
		t.Errorf("uploaded %d bytes in %v", len(pcm.Data), pcm.Format)
	}
}

func TestClose_SegmentConfidence(t *testing.T) {
	t.Parallel()

	body := map[string]any{
		"text": "banana",
		"segments": []map[string]any{
			{"text": "ba", "avg_logprob": -0.1},
			{"text": "nana", "avg_logprob": -0.3},
		},
	}
	srv := newMockServer(t, body, nil, nil)
	p, _ := whisper.New(srv.URL)
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(make([]byte, 64))
	_ = h.Close()

	finals := collect(h)
	if len(finals) != 1 {
		t.Fatalf("got %d finals, want 1", len(finals))
	}
	want := math.Exp(-0.2)
	if math.Abs(finals[0].Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", finals[0].Confidence, want)
	}
}

func TestClose_EmptyClipSkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, map[string]string{"text": "x"}, &calls, nil)
	p, _ := whisper.New(srv.URL)
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(collect(h)) != 0 || calls.Load() != 0 {
		t.Fatal("empty session must not call the server")
	}
}

func TestClose_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(make([]byte, 64))
	if err := h.Close(); err == nil {
		t.Fatal("expected error from Close")
	}
	if len(collect(h)) != 0 {
		t.Fatal("no transcript expected on server error")
	}
	// Close is idempotent and keeps reporting the failure.
	if err := h.Close(); err == nil {
		t.Fatal("second Close should report the same error")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://localhost:1")
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.Close()
	if err := h.SendAudio([]byte{0, 0}); !errors.Is(err, stt.ErrSessionClosed) {
		t.Fatalf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}
