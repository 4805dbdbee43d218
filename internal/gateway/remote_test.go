package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// checkSpeech is a fake check-speech endpoint recording the last upload.
type checkSpeech struct {
	mu       sync.Mutex
	status   int
	reply    string
	auth     string
	text     string
	filename string
	mime     string
	audio    []byte
}

func (c *checkSpeech) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("audioBlob")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(f)
	f.Close()

	c.mu.Lock()
	c.auth = r.Header.Get("Authorization")
	c.text = r.FormValue("text")
	c.filename = hdr.Filename
	c.mime = hdr.Header.Get("Content-Type")
	c.audio = data
	status, reply := c.status, c.reply
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, reply)
}

func deepgramReply(transcript string, confidence string) string {
	return `{"metadata":{"request_id":"x"},"results":{"channels":[{"alternatives":[{"transcript":"` +
		transcript + `","confidence":` + confidence + `}]}]}}`
}

func TestRemote_Transcribe(t *testing.T) {
	t.Parallel()

	fake := &checkSpeech{reply: deepgramReply("tiger", "0.87")}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g, err := NewRemote(srv.URL + "/api/check-speech")
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	blob := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x01}
	res, err := g.Transcribe(context.Background(), Request{
		Audio:      audio.Sample{Encoding: audio.EncodingWebM, Data: blob},
		Expected:   "TIGER",
		Credential: "jwt-token",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcript != "tiger" || res.Confidence != 0.87 {
		t.Errorf("result = %+v", res)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	checks := []struct{ label, got, want string }{
		{"auth", fake.auth, "Bearer jwt-token"},
		{"text", fake.text, "TIGER"},
		{"filename", fake.filename, "speech.webm"},
		{"mime", fake.mime, "audio/webm"},
		{"audio", string(fake.audio), string(blob)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.label, c.got, c.want)
		}
	}
}

func TestRemote_NoCredential(t *testing.T) {
	t.Parallel()

	fake := &checkSpeech{reply: deepgramReply("sun", "2")}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g, _ := NewRemote(srv.URL)
	res, err := g.Transcribe(context.Background(), Request{Audio: wavSample(20 * time.Millisecond), Expected: "SUN"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", res.Confidence)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth != "" {
		t.Errorf("auth header = %q, want none", fake.auth)
	}
	if fake.filename != "speech.wav" {
		t.Errorf("filename = %q", fake.filename)
	}
}

func TestRemote_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		reply  string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid token"}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{}`, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, `oops`, ErrUnavailable},
		{"bad json", http.StatusOK, `{not json`, ErrUnavailable},
		{"no channels", http.StatusOK, `{"results":{"channels":[]}}`, ErrEmptyTranscript},
		{"empty transcript", http.StatusOK, deepgramReply("", "0"), ErrEmptyTranscript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(&checkSpeech{status: tt.status, reply: tt.reply})
			defer srv.Close()

			g, _ := NewRemote(srv.URL)
			_, err := g.Transcribe(context.Background(), Request{Audio: wavSample(20 * time.Millisecond), Expected: "CAT"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRemote_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g, _ := NewRemote(srv.URL, WithRemoteTimeout(30*time.Millisecond))
	_, err := g.Transcribe(context.Background(), Request{Audio: wavSample(20 * time.Millisecond)})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want unavailable deadline", err)
	}
}

func TestRemote_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewRemote(" "); err == nil {
		t.Error("expected error for empty url")
	}
	g, _ := NewRemote("http://127.0.0.1:1")
	if _, err := g.Transcribe(context.Background(), Request{}); !errors.Is(err, ErrBadAudio) {
		t.Errorf("err = %v, want ErrBadAudio", err)
	}
}
