package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrEmptyTranscript, "empty_transcript"},
		{fmt.Errorf("wrapped: %w", ErrUnauthorized), "unauthorized"},
		{fmt.Errorf("%w: webm", ErrBadAudio), "bad_audio"},
		{fmt.Errorf("%w: timed out", ErrUnavailable), "unavailable"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "unavailable"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var got Request
	g := Func(func(_ context.Context, req Request) (Result, error) {
		got = req
		return Result{Transcript: "CAT", Confidence: 1}, nil
	})
	res, err := g.Transcribe(context.Background(), Request{Expected: "CAT", Credential: "tok"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcript != "CAT" || got.Credential != "tok" {
		t.Errorf("res = %+v, req = %+v", res, got)
	}
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]float64{-0.5: 0, 0.4: 0.4, 1.7: 1} {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
