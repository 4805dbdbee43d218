package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/MrWong99/vocalis/internal/gateway"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/session"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/google/uuid"
)

// ErrSessionNotFound is reported for unknown or discarded session IDs.
var ErrSessionNotFound = errors.New("server: session not found")

// ErrBadRequest wraps malformed client input.
var ErrBadRequest = errors.New("server: bad request")

type createRequest struct {
	Mode string `json:"mode"`

	// Level picks the starting level of a progression session. Zero
	// starts at the first level.
	Level int `json:"level"`
}

type sessionResponse struct {
	ID       uuid.UUID        `json:"id"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type attemptResponse struct {
	session.Outcome
	Error string `json:"error,omitempty"`
}

type progressResponse struct {
	Records []ledger.MasteryRecord `json:"records"`
	Report  ledger.Report          `json:"report"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	switch {
	case req.Level < 0:
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: level %d", ErrBadRequest, req.Level))
		return
	case req.Level != 0 && mode != session.ModeProgression:
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: level applies to progression only", ErrBadRequest))
		return
	}

	id := uuid.New()
	e, err := s.newEngine(r.Context(), SessionRequest{ID: id, Mode: mode, Level: req.Level, Credential: bearer(r)})
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	if err := e.Start(r.Context()); err != nil {
		e.Close()
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.sessions.Add(id, e)

	observe.LoggerFrom(r.Context(), s.log).Info("session created", "session_id", id, "mode", mode)
	w.Header().Set("Location", "/api/sessions/"+id.String())
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, Snapshot: e.Snapshot()})
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request, id uuid.UUID, e *session.Engine) {
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: e.Snapshot()})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %q", ErrSessionNotFound, r.PathValue("id")))
		return
	}
	e, ok := s.sessions.Remove(id)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, id))
		return
	}
	e.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request, _ uuid.UUID, e *session.Engine) {
	sample, err := s.readSample(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, r, status, err)
		return
	}

	out, err := e.SubmitAttempt(r.Context(), sample)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	resp := attemptResponse{Outcome: out}
	if out.Err != nil {
		resp.Error = out.Snapshot.LastError
	}
	writeJSON(w, http.StatusOK, resp)
}

// readSample parses the multipart upload. The encoding comes from the
// "format" field or the part's Content-Type; "sample_rate" and "channels"
// describe raw PCM and Opus uploads.
func (s *Server) readSample(w http.ResponseWriter, r *http.Request) (audio.Sample, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return audio.Sample{}, fmt.Errorf("%w: parse upload: %w", ErrBadRequest, err)
	}
	file, hdr, err := r.FormFile("audioBlob")
	if err != nil {
		return audio.Sample{}, fmt.Errorf("%w: audioBlob: %w", ErrBadRequest, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return audio.Sample{}, fmt.Errorf("%w: read audioBlob: %w", ErrBadRequest, err)
	}

	format := r.FormValue("format")
	if format == "" {
		format = hdr.Header.Get("Content-Type")
		if format == "application/octet-stream" {
			format = ""
		}
	}
	enc, err := audio.ParseEncoding(format)
	if err != nil {
		return audio.Sample{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	f := audio.SpeechFormat
	if enc == audio.EncodingOpus {
		f.SampleRate = 48000
	}
	if v := r.FormValue("sample_rate"); v != "" {
		if f.SampleRate, err = strconv.Atoi(v); err != nil || f.SampleRate <= 0 {
			return audio.Sample{}, fmt.Errorf("%w: sample_rate %q", ErrBadRequest, v)
		}
	}
	if v := r.FormValue("channels"); v != "" {
		if f.Channels, err = strconv.Atoi(v); err != nil || f.Channels <= 0 {
			return audio.Sample{}, fmt.Errorf("%w: channels %q", ErrBadRequest, v)
		}
	}
	if err := f.Validate(); err != nil {
		return audio.Sample{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return audio.Sample{Encoding: enc, Data: data, Format: f}, nil
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request, id uuid.UUID, e *session.Engine) {
	snap, err := e.ManualAdvance(r.Context())
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: snap})
}

// hint answers with raw PCM as audio/L16, or a WAV file with ?format=wav.
func (s *Server) hint(w http.ResponseWriter, r *http.Request, _ uuid.UUID, e *session.Engine) {
	speech, err := e.RequestHint(r.Context())
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}

	body := speech.PCM
	if r.URL.Query().Get("format") == "wav" {
		body = audio.EncodeWAV(audio.PCM{Data: speech.PCM, Format: speech.Format})
		w.Header().Set("Content-Type", "audio/wav")
	} else {
		w.Header().Set("Content-Type", fmt.Sprintf("audio/L16; rate=%d; channels=%d",
			speech.Format.SampleRate, speech.Format.Channels))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request, _ uuid.UUID, e *session.Engine) {
	sum, err := e.TerminalSummary()
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	recs, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []ledger.MasteryRecord{}
	}
	writeJSON(w, http.StatusOK, progressResponse{Records: recs, Report: ledger.Summarize(recs)})
}

func (s *Server) clearProgress(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Clear(r.Context()); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	observe.LoggerFrom(r.Context(), s.log).Info("progress cleared", "player", PlayerFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps engine and gateway errors to HTTP status codes.
// statusClientClosedRequest is the non-standard status logged when the client
// disconnects before the response is written.
const statusClientClosedRequest = 499

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, session.ErrInvalidAttemptState),
		errors.Is(err, session.ErrNotTerminal),
		errors.Is(err, session.ErrHintUnavailable),
		errors.Is(err, session.ErrWrongMode):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrBadAudio),
		errors.Is(err, session.ErrInvalidStartLevel),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnauthorized), errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := observe.LoggerFrom(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Debug("request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
