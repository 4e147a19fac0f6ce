// Package httpapi exposes the synthesis pipeline over HTTP: the native
// /tts endpoint, the OpenAI-compatible /v1/audio/speech endpoint and
// the management API for voices, performance and history.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxalabs/voxa-server/internal/admission"
	"github.com/voxalabs/voxa-server/internal/audio"
	"github.com/voxalabs/voxa-server/internal/config"
	"github.com/voxalabs/voxa-server/internal/engine"
	"github.com/voxalabs/voxa-server/internal/history"
	"github.com/voxalabs/voxa-server/internal/perf"
	"github.com/voxalabs/voxa-server/internal/synth"
	"github.com/voxalabs/voxa-server/internal/voices"
)

// Server holds the handler dependencies. It does not own an
// http.Server; the runtime mounts it on a mux next to the health
// endpoints.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	pipeline *synth.Pipeline
	engine   engine.Engine
	voices   *voices.Library
	stats    *perf.RollingStats
	history  *history.Store
}

func New(
	cfg config.Config,
	pl *synth.Pipeline,
	eng engine.Engine,
	lib *voices.Library,
	stats *perf.RollingStats,
	hist *history.Store,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		log:      log.With(slog.String("component", "httpapi")),
		pipeline: pl,
		engine:   eng,
		voices:   lib,
		stats:    stats,
		history:  hist,
	}
}

// Register mounts every API route on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /v1/audio/speech", s.handleSpeech)
	mux.HandleFunc("GET /api/performance", s.handlePerformance)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("POST /api/voices/reference", s.handleVoiceUpload)
	mux.HandleFunc("GET /api/history", s.handleHistory)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Debug("encode response", slog.String("error", err.Error()))
	}
}

// writeError emits the JSON error envelope. Detail keys are flattened
// into the error object next to kind and message.
func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string, detail map[string]any) {
	body := map[string]any{
		"kind":    kind,
		"message": message,
	}
	for k, v := range detail {
		body[k] = v
	}
	s.writeJSON(w, status, map[string]any{"error": body})
}

// writeSubmitError maps pipeline failures onto the HTTP error taxonomy.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var chunkErr *synth.ChunkError
	var concatErr *audio.ConcatError
	switch {
	case errors.Is(err, synth.ErrEmptyText):
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, audio.ErrUnsupportedFormat):
		s.writeError(w, http.StatusBadRequest, "unsupported_format", err.Error(), nil)
	case errors.Is(err, voices.ErrVoiceNotFound):
		s.writeError(w, http.StatusNotFound, "voice_not_found", err.Error(), nil)
	case errors.Is(err, admission.ErrOverloaded):
		s.writeError(w, http.StatusServiceUnavailable, "overloaded", err.Error(), nil)
	case errors.As(err, &chunkErr):
		s.writeError(w, http.StatusInternalServerError, "synthesis_failed", err.Error(),
			map[string]any{"chunk_index": chunkErr.Index})
	case errors.As(err, &concatErr):
		s.writeError(w, http.StatusInternalServerError, "assembly_failed", err.Error(),
			map[string]any{"segment_lengths": concatErr.Lengths})
	case errors.Is(err, audio.ErrEmptyInput):
		s.writeError(w, http.StatusInternalServerError, "assembly_failed", err.Error(), nil)
	case errors.Is(err, audio.ErrOutputTooSmall):
		s.writeError(w, http.StatusInternalServerError, "encoding_failed", err.Error(), nil)
	default:
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

// submitAndStream runs the request through the pipeline and streams the
// encoded chunks to the client.
func (s *Server) submitAndStream(w http.ResponseWriter, r *http.Request, req synth.Request) {
	if !s.engine.Loaded() {
		s.writeError(w, http.StatusServiceUnavailable, "engine_not_ready", "synthesis engine is not loaded", nil)
		return
	}

	resp, err := s.pipeline.Submit(r.Context(), req)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.streamResponse(w, resp)
}

// streamResponse writes the chunk sequence with a flush after each
// chunk. Headers go out with the first chunk, so a stream that fails
// before producing anything still gets a proper error status. A write
// failure means the client went away; the loop stops and Close releases
// the permit.
func (s *Server) streamResponse(w http.ResponseWriter, resp *synth.Response) {
	defer resp.Close()

	flusher, _ := w.(http.Flusher)
	wrote := false
	for chunk := range resp.Stream.Chunks() {
		if !wrote {
			h := w.Header()
			h.Set("Content-Type", resp.Format.MediaType())
			h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=tts_output_%d.%s", time.Now().Unix(), resp.Format))
			h.Set("X-Request-ID", resp.RequestID)
			wrote = true
		}
		if _, err := w.Write(chunk); err != nil {
			s.log.Debug("client disconnected mid-stream",
				slog.String("request_id", resp.RequestID),
				slog.String("error", err.Error()))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := resp.Stream.Err(); err != nil {
		if !wrote {
			s.writeSubmitError(w, err)
			return
		}
		s.log.Error("stream failed after first chunk",
			slog.String("request_id", resp.RequestID),
			slog.String("error", err.Error()))
	}
}
