package httpapi

import (
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/voxalabs/voxa-server/internal/history"
	"github.com/voxalabs/voxa-server/internal/voices"
)

type voiceListing struct {
	Predefined []voices.Voice `json:"predefined"`
	Reference  []voices.Voice `json:"reference"`
}

type uploadResult struct {
	Filename string        `json:"filename"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Voice    *voices.Voice `json:"voice,omitempty"`
}

type uploadResponse struct {
	Results []uploadResult `json:"results"`
	Voices  voiceListing   `json:"voices"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"server": s.stats.Snapshot(),
		"engine": s.engine.Stats(),
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	listing, err := s.voiceListing()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

// voiceListing lists both library sides with nils mapped to empty
// slices so clients always see JSON arrays.
func (s *Server) voiceListing() (voiceListing, error) {
	predefined, reference, err := s.voices.List()
	if err != nil {
		return voiceListing{}, err
	}
	if predefined == nil {
		predefined = []voices.Voice{}
	}
	if reference == nil {
		reference = []voices.Voice{}
	}
	return voiceListing{Predefined: predefined, Reference: reference}, nil
}

func (s *Server) handleVoiceUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "parse multipart form: "+err.Error(), nil)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.log.Debug("discard multipart temp files", slog.String("error", err.Error()))
		}
	}()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "upload needs at least one file in the \"files\" field", nil)
		return
	}

	results := make([]uploadResult, 0, len(files))
	for _, fh := range files {
		results = append(results, s.saveUpload(fh))
	}

	listing, err := s.voiceListing()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, uploadResponse{Results: results, Voices: listing})
}

// saveUpload stores one reference voice; per-file failures land in the
// result instead of failing the whole upload.
func (s *Server) saveUpload(fh *multipart.FileHeader) uploadResult {
	f, err := fh.Open()
	if err != nil {
		return uploadResult{Filename: fh.Filename, Status: "failed", Error: err.Error()}
	}
	defer f.Close()

	voice, err := s.voices.SaveReference(fh.Filename, f)
	if err != nil {
		return uploadResult{Filename: fh.Filename, Status: "failed", Error: err.Error()}
	}
	return uploadResult{Filename: fh.Filename, Status: "saved", Voice: &voice}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
