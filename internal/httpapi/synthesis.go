package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/voxalabs/voxa-server/internal/audio"
	"github.com/voxalabs/voxa-server/internal/engine"
	"github.com/voxalabs/voxa-server/internal/synth"
	"github.com/voxalabs/voxa-server/internal/voices"
)

// ttsRequest is the native endpoint body. Pointer fields distinguish
// "absent" from zero so unset values fall back to config defaults.
type ttsRequest struct {
	Text                   string   `json:"text"`
	VoiceMode              string   `json:"voice_mode"`
	PredefinedVoiceID      string   `json:"predefined_voice_id"`
	ReferenceAudioFilename string   `json:"reference_audio_filename"`
	OutputFormat           string   `json:"output_format"`
	Temperature            *float64 `json:"temperature"`
	Exaggeration           *float64 `json:"exaggeration"`
	GuidanceWeight         *float64 `json:"cfg_weight"`
	Seed                   *int64   `json:"seed"`
	SpeedFactor            *float64 `json:"speed_factor"`
	SplitText              *bool    `json:"split_text"`
	ChunkSize              *int     `json:"chunk_size"`
}

// speechRequest is the OpenAI-compatible body. Model is accepted and
// ignored.
type speechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice"`
	ResponseFormat string   `json:"response_format"`
	Speed          *float64 `json:"speed"`
	Seed           *int64   `json:"seed"`
}

// defaultRequest seeds a synthesis request with the configured
// generation, split and output defaults.
func (s *Server) defaultRequest() synth.Request {
	gen := s.cfg.Generation
	return synth.Request{
		Format: audio.Format(s.cfg.Audio.DefaultFormat),
		Params: engine.Params{
			Temperature:    gen.Temperature,
			Exaggeration:   gen.Exaggeration,
			GuidanceWeight: gen.GuidanceWeight,
			Seed:           gen.Seed,
		},
		SpeedFactor: gen.SpeedFactor,
		Split:       s.cfg.Dispatcher.SplitText,
		ChunkSize:   s.cfg.Dispatcher.ChunkSize,
		TargetRate:  s.cfg.Audio.SampleRate,
	}
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var body ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "decode request body: "+err.Error(), nil)
		return
	}

	req, err := s.nativeRequest(body)
	if err != nil {
		kind := "invalid_request"
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			kind = "unsupported_format"
		}
		s.writeError(w, http.StatusBadRequest, kind, err.Error(), nil)
		return
	}
	s.submitAndStream(w, r, req)
}

// nativeRequest merges the request body over the config defaults.
func (s *Server) nativeRequest(body ttsRequest) (synth.Request, error) {
	req := s.defaultRequest()
	req.Text = body.Text

	switch body.VoiceMode {
	case "", "predefined":
		req.VoiceID = body.PredefinedVoiceID
		req.VoiceKind = voices.KindPredefined
	case "clone":
		if body.ReferenceAudioFilename == "" {
			return synth.Request{}, errors.New("reference_audio_filename is required when voice_mode is \"clone\"")
		}
		req.VoiceID = body.ReferenceAudioFilename
		req.VoiceKind = voices.KindReference
	default:
		return synth.Request{}, fmt.Errorf("voice_mode %q must be \"predefined\" or \"clone\"", body.VoiceMode)
	}

	if body.OutputFormat != "" {
		format, err := audio.ParseFormat(body.OutputFormat)
		if err != nil {
			return synth.Request{}, err
		}
		req.Format = format
	}
	if body.Temperature != nil {
		req.Params.Temperature = *body.Temperature
	}
	if body.Exaggeration != nil {
		req.Params.Exaggeration = *body.Exaggeration
	}
	if body.GuidanceWeight != nil {
		req.Params.GuidanceWeight = *body.GuidanceWeight
	}
	if body.Seed != nil {
		req.Params.Seed = *body.Seed
	}
	if body.SpeedFactor != nil {
		if *body.SpeedFactor <= 0 {
			return synth.Request{}, errors.New("speed_factor must be positive")
		}
		req.SpeedFactor = *body.SpeedFactor
	}
	if body.SplitText != nil {
		req.Split = *body.SplitText
	}
	if body.ChunkSize != nil {
		if *body.ChunkSize < 1 {
			return synth.Request{}, errors.New("chunk_size must be >= 1")
		}
		req.ChunkSize = *body.ChunkSize
	}
	return req, nil
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var body speechRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "decode request body: "+err.Error(), nil)
		return
	}

	req := s.defaultRequest()
	req.Text = body.Input
	req.VoiceID = body.Voice
	if body.ResponseFormat != "" {
		format, err := audio.ParseFormat(body.ResponseFormat)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unsupported_format", err.Error(), nil)
			return
		}
		req.Format = format
	}
	if body.Speed != nil {
		if *body.Speed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "speed must be positive", nil)
			return
		}
		req.SpeedFactor = *body.Speed
	}
	if body.Seed != nil {
		req.Params.Seed = *body.Seed
	}
	s.submitAndStream(w, r, req)
}
