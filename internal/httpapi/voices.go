package httpapi

import (
	"net/http"
	"strings"

	"github.com/jijae92/mactts/internal/tts"
)

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.synth.Voices(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "voices_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"backend": s.synth.Name(),
		"voices":  voices,
	})
}

type previewRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
	RateWPM int    `json:"rate_wpm,omitempty"`
}

// handlePreviewTTS synthesizes one utterance and returns the WAV bytes
// directly, bypassing the job pipeline.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if len(req.Text) > 2000 {
		respondError(w, http.StatusBadRequest, "text_too_long", "preview text is limited to 2000 characters")
		return
	}

	wav, err := s.synth.Synthesize(r.Context(), tts.Request{
		Text:       req.Text,
		Voice:      req.Voice,
		RateWPM:    req.RateWPM,
		SampleRate: s.cfg.SampleRate,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
