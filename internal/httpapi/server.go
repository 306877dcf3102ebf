package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jijae92/mactts/internal/config"
	"github.com/jijae92/mactts/internal/jobs"
	"github.com/jijae92/mactts/internal/observability"
	"github.com/jijae92/mactts/internal/speakers"
	"github.com/jijae92/mactts/internal/tts"
)

// JobService is what the server needs from the job runtime.
type JobService interface {
	Submit(ctx context.Context, scriptText string, spk speakers.Map, opts jobs.Options) (jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (jobs.Job, error)
	ListJobs(ctx context.Context, limit int) ([]jobs.Job, error)
	Cancel(jobID string)
	Subscribe(jobID string) (<-chan jobs.Event, func())
	StoreMode() string
}

type Server struct {
	cfg      config.Config
	service  JobService
	synth    tts.Synthesizer
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, service JobService, synth tts.Synthesizer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		synth:   synth,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, in case the daemon is ever exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/jobs", s.handleCreateJob)
	r.Get("/v1/jobs", s.handleListJobs)
	r.Get("/v1/jobs/{id}", s.handleGetJob)
	r.Post("/v1/jobs/{id}/cancel", s.handleCancelJob)
	r.Get("/v1/jobs/{id}/audio", s.handleJobAudio)
	r.Get("/v1/jobs/{id}/ws", s.handleJobWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/voices", s.handleListVoices)
	r.Post("/v1/tts/preview", s.handlePreviewTTS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"backend":        s.synth.Name(),
		"job_store_mode": s.service.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"backend":        s.synth.Name(),
		"job_store_mode": s.service.StoreMode(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
