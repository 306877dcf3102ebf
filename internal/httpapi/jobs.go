package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jijae92/mactts/internal/jobs"
	"github.com/jijae92/mactts/internal/speakers"
)

type createJobRequest struct {
	Script   string                      `json:"script"`
	Options  jobs.Options                `json:"options"`
	Speakers map[string]*speakers.Config `json:"speakers,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		respondError(w, http.StatusBadRequest, "missing_script", "script text is required")
		return
	}

	var spk speakers.Map
	if len(req.Speakers) > 0 {
		spk = speakers.Map(req.Speakers).Normalize()
	}

	job, err := s.service.Submit(r.Context(), req.Script, spk, req.Options)
	if err != nil {
		respondError(w, http.StatusBadRequest, "submit_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.service.ListJobs(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	s.service.Cancel(job.ID)
	respondJSON(w, http.StatusOK, map[string]any{"status": "cancelling", "id": job.ID})
}

func (s *Server) handleJobAudio(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	if job.State != jobs.JobStateDone || job.OutputPath == "" {
		respondError(w, http.StatusConflict, "not_ready", "job has no rendered audio yet")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, job.OutputPath)
}

// handleJobWS streams progress events for one job until it reaches a
// terminal state or the client disconnects.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}

	events, unsubscribe := s.service.Subscribe(job.ID)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reads only serve to detect the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeEvent := func(ev jobs.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues(string(ev.Type)).Inc()
		}
		return nil
	}

	// Snapshot first so late subscribers see the current state.
	snapshot := jobs.EventFor(snapshotEventType(job.State), job)
	if err := writeEvent(snapshot); err != nil {
		return
	}
	if terminalState(job.State) {
		return
	}

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ev); err != nil {
				return
			}
			if terminalState(ev.State) {
				return
			}
		}
	}
}

func (s *Server) jobFromRequest(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_job_id", "missing job id")
		return jobs.Job{}, false
	}
	job, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job_not_found", "no job with id "+id)
			return jobs.Job{}, false
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return jobs.Job{}, false
	}
	return job, true
}

func terminalState(state jobs.JobState) bool {
	return state == jobs.JobStateDone || state == jobs.JobStateFailed
}

func snapshotEventType(state jobs.JobState) jobs.EventType {
	switch state {
	case jobs.JobStateQueued:
		return jobs.EventQueued
	case jobs.JobStateDone:
		return jobs.EventDone
	case jobs.JobStateFailed:
		return jobs.EventFailed
	default:
		return jobs.EventRunning
	}
}
