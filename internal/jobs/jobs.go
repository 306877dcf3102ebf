package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStateQueued  JobState = "queued"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

var ErrNotFound = errors.New("job not found in store")

// Progress is the last reported synthesis position of a running job.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// Options is the subset of render settings recorded with a job so the
// result can be reproduced later. Zero gap and crossfade values keep
// the server defaults; negative values request none.
type Options struct {
	Backend       string  `json:"backend"`
	SampleRate    int     `json:"sample_rate"`
	Stereo        bool    `json:"stereo"`
	LineGapMS     int     `json:"line_gap_ms"`
	SentenceGapMS int     `json:"sentence_gap_ms"`
	CrossfadeMS   int     `json:"crossfade_ms"`
	NormalizeDBFS float64 `json:"normalize_dbfs"`
	TargetLUFS    float64 `json:"target_lufs,omitempty"`
	Workers       int     `json:"workers"`
}

// Stats mirrors the engine's render counters for the finished job.
type Stats struct {
	Lines      int   `json:"lines"`
	Sentences  int   `json:"sentences"`
	CacheHits  int   `json:"cache_hits"`
	CacheMiss  int   `json:"cache_miss"`
	Retries    int   `json:"retries"`
	AudioBytes int64 `json:"audio_bytes"`
}

type Job struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Script     string     `json:"script"`
	Options    Options    `json:"options"`
	Progress   Progress   `json:"progress"`
	OutputPath string     `json:"output_path,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	Stats      Stats      `json:"stats"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// NewJob returns a queued job for the given script text.
func NewJob(scriptText string, opts Options) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		State:     JobStateQueued,
		Script:    scriptText,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type Store interface {
	SaveJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	Close() error
}
