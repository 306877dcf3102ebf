package jobruntime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/engine"
	"github.com/jijae92/mactts/internal/jobs"
	"github.com/jijae92/mactts/internal/observability"
	"github.com/jijae92/mactts/internal/script"
	"github.com/jijae92/mactts/internal/speakers"
	"github.com/jijae92/mactts/internal/tts"
)

type Config struct {
	OutputDir  string
	JobTimeout time.Duration
}

// Service accepts scripts, renders them in the background and fans
// progress events out to subscribers. One render per job; Workers in
// the engine options bounds concurrency inside a render.
type Service struct {
	cfg      Config
	synth    tts.Synthesizer
	ffmpeg   *audio.FFmpeg
	cache    *engine.Cache
	speakers speakers.Map
	baseOpts engine.Options
	store    jobs.Store
	metrics  *observability.Metrics
	log      *log.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	subs    map[string]map[chan jobs.Event]struct{}
}

func New(cfg Config, synth tts.Synthesizer, ff *audio.FFmpeg, cache *engine.Cache, spk speakers.Map, store jobs.Store, baseOpts engine.Options, metrics *observability.Metrics) *Service {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "out"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if store == nil {
		store = jobs.NewMemoryStore()
	}
	return &Service{
		cfg:      cfg,
		synth:    synth,
		ffmpeg:   ff,
		cache:    cache,
		speakers: spk,
		baseOpts: baseOpts,
		store:    store,
		metrics:  metrics,
		log:      log.New(log.Writer(), "[jobs] ", log.LstdFlags),
		cancels:  make(map[string]context.CancelFunc),
		subs:     make(map[string]map[chan jobs.Event]struct{}),
	}
}

// Submit validates the script, records a queued job and starts
// rendering it in the background. spk overrides the service speaker map
// for this job; nil uses the configured map.
func (s *Service) Submit(ctx context.Context, scriptText string, spk speakers.Map, opts jobs.Options) (jobs.Job, error) {
	if spk == nil {
		spk = s.speakers
	}
	parser := script.NewParser(spk.Aliases())
	elements, parseWarnings := parser.ParseString(scriptText)
	if len(elements) == 0 {
		return jobs.Job{}, errors.New("script has no renderable lines")
	}

	opts.Backend = s.synth.Name()
	job := jobs.NewJob(scriptText, opts)
	for _, w := range parseWarnings {
		job.Warnings = append(job.Warnings, w.String())
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return jobs.Job{}, fmt.Errorf("save job: %w", err)
	}
	s.publish(jobs.EventFor(jobs.EventQueued, job))

	s.startJob(job, elements, spk)
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (jobs.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]jobs.Job, error) {
	return s.store.ListJobs(ctx, limit)
}

// Cancel stops a running job. Finished jobs are left untouched.
func (s *Service) Cancel(jobID string) {
	s.mu.Lock()
	cancel := s.cancels[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Subscribe returns a channel of events for one job plus an
// unsubscribe func. Slow subscribers miss events rather than blocking
// the render.
func (s *Service) Subscribe(jobID string) (<-chan jobs.Event, func()) {
	ch := make(chan jobs.Event, 64)
	s.mu.Lock()
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[chan jobs.Event]struct{})
	}
	s.subs[jobID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[jobID], ch)
			if len(s.subs[jobID]) == 0 {
				delete(s.subs, jobID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(ev jobs.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Service) startJob(job jobs.Job, elements []script.Element, spk speakers.Map) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, job.ID)
			s.mu.Unlock()
		}()
		s.runJob(ctx, job, elements, spk)
	}()
}

func (s *Service) runJob(ctx context.Context, job jobs.Job, elements []script.Element, spk speakers.Map) {
	now := time.Now().UTC()
	job.State = jobs.JobStateRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	s.saveJob(job)
	s.publish(jobs.EventFor(jobs.EventRunning, job))
	if s.metrics != nil {
		s.metrics.ActiveJobs.Inc()
		defer s.metrics.ActiveJobs.Dec()
	}

	opts := s.engineOptions(job.Options)
	eng := engine.New(s.synth, s.ffmpeg, s.cache, opts)
	eng.SetMetrics(s.metrics)

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		s.finishFailed(job, fmt.Errorf("create output dir: %w", err))
		return
	}
	outPath := filepath.Join(s.cfg.OutputDir, job.ID+".wav")

	// RenderParallel invokes progress from a single reporter
	// goroutine, so the local job copy needs no lock here.
	progress := func(completed, total int, message string) {
		job.Progress = jobs.Progress{Completed: completed, Total: total, Message: message}
		job.UpdatedAt = time.Now().UTC()
		s.saveJob(job)
		s.publish(jobs.EventFor(jobs.EventProgress, job))
	}

	result, err := eng.RenderParallel(ctx, elements, spk, outPath, progress)
	if err != nil {
		s.finishFailed(job, err)
		return
	}

	ended := time.Now().UTC()
	job.State = jobs.JobStateDone
	job.OutputPath = result.OutputPath
	job.Warnings = append(job.Warnings, result.Warnings...)
	job.Stats = jobs.Stats{
		Lines:      result.Stats.Lines,
		Sentences:  result.Stats.Sentences,
		CacheHits:  result.Stats.CacheHits,
		CacheMiss:  result.Stats.CacheMiss,
		Retries:    result.Stats.Retries,
		AudioBytes: int64(result.Stats.AudioBytes),
	}
	job.UpdatedAt = ended
	job.EndedAt = &ended
	s.saveJob(job)
	s.publish(jobs.EventFor(jobs.EventDone, job))
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues("done").Inc()
		if job.StartedAt != nil {
			s.metrics.ObserveStage("render_total", ended.Sub(*job.StartedAt))
		}
	}
	s.log.Printf("job %s done: %s (%s)", job.ID, result.OutputPath, result.Duration)
}

func (s *Service) finishFailed(job jobs.Job, err error) {
	outcome := "failed"
	if errors.Is(err, context.Canceled) {
		outcome = "cancelled"
	}
	ended := time.Now().UTC()
	job.State = jobs.JobStateFailed
	job.Error = err.Error()
	job.UpdatedAt = ended
	job.EndedAt = &ended
	s.saveJob(job)
	s.publish(jobs.EventFor(jobs.EventFailed, job))
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(outcome).Inc()
	}
	s.log.Printf("job %s failed: %v", job.ID, err)
}

func (s *Service) saveJob(job jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.log.Printf("save job %s: %v", job.ID, err)
	}
}

func (s *Service) engineOptions(o jobs.Options) engine.Options {
	opts := s.baseOpts
	if o.SampleRate > 0 {
		opts.SampleRate = o.SampleRate
	}
	opts.Stereo = o.Stereo
	if o.LineGapMS != 0 {
		opts.LineGap = gapMS(o.LineGapMS)
	}
	if o.SentenceGapMS != 0 {
		opts.SentenceGap = gapMS(o.SentenceGapMS)
	}
	if o.CrossfadeMS != 0 {
		opts.Crossfade = gapMS(o.CrossfadeMS)
	}
	if o.NormalizeDBFS != 0 {
		opts.NormalizeDBFS = o.NormalizeDBFS
	}
	if o.TargetLUFS != 0 {
		opts.TargetLUFS = o.TargetLUFS
	}
	if o.Workers > 0 {
		opts.Workers = o.Workers
	}
	return opts
}

// gapMS maps a job gap in milliseconds onto an engine gap: negative
// requests no gap, which the engine reads from a negative duration.
func gapMS(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// Synthesizer exposes the backend for voice listing and previews.
func (s *Service) Synthesizer() tts.Synthesizer { return s.synth }

func (s *Service) Close() error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// StoreMode reports which store backs job history.
func (s *Service) StoreMode() string {
	switch s.store.(type) {
	case *jobs.PostgresStore:
		return "postgres"
	case *jobs.MemoryStore:
		return "in-memory"
	default:
		return strings.TrimSpace(fmt.Sprintf("%T", s.store))
	}
}
