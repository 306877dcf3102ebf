// Package engine assembles parsed dialog scripts into a single audio file:
// per-sentence synthesis through a backend, mixing per speaker settings,
// directive handling, loudness normalization and export.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/observability"
	"github.com/jijae92/mactts/internal/reliability"
	"github.com/jijae92/mactts/internal/script"
	"github.com/jijae92/mactts/internal/speakers"
	"github.com/jijae92/mactts/internal/tts"
)

// Options tune one render. Zero values pick the defaults used by the
// command line.
type Options struct {
	SampleRate int  // default 24000
	Stereo     bool // pan settings only apply in stereo

	// LineGap is the silence between dialog lines, default 250ms.
	// Negative means no gap; zero keeps the default. SentenceGap
	// (breath pause, default 80ms) and Crossfade (default 20ms) read
	// the same way.
	LineGap     time.Duration
	SentenceGap time.Duration
	Crossfade   time.Duration

	// NormalizeDBFS is the peak-normalization target; 0 uses -1 dBFS.
	NormalizeDBFS float64
	// TargetLUFS, when non-zero, loudness-normalizes the final mix.
	TargetLUFS float64

	// DefaultSpeaker takes over script speakers missing from the map.
	DefaultSpeaker string

	// MaxRetries bounds extra synthesis attempts per sentence, default 2.
	MaxRetries int
	// RetryBase is the first backoff delay, default 1s.
	RetryBase time.Duration

	// Workers bounds parallel sentence synthesis, default 3.
	Workers int

	// MP3Bitrate applies to MP3 export, e.g. "192k".
	MP3Bitrate string
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
	if o.LineGap == 0 {
		o.LineGap = 250 * time.Millisecond
	} else if o.LineGap < 0 {
		o.LineGap = 0
	}
	if o.SentenceGap == 0 {
		o.SentenceGap = 80 * time.Millisecond
	} else if o.SentenceGap < 0 {
		o.SentenceGap = 0
	}
	if o.Crossfade == 0 {
		o.Crossfade = 20 * time.Millisecond
	} else if o.Crossfade < 0 {
		o.Crossfade = 0
	}
	if o.NormalizeDBFS == 0 {
		o.NormalizeDBFS = -1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 3
	}
	return o
}

// Progress reports render progress: completed and total sentence tasks
// plus a human-readable message.
type Progress func(completed, total int, message string)

// Stats summarizes one render.
type Stats struct {
	Lines      int
	Sentences  int
	CacheHits  int
	CacheMiss  int
	Retries    int
	AudioBytes int
}

// Result is what a finished render reports back.
type Result struct {
	OutputPath string
	Duration   time.Duration
	Stats      Stats
	Warnings   []string
}

// Engine renders scripts with one backend. Safe for sequential reuse; a
// render call owns the engine while it runs.
type Engine struct {
	synth   tts.Synthesizer
	ffmpeg  *audio.FFmpeg
	cache   *Cache
	metrics *observability.Metrics
	log     *log.Logger
	opts    Options
}

func New(synth tts.Synthesizer, ff *audio.FFmpeg, cache *Cache, opts Options) *Engine {
	if cache == nil {
		cache = NewDisabledCache()
	}
	return &Engine{
		synth:  synth,
		ffmpeg: ff,
		cache:  cache,
		log:    log.New(log.Writer(), "[engine] ", log.LstdFlags),
		opts:   opts.withDefaults(),
	}
}

// SetMetrics attaches service metrics; the CLI runs without them.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// Render synthesizes the elements sequentially and writes the mix to
// outPath (format chosen by extension). progress may be nil.
func (e *Engine) Render(ctx context.Context, elements []script.Element, spk speakers.Map, outPath string, progress Progress) (*Result, error) {
	spk, warnings, err := e.resolveSpeakers(elements, spk)
	if err != nil {
		return nil, err
	}

	tasks := sentenceTasks(elements)
	total := len(tasks)
	report := func(done int, msg string) {
		if progress != nil {
			progress(done, total, msg)
		}
	}
	report(0, "starting synthesis")

	stats := Stats{}
	synthesized := make(map[taskKey]*audio.Segment, total)
	done := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg := speakerConfig(spk, task.speaker, e.opts.DefaultSpeaker)
		seg, err := e.synthesizeSentence(ctx, task.text, cfg, &stats)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", task.line, err)
		}
		synthesized[task.key] = seg
		done++
		report(done, fmt.Sprintf("line %d: %s", task.line, truncate(task.text, 30)))
	}

	return e.assemble(ctx, elements, spk, synthesized, outPath, stats, warnings, report)
}

// resolveSpeakers validates that every script speaker has a config,
// routing unknowns to the default speaker when one is set.
func (e *Engine) resolveSpeakers(elements []script.Element, spk speakers.Map) (speakers.Map, []string, error) {
	var warnings []string
	var unknown []string
	for name := range script.Speakers(elements) {
		if _, ok := spk[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return spk, warnings, nil
	}
	sort.Strings(unknown)

	def := e.opts.DefaultSpeaker
	if def == "" {
		known := make([]string, 0, len(spk))
		for name := range spk {
			known = append(known, name)
		}
		sort.Strings(known)
		return nil, nil, fmt.Errorf("unknown speakers in script: %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(known, ", "))
	}
	if _, ok := spk[def]; !ok {
		return nil, nil, fmt.Errorf("default speaker %q is not in the speaker map", def)
	}
	warnings = append(warnings, fmt.Sprintf("unknown speakers use default %q: %s", def, strings.Join(unknown, ", ")))
	e.log.Printf("unknown speakers %v take default %q", unknown, def)
	return spk, warnings, nil
}

// taskKey orders synthesized sentences: element index first, sentence
// index within the element second.
type taskKey struct {
	elem int
	sent int
}

type sentenceTask struct {
	key     taskKey
	line    int
	speaker string
	text    string
}

func sentenceTasks(elements []script.Element) []sentenceTask {
	var tasks []sentenceTask
	for i, el := range elements {
		if el.Kind != script.KindSpeech {
			continue
		}
		for j, sentence := range script.SplitSentences(el.Text) {
			tasks = append(tasks, sentenceTask{
				key:     taskKey{elem: i, sent: j},
				line:    el.Line,
				speaker: el.Speaker,
				text:    script.NormalizeText(sentence),
			})
		}
	}
	return tasks
}

func speakerConfig(spk speakers.Map, name, def string) *speakers.Config {
	if cfg, ok := spk[name]; ok {
		return cfg
	}
	return spk[def]
}

// synthesizeSentence runs one cached, retried synthesis call and applies
// the speaker's gain. Pan is applied at assembly time when stereo output
// is requested.
func (e *Engine) synthesizeSentence(ctx context.Context, text string, cfg *speakers.Config, stats *Stats) (*audio.Segment, error) {
	req := tts.Request{
		Text:         text,
		Voice:        cfg.VoiceName,
		RateWPM:      cfg.RateWPM,
		Speed:        cfg.Speed,
		RefAudioPath: cfg.RefAudio,
		SampleRate:   e.opts.SampleRate,
	}

	wav, err := e.synthesizeWithRetry(ctx, req, stats)
	if err != nil {
		return nil, err
	}
	stats.AudioBytes += len(wav)

	seg, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("decode backend audio: %w", err)
	}
	if seg.SampleRate != e.opts.SampleRate && e.ffmpeg != nil {
		resampled, err := e.ffmpeg.TranscodeToWAV(ctx, wav, e.opts.SampleRate, seg.Channels)
		if err != nil {
			return nil, fmt.Errorf("resample backend audio: %w", err)
		}
		if seg, err = audio.DecodeWAV(resampled); err != nil {
			return nil, fmt.Errorf("decode resampled audio: %w", err)
		}
	}

	if cfg.GainDB != 0 {
		audio.ApplyGain(seg, cfg.GainDB)
	}
	return seg, nil
}

func (e *Engine) synthesizeWithRetry(ctx context.Context, req tts.Request, stats *Stats) ([]byte, error) {
	key := e.cache.Key(e.synth.Name(), req)
	if wav, ok := e.cache.Get(key); ok {
		stats.CacheHits++
		e.metrics.CountCache(true)
		return wav, nil
	}
	stats.CacheMiss++
	e.metrics.CountCache(false)

	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			stats.Retries++
			e.metrics.CountRetry()
			delay := reliability.ExponentialBackoff(attempt-1, e.opts.RetryBase, 8*e.opts.RetryBase)
			e.log.Printf("retry %d/%d in %v: %v", attempt, e.opts.MaxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		wav, err := e.synth.Synthesize(ctx, req)
		if err == nil {
			e.metrics.ObserveSynthesis(e.synth.Name(), time.Since(start))
			e.cache.Put(key, wav)
			return wav, nil
		}
		lastErr = err
		e.metrics.CountProviderError(e.synth.Name())
		if !reliability.IsRetryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("synthesize %q: %w", truncate(req.Text, 30), lastErr)
}

// assemble mixes synthesized sentences and directives into the final
// output file.
func (e *Engine) assemble(ctx context.Context, elements []script.Element, spk speakers.Map, synthesized map[taskKey]*audio.Segment, outPath string, stats Stats, warnings []string, report func(int, string)) (*Result, error) {
	channels := 1
	if e.opts.Stereo {
		channels = 2
	}

	var lineSegments []*audio.Segment
	for i, el := range elements {
		switch el.Kind {
		case script.KindSpeech:
			cfg := speakerConfig(spk, el.Speaker, e.opts.DefaultSpeaker)
			line := e.joinSentences(collectSentences(synthesized, i))
			if line == nil {
				continue
			}
			if e.opts.Stereo && cfg.Pan != 0 {
				line = audio.ApplyPan(line, cfg.Pan)
			}
			lineSegments = append(lineSegments, line)
			stats.Lines++

		case script.KindSilence:
			lineSegments = append(lineSegments, audio.Silence(el.Duration, e.opts.SampleRate, channels))

		case script.KindSoundEffect:
			seg, err := e.loadSoundEffect(ctx, el, channels)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("line %d: %v", el.Line, err))
				e.log.Printf("skipping sfx on line %d: %v", el.Line, err)
				continue
			}
			lineSegments = append(lineSegments, seg)
		}
	}
	if len(lineSegments) == 0 {
		return nil, fmt.Errorf("script produced no audio")
	}

	report(len(synthesized), "mixing")
	mixStarted := time.Now()
	mix := audio.Concat(lineSegments, e.opts.LineGap)
	mix = audio.CoerceChannels(mix, channels)
	audio.NormalizePeak(mix, e.opts.NormalizeDBFS)

	if e.opts.TargetLUFS != 0 {
		if err := e.normalizeLoudness(ctx, mix); err != nil {
			return nil, err
		}
	}

	e.metrics.ObserveStage("assemble", time.Since(mixStarted))

	report(len(synthesized), "exporting")
	exportStarted := time.Now()
	wav, err := audio.EncodeWAV(mix)
	if err != nil {
		return nil, err
	}
	if err := e.export(ctx, wav, outPath); err != nil {
		return nil, err
	}
	e.metrics.ObserveStage("export", time.Since(exportStarted))
	stats.Sentences = len(synthesized)

	return &Result{
		OutputPath: outPath,
		Duration:   mix.Duration(),
		Stats:      stats,
		Warnings:   warnings,
	}, nil
}

func collectSentences(synthesized map[taskKey]*audio.Segment, elem int) []*audio.Segment {
	var segs []*audio.Segment
	for sent := 0; ; sent++ {
		seg, ok := synthesized[taskKey{elem: elem, sent: sent}]
		if !ok {
			break
		}
		segs = append(segs, seg)
	}
	return segs
}

// joinSentences folds a line's sentences together with a breath pause and
// a short crossfade at each boundary.
func (e *Engine) joinSentences(segs []*audio.Segment) *audio.Segment {
	if len(segs) == 0 {
		return nil
	}
	line := segs[0]
	for _, next := range segs[1:] {
		withBreath := audio.Concat([]*audio.Segment{
			audio.Silence(e.opts.SentenceGap, next.SampleRate, next.Channels),
			next,
		}, 0)
		line = audio.Crossfade(line, withBreath, e.opts.Crossfade)
	}
	return line
}

func (e *Engine) loadSoundEffect(ctx context.Context, el script.Element, channels int) (*audio.Segment, error) {
	seg, err := audio.ReadWAVFile(el.SFXPath)
	if err != nil || seg.SampleRate != e.opts.SampleRate {
		if e.ffmpeg == nil {
			if err != nil {
				return nil, fmt.Errorf("load sfx %s: %w", el.SFXPath, err)
			}
			return nil, fmt.Errorf("sfx %s has sample rate %d, want %d", el.SFXPath, seg.SampleRate, e.opts.SampleRate)
		}
		wav, ffErr := e.ffmpeg.TranscodeFileToWAV(ctx, el.SFXPath, e.opts.SampleRate, channels)
		if ffErr != nil {
			return nil, fmt.Errorf("load sfx %s: %w", el.SFXPath, ffErr)
		}
		if seg, err = audio.DecodeWAV(wav); err != nil {
			return nil, fmt.Errorf("decode sfx %s: %w", el.SFXPath, err)
		}
	}

	if el.SFXGainDB != 0 {
		audio.ApplyGain(seg, el.SFXGainDB)
	}
	if channels == 2 && el.SFXPan != 0 {
		seg = audio.ApplyPan(seg, el.SFXPan)
	}
	return seg, nil
}

// normalizeLoudness measures integrated loudness with ffmpeg and applies
// the dB difference to hit the target.
func (e *Engine) normalizeLoudness(ctx context.Context, mix *audio.Segment) error {
	if e.ffmpeg == nil {
		return fmt.Errorf("loudness normalization requires ffmpeg")
	}
	wav, err := audio.EncodeWAV(mix)
	if err != nil {
		return err
	}
	lufs, err := e.ffmpeg.MeasureLoudness(ctx, wav)
	if err != nil {
		return fmt.Errorf("measure loudness: %w", err)
	}
	diff := e.opts.TargetLUFS - lufs
	e.log.Printf("loudness %.1f LUFS, target %.1f, applying %+.1f dB", lufs, e.opts.TargetLUFS, diff)
	audio.ApplyGain(mix, diff)
	return nil
}

func (e *Engine) export(ctx context.Context, wav []byte, outPath string) error {
	if strings.HasSuffix(strings.ToLower(outPath), ".wav") {
		return os.WriteFile(outPath, wav, 0o644)
	}
	if e.ffmpeg == nil {
		return fmt.Errorf("export to %s requires ffmpeg", outPath)
	}
	return e.ffmpeg.EncodeToFile(ctx, wav, outPath, e.opts.MP3Bitrate)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
