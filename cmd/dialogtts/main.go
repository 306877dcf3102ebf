package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jijae92/mactts/internal/app"
	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/config"
	"github.com/jijae92/mactts/internal/engine"
	"github.com/jijae92/mactts/internal/script"
	"github.com/jijae92/mactts/internal/speakers"
	"github.com/jijae92/mactts/internal/tts"
)

type options struct {
	scriptPath string
	outPath    string

	text    string
	voice   string
	rateWPM int

	backend    string
	speakerMap string
	voiceSpecs string
	names      string
	defaultSpk string
	refWav     string

	sampleRate int
	stereo     bool
	gapMS      int
	breathMS   int
	xfadeMS    int
	normalize  float64
	lufs       float64
	workers    int
	retries    int
	mp3Bitrate string

	cacheDir   string
	noCache    bool
	clearCache bool

	ffmpegBin  string
	listVoices bool
	quiet      bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dialogtts: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "dialogtts: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options

	flag.StringVar(&opts.scriptPath, "script", "", "dialog script file to render")
	flag.StringVar(&opts.outPath, "out", "dialog_output.wav", "output file (.wav or .mp3)")
	flag.StringVar(&opts.text, "text", "", "single utterance to synthesize instead of a script")
	flag.StringVar(&opts.voice, "voice", "", "voice for -text mode")
	flag.IntVar(&opts.rateWPM, "rate", 0, "speech rate in words per minute for -text mode")
	flag.StringVar(&opts.backend, "backend", "auto", "TTS backend: auto|edge|say|clone|mock")
	flag.StringVar(&opts.speakerMap, "speaker-map", "", "YAML speaker map file")
	flag.StringVar(&opts.voiceSpecs, "voices", "", "inline speaker specs separated by '|', e.g. \"A=ko_KR:Yuna,rate=180|B=Jihun,pan=0.3\"")
	flag.StringVar(&opts.names, "speaker-names", "", "comma-separated display names replacing speakers in sorted order")
	flag.StringVar(&opts.defaultSpk, "default-speaker", "", "speaker name whose config covers script names missing from the map")
	flag.StringVar(&opts.refWav, "ref-wav", "", "reference audio for the clone backend")
	flag.IntVar(&opts.sampleRate, "sr", 24000, "output sample rate")
	flag.BoolVar(&opts.stereo, "stereo", false, "render stereo and apply speaker pan")
	flag.IntVar(&opts.gapMS, "gap-ms", 250, "silence between dialog lines in milliseconds")
	flag.IntVar(&opts.breathMS, "breath-ms", 80, "breath pause between sentences in milliseconds")
	flag.IntVar(&opts.xfadeMS, "xfade-ms", 20, "sentence crossfade in milliseconds")
	flag.Float64Var(&opts.normalize, "normalize", -1.0, "peak normalization target in dBFS")
	flag.Float64Var(&opts.lufs, "lufs", 0, "loudness target in LUFS (0 disables loudness normalization)")
	flag.IntVar(&opts.workers, "workers", 3, "parallel synthesis workers")
	flag.IntVar(&opts.retries, "retries", 2, "extra synthesis attempts per sentence")
	flag.StringVar(&opts.mp3Bitrate, "mp3-bitrate", "192k", "bitrate for .mp3 output")
	flag.StringVar(&opts.cacheDir, "cache-dir", "", "sentence cache directory (default: user cache dir)")
	flag.BoolVar(&opts.noCache, "no-cache", false, "disable the sentence cache")
	flag.BoolVar(&opts.clearCache, "clear-cache", false, "clear the sentence cache before rendering")
	flag.StringVar(&opts.ffmpegBin, "ffmpeg", "", "ffmpeg binary path")
	flag.BoolVar(&opts.listVoices, "list-voices", false, "list backend voices and exit")
	flag.BoolVar(&opts.quiet, "quiet", false, "suppress progress output")
	flag.Parse()

	if opts.scriptPath == "" && opts.text == "" && !opts.listVoices && !opts.clearCache {
		return options{}, fmt.Errorf("one of -script, -text, -list-voices or -clear-cache is required")
	}
	if opts.scriptPath != "" && opts.text != "" {
		return options{}, fmt.Errorf("-script and -text are mutually exclusive")
	}
	if opts.sampleRate <= 0 {
		return options{}, fmt.Errorf("sr must be positive")
	}
	if opts.workers <= 0 {
		return options{}, fmt.Errorf("workers must be positive")
	}
	return opts, nil
}

func run(opts options) error {
	ctx := context.Background()

	if opts.clearCache {
		cache, err := engine.NewCache(opts.cacheDir)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		if err := cache.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		if !opts.quiet {
			fmt.Fprintf(os.Stderr, "cache cleared: %s\n", cache.Dir())
		}
		if opts.scriptPath == "" && opts.text == "" && !opts.listVoices {
			return nil
		}
	}

	ff, err := audio.FindFFmpeg(opts.ffmpegBin)
	if err != nil {
		ff = nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Backend = opts.backend
	cfg.SampleRate = opts.sampleRate
	if opts.refWav != "" {
		cfg.WorkerRefAudio = opts.refWav
	}

	synth, info, cleanup, err := app.ResolveSynthesizer(cfg, ff)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()
	if !opts.quiet {
		fmt.Fprintf(os.Stderr, "backend: %s\n", info.Detail)
	}

	if opts.listVoices {
		return listVoices(ctx, synth)
	}
	if opts.text != "" {
		return renderText(ctx, synth, ff, opts)
	}
	return renderScript(ctx, synth, ff, opts)
}

func listVoices(ctx context.Context, synth tts.Synthesizer) error {
	voices, err := synth.Voices(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}
	for _, v := range voices {
		line := v.Name
		if v.Locale != "" {
			line += "\t" + v.Locale
		}
		if v.Description != "" {
			line += "\t" + v.Description
		}
		fmt.Println(line)
	}
	return nil
}

// renderText synthesizes one utterance without the dialog pipeline.
func renderText(ctx context.Context, synth tts.Synthesizer, ff *audio.FFmpeg, opts options) error {
	wav, err := synth.Synthesize(ctx, tts.Request{
		Text:       opts.text,
		Voice:      opts.voice,
		RateWPM:    opts.rateWPM,
		SampleRate: opts.sampleRate,
	})
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(opts.outPath), ".wav") {
		if err := os.WriteFile(opts.outPath, wav, 0o644); err != nil {
			return err
		}
	} else {
		if ff == nil {
			return fmt.Errorf("writing %s requires ffmpeg", opts.outPath)
		}
		if err := ff.EncodeToFile(ctx, wav, opts.outPath, opts.mp3Bitrate); err != nil {
			return err
		}
	}
	if !opts.quiet {
		fmt.Fprintf(os.Stderr, "wrote %s\n", opts.outPath)
	}
	return nil
}

func renderScript(ctx context.Context, synth tts.Synthesizer, ff *audio.FFmpeg, opts options) error {
	spk, err := loadSpeakers(opts)
	if err != nil {
		return err
	}

	parser := script.NewParser(spk.Aliases())
	elements, warnings, err := parser.ParseFile(opts.scriptPath)
	if err != nil {
		return fmt.Errorf("parse script: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if len(elements) == 0 {
		return fmt.Errorf("script has no renderable lines")
	}

	cache := engine.NewDisabledCache()
	if !opts.noCache {
		cache, err = engine.NewCache(opts.cacheDir)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
	}

	eng := engine.New(synth, ff, cache, engine.Options{
		SampleRate:     opts.sampleRate,
		Stereo:         opts.stereo,
		LineGap:        gapFlag(opts.gapMS),
		SentenceGap:    gapFlag(opts.breathMS),
		Crossfade:      gapFlag(opts.xfadeMS),
		NormalizeDBFS:  opts.normalize,
		TargetLUFS:     opts.lufs,
		DefaultSpeaker: opts.defaultSpk,
		MaxRetries:     opts.retries,
		Workers:        opts.workers,
		MP3Bitrate:     opts.mp3Bitrate,
	})

	var progress engine.Progress
	if !opts.quiet {
		progress = func(completed, total int, message string) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", completed, total, message)
		}
	}

	started := time.Now()
	result, err := eng.RenderParallel(ctx, elements, spk, opts.outPath, progress)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if !opts.quiet {
		st := result.Stats
		fmt.Fprintf(os.Stderr, "wrote %s: %s of audio, %d lines, %d sentences (cache %d hit / %d miss, %d retries) in %s\n",
			result.OutputPath, result.Duration.Round(time.Millisecond),
			st.Lines, st.Sentences, st.CacheHits, st.CacheMiss, st.Retries,
			time.Since(started).Round(time.Millisecond))
	}
	return nil
}

// gapFlag converts a millisecond flag into an engine gap. An explicit 0
// disables the gap; the engine reads that from a negative value, since a
// zero duration keeps its default.
func gapFlag(ms int) time.Duration {
	if ms <= 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func loadSpeakers(opts options) (speakers.Map, error) {
	spk := speakers.Map{}
	var err error

	if opts.speakerMap != "" {
		spk, err = speakers.LoadFile(opts.speakerMap)
		if err != nil {
			return nil, fmt.Errorf("load speaker map: %w", err)
		}
	}
	if opts.voiceSpecs != "" {
		inline, err := speakers.ParseSpecs(strings.Split(opts.voiceSpecs, "|"))
		if err != nil {
			return nil, fmt.Errorf("parse -voices: %w", err)
		}
		for name, cfg := range inline {
			spk[name] = cfg
		}
	}
	if opts.names != "" {
		names := strings.Split(opts.names, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		spk, err = spk.Rename(names)
		if err != nil {
			return nil, fmt.Errorf("apply -speaker-names: %w", err)
		}
	}
	return spk, nil
}
