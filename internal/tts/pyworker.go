package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jijae92/mactts/internal/reliability"
)

// WorkerConfig configures the voice-clone worker adapter.
type WorkerConfig struct {
	// Python is the interpreter path; empty tries a local venv then PATH.
	Python string
	// Script is the worker script path.
	Script string
	// RefAudioPath is the default reference audio for cloning.
	RefAudioPath string
	// Timeout bounds one synthesis call. Zero means 120s; clone models
	// are slow on first call.
	Timeout time.Duration
}

// WorkerSynthesizer drives a long-lived Python voice-clone worker over a
// JSON-lines stdin/stdout protocol. One request in flight at a time; the
// decoder desynchronizes otherwise.
type WorkerSynthesizer struct {
	cfg WorkerConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
	seq    int64
}

type workerRequest struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	RefAudio   string  `json:"ref_audio,omitempty"`
	Speed      float64 `json:"speed"`
	SampleRate int     `json:"sample_rate"`
}

type workerResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

// StartWorkerSynthesizer launches the worker subprocess and fires a warmup
// request so model-loading failures surface at startup instead of on the
// first real utterance.
func StartWorkerSynthesizer(cfg WorkerConfig) (*WorkerSynthesizer, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				py = p
				break
			}
		}
	}
	if py == "" {
		return nil, fmt.Errorf("python3 not found on PATH and MACTTS_WORKER_PYTHON not set")
	}

	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		script = "scripts/clone_worker.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("voice-clone worker script not found: %s", script)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	cmd := exec.Command(py, "-u", script)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &WorkerSynthesizer{
		cfg:   cfg,
		cmd:   cmd,
		stdin: stdin,
		dec:   json.NewDecoder(stdout),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := w.Synthesize(ctx, Request{Text: "준비"}); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("voice-clone worker failed to start: %s", msg)
	}
	return w, nil
}

func (w *WorkerSynthesizer) Name() string { return "clone" }

func (w *WorkerSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, reliability.Permanent(fmt.Errorf("empty text"))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker exited: closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.seq++
	id := fmt.Sprintf("req-%d", w.seq)
	refAudio := strings.TrimSpace(req.RefAudioPath)
	if refAudio == "" {
		refAudio = w.cfg.RefAudioPath
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	line := workerRequest{
		ID:         id,
		Text:       text,
		Voice:      strings.TrimSpace(req.Voice),
		RefAudio:   refAudio,
		Speed:      speed,
		SampleRate: req.SampleRate,
	}
	b, _ := json.Marshal(line)
	b = append(b, '\n')
	if _, err := w.stdin.Write(b); err != nil {
		return nil, fmt.Errorf("worker exited: %w", err)
	}

	// Decode exactly one response; single-flight is guarded by mu.
	var resp workerResponse
	if err := w.dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("worker exited: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("worker out-of-sync (got %q, expected %q)", resp.ID, id)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown worker error"
		}
		return nil, fmt.Errorf("%s", msg)
	}
	if strings.TrimSpace(resp.AudioBase64) == "" {
		return nil, fmt.Errorf("worker returned no audio")
	}

	wav, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio_base64: %w", err)
	}
	return wav, nil
}

func (w *WorkerSynthesizer) Voices(_ context.Context) ([]Voice, error) {
	return []Voice{{
		Name:        "clone",
		Description: "voice cloned from reference audio",
	}}, nil
}

func (w *WorkerSynthesizer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stdin := w.stdin
	cmd := w.cmd
	w.stdin = nil
	w.cmd = nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}
