package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL    string
	jobs       int
	workers    int
	sampleRate int
	stereo     bool
	jobTimeout time.Duration
	scripts    []string
	verbose    bool
}

type jobOptions struct {
	SampleRate int  `json:"sample_rate,omitempty"`
	Stereo     bool `json:"stereo,omitempty"`
	Workers    int  `json:"workers,omitempty"`
}

type createJobRequest struct {
	Script  string     `json:"script"`
	Options jobOptions `json:"options"`
}

type jobResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error"`
}

type jobEvent struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	State string `json:"state"`
	Error string `json:"error"`
	Progress struct {
		Completed int `json:"completed"`
		Total     int `json:"total"`
	} `json:"progress"`
}

var defaultScripts = []string{
	"A: 안녕하세요. 오늘 일정 확인해 주세요.\nB: 네, 확인했습니다.",
	"A: 회의는 몇 시에 시작하나요?\nB: 오후 세 시입니다. 늦지 마세요.",
	"A: 자료 준비는 끝났나요?\nB: 거의 다 됐습니다. 조금만 기다려 주세요.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfrender: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfrender: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var scriptsRaw string
	var jobTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "dialogttsd base URL")
	flag.IntVar(&cfg.jobs, "jobs", 10, "number of render jobs to submit")
	flag.IntVar(&cfg.workers, "workers", 0, "per-job synthesis workers (0 uses the server default)")
	flag.IntVar(&cfg.sampleRate, "sr", 0, "per-job sample rate (0 uses the server default)")
	flag.BoolVar(&cfg.stereo, "stereo", false, "request stereo renders")
	flag.IntVar(&jobTimeoutMS, "job-timeout-ms", 120000, "timeout per job in milliseconds")
	flag.StringVar(&scriptsRaw, "scripts", "", "scripts separated by '|' (newlines as \\n); default is a small Korean dialog set")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-job progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.jobs <= 0 {
		return options{}, fmt.Errorf("jobs must be > 0")
	}
	if jobTimeoutMS < 1000 {
		jobTimeoutMS = 1000
	}
	cfg.jobTimeout = time.Duration(jobTimeoutMS) * time.Millisecond

	if strings.TrimSpace(scriptsRaw) == "" {
		cfg.scripts = append([]string(nil), defaultScripts...)
	} else {
		for _, part := range strings.Split(scriptsRaw, "|") {
			s := strings.TrimSpace(strings.ReplaceAll(part, `\n`, "\n"))
			if s != "" {
				cfg.scripts = append(cfg.scripts, s)
			}
		}
		if len(cfg.scripts) == 0 {
			return options{}, fmt.Errorf("scripts produced no non-empty entries")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}

	// Clear the server's rolling window so the report covers this run only.
	_ = fetchJSON(ctx, httpClient, cfg.baseURL+"/v1/perf/latency?reset=1", nil)

	latencies := make([]float64, 0, cfg.jobs)
	for i := 0; i < cfg.jobs; i++ {
		scriptText := cfg.scripts[i%len(cfg.scripts)]
		started := time.Now()

		job, err := submitJob(ctx, httpClient, cfg, scriptText)
		if err != nil {
			return fmt.Errorf("job %d submit: %w", i+1, err)
		}
		if err := awaitJob(ctx, cfg, job.ID); err != nil {
			return fmt.Errorf("job %d (%s): %w", i+1, job.ID, err)
		}

		elapsed := time.Since(started)
		latencies = append(latencies, float64(elapsed.Milliseconds()))
		if cfg.verbose {
			fmt.Printf("perfrender: job %d/%d done in %s\n", i+1, cfg.jobs, elapsed.Round(time.Millisecond))
		}
	}

	report(latencies)

	var snapshot map[string]any
	if err := fetchJSON(ctx, httpClient, cfg.baseURL+"/v1/perf/latency", &snapshot); err == nil {
		pretty, _ := json.MarshalIndent(snapshot, "", "  ")
		fmt.Printf("server stages:\n%s\n", pretty)
	}
	return nil
}

func submitJob(ctx context.Context, client *http.Client, cfg options, scriptText string) (jobResponse, error) {
	payload, err := json.Marshal(createJobRequest{
		Script: scriptText,
		Options: jobOptions{
			SampleRate: cfg.sampleRate,
			Stereo:     cfg.stereo,
			Workers:    cfg.workers,
		},
	})
	if err != nil {
		return jobResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return jobResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return jobResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return jobResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return jobResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out jobResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return jobResponse{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return jobResponse{}, fmt.Errorf("missing job id in response")
	}
	return out, nil
}

// awaitJob follows the job's websocket until a terminal event.
func awaitJob(ctx context.Context, cfg options, jobID string) error {
	wsURL, err := wsURLForJob(cfg.baseURL, jobID)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.jobTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(cfg.jobTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev jobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		switch ev.State {
		case "done":
			return nil
		case "failed":
			return fmt.Errorf("job failed: %s", ev.Error)
		}
	}
}

func wsURLForJob(baseURL, jobID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/jobs/" + url.PathEscape(jobID) + "/ws"
	return u.String(), nil
}

func fetchJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func report(latencies []float64) {
	if len(latencies) == 0 {
		fmt.Println("perfrender: no completed jobs")
		return
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	fmt.Printf("perfrender: %d jobs  avg=%.0fms  p50=%.0fms  p95=%.0fms  max=%.0fms\n",
		len(sorted),
		sum/float64(len(sorted)),
		percentile(sorted, 0.50),
		percentile(sorted, 0.95),
		sorted[len(sorted)-1])
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
