package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jijae92/mactts/internal/config"
	"github.com/jijae92/mactts/internal/engine"
	"github.com/jijae92/mactts/internal/jobruntime"
	"github.com/jijae92/mactts/internal/jobs"
	"github.com/jijae92/mactts/internal/speakers"
	"github.com/jijae92/mactts/internal/tts"
)

func newTestServer(t *testing.T) (*httptest.Server, *jobruntime.Service) {
	t.Helper()
	synth := &tts.MockSynthesizer{SampleRate: 8000}
	spk := speakers.Map{
		"A": {VoiceName: "mock-a"},
		"B": {VoiceName: "mock-b"},
	}
	svc := jobruntime.New(
		jobruntime.Config{OutputDir: t.TempDir(), JobTimeout: 10 * time.Second},
		synth, nil, engine.NewDisabledCache(), spk, jobs.NewMemoryStore(),
		engine.Options{SampleRate: 8000, RetryBase: time.Millisecond},
		nil,
	)
	t.Cleanup(func() { _ = svc.Close() })

	srv := New(config.Config{SampleRate: 8000}, svc, synth, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, svc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func createJob(t *testing.T, ts *httptest.Server, scriptText string) jobs.Job {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/jobs", createJobRequest{
		Script:  scriptText,
		Options: jobs.Options{SampleRate: 8000},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create job status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func waitForDone(t *testing.T, svc *jobruntime.Service, jobID string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if job.State == jobs.JobStateDone || job.State == jobs.JobStateFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return jobs.Job{}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["backend"] != "mock" {
		t.Fatalf("backend = %v, want %q", body["backend"], "mock")
	}
	if body["job_store_mode"] != "in-memory" {
		t.Fatalf("job_store_mode = %v, want %q", body["job_store_mode"], "in-memory")
	}
}

func TestCreateAndGetJob(t *testing.T) {
	ts, svc := newTestServer(t)

	job := createJob(t, ts, "A: 안녕하세요.\nB: 반갑습니다.")
	if job.ID == "" {
		t.Fatal("created job has no id")
	}
	waitForDone(t, svc, job.ID)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.State != jobs.JobStateDone {
		t.Fatalf("State = %q (error %q), want %q", got.State, got.Error, jobs.JobStateDone)
	}
}

func TestCreateJobWithInlineSpeakers(t *testing.T) {
	ts, svc := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/jobs", createJobRequest{
		Script: "민지: 안녕하세요.\n철수: 반갑습니다.",
		Speakers: map[string]*speakers.Config{
			"민지": {VoiceName: "mock-minji"},
			"철수": {VoiceName: "mock-chulsoo"},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}

	done := waitForDone(t, svc, job.ID)
	if done.State != jobs.JobStateDone {
		t.Fatalf("State = %q (error %q), want %q", done.State, done.Error, jobs.JobStateDone)
	}
}

func TestCreateJobRejectsEmptyScript(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/jobs", createJobRequest{Script: "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/jobs/no-such-job")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestListJobs(t *testing.T) {
	ts, svc := newTestServer(t)

	job := createJob(t, ts, "A: 안녕하세요.")
	waitForDone(t, svc, job.ID)

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=5")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].ID != job.ID {
		t.Fatalf("jobs = %+v, want the one created job", body.Jobs)
	}
}

func TestJobAudioDownload(t *testing.T) {
	ts, svc := newTestServer(t)

	job := createJob(t, ts, "A: 안녕하세요.")
	done := waitForDone(t, svc, job.ID)
	if done.State != jobs.JobStateDone {
		t.Fatalf("State = %q (error %q)", done.State, done.Error)
	}

	resp, err := http.Get(ts.URL + "/v1/jobs/" + job.ID + "/audio")
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	buf := make([]byte, 4)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(buf) != "RIFF" {
		t.Fatalf("body starts with %q, want RIFF", buf)
	}
}

func TestListVoices(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET voices: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		Backend string      `json:"backend"`
		Voices  []tts.Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Backend != "mock" || len(body.Voices) == 0 {
		t.Fatalf("backend = %q voices = %d, want mock with voices", body.Backend, len(body.Voices))
	}
}

func TestPreviewTTS(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/tts/preview", previewRequest{Text: "안녕하세요."})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("Content-Type = %q, want audio/wav", ct)
	}
}

func TestPreviewTTSRequiresText(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/tts/preview", previewRequest{Text: ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestJobWSSendsTerminalSnapshot(t *testing.T) {
	ts, svc := newTestServer(t)

	job := createJob(t, ts, "A: 안녕하세요.")
	waitForDone(t, svc, job.ID)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/jobs/" + job.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	var ev jobs.Event
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != jobs.EventDone || ev.State != jobs.JobStateDone {
		t.Fatalf("event = %+v, want done snapshot", ev)
	}
}

func TestJobWSRejectsForeignOrigin(t *testing.T) {
	ts, svc := newTestServer(t)

	job := createJob(t, ts, "A: 안녕하세요.")
	waitForDone(t, svc, job.ID)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/jobs/" + job.ID + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("dial succeeded with a foreign Origin")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}
