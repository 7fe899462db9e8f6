package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reelforge/internal/broker"
	"reelforge/internal/models"
	"reelforge/internal/pipeline"
	"reelforge/internal/ratelimit"
	"reelforge/internal/worker"
)

type gatedRunner struct {
	started chan string
	release chan struct{}
}

func (g *gatedRunner) Run(ctx context.Context, id, prompt string, logger pipeline.Logger) (*models.VideoData, error) {
	logger.Printf("generating script")
	g.started <- id
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	logger.Printf("final video saved seasons.mp4")
	return &models.VideoData{FinalVideoPath: "videos/seasons/seasons.mp4", JSONData: &models.ScriptPlan{Video: models.VideoPlan{Title: "Seasons"}}}, nil
}

type fixture struct {
	srv    *httptest.Server
	broker *broker.Broker
	proc   *worker.Processor
	runner *gatedRunner
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	b := broker.New(log.New(io.Discard, "", 0))
	runner := &gatedRunner{started: make(chan string, 4), release: make(chan struct{})}
	proc := worker.NewProcessor(b, runner)
	srv := httptest.NewServer(New(b, proc, limiter).Router())
	t.Cleanup(func() {
		b.AbortAll()
		proc.Wait()
		srv.Close()
	})
	return &fixture{srv: srv, broker: b, proc: proc, runner: runner}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	out := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) submit(t *testing.T) string {
	t.Helper()
	resp, body := f.post(t, "/generate/video", `{"prompt":"A video about the four seasons"}`)
	if resp.StatusCode != http.StatusAccepted || body["eventId"] == "" {
		t.Fatalf("submit: %d %v", resp.StatusCode, body)
	}
	<-f.runner.started
	return body["eventId"]
}

// readStream collects every event until the server closes the stream.
// onFirst runs once the first event has arrived.
func readStream(t *testing.T, url string, onFirst func()) []models.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}
	var events []models.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, ev)
		if len(events) == 1 && onFirst != nil {
			onFirst()
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stream: %v", err)
	}
	return events
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{`{"prompt":""}`, `{}`, `not json`} {
		resp, out := f.post(t, "/generate/video", body)
		if resp.StatusCode != http.StatusBadRequest || out["error"] != "Prompt is required." {
			t.Fatalf("%s: %d %v", body, resp.StatusCode, out)
		}
	}
	if len(f.broker.List()) != 0 {
		t.Fatalf("rejected prompts created jobs")
	}
}

func TestEventsStreamToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t)

	events := readStream(t, f.srv.URL+"/events/"+id, func() { close(f.runner.release) })
	if len(events) < 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Status != models.StatusProgress || events[0].Message != "" {
		t.Fatalf("first event should be a bare progress marker: %+v", events[0])
	}
	if events[1].Message != "generating script" {
		t.Fatalf("buffered line not replayed first: %+v", events[1])
	}
	last := events[len(events)-1]
	if last.Status != models.StatusFinished || last.VideoData == nil || last.VideoData.JSONData.Video.Title != "Seasons" {
		t.Fatalf("terminal event = %+v", last)
	}
	if last.Message != "Video generation completed!" {
		t.Fatalf("terminal message = %q", last.Message)
	}
}

func TestEventsUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	events := readStream(t, f.srv.URL+"/events/missing", nil)
	if len(events) != 1 || events[0].Error != "Event not found" || events[0].Status != models.StatusFinished {
		t.Fatalf("events = %+v", events)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	if resp, _ := f.post(t, "/generate/cancel/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel unknown: %d", resp.StatusCode)
	}

	id := f.submit(t)
	resp, body := f.post(t, "/generate/cancel/"+id, "")
	if resp.StatusCode != http.StatusOK || body["message"] == "" {
		t.Fatalf("cancel: %d %v", resp.StatusCode, body)
	}
	events := readStream(t, f.srv.URL+"/events/"+id, nil)
	last := events[len(events)-1]
	if last.Status != models.StatusCancelled || last.Message != "Video generation was cancelled." {
		t.Fatalf("terminal event = %+v", last)
	}
	f.proc.Wait()
	if resp, out := f.post(t, "/generate/cancel/"+id, ""); resp.StatusCode != http.StatusNotFound || out["error"] != "Event not found or already completed." {
		t.Fatalf("cancel after terminal: %d %v", resp.StatusCode, out)
	}
}

func TestJobsEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t)

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/jobs/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete running job: %v %v", resp, err)
	}
	resp.Body.Close()

	close(f.runner.release)
	f.proc.Wait()

	resp, err = http.Get(f.srv.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	var snap models.JobSnapshot
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if snap.Status != models.StatusFinished || len(snap.Logs) != 2 || snap.Result == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	resp, _ = http.Get(f.srv.URL + "/jobs")
	var list struct {
		Jobs []models.JobSnapshot `json:"jobs"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Jobs) != 1 || list.Jobs[0].ID != id || list.Jobs[0].Logs != nil {
		t.Fatalf("list = %+v", list)
	}

	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete finished job: %d", resp.StatusCode)
	}
	resp, _ = http.Get(f.srv.URL + "/jobs/" + id)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("removed job still visible: %d", resp.StatusCode)
	}

	resp, _ = http.Get(f.srv.URL + "/jobs/" + id + "/audit")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("audit without store: %d", resp.StatusCode)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.NewLocal(1, 0.001, time.Minute))
	f.submit(t)
	resp, body := f.post(t, "/generate/video", `{"prompt":"again"}`)
	if resp.StatusCode != http.StatusTooManyRequests || body["error"] == "" {
		t.Fatalf("second submit: %d %v", resp.StatusCode, body)
	}
	if resp, err := http.Get(f.srv.URL + "/healthz"); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must not be limited")
	}
}

func TestStatusWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	var w http.ResponseWriter = sw
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatalf("statusWriter must implement http.Flusher")
	}
	_, _ = sw.Write([]byte("data: {}\n\n"))
	f.Flush()
	if !rec.Flushed || sw.status != http.StatusOK || sw.bytes != 10 {
		t.Fatalf("flushed=%v status=%d bytes=%d", rec.Flushed, sw.status, sw.bytes)
	}
}
