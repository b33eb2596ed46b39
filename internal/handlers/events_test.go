package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/jwebster45206/vtt-forge/internal/services/events"
	"github.com/jwebster45206/vtt-forge/internal/services/queue"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	queuePkg "github.com/jwebster45206/vtt-forge/pkg/queue"
)

type eventsFixture struct {
	server      *httptest.Server
	jobs        *queue.JobQueue
	broadcaster *events.Broadcaster
}

func newEventsFixture(t *testing.T) *eventsFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client, err := queue.NewClient(context.Background(), mr.Addr(), testLogger())
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}
	jobs := queue.NewJobQueue(client, testLogger())
	server := httptest.NewServer(NewEventsHandler(client.Redis(), jobs, testLogger()))
	t.Cleanup(func() {
		server.Close()
		_ = client.Close()
		mr.Close()
	})
	return &eventsFixture{
		server:      server,
		jobs:        jobs,
		broadcaster: events.NewBroadcaster(client.Redis(), testLogger()),
	}
}

type sseEvent struct {
	Type string
	Data string
}

// readEvent returns the next event, skipping keepalive comments.
func readEvent(r *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.Type != "":
			return ev, nil
		}
	}
}

func openStream(t *testing.T, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestEventsHandler_StreamsJobUntilFinished(t *testing.T) {
	f := newEventsFixture(t)
	job, err := f.jobs.Enqueue(context.Background(), content.GenerationRequest{Kind: content.KindNPC})
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	resp, r := openStream(t, f.server.URL+"/v1/events/jobs/"+job.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	ev, err := readEvent(r)
	if err != nil || ev.Type != "connected" {
		t.Fatalf("Expected connected event, got %+v (%v)", ev, err)
	}

	ctx := context.Background()
	if err := f.broadcaster.PublishJobRunning(ctx, job.ID, "npc", "worker-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := f.broadcaster.PublishJobCompleted(ctx, job.ID, "npc", "succeeded", "actor-1", 1200); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev, err = readEvent(r)
	if err != nil || ev.Type != string(events.EventTypeJobRunning) {
		t.Fatalf("Expected job.running, got %+v (%v)", ev, err)
	}
	ev, err = readEvent(r)
	if err != nil || ev.Type != string(events.EventTypeJobCompleted) {
		t.Fatalf("Expected job.completed, got %+v (%v)", ev, err)
	}
	var payload events.Event
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if payload.JobID != job.ID || payload.Data["entity_id"] != "actor-1" {
		t.Errorf("unexpected payload %+v", payload)
	}

	if _, err := readEvent(r); !errors.Is(err, io.EOF) {
		t.Errorf("Expected the stream to end after job.completed, got %v", err)
	}
}

func TestEventsHandler_FinishedJobSnapshot(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	job, err := f.jobs.Enqueue(ctx, content.GenerationRequest{Kind: content.KindItem})
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	job.Status = queuePkg.StatusFailed
	job.Error = "transport error during text: status 502"
	job.ErrorCategory = "transport"
	if err := f.jobs.Save(ctx, job); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	_, r := openStream(t, f.server.URL+"/v1/events/jobs/"+job.ID)
	if ev, err := readEvent(r); err != nil || ev.Type != "connected" {
		t.Fatalf("Expected connected event, got %+v (%v)", ev, err)
	}
	ev, err := readEvent(r)
	if err != nil || ev.Type != string(events.EventTypeJobFailed) {
		t.Fatalf("Expected job.failed, got %+v (%v)", ev, err)
	}
	if !strings.Contains(ev.Data, `"error_category":"transport"`) {
		t.Errorf("Expected error category in %s", ev.Data)
	}
	if _, err := readEvent(r); !errors.Is(err, io.EOF) {
		t.Errorf("Expected the stream to end, got %v", err)
	}
}

func TestEventsHandler_AllJobs(t *testing.T) {
	f := newEventsFixture(t)

	_, r := openStream(t, f.server.URL+"/v1/events/jobs")
	if ev, err := readEvent(r); err != nil || ev.Type != "connected" {
		t.Fatalf("Expected connected event, got %+v (%v)", ev, err)
	}

	id := uuid.NewString()
	if err := f.broadcaster.PublishJobQueued(context.Background(), id, "quest"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev, err := readEvent(r)
	if err != nil || ev.Type != string(events.EventTypeJobQueued) {
		t.Fatalf("Expected job.queued, got %+v (%v)", ev, err)
	}
	if !strings.Contains(ev.Data, id) {
		t.Errorf("Expected job id %s in %s", id, ev.Data)
	}
}

func TestEventsHandler_Rejects(t *testing.T) {
	f := newEventsFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"post", http.MethodPost, "/v1/events/jobs", http.StatusMethodNotAllowed},
		{"bad id", http.MethodGet, "/v1/events/jobs/not-a-uuid", http.StatusBadRequest},
		{"nested path", http.MethodGet, "/v1/events/jobs/a/b", http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/v1/events/jobs/" + uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.server.URL+tt.path, nil)
			if err != nil {
				t.Fatalf("Failed to build request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
