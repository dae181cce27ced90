package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tmsylvan/corrigo/internal/backend"
	"github.com/tmsylvan/corrigo/internal/blob"
	"github.com/tmsylvan/corrigo/internal/engine"
	"github.com/tmsylvan/corrigo/internal/model"
	"github.com/tmsylvan/corrigo/internal/outcome"
	"github.com/tmsylvan/corrigo/internal/session"
	"github.com/tmsylvan/corrigo/internal/stats"
	"github.com/tmsylvan/corrigo/internal/store"
)

// fakeClient is a backend.Client completed by the test, so submissions stay
// observable in their waiting state.
type fakeClient struct {
	mu      sync.Mutex
	nextRef int
	jobs    map[string]backend.CompletionFunc
}

func newFakeClient() *fakeClient {
	return &fakeClient{jobs: make(map[string]backend.CompletionFunc)}
}

func (c *fakeClient) Dispatch(_ int, _ model.Task, _ model.Input, onComplete backend.CompletionFunc, _ backend.DebugFunc, _ string, _ bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRef++
	ref := fmt.Sprintf("job-%d", c.nextRef)
	c.jobs[ref] = onComplete
	return ref, nil
}

func (c *fakeClient) complete(ref string, res backend.JobResult) {
	c.mu.Lock()
	cb := c.jobs[ref]
	delete(c.jobs, ref)
	c.mu.Unlock()
	if cb != nil {
		cb(res)
	}
}

func (c *fakeClient) Cancel(jobRef string) bool {
	c.mu.Lock()
	_, ok := c.jobs[jobRef]
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.complete(jobRef, backend.JobResult{Outcome: model.OutcomeKilled, Feedback: "Job was killed"})
	return true
}

func (c *fakeClient) QueueSnapshot() model.QueueSnapshot { return model.QueueSnapshot{} }

func (c *fakeClient) QueuePosition(string) (model.QueuePosition, bool) {
	return model.QueuePosition{}, false
}

func (c *fakeClient) AvailableEnvironments() []string { return []string{"default"} }

// testFixture bundles the server with the collaborators tests poke at.
type testFixture struct {
	srv    *Server
	store  store.Store
	client *fakeClient
}

func newTestServer(t *testing.T) *testFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	fc := newFakeClient()
	dir := session.NewStaticDirectory()
	dir.AddStaff("course1", "teacher")

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewManager(s, blobs, fc, dir, stats.NewStoreRecorder(s, logger), outcome.NopReporter{}, logger)

	auth := session.NewTokenAuthenticator(nil)
	auth.Add("alice-token", &session.Session{Username: "alice", Locale: "en"})
	auth.Add("bob-token", &session.Session{Username: "bob"})
	auth.Add("teacher-token", &session.Session{Username: "teacher"})

	tasks := NewStaticTasks()
	tasks.Add(model.Task{
		CourseID:          "course1",
		TaskID:            "task1",
		StoredSubmissions: 5,
		Evaluation:        model.RetainLast,
		Environment:       "default",
	})

	return &testFixture{
		srv:    NewServer(":0", eng, s, auth, dir, tasks, logger),
		store:  s,
		client: fc,
	}
}

func TestPanicRecovery(t *testing.T) {
	f := newTestServer(t)
	f.srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	f := newTestServer(t)
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /healthz: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestHealthz(t *testing.T) {
	f := newTestServer(t)
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz body: %v", err)
	}
	if body.Status != "ok" || body.Service != "corrigo" {
		t.Errorf("body = %+v, want status ok service corrigo", body)
	}
}
