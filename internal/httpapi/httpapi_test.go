package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/auth/domain"
	"github.com/yunfie-twitter/ytdlp-api/internal/config"
	"github.com/yunfie-twitter/ytdlp-api/internal/coordination"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/progress"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
	"github.com/yunfie-twitter/ytdlp-api/internal/store/inmemory"
	"github.com/yunfie-twitter/ytdlp-api/internal/subprocess"
)

type fakeRunner struct {
	probeResult subprocess.ProbeResult
	probeErr    error
	subtitles   string
	subErr      error
}

func (r *fakeRunner) Probe(context.Context, string) (subprocess.ProbeResult, error) {
	return r.probeResult, r.probeErr
}
func (r *fakeRunner) RunDownload(context.Context, subprocess.RunSpec, subprocess.OnProgress) (subprocess.RunResult, error) {
	return subprocess.RunResult{}, nil
}
func (r *fakeRunner) Cancel(string) error { return nil }
func (r *fakeRunner) Subtitles(context.Context, string, string) (string, error) {
	return r.subtitles, r.subErr
}

type fakeScheduler struct {
	cancelled model.Task
	err       error
}

func (s *fakeScheduler) Cancel(context.Context, string) (model.Task, error) {
	return s.cancelled, s.err
}
func (s *fakeScheduler) ActiveCount() int { return 0 }

type fakeAuth struct{}

func (fakeAuth) Verify(context.Context, string) (model.APIKeyRecord, error) {
	return model.APIKeyRecord{KeyID: "k1", Subject: "tester", Active: true}, nil
}
func (fakeAuth) IssueKey(_ context.Context, password, subject, description string) (string, model.APIKeyRecord, error) {
	if password != "secret" {
		return "", model.APIKeyRecord{}, domain.ErrInvalidCredentials
	}
	return "signed-token", model.APIKeyRecord{KeyID: "k1", Subject: subject, Description: description, Active: true}, nil
}
func (fakeAuth) RevokeKey(context.Context, string) error { return nil }

func newTestServer(t *testing.T) (*Server, store.TaskStore, coordination.Coordinator) {
	t.Helper()
	st := inmemory.New()
	coord := coordination.NewInmemoryCoordinator()
	tracker := progress.New(coord, time.Minute, nil)
	cfg := config.Defaults()
	cfg.DownloadDir = t.TempDir()
	srv := NewServer(st, coord, &fakeRunner{}, nil, &fakeScheduler{}, tracker, fakeAuth{}, cfg)
	return srv, st, coord
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.NewRouter(nil).ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateTaskRejectsInvalidURL(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/download", map[string]any{"url": "not a url"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", rec.Code, rec.Body.String())
	}
	var envelope errorEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	if envelope.ErrorCode != "INVALID_URL" {
		t.Errorf("error_code = %q, want INVALID_URL", envelope.ErrorCode)
	}
}

func TestHandleCreateTaskEnqueuesAndPersists(t *testing.T) {
	srv, st, coord := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/download", map[string]any{
		"url": "https://example.test/v/abc", "format": "mp4", "quality": "720p",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", rec.Code, rec.Body.String())
	}
	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(model.StatusPending) {
		t.Errorf("Status = %q, want pending", resp.Status)
	}

	if _, err := st.Get(context.Background(), resp.ID); err != nil {
		t.Errorf("task not persisted: %v", err)
	}
	n, err := coord.QueueLen(context.Background())
	if err != nil || n != 1 {
		t.Errorf("QueueLen = (%d, %v), want (1, nil)", n, err)
	}
}

func TestHandleGetStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/status/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDownloadArtifactRejectsNonCompletedTask(t *testing.T) {
	srv, st, _ := newTestServer(t)
	now := time.Now()
	task, err := st.Create(context.Background(), model.Task{
		ID: "t1", SourceURL: "https://example.test/v", Status: model.StatusDownloading,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	rec := doRequest(srv, http.MethodGet, "/api/download/"+task.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestHandleListTasksCapsLimit(t *testing.T) {
	srv, st, _ := newTestServer(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		_, err := st.Create(context.Background(), model.Task{
			ID: "t" + string(rune('a'+i)), SourceURL: "https://example.test/v", Status: model.StatusCompleted,
			OutputPath: "x", OutputSize: 1, Percent: 100, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}
	rec := doRequest(srv, http.MethodGet, "/api/tasks?limit=999999", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Tasks []taskResponse `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tasks) != 3 {
		t.Errorf("len(tasks) = %d, want 3", len(body.Tasks))
	}
}

func TestHandleIssueKeyRejectsWrongPassword(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/auth/issue-key", map[string]any{
		"password": "wrong", "subject": "alice",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleIssueKeyAcceptsCorrectPassword(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/auth/issue-key", map[string]any{
		"password": "secret", "subject": "alice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleQueueStatsReportsDepth(t *testing.T) {
	srv, _, coord := newTestServer(t)
	if err := coord.Enqueue(context.Background(), model.Job{TaskID: "t1"}); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	rec := doRequest(srv, http.MethodGet, "/api/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats queueStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", stats.QueueDepth)
	}
}

func TestHandleHealthReportsReady(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateTaskRejectsUnknownFormat(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.formats = subprocess.NewFormatsTable([]subprocess.ContainerFormat{
		{Container: "mp4", DefaultYTDLP: "best"},
	})
	rec := doRequest(srv, http.MethodPost, "/api/download", map[string]any{
		"url": "https://example.test/v/abc", "format": "webm",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", rec.Code, rec.Body.String())
	}
	var envelope errorEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	if envelope.ErrorCode != "INVALID_FORMAT" {
		t.Errorf("error_code = %q, want INVALID_FORMAT", envelope.ErrorCode)
	}
}

func TestHandleSubtitlesFeatureGateDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.cfg.EnabledFeatures = map[string]bool{"subtitles": false}
	rec := doRequest(srv, http.MethodGet, "/api/subtitles?url=https://example.test/v&lang=en", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body=%s", rec.Code, rec.Body.String())
	}
}
