package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/session"
	"github.com/italolelis/offline_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	mu       sync.Mutex
	statuses map[string]*session.Status
	active   map[string]bool
	started  chan string
}

func newStubService() *stubService {
	return &stubService{
		statuses: make(map[string]*session.Status),
		active:   make(map[string]bool),
		started:  make(chan string, 8),
	}
}

func (s *stubService) Download(_ context.Context, videoID string) error {
	s.started <- videoID

	return nil
}

func (s *stubService) Status(_ context.Context, videoID string) (*session.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[videoID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return status, nil
}

func (s *stubService) Active(videoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active[videoID]
}

type stubPurger struct {
	mu     sync.Mutex
	purged []string
	err    error
}

func (p *stubPurger) Purge(_ context.Context, videoID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.purged = append(p.purged, videoID)

	return nil
}

func newTestServer(t *testing.T, svc SessionService, purger Purger) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(NewVideoHandler(svc, purger).Routes())
	t.Cleanup(srv.Close)

	return srv
}

func TestHandleStartDownload(t *testing.T) {
	svc := newStubService()
	srv := newTestServer(t, svc, &stubPurger{})

	resp, err := http.Post(srv.URL+"/videos/v1/downloads", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "v1", body["video_id"])
	assert.Equal(t, "started", body["status"])

	select {
	case id := <-svc.started:
		assert.Equal(t, "v1", id)
	case <-time.After(time.Second):
		t.Fatal("download was never started")
	}
}

func TestHandleStartDownload_Conflict(t *testing.T) {
	svc := newStubService()
	svc.active["v1"] = true

	srv := newTestServer(t, svc, &stubPurger{})

	resp, err := http.Post(srv.URL+"/videos/v1/downloads", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, svc.started)
}

func TestHandleProgress(t *testing.T) {
	svc := newStubService()
	svc.statuses["v1"] = &session.Status{VideoID: "v1", Percent: 20, Files: []download.FileMeta{{URL: "u0"}}}

	srv := newTestServer(t, svc, &stubPurger{})

	resp, err := http.Get(srv.URL + "/videos/v1/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		VideoID string  `json:"video_id"`
		Percent float64 `json:"percent"`
		Done    bool    `json:"done"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "v1", body.VideoID)
	assert.InDelta(t, 20, body.Percent, 1e-9)
	assert.False(t, body.Done)
}

func TestHandleProgress_NotFound(t *testing.T) {
	srv := newTestServer(t, newStubService(), &stubPurger{})

	resp, err := http.Get(srv.URL + "/videos/missing/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStatus(t *testing.T) {
	svc := newStubService()
	svc.statuses["v1"] = &session.Status{
		VideoID: "v1",
		Percent: 100,
		Done:    true,
		Files: []download.FileMeta{
			{VideoID: "v1", URL: "u0", BytesTotal: 10, BytesDownloaded: 10, Done: true},
		},
	}

	srv := newTestServer(t, svc, &stubPurger{})

	resp, err := http.Get(srv.URL + "/videos/v1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status session.Status

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Done)
	require.Len(t, status.Files, 1)
	assert.Equal(t, int64(10), status.Files[0].BytesDownloaded)
}

func TestHandleDelete(t *testing.T) {
	svc := newStubService()
	purger := &stubPurger{}
	srv := newTestServer(t, svc, purger)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/videos/v1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"v1"}, purger.purged)
}

func TestHandleDelete_ConflictWhileDownloading(t *testing.T) {
	svc := newStubService()
	svc.active["v1"] = true

	purger := &stubPurger{}
	srv := newTestServer(t, svc, purger)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/videos/v1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, purger.purged)
}
