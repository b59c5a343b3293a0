package session

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/offline_downloader/internal/assetcache"
	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/engine"
	"github.com/italolelis/offline_downloader/internal/resolver"
	"github.com/italolelis/offline_downloader/internal/storage"
	"github.com/italolelis/offline_downloader/internal/storage/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerEvents struct {
	mu              sync.Mutex
	wg              sync.WaitGroup
	progress        []ProgressUpdate
	done            []string
	resets          []FileReset
	fileFailures    []engine.FileFailure
	sessionFailures []SessionFailure
}

func collectManager(m *Manager) *managerEvents {
	e := &managerEvents{}
	e.wg.Add(5)

	go func() {
		defer e.wg.Done()

		for p := range m.OnProgress {
			e.mu.Lock()
			e.progress = append(e.progress, p)
			e.mu.Unlock()
		}
	}()

	go func() {
		defer e.wg.Done()

		for id := range m.OnVideoDone {
			e.mu.Lock()
			e.done = append(e.done, id)
			e.mu.Unlock()
		}
	}()

	go func() {
		defer e.wg.Done()

		for r := range m.OnFileReset {
			e.mu.Lock()
			e.resets = append(e.resets, r)
			e.mu.Unlock()
		}
	}()

	go func() {
		defer e.wg.Done()

		for f := range m.OnFileFailed {
			e.mu.Lock()
			e.fileFailures = append(e.fileFailures, f)
			e.mu.Unlock()
		}
	}()

	go func() {
		defer e.wg.Done()

		for f := range m.OnSessionFailed {
			e.mu.Lock()
			e.sessionFailures = append(e.sessionFailures, f)
			e.mu.Unlock()
		}
	}()

	return e
}

func (e *managerEvents) wait() *managerEvents {
	e.wg.Wait()

	return e
}

// contentServer serves a manifest for v1 plus the segment and asset bodies it
// references.
func contentServer(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()

	bodies := map[string][]byte{
		"/files/seg0.ts":    []byte("segment-zero-bytes"),
		"/files/seg1.ts":    []byte("segment-one-bytes!"),
		"/files/poster.jpg": []byte("poster"),
	}

	var baseURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/videos/v1/manifest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"files": [
			{"url": "%[1]s/files/seg0.ts"},
			{"url": "%[1]s/files/seg1.ts"},
			{"url": "%[1]s/files/poster.jpg", "kind": "asset"}
		]}`, baseURL)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(body))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	baseURL = srv.URL

	return srv, bodies
}

func newTestManager(store storage.Store, assetStore storage.AssetStore, baseURL string) *Manager {
	opts := []Option{
		WithMaxParallel(2),
		WithEngineOptions(engine.WithChunkSize(7), engine.WithMaxAttempts(2), engine.WithRetryInterval(time.Millisecond)),
	}

	if assetStore != nil {
		opts = append(opts, WithAssetCache(assetcache.New(http.DefaultClient, assetStore)))
	}

	return NewManager(store, resolver.NewManifestResolver(http.DefaultClient, baseURL), http.DefaultClient, opts...)
}

func TestDownload_FullSession(t *testing.T) {
	ctx := context.Background()
	srv, bodies := contentServer(t)

	store := inmem.NewStore()
	m := newTestManager(store, store, srv.URL)
	ev := collectManager(m)

	require.NoError(t, m.Download(ctx, "v1"))
	m.Close()
	ev.wait()

	assert.Equal(t, []string{"v1"}, ev.done)
	assert.Empty(t, ev.fileFailures)

	require.NotEmpty(t, ev.progress)
	assert.InDelta(t, 100, ev.progress[len(ev.progress)-1].Percent, 1e-9)

	assert.Equal(t, bodies["/files/seg0.ts"], store.ChunkData(srv.URL+"/files/seg0.ts"))
	assert.Equal(t, bodies["/files/seg1.ts"], store.ChunkData(srv.URL+"/files/seg1.ts"))

	asset, err := store.GetAsset(ctx, "v1", srv.URL+"/files/poster.jpg")
	require.NoError(t, err)
	assert.Equal(t, bodies["/files/poster.jpg"], asset)

	meta, err := store.GetVideoMeta(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, meta.Done)
}

func TestDownload_ResumesPersistedProgress(t *testing.T) {
	ctx := context.Background()
	srv, bodies := contentServer(t)

	store := inmem.NewStore()

	seg0 := srv.URL + "/files/seg0.ts"
	body := bodies["/files/seg0.ts"]

	// Interrupted earlier session: half of seg0 is already on disk.
	half := int64(len(body) / 2)
	require.NoError(t, store.PutFileMeta(ctx, download.FileMeta{
		VideoID:         "v1",
		URL:             seg0,
		BytesTotal:      int64(len(body)),
		BytesDownloaded: half,
	}))
	require.NoError(t, store.PutChunk(ctx, seg0, 0, body[:half]))

	m := newTestManager(store, nil, srv.URL)
	ev := collectManager(m)

	require.NoError(t, m.Download(ctx, "v1"))
	m.Close()
	ev.wait()

	assert.Equal(t, []string{"v1"}, ev.done)
	assert.Equal(t, body, store.ChunkData(seg0))
}

func TestDownload_ResolutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := inmem.NewStore()
	m := newTestManager(store, nil, srv.URL)
	ev := collectManager(m)

	err := m.Download(context.Background(), "v1")

	m.Close()
	ev.wait()

	var resErr *download.ResolutionError

	require.ErrorAs(t, err, &resErr)
}

func TestDownloadAll_ReportsFailedSessions(t *testing.T) {
	srv, bodies := contentServer(t)

	store := inmem.NewStore()
	m := newTestManager(store, nil, srv.URL)
	ev := collectManager(m)

	// v2 has no manifest and must not prevent v1 from finishing.
	require.NoError(t, m.DownloadAll(context.Background(), []string{"v1", "v2"}))
	m.Close()
	ev.wait()

	assert.Equal(t, []string{"v1"}, ev.done)
	require.Len(t, ev.sessionFailures, 1)
	assert.Equal(t, "v2", ev.sessionFailures[0].VideoID)

	assert.Equal(t, bodies["/files/seg0.ts"], store.ChunkData(srv.URL+"/files/seg0.ts"))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	srv, _ := contentServer(t)

	store := inmem.NewStore()
	m := newTestManager(store, nil, srv.URL)
	ev := collectManager(m)

	_, err := m.Status(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, m.Download(ctx, "v1"))
	m.Close()
	ev.wait()

	status, err := m.Status(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, status.Done)
	assert.InDelta(t, 100, status.Percent, 1e-9)
	assert.Len(t, status.Files, 2)
}
