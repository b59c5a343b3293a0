// Package session orchestrates one download per video: it resolves the fresh
// file set, merges it with persisted progress, then runs the transfer engine
// against the storage coordinator and fans the per-video events out on the
// manager's channels.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/italolelis/offline_downloader/internal/assetcache"
	"github.com/italolelis/offline_downloader/internal/coordinator"
	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/engine"
	"github.com/italolelis/offline_downloader/internal/logctx"
	"github.com/italolelis/offline_downloader/internal/resolver"
	"github.com/italolelis/offline_downloader/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrSessionActive is returned when a download is requested for a video that
// already has a running session.
var ErrSessionActive = errors.New("download session already active")

type ProgressUpdate struct {
	VideoID string
	Percent float64
}

type FileReset struct {
	VideoID string
	URL     string
}

type SessionFailure struct {
	VideoID string
	Err     error
}

// Status is the queryable state of a video's download.
type Status struct {
	VideoID string              `json:"video_id"`
	Percent float64             `json:"percent"`
	Done    bool                `json:"done"`
	Files   []download.FileMeta `json:"files"`
}

type Manager struct {
	store       storage.Store
	res         resolver.Resolver
	client      *http.Client
	assets      *assetcache.Cache
	maxParallel int
	engineOpts  []engine.Option

	mu       sync.Mutex
	sessions map[string]*coordinator.Coordinator

	OnProgress      chan ProgressUpdate
	OnVideoDone     chan string
	OnFileFailed    chan engine.FileFailure
	OnFileReset     chan FileReset
	OnSessionFailed chan SessionFailure
}

type Option func(*Manager)

// WithAssetCache enables caching of the manifest's side resources before the
// media download starts.
func WithAssetCache(c *assetcache.Cache) Option {
	return func(m *Manager) { m.assets = c }
}

// WithMaxParallel bounds how many videos DownloadAll works on at once.
func WithMaxParallel(n int) Option {
	return func(m *Manager) { m.maxParallel = n }
}

// WithEngineOptions forwards options to every session's transfer engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(m *Manager) { m.engineOpts = opts }
}

func NewManager(store storage.Store, res resolver.Resolver, client *http.Client, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		res:         res,
		client:      client,
		maxParallel: 1,
		sessions:    make(map[string]*coordinator.Coordinator),

		OnProgress:      make(chan ProgressUpdate),
		OnVideoDone:     make(chan string),
		OnFileFailed:    make(chan engine.FileFailure),
		OnFileReset:     make(chan FileReset),
		OnSessionFailed: make(chan SessionFailure),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Close() {
	close(m.OnProgress)
	close(m.OnVideoDone)
	close(m.OnFileFailed)
	close(m.OnFileReset)
	close(m.OnSessionFailed)
}

// Download runs one full session for a video and blocks until it finishes.
// It returns an error when the session could not complete every file; partial
// progress is already persisted and a later call resumes from it.
func (m *Manager) Download(ctx context.Context, videoID string) error {
	logger := logctx.LoggerFromContext(ctx).With("video_id", videoID)
	ctx = logctx.WithLogger(ctx, logger)

	sources, err := m.res.Resolve(ctx, videoID)
	if err != nil {
		return err
	}

	if m.assets != nil {
		if err := m.assets.FetchAll(ctx, videoID, sources); err != nil {
			// Assets are side resources; their failure never blocks the video.
			logger.Warn("failed to cache assets", "err", err)
		}
	}

	media := resolver.Media(sources)

	fresh := make([]download.FileMeta, 0, len(media))
	for i, s := range media {
		fresh = append(fresh, download.FileMeta{VideoID: videoID, URL: s.URL, Position: i})
	}

	persisted, err := m.store.GetFileMetaByVideo(ctx, videoID)
	if err != nil {
		return &download.StorageError{Op: "get_file_meta", Key: videoID, Err: err}
	}

	working := download.Merge(fresh, persisted)

	coord := coordinator.New(m.store, videoID, working)

	if err := m.register(videoID, coord); err != nil {
		return err
	}
	defer m.unregister(videoID)

	eng := engine.New(m.client, coord, m.engineOpts...)

	var wg sync.WaitGroup

	m.forward(&wg, videoID, coord, eng)

	runErr := func() error {
		defer func() {
			eng.Close()
			coord.Close()
			wg.Wait()
		}()

		if err := coord.Begin(ctx); err != nil {
			return err
		}

		failed, err := eng.Run(ctx, coord.Files())
		if err != nil {
			return err
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(working))
		}

		return nil
	}()

	if runErr != nil {
		return fmt.Errorf("session for video %s: %w", videoID, runErr)
	}

	logger.Info("video download finished", "files", len(working))

	return nil
}

// DownloadAll runs sessions for every video, at most maxParallel at a time.
// Individual session failures are reported on OnSessionFailed; only
// cancellation stops the whole batch.
func (m *Manager) DownloadAll(ctx context.Context, videoIDs []string) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(m.maxParallel)

	for _, videoID := range videoIDs {
		videoID := videoID

		wg.Go(func() error {
			if err := m.Download(ctx, videoID); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				m.OnSessionFailed <- SessionFailure{VideoID: videoID, Err: err}
			}

			return nil
		})
	}

	return wg.Wait()
}

// Status reports a video's progress. Live sessions answer from memory;
// otherwise the persisted metadata is consulted. Returns storage.ErrNotFound
// for a video that was never seen.
func (m *Manager) Status(ctx context.Context, videoID string) (*Status, error) {
	m.mu.Lock()
	coord, live := m.sessions[videoID]
	m.mu.Unlock()

	if live {
		return &Status{
			VideoID: videoID,
			Percent: coord.Progress(),
			Done:    coord.VideoDone(),
			Files:   coord.Files(),
		}, nil
	}

	files, err := m.store.GetFileMetaByVideo(ctx, videoID)
	if err != nil {
		return nil, &download.StorageError{Op: "get_file_meta", Key: videoID, Err: err}
	}

	if len(files) == 0 {
		return nil, storage.ErrNotFound
	}

	status := &Status{
		VideoID: videoID,
		Percent: download.Progress(files),
		Files:   files,
	}

	if meta, err := m.store.GetVideoMeta(ctx, videoID); err == nil {
		status.Done = meta.Done
	} else if err != storage.ErrNotFound {
		return nil, &download.StorageError{Op: "get_video_meta", Key: videoID, Err: err}
	}

	return status, nil
}

// Active reports whether a session is currently running for the video.
func (m *Manager) Active(videoID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[videoID]

	return ok
}

func (m *Manager) register(videoID string, c *coordinator.Coordinator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[videoID]; ok {
		return ErrSessionActive
	}

	m.sessions[videoID] = c

	return nil
}

func (m *Manager) unregister(videoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, videoID)
}

// forward drains a session's channels onto the manager's until they close.
func (m *Manager) forward(wg *sync.WaitGroup, videoID string, coord *coordinator.Coordinator, eng *engine.Engine) {
	wg.Add(4)

	go func() {
		defer wg.Done()

		for pct := range coord.OnProgress {
			m.OnProgress <- ProgressUpdate{VideoID: videoID, Percent: pct}
		}
	}()

	go func() {
		defer wg.Done()

		for id := range coord.OnDone {
			m.OnVideoDone <- id
		}
	}()

	go func() {
		defer wg.Done()

		for url := range coord.OnFileReset {
			m.OnFileReset <- FileReset{VideoID: videoID, URL: url}
		}
	}()

	go func() {
		defer wg.Done()

		for failure := range eng.OnFileFailed {
			m.OnFileFailed <- failure
		}
	}()
}
