// Package coordinator owns the write path for a video's download metadata.
// It persists chunks, keeps FileMeta/VideoMeta as the single source of truth,
// and derives the aggregate progress published to consumers.
package coordinator

import (
	"context"
	"sync"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/storage"
)

// Coordinator serializes all chunk-store operations for one video. Events
// are delivered on the exported channels; callers must consume them, which
// is also how downstream backpressure reaches the transfer engine.
type Coordinator struct {
	store   storage.Store
	videoID string

	mu        sync.Mutex
	files     map[string]*download.FileMeta
	order     []string
	video     download.VideoMeta
	doneFired bool

	OnProgress  chan float64
	OnDone      chan string
	OnFileReset chan string
}

// New builds a coordinator for the merged working set of a session. The
// slice order is the resolver order and is preserved by Files.
func New(store storage.Store, videoID string, files []download.FileMeta) *Coordinator {
	c := &Coordinator{
		store:   store,
		videoID: videoID,
		files:   make(map[string]*download.FileMeta, len(files)),
		order:   make([]string, 0, len(files)),
		video:   download.VideoMeta{VideoID: videoID},

		OnProgress:  make(chan float64),
		OnDone:      make(chan string),
		OnFileReset: make(chan string),
	}

	for i := range files {
		f := files[i]
		c.files[f.URL] = &f
		c.order = append(c.order, f.URL)
	}

	return c
}

func (c *Coordinator) Close() {
	close(c.OnProgress)
	close(c.OnDone)
	close(c.OnFileReset)
}

// Begin persists the merged working set and reconciles chunk storage with it:
// any bytes beyond a file's recorded offset are leftovers of an interrupted
// write and are truncated away, so the metadata is authoritative for resume.
// If every file is already done but the video record is not, the video is
// finalized here and the completion event fires.
func (c *Coordinator) Begin(ctx context.Context) error {
	c.mu.Lock()

	if meta, err := c.store.GetVideoMeta(ctx, c.videoID); err == nil {
		c.video = *meta
		c.doneFired = c.video.Done
	} else if err != storage.ErrNotFound {
		c.mu.Unlock()

		return &download.StorageError{Op: "get_video_meta", Key: c.videoID, Err: err}
	}

	for _, url := range c.order {
		meta := c.files[url]

		if err := c.store.PutFileMeta(ctx, *meta); err != nil {
			c.mu.Unlock()

			return &download.StorageError{Op: "put_file_meta", Key: url, Err: err}
		}

		if err := c.store.TruncateChunkData(ctx, url, meta.BytesDownloaded); err != nil {
			c.mu.Unlock()

			return &download.StorageError{Op: "truncate_chunk_data", Key: url, Err: err}
		}
	}

	fireDone, err := c.maybeFinalizeLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		return err
	}

	if fireDone {
		c.OnDone <- c.videoID
	}

	return nil
}

// ObserveTotal records the total size reported by the remote source. A file
// whose recorded bytes already match the total is marked done, which covers
// sources that only reveal the size at the end of the stream.
func (c *Coordinator) ObserveTotal(ctx context.Context, url string, total int64) error {
	c.mu.Lock()

	meta, ok := c.files[url]
	if !ok {
		c.mu.Unlock()

		return &download.SequenceError{URL: url, Expected: -1}
	}

	if meta.BytesTotal == total || total <= 0 {
		c.mu.Unlock()

		return nil
	}

	prevTotal, prevDone := meta.BytesTotal, meta.Done
	meta.BytesTotal = total

	if !meta.Done && meta.BytesDownloaded == total {
		meta.Done = true
	}

	if err := c.store.PutFileMeta(ctx, *meta); err != nil {
		meta.BytesTotal, meta.Done = prevTotal, prevDone
		c.mu.Unlock()

		return &download.StorageError{Op: "put_file_meta", Key: url, Err: err}
	}

	var fireDone bool

	if meta.Done && !prevDone {
		var err error

		fireDone, err = c.maybeFinalizeLocked(ctx)
		if err != nil {
			c.mu.Unlock()

			return err
		}
	}

	c.mu.Unlock()

	if fireDone {
		c.OnDone <- c.videoID
	}

	return nil
}

// StoreChunk durably appends one chunk and advances the file's byte count.
// A chunk whose offset does not equal the recorded count is rejected with a
// SequenceError and mutates nothing. Completion of the last outstanding file
// finalizes the video record and fires the done event exactly once.
func (c *Coordinator) StoreChunk(ctx context.Context, url string, offset int64, data []byte) error {
	c.mu.Lock()

	meta, ok := c.files[url]
	if !ok {
		c.mu.Unlock()

		return &download.SequenceError{URL: url, Expected: -1, Offset: offset}
	}

	if meta.Done || offset != meta.BytesDownloaded {
		expected := meta.BytesDownloaded
		c.mu.Unlock()

		return &download.SequenceError{URL: url, Expected: expected, Offset: offset}
	}

	if meta.BytesTotal > 0 && offset+int64(len(data)) > meta.BytesTotal {
		c.mu.Unlock()

		return &download.SequenceError{URL: url, Expected: meta.BytesTotal, Offset: offset + int64(len(data))}
	}

	if err := c.store.PutChunk(ctx, url, offset, data); err != nil {
		c.mu.Unlock()

		return &download.StorageError{Op: "put_chunk", Key: url, Err: err}
	}

	meta.BytesDownloaded += int64(len(data))

	completed := false
	if meta.BytesTotal > 0 && meta.BytesDownloaded == meta.BytesTotal {
		meta.Done = true
		completed = true
	}

	if err := c.store.PutFileMeta(ctx, *meta); err != nil {
		// The persisted record still holds the pre-chunk offset; fall back to
		// it so the next attempt overwrites the same byte range.
		meta.BytesDownloaded = offset
		meta.Done = false
		c.mu.Unlock()

		return &download.StorageError{Op: "put_file_meta", Key: url, Err: err}
	}

	var fireDone bool

	if completed {
		var err error

		fireDone, err = c.maybeFinalizeLocked(ctx)
		if err != nil {
			c.mu.Unlock()

			return err
		}
	}

	pct := c.progressLocked()
	c.mu.Unlock()

	c.OnProgress <- pct

	if fireDone {
		c.OnDone <- c.videoID
	}

	return nil
}

// ResetFile restarts a file from zero after the remote source refused a
// range request. The regression is announced on OnFileReset rather than
// silently shrinking the progress signal.
func (c *Coordinator) ResetFile(ctx context.Context, url string) error {
	c.mu.Lock()

	meta, ok := c.files[url]
	if !ok {
		c.mu.Unlock()

		return &download.SequenceError{URL: url, Expected: -1}
	}

	prev := *meta
	meta.BytesDownloaded = 0
	meta.Done = false

	if err := c.store.TruncateChunkData(ctx, url, 0); err != nil {
		*meta = prev
		c.mu.Unlock()

		return &download.StorageError{Op: "truncate_chunk_data", Key: url, Err: err}
	}

	if err := c.store.PutFileMeta(ctx, *meta); err != nil {
		*meta = prev
		c.mu.Unlock()

		return &download.StorageError{Op: "put_file_meta", Key: url, Err: err}
	}

	c.mu.Unlock()

	c.OnFileReset <- url

	return nil
}

// Progress returns the aggregate percentage for the working set.
func (c *Coordinator) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.progressLocked()
}

// Files returns a snapshot of the working set in resolver order.
func (c *Coordinator) Files() []download.FileMeta {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]download.FileMeta, 0, len(c.order))
	for _, url := range c.order {
		files = append(files, *c.files[url])
	}

	return files
}

// VideoDone reports whether the video record has been finalized.
func (c *Coordinator) VideoDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.video.Done
}

func (c *Coordinator) progressLocked() float64 {
	files := make([]download.FileMeta, 0, len(c.order))
	for _, url := range c.order {
		files = append(files, *c.files[url])
	}

	return download.Progress(files)
}

func (c *Coordinator) maybeFinalizeLocked(ctx context.Context) (bool, error) {
	if c.video.Done {
		return false, nil
	}

	for _, url := range c.order {
		if !c.files[url].Done {
			return false, nil
		}
	}

	c.video.Done = true

	if err := c.store.PutVideoMeta(ctx, c.video); err != nil {
		c.video.Done = false

		return false, &download.StorageError{Op: "put_video_meta", Key: c.videoID, Err: err}
	}

	if c.doneFired {
		return false, nil
	}

	c.doneFired = true

	return true, nil
}
