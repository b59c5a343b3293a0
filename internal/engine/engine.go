// Package engine streams remote files and hands their bytes to a chunk sink.
// It processes a video's file set strictly in order, resumes from persisted
// offsets with HTTP range requests, and never writes metadata itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/logctx"
)

const (
	defaultChunkSize      = 256 * 1024
	defaultMaxAttempts    = 3
	defaultRequestTimeout = 5 * time.Minute
	defaultRetryInterval  = 500 * time.Millisecond
)

// Sink consumes the engine's flush events. Each StoreChunk call is
// synchronous: the engine does not read further until the sink returns,
// which is how the consumer applies backpressure.
type Sink interface {
	ObserveTotal(ctx context.Context, url string, total int64) error
	StoreChunk(ctx context.Context, url string, offset int64, data []byte) error
	ResetFile(ctx context.Context, url string) error
}

// FileFailure is emitted when a file exhausts its attempts or hits a fatal
// storage error. The run continues with the next file.
type FileFailure struct {
	VideoID string
	URL     string
	Err     error
}

type Engine struct {
	client         *http.Client
	sink           Sink
	chunkSize      int
	maxAttempts    uint
	requestTimeout time.Duration
	retryInterval  time.Duration

	OnFileFailed chan FileFailure
}

type Option func(*Engine)

// WithChunkSize bounds the size of a single flush. Any positive value is
// correct; it only trades memory against flush frequency.
func WithChunkSize(n int) Option {
	return func(e *Engine) { e.chunkSize = n }
}

// WithMaxAttempts bounds how often a file is retried on network errors.
func WithMaxAttempts(n uint) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithRequestTimeout bounds a single download attempt. Expiry counts as a
// network error and the next attempt resumes at the last persisted offset.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.requestTimeout = d }
}

// WithRetryInterval sets the initial backoff between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) { e.retryInterval = d }
}

func New(client *http.Client, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		client:         client,
		sink:           sink,
		chunkSize:      defaultChunkSize,
		maxAttempts:    defaultMaxAttempts,
		requestTimeout: defaultRequestTimeout,
		retryInterval:  defaultRetryInterval,

		OnFileFailed: make(chan FileFailure),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) Close() {
	close(e.OnFileFailed)
}

// Run downloads the file set in order and returns the number of files that
// failed this session. A failure on one file never aborts the run; only
// cancellation does. Files already marked done are skipped without network
// I/O.
func (e *Engine) Run(ctx context.Context, files []download.FileMeta) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	var failed int

	for i := range files {
		file := files[i]

		if err := ctx.Err(); err != nil {
			return failed, err
		}

		if file.Done {
			logger.Debug("skipping completed file", "url", file.URL)

			continue
		}

		if err := e.downloadWithRetry(ctx, &file); err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}

			failed++

			logger.Error("file download failed", "url", file.URL, "err", err)

			e.OnFileFailed <- FileFailure{VideoID: file.VideoID, URL: file.URL, Err: err}

			continue
		}

		logger.Info("file downloaded", "url", file.URL, "size", humanize.Bytes(uint64(file.BytesDownloaded)))
	}

	return failed, nil
}

func (e *Engine) downloadWithRetry(ctx context.Context, file *download.FileMeta) error {
	logger := logctx.LoggerFromContext(ctx)

	op := func() (struct{}, error) {
		err := e.downloadFile(ctx, file)
		if err == nil {
			return struct{}{}, nil
		}

		var rangeErr *download.RangeUnsupportedError
		if errors.As(err, &rangeErr) {
			// Not a failure: restart the file from zero on the next attempt.
			if resetErr := e.sink.ResetFile(ctx, file.URL); resetErr != nil {
				return struct{}{}, backoff.Permanent(resetErr)
			}

			file.BytesDownloaded = 0
			file.Done = false

			return struct{}{}, err
		}

		var storageErr *download.StorageError

		var seqErr *download.SequenceError

		if errors.As(err, &storageErr) || errors.As(err, &seqErr) || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		logger.Warn("download attempt failed, will resume", "url", file.URL,
			"offset", file.BytesDownloaded, "err", err)

		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryInterval

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(e.maxAttempts),
	)

	return err
}

func (e *Engine) downloadFile(ctx context.Context, file *download.FileMeta) error {
	logger := logctx.LoggerFromContext(ctx)

	reqCtx := ctx

	if e.requestTimeout > 0 {
		var cancel context.CancelFunc

		reqCtx, cancel = context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, file.URL, nil)
	if err != nil {
		return &download.NetworkError{URL: file.URL, Reason: "invalid request", Err: err}
	}

	offset := file.BytesDownloaded
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		logger.Debug("resuming download", "url", file.URL, "offset", offset)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &download.NetworkError{URL: file.URL, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusOK:
		// The remote ignored the range and sent the full body. Restart from
		// zero and keep streaming this response.
		logger.Warn("remote does not support range requests, restarting file", "url", file.URL)

		if err := e.sink.ResetFile(ctx, file.URL); err != nil {
			return err
		}

		offset = 0
		file.BytesDownloaded = 0
		file.Done = false
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return &download.RangeUnsupportedError{URL: file.URL, StatusCode: resp.StatusCode}
	case offset == 0 && resp.StatusCode == http.StatusOK:
	default:
		return &download.NetworkError{URL: file.URL, StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	if resp.ContentLength >= 0 {
		if total := offset + resp.ContentLength; total > 0 && total != file.BytesTotal {
			if err := e.sink.ObserveTotal(ctx, file.URL, total); err != nil {
				return err
			}

			file.BytesTotal = total
		}
	}

	buf := make([]byte, e.chunkSize)

	for {
		// Cancellation is only observed between chunks; an in-flight flush
		// always completes.
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := e.sink.StoreChunk(ctx, file.URL, file.BytesDownloaded, buf[:n]); err != nil {
				return err
			}

			file.BytesDownloaded += int64(n)
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return &download.NetworkError{URL: file.URL, Reason: "read failed", Err: readErr}
		}
	}

	if file.BytesTotal > 0 && file.BytesDownloaded != file.BytesTotal {
		return &download.NetworkError{
			URL:    file.URL,
			Reason: fmt.Sprintf("stream ended early: got %d of %d bytes", file.BytesDownloaded, file.BytesTotal),
		}
	}

	if file.BytesTotal == 0 && file.BytesDownloaded > 0 {
		// The source never declared a size; the stream end defines it.
		if err := e.sink.ObserveTotal(ctx, file.URL, file.BytesDownloaded); err != nil {
			return err
		}

		file.BytesTotal = file.BytesDownloaded
	}

	return nil
}
