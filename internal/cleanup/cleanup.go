// Package cleanup removes videos from local storage. Deletion is an
// administrative action; download sessions never delete data themselves.
package cleanup

import (
	"context"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/logctx"
	"github.com/italolelis/offline_downloader/internal/storage"
)

type Purger struct {
	store storage.AdminStore
}

func NewPurger(store storage.AdminStore) *Purger {
	return &Purger{store: store}
}

// Purge removes everything stored for a video: metadata, chunk data and
// cached assets. Purging a video that was never downloaded is not an error.
func (p *Purger) Purge(ctx context.Context, videoID string) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := p.store.DeleteVideo(ctx, videoID); err != nil {
		return &download.StorageError{Op: "delete_video", Key: videoID, Err: err}
	}

	logger.Info("purged video", "video_id", videoID)

	return nil
}

// PurgeAll removes a batch of videos, keeping going past individual failures
// and returning the last error seen.
func (p *Purger) PurgeAll(ctx context.Context, videoIDs []string) error {
	logger := logctx.LoggerFromContext(ctx)

	var lastErr error

	for _, videoID := range videoIDs {
		if err := p.Purge(ctx, videoID); err != nil {
			logger.Error("failed to purge video", "video_id", videoID, "err", err)

			lastErr = err
		}
	}

	return lastErr
}
