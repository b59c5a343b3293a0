// Package assetcache fetches a video's small side resources, posters and
// subtitle tracks, and keeps them for offline use. Assets are fetched whole;
// only media files go through the chunked path.
package assetcache

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/logctx"
	"github.com/italolelis/offline_downloader/internal/resolver"
	"github.com/italolelis/offline_downloader/internal/storage"
)

type Cache struct {
	client *http.Client
	store  storage.AssetStore
}

func New(client *http.Client, store storage.AssetStore) *Cache {
	return &Cache{client: client, store: store}
}

// Fetch returns the asset bytes, downloading them only on the first call for
// a given (video, url) pair.
func (c *Cache) Fetch(ctx context.Context, videoID, url string) ([]byte, error) {
	data, err := c.store.GetAsset(ctx, videoID, url)
	if err == nil {
		return data, nil
	}

	if err != storage.ErrNotFound {
		return nil, &download.StorageError{Op: "get_asset", Key: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &download.NetworkError{URL: url, Reason: "invalid request", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &download.NetworkError{URL: url, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &download.NetworkError{URL: url, StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &download.NetworkError{URL: url, Reason: "read failed", Err: err}
	}

	if err := c.store.PutAsset(ctx, videoID, url, data); err != nil {
		return nil, &download.StorageError{Op: "put_asset", Key: url, Err: err}
	}

	logctx.LoggerFromContext(ctx).Debug("asset cached", "video_id", videoID, "url", url, "size", len(data))

	return data, nil
}

// FetchAll caches every asset source of a video. The first failure aborts;
// assets already cached before it are kept.
func (c *Cache) FetchAll(ctx context.Context, videoID string, sources []resolver.Source) error {
	for _, s := range resolver.Assets(sources) {
		if _, err := c.Fetch(ctx, videoID, s.URL); err != nil {
			return fmt.Errorf("failed to cache asset %s: %w", s.URL, err)
		}
	}

	return nil
}
