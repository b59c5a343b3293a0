package storage

import (
	"context"
	"errors"

	"github.com/italolelis/offline_downloader/internal/download"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MetaStore is the metadata half of the persistent store. The storage
// coordinator is the only writer for a given video's records.
type MetaStore interface {
	GetFileMetaByVideo(ctx context.Context, videoID string) ([]download.FileMeta, error)
	GetVideoMeta(ctx context.Context, videoID string) (*download.VideoMeta, error)
	PutFileMeta(ctx context.Context, meta download.FileMeta) error
	PutVideoMeta(ctx context.Context, meta download.VideoMeta) error
}

// ChunkStore persists the raw bytes of a file, addressed by URL and offset.
// PutChunk must be durable at single-write granularity. TruncateChunkData
// discards any bytes beyond size; it is the recovery hook that makes the
// persisted metadata's byte count authoritative after an interrupted write.
type ChunkStore interface {
	PutChunk(ctx context.Context, url string, offset int64, data []byte) error
	TruncateChunkData(ctx context.Context, url string, size int64) error
}

// AssetStore caches whole ancillary resources (posters, subtitles) that are
// fetched in one piece rather than chunked.
type AssetStore interface {
	PutAsset(ctx context.Context, videoID, url string, data []byte) error
	GetAsset(ctx context.Context, videoID, url string) ([]byte, error)
}

// AdminStore exposes the administrative deletion path. Nothing in the
// download core deletes records; this is for external cleanup only.
type AdminStore interface {
	DeleteVideo(ctx context.Context, videoID string) error
}

// Store is the full persistent store consumed by a download session.
type Store interface {
	MetaStore
	ChunkStore
}
