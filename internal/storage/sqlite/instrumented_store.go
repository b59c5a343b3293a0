package sqlite

import (
	"context"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/telemetry"
)

// InstrumentedStore wraps Store with telemetry. It satisfies the same
// storage interfaces as the plain store.
type InstrumentedStore struct {
	store     *Store
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStore creates a new instrumented store.
func NewInstrumentedStore(store *Store, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{store: store, telemetry: tel}
}

func (s *InstrumentedStore) GetFileMetaByVideo(ctx context.Context, videoID string) ([]download.FileMeta, error) {
	var result []download.FileMeta

	err := s.telemetry.InstrumentDBOperation(ctx, "get_file_meta", func(ctx context.Context) error {
		var err error

		result, err = s.store.GetFileMetaByVideo(ctx, videoID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) GetVideoMeta(ctx context.Context, videoID string) (*download.VideoMeta, error) {
	var result *download.VideoMeta

	err := s.telemetry.InstrumentDBOperation(ctx, "get_video_meta", func(ctx context.Context) error {
		var err error

		result, err = s.store.GetVideoMeta(ctx, videoID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) PutFileMeta(ctx context.Context, meta download.FileMeta) error {
	return s.telemetry.InstrumentDBOperation(ctx, "put_file_meta", func(ctx context.Context) error {
		return s.store.PutFileMeta(ctx, meta)
	})
}

func (s *InstrumentedStore) PutVideoMeta(ctx context.Context, meta download.VideoMeta) error {
	return s.telemetry.InstrumentDBOperation(ctx, "put_video_meta", func(ctx context.Context) error {
		return s.store.PutVideoMeta(ctx, meta)
	})
}

func (s *InstrumentedStore) PutChunk(ctx context.Context, url string, offset int64, data []byte) error {
	err := s.telemetry.InstrumentDBOperation(ctx, "put_chunk", func(ctx context.Context) error {
		return s.store.PutChunk(ctx, url, offset, data)
	})
	if err != nil {
		return err
	}

	s.telemetry.RecordChunk(len(data))

	return nil
}

func (s *InstrumentedStore) TruncateChunkData(ctx context.Context, url string, size int64) error {
	return s.telemetry.InstrumentDBOperation(ctx, "truncate_chunk_data", func(ctx context.Context) error {
		return s.store.TruncateChunkData(ctx, url, size)
	})
}

func (s *InstrumentedStore) PutAsset(ctx context.Context, videoID, url string, data []byte) error {
	return s.telemetry.InstrumentDBOperation(ctx, "put_asset", func(ctx context.Context) error {
		return s.store.PutAsset(ctx, videoID, url, data)
	})
}

func (s *InstrumentedStore) GetAsset(ctx context.Context, videoID, url string) ([]byte, error) {
	var result []byte

	err := s.telemetry.InstrumentDBOperation(ctx, "get_asset", func(ctx context.Context) error {
		var err error

		result, err = s.store.GetAsset(ctx, videoID, url)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) DeleteVideo(ctx context.Context, videoID string) error {
	return s.telemetry.InstrumentDBOperation(ctx, "delete_video", func(ctx context.Context) error {
		return s.store.DeleteVideo(ctx, videoID)
	})
}
