// Package inmem provides an in-memory implementation of the storage
// interfaces. It backs the test suite and ephemeral runs where persistence
// across restarts is not needed.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/storage"
)

type assetKey struct {
	videoID string
	url     string
}

type Store struct {
	mu     sync.Mutex
	files  map[string]download.FileMeta
	videos map[string]download.VideoMeta
	chunks map[string][]byte
	assets map[assetKey][]byte
}

func NewStore() *Store {
	return &Store{
		files:  make(map[string]download.FileMeta),
		videos: make(map[string]download.VideoMeta),
		chunks: make(map[string][]byte),
		assets: make(map[assetKey][]byte),
	}
}

func (s *Store) GetFileMetaByVideo(_ context.Context, videoID string) ([]download.FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metas []download.FileMeta

	for _, m := range s.files {
		if m.VideoID == videoID {
			metas = append(metas, m)
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Position < metas[j].Position })

	return metas, nil
}

func (s *Store) GetVideoMeta(_ context.Context, videoID string) (*download.VideoMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.videos[videoID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &meta, nil
}

func (s *Store) PutFileMeta(_ context.Context, meta download.FileMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[meta.URL] = meta

	return nil
}

func (s *Store) PutVideoMeta(_ context.Context, meta download.VideoMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.videos[meta.VideoID] = meta

	return nil
}

func (s *Store) PutChunk(_ context.Context, url string, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.chunks[url]

	// Writes at or before the current end overwrite in place, so a replayed
	// tail from an interrupted session lands on the same bytes.
	if need := offset + int64(len(data)); int64(len(buf)) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}

	copy(buf[offset:], data)
	s.chunks[url] = buf

	return nil
}

func (s *Store) TruncateChunkData(_ context.Context, url string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.chunks[url]
	if int64(len(buf)) > size {
		s.chunks[url] = buf[:size]
	}

	return nil
}

func (s *Store) PutAsset(_ context.Context, videoID, url string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.assets[assetKey{videoID, url}] = cp

	return nil
}

func (s *Store) GetAsset(_ context.Context, videoID, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.assets[assetKey{videoID, url}]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	return cp, nil
}

func (s *Store) DeleteVideo(_ context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for url, m := range s.files {
		if m.VideoID == videoID {
			delete(s.files, url)
			delete(s.chunks, url)
		}
	}

	for key := range s.assets {
		if key.videoID == videoID {
			delete(s.assets, key)
		}
	}

	delete(s.videos, videoID)

	return nil
}

// ChunkData returns a copy of the bytes stored for a URL. Test helper.
func (s *Store) ChunkData(url string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(s.chunks[url]))
	copy(cp, s.chunks[url])

	return cp
}
