package sqlite

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/storage"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// Store persists file/video metadata in SQLite and chunk bytes in per-file
// blob files under blobDir. Metadata is the source of truth for resume
// offsets: chunk writes land at the authoritative offset, so a tail left by
// an interrupted session is overwritten or truncated, never replayed.
type Store struct {
	db      *sql.DB
	blobDir string
}

func NewStore(db *sql.DB, blobDir string) (*Store, error) {
	if err := os.MkdirAll(blobDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return &Store{db: db, blobDir: blobDir}, nil
}

func (s *Store) GetFileMetaByVideo(ctx context.Context, videoID string) ([]download.FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, video_id, position, bytes_total, bytes_downloaded, done
		FROM file_meta WHERE video_id = ? ORDER BY position ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file metadata: %w", err)
	}
	defer rows.Close()

	var metas []download.FileMeta

	for rows.Next() {
		var m download.FileMeta

		if err := rows.Scan(&m.URL, &m.VideoID, &m.Position, &m.BytesTotal, &m.BytesDownloaded, &m.Done); err != nil {
			return nil, fmt.Errorf("failed to scan file metadata: %w", err)
		}

		metas = append(metas, m)
	}

	return metas, rows.Err()
}

func (s *Store) GetVideoMeta(ctx context.Context, videoID string) (*download.VideoMeta, error) {
	var meta download.VideoMeta

	err := s.db.QueryRowContext(ctx,
		`SELECT video_id, done FROM video_meta WHERE video_id = ?`, videoID).
		Scan(&meta.VideoID, &meta.Done)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query video metadata: %w", err)
	}

	return &meta, nil
}

func (s *Store) PutFileMeta(ctx context.Context, meta download.FileMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_meta (url, video_id, position, bytes_total, bytes_downloaded, done)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			video_id = excluded.video_id,
			position = excluded.position,
			bytes_total = excluded.bytes_total,
			bytes_downloaded = excluded.bytes_downloaded,
			done = excluded.done`,
		meta.URL, meta.VideoID, meta.Position, meta.BytesTotal, meta.BytesDownloaded, meta.Done)

	return err
}

func (s *Store) PutVideoMeta(ctx context.Context, meta download.VideoMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_meta (video_id, done) VALUES (?, ?)
		ON CONFLICT(video_id) DO UPDATE SET done = excluded.done`,
		meta.VideoID, meta.Done)

	return err
}

func (s *Store) PutChunk(ctx context.Context, url string, offset int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.blobPath(url), os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open chunk blob: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write chunk at offset %d: %w", offset, err)
	}

	return f.Sync()
}

func (s *Store) TruncateChunkData(ctx context.Context, url string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.blobPath(url)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if size == 0 {
			return nil
		}

		return fmt.Errorf("no chunk data for %s to truncate to %d", url, size)
	}

	if err != nil {
		return fmt.Errorf("failed to stat chunk blob: %w", err)
	}

	if info.Size() <= size {
		return nil
	}

	return os.Truncate(path, size)
}

func (s *Store) PutAsset(ctx context.Context, videoID, url string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (video_id, url, data) VALUES (?, ?, ?)
		ON CONFLICT(video_id, url) DO UPDATE SET data = excluded.data`,
		videoID, url, data)

	return err
}

func (s *Store) GetAsset(ctx context.Context, videoID, url string) ([]byte, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM assets WHERE video_id = ? AND url = ?`, videoID, url).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query asset: %w", err)
	}

	return data, nil
}

// DeleteVideo removes a video's metadata, assets and chunk blobs. This is the
// external administrative action; the download core never calls it.
func (s *Store) DeleteVideo(ctx context.Context, videoID string) error {
	metas, err := s.GetFileMetaByVideo(ctx, videoID)
	if err != nil {
		return err
	}

	for _, m := range metas {
		if err := os.Remove(s.blobPath(m.URL)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove chunk blob for %s: %w", m.URL, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"file_meta", "video_meta", "assets"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE video_id = ?`, videoID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func (s *Store) blobPath(url string) string {
	sum := sha1.Sum([]byte(url))

	return filepath.Join(s.blobDir, hex.EncodeToString(sum[:])+".part")
}
