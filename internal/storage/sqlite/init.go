package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the metadata tables if they
// don't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS file_meta (
		url TEXT PRIMARY KEY,
		video_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		bytes_total INTEGER NOT NULL DEFAULT 0,
		bytes_downloaded INTEGER NOT NULL DEFAULT 0,
		done INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_file_meta_video ON file_meta(video_id);
	CREATE TABLE IF NOT EXISTS video_meta (
		video_id TEXT PRIMARY KEY,
		done INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS assets (
		video_id TEXT NOT NULL,
		url TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (video_id, url)
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
