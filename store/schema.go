package store

import (
	"context"
	"fmt"
)

// schema mirrors the tables the API reads. Play times are stored as TimeLayout text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artist TEXT NOT NULL,
		album TEXT NOT NULL,
		track TEXT NOT NULL,
		play_count INTEGER DEFAULT 0,
		is_apple_music_fav INTEGER DEFAULT 0,
		is_last_fm_fav INTEGER DEFAULT 0,
		album_artist TEXT,
		track_number INTEGER,
		duration INTEGER,
		genre TEXT DEFAULT '',
		composer TEXT,
		release_date TEXT,
		music_brainz_id TEXT,
		source TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (artist, album, track)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_genre ON tracks (genre)`,
	`CREATE TABLE IF NOT EXISTS track_play_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artist TEXT NOT NULL,
		album_artist TEXT,
		track TEXT NOT NULL,
		album TEXT NOT NULL,
		duration INTEGER,
		play_time TEXT NOT NULL,
		scrobbled INTEGER NOT NULL DEFAULT 0,
		music_brainz_id TEXT,
		track_number INTEGER,
		source TEXT NOT NULL DEFAULT '',
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_track_play_records_play_time ON track_play_records (play_time)`,
	`CREATE INDEX IF NOT EXISTS idx_track_play_records_scrobbled ON track_play_records (scrobbled)`,
	`CREATE TABLE IF NOT EXISTS genres (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		name_zh TEXT,
		extra TEXT,
		play_count INTEGER DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Migrate creates the tables if they do not exist yet.
func (e *SQLExecutor) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
