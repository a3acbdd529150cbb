package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore indexes artifacts in a SQLite database while the artifact
// bytes stay on disk. Dropping the index entry is what expires an artifact;
// Evict also removes the underlying file, as the cache is the only component
// permitted to delete rendered files after their retention window.
type SQLiteStore struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	s := &SQLiteStore{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entries (
    fingerprint TEXT PRIMARY KEY,
    artifact_path TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

// Get looks up a fingerprint and verifies the artifact still exists on disk.
// A stale entry whose file is gone is dropped and reported as a miss.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_path, created_at FROM entries WHERE fingerprint = ?`, fingerprint)

	var (
		path    string
		created int64
	)
	if err := row.Scan(&path, &created); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		if _, derr := s.db.ExecContext(ctx,
			`DELETE FROM entries WHERE fingerprint = ?`, fingerprint); derr != nil {
			s.log.Warn("drop stale cache entry failed", slog.String("error", derr.Error()))
		}
		return Entry{}, false, nil
	}

	return Entry{
		Fingerprint:  fingerprint,
		ArtifactPath: path,
		CreatedAt:    time.Unix(created, 0),
	}, true, nil
}

// Put records an artifact path for a fingerprint. The first writer wins;
// concurrent writers of the same fingerprint are ignored, which is correct
// because equivalent inputs produce equivalent artifacts.
func (s *SQLiteStore) Put(ctx context.Context, fingerprint, artifactPath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (fingerprint, artifact_path, created_at) VALUES (?, ?, ?)`,
		fingerprint, artifactPath, s.clock().Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Evict removes entries older than the retention window along with their
// artifact files, returning the number of entries removed. It runs
// out-of-band, never on the request path.
func (s *SQLiteStore) Evict(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock().Add(-olderThan).Unix()

	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, artifact_path FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache evict scan: %w", err)
	}

	type victim struct{ fingerprint, path string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.fingerprint, &v.path); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("cache evict scan: %w", err)
		}
		victims = append(victims, v)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("cache evict scan: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("cache evict scan: %w", err)
	}

	evicted := 0
	for _, v := range victims {
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("evict artifact file failed",
				slog.String("path", v.path),
				slog.String("error", err.Error()),
			)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM entries WHERE fingerprint = ?`, v.fingerprint); err != nil {
			return evicted, fmt.Errorf("cache evict delete: %w", err)
		}
		evicted++
	}
	return evicted, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
