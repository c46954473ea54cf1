// Package meshstore is a reference storage substrate satisfying the
// Put/Get address-keyed contract a Magic Ratchet transport needs: one
// opaque 32-byte address maps to at most one opaque blob, with no query
// capability beyond exact-address lookup, so a storage node can never learn
// more about a conversation than "someone wrote to this address".
package meshstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get when no blob has been stored at addr.
var ErrNotFound = errors.New("meshstore: address not found")

// Entry is one stored blob together with its bookkeeping metadata.
type Entry struct {
	Address  [32]byte
	Data     []byte
	StoredAt time.Time
	Size     int
}

// Store is a SQLite-backed Put/Get substrate for address-keyed blobs.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens a Store rooted at dataDir, logging schema
// lifecycle events through logger. A nil logger falls back to slog's
// default handler.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("meshstore: creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "addresses.db")
	isNew := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		isNew = true
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("meshstore: opening database: %w", err)
	}

	if isNew {
		logger.Info("creating storage schema", "path", dbPath)
		schema := `
			CREATE TABLE IF NOT EXISTS blobs (
				address   TEXT PRIMARY KEY,
				data      BLOB NOT NULL,
				stored_at INTEGER NOT NULL,
				size      INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_stored_at ON blobs(stored_at);
		`
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("meshstore: creating schema: %w", err)
		}
	}

	return &Store{db: db, path: dbPath, logger: logger}, nil
}

// Put writes data under addr, replacing any prior blob at the same
// address. A Magic Ratchet address is single-use in practice — the ratchet
// never derives the same address twice — but replacement keeps the
// contract simple for callers that retry.
func (s *Store) Put(ctx context.Context, addr [32]byte, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("meshstore: refusing to store empty blob")
	}
	key := hex.EncodeToString(addr[:])
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (address, data, stored_at, size) VALUES (?, ?, ?, ?)`,
		key, data, time.Now().Unix(), len(data))
	if err != nil {
		return fmt.Errorf("meshstore: storing blob: %w", err)
	}
	s.logger.Debug("stored blob", "address", key, "size", len(data))
	return nil
}

// Get retrieves the blob stored under addr, or ErrNotFound.
func (s *Store) Get(ctx context.Context, addr [32]byte) ([]byte, error) {
	key := hex.EncodeToString(addr[:])
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE address = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("meshstore: retrieving blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob stored under addr, if any.
func (s *Store) Delete(ctx context.Context, addr [32]byte) error {
	key := hex.EncodeToString(addr[:])
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE address = ?`, key); err != nil {
		return fmt.Errorf("meshstore: deleting blob: %w", err)
	}
	return nil
}

// Stats summarises what a node currently holds.
type Stats struct {
	TotalBlobs int
	TotalSize  int64
}

// Stats reports aggregate storage usage.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM blobs`).
		Scan(&stats.TotalBlobs, &stats.TotalSize); err != nil {
		return Stats{}, fmt.Errorf("meshstore: reading stats: %w", err)
	}
	return stats, nil
}

// Cleanup removes blobs older than maxAge and returns how many were
// removed. A storage node run as a public mesh relay is expected to expire
// undelivered shares rather than retain them indefinitely.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("meshstore: cleaning up: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("meshstore: reading affected rows: %w", err)
	}
	return int(rows), nil
}

// Path returns the underlying database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
