package document

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/clinicledger/costing/internal/domain/entities"
)

// SQLiteBackend stores each top-level collection of the document as one row
// of the state table, keyed by collection name
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (or creates) the database at path
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		path = "costing.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Name implements Backend
func (b *SQLiteBackend) Name() string { return "sqlite" }

// DB exposes the underlying pool for tests
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

// Close closes the database
func (b *SQLiteBackend) Close() error { return b.db.Close() }

// Read reassembles the document object from the bucket rows.
// Payloads are spliced verbatim so a damaged row surfaces as a decode error in the store.
func (b *SQLiteBackend) Read(ctx context.Context) ([]byte, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT bucket, payload FROM state ORDER BY bucket`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buf bytes.Buffer
	count := 0
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if count == 0 {
			buf.WriteByte('{')
		} else {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(bucket)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(payload)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Write splits the document into its collections and upserts one row per collection
func (b *SQLiteBackend) Write(ctx context.Context, data []byte) (retErr error) {
	var buckets map[string]json.RawMessage
	if err := json.Unmarshal(data, &buckets); err != nil {
		return fmt.Errorf("split document: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, bucket := range entities.Collections {
		payload, ok := buckets[bucket]
		if !ok {
			if _, err := tx.ExecContext(ctx, `DELETE FROM state WHERE bucket = ?`, bucket); err != nil {
				return fmt.Errorf("delete %s: %w", bucket, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
			bucket, []byte(payload),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}
