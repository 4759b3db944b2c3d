package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetDocument returns the payload stored at path.
func (s *Store) GetDocument(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	return data, nil
}

// PutDocument creates or replaces the document at path.
func (s *Store) PutDocument(ctx context.Context, path string, data []byte) error {
	if s.maxRecord > 0 && len(data) > s.maxRecord {
		return fmt.Errorf("%w: %s is %d bytes, ceiling %d", ErrRecordTooLarge, path, len(data), s.maxRecord)
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		path, data, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing document %s: %w", path, err)
	}
	return nil
}

// DeleteDocument removes the document at path. Missing documents are not an error.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting document %s: %w", path, err)
	}
	return nil
}

// DeletePrefix removes every document whose path starts with prefix and
// returns how many were removed.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE `+prefixMatch, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("deleting documents under %s: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListDocuments returns the paths starting with prefix in ascending order.
func (s *Store) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM documents WHERE `+prefixMatch+` ORDER BY path ASC`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing documents under %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// prefixMatch is a case-sensitive, wildcard-free prefix test; LIKE folds
// ASCII case.
const prefixMatch = `substr(path, 1, length(?)) = ?`
