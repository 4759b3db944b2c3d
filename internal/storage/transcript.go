package storage

import (
	"context"
	"fmt"
	"time"
)

// AppendTurn appends one message to the transcript of (ownerID, name). The
// sequence number is assigned by the database and increases monotonically.
func (s *Store) AppendTurn(ctx context.Context, ownerID, name, role, content string) (Turn, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_turns (owner_id, name, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ownerID, name, role, content, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Turn{}, fmt.Errorf("appending %s turn: %w", role, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Turn{}, fmt.Errorf("reading turn sequence: %w", err)
	}
	return Turn{Seq: seq, OwnerID: ownerID, Name: name, Role: role, Content: content, CreatedAt: now}, nil
}

// ListTurns returns the full transcript of (ownerID, name) ordered by sequence.
func (s *Store) ListTurns(ctx context.Context, ownerID, name string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, content, created_at FROM transcript_turns
		WHERE owner_id = ? AND name = ? ORDER BY seq ASC`, ownerID, name)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t := Turn{OwnerID: ownerID, Name: name}
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %d: %w", t.Seq, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ClearTurns deletes the transcript of (ownerID, name) and returns the
// number of removed turns.
func (s *Store) ClearTurns(ctx context.Context, ownerID, name string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcript_turns WHERE owner_id = ? AND name = ?`, ownerID, name)
	if err != nil {
		return 0, fmt.Errorf("clearing turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
