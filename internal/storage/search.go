package storage

import (
	"context"
	"database/sql"
	"time"
)

// SeenResultKeys returns which of keys are already in the user's history for query.
func (s *Store) SeenResultKeys(ctx context.Context, userID int64, query string, keys []string) (map[string]bool, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	seen := make(map[string]bool, len(keys))
	const chunk = 200
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		part := keys[start:end]
		args := make([]any, 0, len(part)+2)
		args = append(args, userID, query)
		for _, k := range part {
			args = append(args, k)
		}
		rows, err := s.db.QueryContext(ctx, s.rebind(
			`SELECT result_key FROM search_history WHERE user_id = ? AND query = ? AND result_key IN (`+placeholders(len(part))+`)`),
			args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, err
			}
			seen[k] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

// InsertSearchHistory records keys as delivered for (user, query). Duplicate
// triples are ignored. It returns the number of new rows.
func (s *Store) InsertSearchHistory(ctx context.Context, userID int64, query string, keys []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if len(keys) == 0 {
		return 0, nil
	}
	now := toMillis(time.Now())
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			res, err := s.exec(ctx, tx,
				`INSERT INTO search_history(user_id, query, result_key, seen_at) VALUES(?, ?, ?, ?)
ON CONFLICT(user_id, query, result_key) DO NOTHING`,
				userID, query, k, now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) CountSearchHistory(ctx context.Context, userID int64, query string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM search_history WHERE user_id = ? AND query = ?`), userID, query).Scan(&n)
	return n, err
}
