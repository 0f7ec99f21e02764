package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// UpsertUser records a user on first contact and refreshes display metadata afterwards.
// first_seen_at is never overwritten.
func (s *Store) UpsertUser(ctx context.Context, id int64, username, firstName string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := toMillis(time.Now())
	_, err := s.exec(ctx, s.db, `
INSERT INTO users(id, username, first_name, first_seen_at, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  username = excluded.username,
  first_name = excluded.first_name,
  updated_at = excluded.updated_at`,
		id, strings.TrimSpace(username), strings.TrimSpace(firstName), now, now)
	return err
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	if s == nil || s.db == nil {
		return User{}, ErrDisabled
	}
	var u User
	var first, updated int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, username, first_name, first_seen_at, updated_at FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.Username, &u.FirstName, &first, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.FirstSeenAt = fromMillis(first)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

// ListUserIDs returns the broadcast roster ordered by first contact.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY first_seen_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
