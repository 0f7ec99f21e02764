package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TryAcquireCooldown sets last_request_at = now for (user, action) unless a
// request was recorded within minInterval. The check and the write happen in a
// single statement. When denied it returns the time of the blocking request.
func (s *Store) TryAcquireCooldown(ctx context.Context, userID int64, action string, now time.Time, minInterval time.Duration) (bool, time.Time, error) {
	if s == nil || s.db == nil {
		return false, time.Time{}, ErrDisabled
	}
	nowMS := toMillis(now)
	cutoff := toMillis(now.Add(-minInterval))
	res, err := s.exec(ctx, s.db, `
INSERT INTO cooldowns(user_id, action, last_request_at) VALUES(?, ?, ?)
ON CONFLICT(user_id, action) DO UPDATE SET last_request_at = excluded.last_request_at
WHERE cooldowns.last_request_at <= ?`,
		userID, action, nowMS, cutoff)
	if err != nil {
		return false, time.Time{}, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, now, nil
	}

	var last int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT last_request_at FROM cooldowns WHERE user_id = ? AND action = ?`), userID, action).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		// Pruned between the two statements; the next attempt will succeed.
		return false, now, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	return false, fromMillis(last), nil
}

func (s *Store) GetCooldown(ctx context.Context, userID int64, action string) (CooldownEntry, error) {
	if s == nil || s.db == nil {
		return CooldownEntry{}, ErrDisabled
	}
	e := CooldownEntry{UserID: userID, Action: action}
	var last int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT last_request_at FROM cooldowns WHERE user_id = ? AND action = ?`), userID, action).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return CooldownEntry{}, ErrNotFound
	}
	if err != nil {
		return CooldownEntry{}, err
	}
	e.LastRequestAt = fromMillis(last)
	return e, nil
}

// PruneCooldowns deletes entries last touched before cutoff.
func (s *Store) PruneCooldowns(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.exec(ctx, s.db, `DELETE FROM cooldowns WHERE last_request_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
