package storage

import (
	"context"
	"database/sql"
	"time"
)

const sampleUnseenSQL = `
SELECT ` + itemColumns + ` FROM content_items c
WHERE NOT EXISTS (
  SELECT 1 FROM exposures e WHERE e.user_id = ? AND e.item_id = c.id
)
ORDER BY RANDOM()
LIMIT ?`

// SampleUnseen returns up to n random items the user has no exposure for.
func (s *Store) SampleUnseen(ctx context.Context, userID int64, n int) ([]ContentItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(sampleUnseenSQL), userID, n)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ReserveUnseen samples like SampleUnseen and writes provisional exposures in
// the same transaction. Only items whose exposure row was actually inserted
// are returned, so concurrent callers never receive the same item.
func (s *Store) ReserveUnseen(ctx context.Context, userID int64, n int) ([]ContentItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	var out []ContentItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.rebind(sampleUnseenSQL), userID, n)
		if err != nil {
			return err
		}
		picked, err := collectItems(rows)
		if err != nil {
			return err
		}
		now := toMillis(time.Now())
		for _, it := range picked {
			ok, err := s.insertExposure(ctx, tx, userID, it.ID, now)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, it)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertExposure records that the user received the item. A repeated insert
// for the same pair is a no-op and reports false.
func (s *Store) InsertExposure(ctx context.Context, userID, itemID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	return s.insertExposure(ctx, s.db, userID, itemID, toMillis(time.Now()))
}

func (s *Store) insertExposure(ctx context.Context, q execer, userID, itemID, at int64) (bool, error) {
	res, err := s.exec(ctx, q,
		`INSERT INTO exposures(user_id, item_id, shown_at) VALUES(?, ?, ?) ON CONFLICT(user_id, item_id) DO NOTHING`,
		userID, itemID, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteExposure rolls back a reservation.
func (s *Store) DeleteExposure(ctx context.Context, userID, itemID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.exec(ctx, s.db, `DELETE FROM exposures WHERE user_id = ? AND item_id = ?`, userID, itemID)
	return err
}

func (s *Store) HasExposure(ctx context.Context, userID, itemID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM exposures WHERE user_id = ? AND item_id = ?`), userID, itemID).Scan(&n)
	return n > 0, err
}

// CountExposures returns how many catalog items the user has received.
func (s *Store) CountExposures(ctx context.Context, userID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM exposures WHERE user_id = ?`), userID).Scan(&n)
	return n, err
}

// CountUnseen returns the size of the user's unseen set.
func (s *Store) CountUnseen(ctx context.Context, userID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT COUNT(*) FROM content_items c
WHERE NOT EXISTS (SELECT 1 FROM exposures e WHERE e.user_id = ? AND e.item_id = c.id)`), userID).Scan(&n)
	return n, err
}
