package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const itemColumns = `id, ref, added_at, delivery_failures`

// InsertItem adds ref to the catalog. Existing refs are left untouched and
// returned with created=false.
func (s *Store) InsertItem(ctx context.Context, ref string) (ContentItem, bool, error) {
	if s == nil || s.db == nil {
		return ContentItem{}, false, ErrDisabled
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ContentItem{}, false, errors.New("empty item ref")
	}
	res, err := s.exec(ctx, s.db,
		`INSERT INTO content_items(ref, added_at) VALUES(?, ?) ON CONFLICT(ref) DO NOTHING`,
		ref, toMillis(time.Now()))
	if err != nil {
		return ContentItem{}, false, err
	}
	n, _ := res.RowsAffected()
	it, err := s.GetItemByRef(ctx, ref)
	if err != nil {
		return ContentItem{}, false, err
	}
	return it, n > 0, nil
}

func (s *Store) GetItemByRef(ctx context.Context, ref string) (ContentItem, error) {
	if s == nil || s.db == nil {
		return ContentItem{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM content_items WHERE ref = ?`), ref)
	return scanItem(row)
}

func (s *Store) GetItem(ctx context.Context, id int64) (ContentItem, error) {
	if s == nil || s.db == nil {
		return ContentItem{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM content_items WHERE id = ?`), id)
	return scanItem(row)
}

// ListItems returns items ordered by id.
func (s *Store) ListItems(ctx context.Context, limit, offset int) ([]ContentItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+itemColumns+` FROM content_items ORDER BY id LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (s *Store) CountItems(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items`).Scan(&n)
	return n, err
}

// DeleteItem removes the item and every exposure that references it.
// It reports whether the item existed.
func (s *Store) DeleteItem(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM exposures WHERE item_id = ?`, id); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, `DELETE FROM content_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// RecordItemFailure increments the delivery failure counter and returns the new value.
func (s *Store) RecordItemFailure(ctx context.Context, id int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`UPDATE content_items SET delivery_failures = delivery_failures + 1 WHERE id = ? RETURNING delivery_failures`), id).
		Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

func (s *Store) ResetItemFailures(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.exec(ctx, s.db,
		`UPDATE content_items SET delivery_failures = 0 WHERE id = ? AND delivery_failures <> 0`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ContentItem, error) {
	var it ContentItem
	var added int64
	err := row.Scan(&it.ID, &it.Ref, &added, &it.DeliveryFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	if err != nil {
		return ContentItem{}, err
	}
	it.AddedAt = fromMillis(added)
	return it, nil
}

func collectItems(rows *sql.Rows) ([]ContentItem, error) {
	defer rows.Close()
	var out []ContentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
