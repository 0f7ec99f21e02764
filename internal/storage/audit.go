package storage

import (
	"context"
	"strings"
	"time"
)

// Audit appends a curator action to the audit log.
func (s *Store) Audit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	var errText, meta any
	if v := strings.TrimSpace(e.Error); v != "" {
		errText = v
	}
	if v := strings.TrimSpace(e.MetaJSON); v != "" {
		meta = v
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO audit(at, actor_id, action, target, ok, fail, err, took_ms, meta) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toMillis(at), e.ActorID, e.Action, e.Target, e.OK, e.Fail, errText, e.TookMS, meta)
	return err
}

// RecentAudit returns the newest entries first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT at, actor_id, action, target, ok, fail, COALESCE(err, ''), took_ms, COALESCE(meta, '') FROM audit ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at int64
		if err := rows.Scan(&at, &e.ActorID, &e.Action, &e.Target, &e.OK, &e.Fail, &e.Error, &e.TookMS, &e.MetaJSON); err != nil {
			return nil, err
		}
		e.At = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
