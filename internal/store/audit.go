package store

import (
	"context"
	"fmt"

	"qtrack/internal/types"
)

const defaultAuditLimit = 50

// Record appends one line to the activity log.
func (s *Store) Record(ctx context.Context, rec types.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, insertAuditSQL,
		rec.Actor, rec.Action, rec.EntityType, rec.EntityID, rec.Details, formatTime(rec.CreatedAt))
	return wrapDBError("record audit", err)
}

// ListAudit returns the newest records first. An empty entityID lists all.
func (s *Store) ListAudit(ctx context.Context, entityID string, limit int) ([]types.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT id, actor, action, entity_type, entity_id, details, created_at FROM audit_log`
	var args []any
	if entityID != "" {
		query += ` WHERE entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list audit", err)
	}
	defer rows.Close()

	var records []types.AuditRecord
	for rows.Next() {
		var (
			rec       types.AuditRecord
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.EntityType, &rec.EntityID, &rec.Details, &createdAt); err != nil {
			return nil, wrapDBError("scan audit", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse audit time: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list audit", err)
	}

	return records, nil
}
