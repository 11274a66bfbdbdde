package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendAudit writes one append-only audit row. An empty ID is assigned.
func (s *Store) AppendAudit(ctx context.Context, rec evidence.AuditRecord) error {
	return appendAuditTx(ctx, s.db, rec)
}

func appendAuditTx(ctx context.Context, db execer, rec evidence.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var before, after any
	if len(rec.Before) > 0 {
		before = string(rec.Before)
	}
	if len(rec.After) > 0 {
		after = string(rec.After)
	}
	var reason any
	if rec.Reason != "" {
		reason = rec.Reason
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, actor, action, resource_type, resource_id, before_state, after_state, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID,
		before, after, reason, encodeTime(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// AuditByResource returns the audit trail for one resource, oldest first.
func (s *Store) AuditByResource(ctx context.Context, resourceType, resourceID string) ([]evidence.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, resource_type, resource_id, before_state, after_state, reason, created_at
		 FROM audit_logs WHERE resource_type = ? AND resource_id = ?
		 ORDER BY created_at ASC, id ASC`,
		resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []evidence.AuditRecord
	for rows.Next() {
		var (
			rec       evidence.AuditRecord
			before    sql.NullString
			after     sql.NullString
			reason    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.ResourceType,
			&rec.ResourceID, &before, &after, &reason, &createdAt); err != nil {
			return nil, err
		}
		if before.Valid {
			rec.Before = []byte(before.String)
		}
		if after.Valid {
			rec.After = []byte(after.String)
		}
		if reason.Valid {
			rec.Reason = reason.String
		}
		if rec.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
