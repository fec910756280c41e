package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cleaver-pos/cleaver/internal/platform/db"
)

// AuditLog is one row of audit_logs: who did what to which record.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db db.Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn db.Execer) *AuditLogger {
	return &AuditLogger{db: conn}
}

// Record persists the entry. The actor defaults to the one carried by ctx and
// the timestamp to the database clock.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if entry.Actor == "" {
		entry.Actor = ActorFromContext(ctx)
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	var at *time.Time
	if !entry.At.IsZero() {
		utc := entry.At.UTC()
		at = &utc
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.Actor, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	if err != nil {
		return fmt.Errorf("audit: %s %s: %w", entry.Action, entry.Entity, err)
	}
	return nil
}
