package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultAuditListLimit = 1000
	auditWalkPageSize     = 500
)

const auditColumns = `
	rowid,
	id,
	action,
	COALESCE(actor, ''),
	COALESCE(target_type, ''),
	COALESCE(target_id, ''),
	COALESCE(result, ''),
	COALESCE(details_json, '{}'),
	COALESCE(prev_hash, ''),
	COALESCE(event_hash, ''),
	created_at`

type auditRepository struct {
	db *sql.DB
}

// AppendLinked writes the event and moves the chain tip from event.PrevHash
// to event.EventHash in one transaction, so a crash never leaves the tip
// pointing past the log. The tip moves only if it still equals PrevHash;
// otherwise nothing is written and ErrAuditChainMoved is returned, and the
// caller must relink against the new tip.
func (r *auditRepository) AppendLinked(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("append audit event: event is nil")
	}
	if event.Action == "" {
		return fmt.Errorf("append audit event: action is required")
	}
	if event.EventHash == "" {
		return fmt.Errorf("append audit event: event hash is required")
	}
	event.ID = ensureID(event.ID)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = nowUTC()
	}
	if event.DetailsJSON == "" {
		event.DetailsJSON = "{}"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append audit event: begin: %w", busyAsMoved(err))
	}
	defer func() { _ = tx.Rollback() }()

	// The tip swap is the first statement so the write lock is taken before
	// the tip is compared.
	moved, err := swapChainTip(ctx, tx, event.PrevHash, event.EventHash)
	if err != nil {
		return fmt.Errorf("append audit event: write chain tip: %w", busyAsMoved(err))
	}
	if !moved {
		return fmt.Errorf("append audit event: %w", ErrAuditChainMoved)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events(
			id, action, actor, target_type, target_id, result, details_json, prev_hash, event_hash, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Action, event.Actor, event.TargetType, event.TargetID, event.Result,
		event.DetailsJSON, event.PrevHash, event.EventHash, fmtTime(event.CreatedAt)); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append audit event: commit: %w", busyAsMoved(err))
	}
	return nil
}

func swapChainTip(ctx context.Context, tx *sql.Tx, prev, next string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE adapt_meta SET value = ? WHERE key = ? AND value = ?`, next, auditChainTipMetaKey, prev)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 && prev == "" {
		// databases whose tip row was never seeded
		res, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO adapt_meta(key, value) VALUES(?, ?)`, auditChainTipMetaKey, next)
		if err != nil {
			return false, err
		}
		if n, err = res.RowsAffected(); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// busyAsMoved reports lock contention with another connection as a moved
// tip: either way the append has to be retried against a fresh tip.
func busyAsMoved(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_BUSY {
		return fmt.Errorf("%w: %v", ErrAuditChainMoved, err)
	}
	return err
}

// List returns matching events oldest first. With Tail set the limit keeps
// the newest events instead of the oldest.
func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}

	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.TargetType != "" {
		where = append(where, "target_type = ?")
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, fmtTime(*filter.Until))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	order := "ASC"
	if filter.Tail {
		order = "DESC"
	}
	query += ` ORDER BY rowid ` + order + ` LIMIT ?`
	args = append(args, limit)

	events, _, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	if filter.Tail {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}

// Walk calls fn for every event in append order, a page at a time.
func (r *auditRepository) Walk(ctx context.Context, fn func(AuditEvent) error) error {
	var after int64
	for {
		page, last, err := r.query(ctx,
			`SELECT `+auditColumns+` FROM audit_events WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`,
			after, auditWalkPageSize)
		if err != nil {
			return fmt.Errorf("walk audit events: %w", err)
		}
		for _, event := range page {
			if err := fn(event); err != nil {
				return err
			}
		}
		if len(page) < auditWalkPageSize {
			return nil
		}
		after = last
	}
}

func (r *auditRepository) query(ctx context.Context, query string, args ...any) ([]AuditEvent, int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		events  = []AuditEvent{}
		lastRow int64
	)
	for rows.Next() {
		var (
			event   AuditEvent
			created string
		)
		if err := rows.Scan(
			&lastRow,
			&event.ID,
			&event.Action,
			&event.Actor,
			&event.TargetType,
			&event.TargetID,
			&event.Result,
			&event.DetailsJSON,
			&event.PrevHash,
			&event.EventHash,
			&created,
		); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}
		event.CreatedAt, err = parseTime(created)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate: %w", err)
	}
	return events, lastRow, nil
}

func (r *auditRepository) ChainTip(ctx context.Context) (string, error) {
	var tip string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM adapt_meta WHERE key = ?`, auditChainTipMetaKey).Scan(&tip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read audit chain tip: %w", err)
	}
	return tip, nil
}
