package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// endOfDayExclusive maps a DateTo bound to the first instant of the next
// UTC day, making the day itself fully inclusive.
func endOfDayExclusive(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// ListMessages returns the filterable projection downstream consumers are
// allowed to depend on: core message columns plus aggregated recipient
// fields and an attachment count. Date bounds are inclusive on both ends;
// DateTo is extended to the end of its day.
func (s *Store) ListMessages(ctx context.Context, f Filter) ([]MessageRow, error) {
	base := `
		FROM messages m
		WHERE m.is_deleted = false
	`
	args := []interface{}{}
	argIdx := 1

	if f.Folder != "" {
		base += fmt.Sprintf(" AND m.folder = $%d", argIdx)
		args = append(args, f.Folder)
		argIdx++
	}
	if f.Direction != "" {
		base += fmt.Sprintf(" AND m.direction = $%d", argIdx)
		args = append(args, f.Direction)
		argIdx++
	}
	if f.DateFrom != nil {
		base += fmt.Sprintf(" AND m.timestamp >= $%d", argIdx)
		args = append(args, f.DateFrom.UTC())
		argIdx++
	}
	if f.DateTo != nil {
		// Inclusive end of day: anything strictly before the next UTC
		// day. Computed here so the session time zone cannot shift it.
		base += fmt.Sprintf(" AND m.timestamp < $%d", argIdx)
		args = append(args, endOfDayExclusive(*f.DateTo))
		argIdx++
	}
	if f.Sender != "" {
		base += fmt.Sprintf(" AND m.sender_address = $%d", argIdx)
		args = append(args, f.Sender)
		argIdx++
	}
	if f.Recipient != "" {
		base += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM recipients r
			WHERE r.message_id = m.id AND r.entity_address LIKE $%d
		)`, argIdx)
		args = append(args, "%"+f.Recipient+"%")
		argIdx++
	}
	if f.HasAttachments != nil {
		if *f.HasAttachments {
			base += " AND EXISTS (SELECT 1 FROM attachments a WHERE a.message_id = m.id)"
		} else {
			base += " AND NOT EXISTS (SELECT 1 FROM attachments a WHERE a.message_id = m.id)"
		}
	}

	query := `
		SELECT
			m.id, m.message_id, m.in_reply_to, m."references", m.subject,
			m.body, m.body_html, m.timestamp, m.folder, m.direction,
			COALESCE(m.sender_address, '') AS sender_address, m.is_spam, m.is_deleted, m.mailing_list_id,
			m.parent_message_id,
			COALESCE((
				SELECT string_agg(DISTINCT r.entity_address, ', ')
				FROM recipients r WHERE r.message_id = m.id AND r.kind = 'to'
			), '') AS recipients_to,
			COALESCE((
				SELECT string_agg(DISTINCT r.entity_address, ', ')
				FROM recipients r WHERE r.message_id = m.id AND r.kind = 'cc'
			), '') AS recipients_cc,
			(SELECT COUNT(*) FROM attachments a WHERE a.message_id = m.id) AS attachment_count
	` + base + " ORDER BY m.timestamp DESC"

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	var rows []MessageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return rows, nil
}

// GetMessage returns one message row by surrogate id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*MessageRow, error) {
	var row MessageRow
	err := s.db.GetContext(ctx, &row, `
		SELECT
			m.id, m.message_id, m.in_reply_to, m."references", m.subject,
			m.body, m.body_html, m.timestamp, m.folder, m.direction,
			COALESCE(m.sender_address, '') AS sender_address, m.is_spam, m.is_deleted, m.mailing_list_id,
			m.parent_message_id
		FROM messages m WHERE m.id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("store: get message: %w", err)
	}
	return &row, nil
}

// GetThread expands the conversation containing the given message-id:
// every message reachable through parent links, ordered by timestamp.
func (s *Store) GetThread(ctx context.Context, messageID string) ([]MessageRow, error) {
	query := `
		WITH RECURSIVE up AS (
			SELECT m.* FROM messages m WHERE m.message_id = $1
			UNION
			SELECT p.* FROM messages p
			JOIN up ON up.parent_message_id = p.id
		), down AS (
			SELECT * FROM up
			UNION
			SELECT c.* FROM messages c
			JOIN down ON c.parent_message_id = down.id
		)
		SELECT
			d.id, d.message_id, d.in_reply_to, d."references", d.subject,
			d.body, d.body_html, d.timestamp, d.folder, d.direction,
			COALESCE(d.sender_address, '') AS sender_address, d.is_spam, d.is_deleted, d.mailing_list_id,
			d.parent_message_id
		FROM down d
		ORDER BY d.timestamp ASC
	`
	var rows []MessageRow
	if err := s.db.SelectContext(ctx, &rows, query, messageID); err != nil {
		return nil, fmt.Errorf("store: get thread %s: %w", messageID, err)
	}
	if len(rows) == 0 {
		return nil, ErrMessageNotFound
	}
	return rows, nil
}

// GetEntity looks up one identity by canonical address.
func (s *Store) GetEntity(ctx context.Context, address string) (*EntityRow, error) {
	var row EntityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, name, is_person, alias_names, first_seen, last_seen
		FROM entities WHERE address = $1
	`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("store: get entity: %w", err)
	}
	return &row, nil
}

// GetAttachments lists attachment metadata for a message, payloads
// excluded.
func (s *Store) GetAttachments(ctx context.Context, messageID uuid.UUID) ([]AttachmentRow, error) {
	var rows []AttachmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, filename, content_type, size, storage_key
		FROM attachments WHERE message_id = $1 ORDER BY id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: get attachments: %w", err)
	}
	return rows, nil
}
