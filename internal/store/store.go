// Package store is the normalized corpus schema and its read/write
// contract. Writes are append-only and idempotent per message-id: batched
// message inserts with recipient and attachment rows, entity upserts by
// canonical address, and a serialized parent-link pass for threading.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/mailcorpus/mailcorpus/internal/entity"
	"github.com/mailcorpus/mailcorpus/internal/thread"
)

var (
	ErrMessageNotFound = errors.New("store: message not found")
	ErrEntityNotFound  = errors.New("store: entity not found")
)

// Store wraps the corpus database.
type Store struct {
	db *sqlx.DB
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return db, nil
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// UpsertEntities writes the identity table. Conflicts on address merge:
// name and flags are refreshed, alias names are unioned, first_seen keeps
// the earlier sighting.
func (s *Store) UpsertEntities(ctx context.Context, entities []*entity.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin entity upsert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO entities (address, name, is_person, alias_names, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			is_person = EXCLUDED.is_person,
			alias_names = EXCLUDED.alias_names,
			last_seen = GREATEST(entities.last_seen, EXCLUDED.last_seen),
			first_seen = LEAST(entities.first_seen, EXCLUDED.first_seen)
	`
	for _, ent := range entities {
		_, err := tx.ExecContext(ctx, query,
			ent.Address.String(),
			ent.Name,
			ent.IsPerson,
			strings.Join(ent.AliasNames, "\n"),
			ent.FirstSeen.UTC(),
			ent.LastSeen.UTC(),
		)
		if err != nil {
			return fmt.Errorf("store: upsert entity %s: %w", ent.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit entity upsert: %w", err)
	}
	return nil
}

// InsertMessages commits a batch of message records in one transaction.
// Re-inserting a message-id already present is a no-op, which makes
// re-running a partially ingested batch safe. Any failure rolls back the
// whole batch.
func (s *Store) InsertMessages(ctx context.Context, records []*MessageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin message insert: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if err := insertMessage(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit message insert: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, rec *MessageRecord) error {
	var mailingListID *int64
	if rec.MailingList != nil {
		id, err := ensureMailingList(ctx, tx, rec.MailingList)
		if err != nil {
			return err
		}
		mailingListID = &id
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var inserted uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (
			id, message_id, in_reply_to, "references", subject, body,
			body_html, timestamp, folder, direction, sender_address,
			is_spam, is_deleted, mailing_list_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)
		ON CONFLICT (message_id) WHERE message_id <> '' DO NOTHING
		RETURNING id
	`,
		rec.ID, rec.MessageID, rec.InReplyTo, rec.References, rec.Subject,
		rec.Body, rec.BodyHTML, rec.Timestamp.UTC(), rec.Folder,
		rec.Direction, rec.SenderAddress, rec.IsSpam, rec.IsDeleted,
		mailingListID,
	).Scan(&inserted)
	if err != nil {
		// No row returned means the message-id already exists; the
		// dependent rows were written with it the first time around.
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("store: insert message %s: %w", rec.MessageID, err)
	}

	for _, r := range rec.Recipients {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipients (message_id, entity_address, kind)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, inserted, r.Address, r.Kind)
		if err != nil {
			return fmt.Errorf("store: insert recipient %s: %w", r.Address, err)
		}
	}

	for _, att := range rec.Attachments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (message_id, filename, content_type, size, content, storage_key)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inserted, att.Filename, att.ContentType, att.Size, att.Content, att.StorageKey)
		if err != nil {
			return fmt.Errorf("store: insert attachment %q: %w", att.Filename, err)
		}
	}

	return nil
}

func ensureMailingList(ctx context.Context, tx *sqlx.Tx, ml *MailingListRow) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO mailing_lists (list_id, name, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), mailing_lists.name),
			address = COALESCE(NULLIF(EXCLUDED.address, ''), mailing_lists.address)
		RETURNING id
	`, ml.ListID, ml.Name, ml.Address).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: ensure mailing list %s: %w", ml.ListID, err)
	}
	return id, nil
}

// ApplyParentLinks writes the thread reconstruction output. All links
// commit in one transaction so two runs can never interleave conflicting
// parents.
func (s *Store) ApplyParentLinks(ctx context.Context, links []thread.Link) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin parent links: %w", err)
	}
	defer tx.Rollback()

	for _, link := range links {
		childID, err := uuid.Parse(link.Child)
		if err != nil {
			return fmt.Errorf("store: bad child key %q: %w", link.Child, err)
		}
		parentID, err := uuid.Parse(link.Parent)
		if err != nil {
			return fmt.Errorf("store: bad parent key %q: %w", link.Parent, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET parent_message_id = $1 WHERE id = $2
		`, parentID, childID); err != nil {
			return fmt.Errorf("store: link %s -> %s: %w", link.Child, link.Parent, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit parent links: %w", err)
	}
	return nil
}

// ListForThreading projects every message into the reconstructor's input
// shape. The row id doubles as the node key.
func (s *Store) ListForThreading(ctx context.Context) ([]thread.Node, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, message_id, in_reply_to, "references", subject, timestamp
		FROM messages
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list for threading: %w", err)
	}
	defer rows.Close()

	var nodes []thread.Node
	for rows.Next() {
		var (
			n    thread.Node
			id   uuid.UUID
			refs string
		)
		if err := rows.Scan(&id, &n.MessageID, &n.InReplyTo, &refs, &n.Subject, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan threading node: %w", err)
		}
		n.Key = id.String()
		n.References = thread.ExtractIDs(refs)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
