package store

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to the corpus owner.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Recipient kinds, matching the recipients.kind column.
const (
	KindTo  = "to"
	KindCc  = "cc"
	KindBcc = "bcc"
)

// EntityRow is one row of the entities table.
type EntityRow struct {
	Address    string    `db:"address" json:"address"`
	Name       string    `db:"name" json:"name"`
	IsPerson   bool      `db:"is_person" json:"is_person"`
	AliasNames string    `db:"alias_names" json:"alias_names,omitempty"`
	FirstSeen  time.Time `db:"first_seen" json:"first_seen"`
	LastSeen   time.Time `db:"last_seen" json:"last_seen"`
}

// MessageRow is one row of the messages table, as read back by queries.
type MessageRow struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	MessageID       string     `db:"message_id" json:"message_id"`
	InReplyTo       string     `db:"in_reply_to" json:"in_reply_to,omitempty"`
	References      string     `db:"references" json:"references,omitempty"`
	Subject         string     `db:"subject" json:"subject"`
	Body            string     `db:"body" json:"body"`
	BodyHTML        string     `db:"body_html" json:"body_html,omitempty"`
	Timestamp       time.Time  `db:"timestamp" json:"timestamp"`
	Folder          string     `db:"folder" json:"folder"`
	Direction       string     `db:"direction" json:"direction"`
	SenderAddress   string     `db:"sender_address" json:"sender_address"`
	IsSpam          bool       `db:"is_spam" json:"is_spam"`
	IsDeleted       bool       `db:"is_deleted" json:"is_deleted"`
	MailingListID   *int64     `db:"mailing_list_id" json:"mailing_list_id,omitempty"`
	ParentMessageID *uuid.UUID `db:"parent_message_id" json:"parent_message_id,omitempty"`

	// Populated by the list projection only.
	RecipientsTo    string `db:"recipients_to" json:"recipients_to,omitempty"`
	RecipientsCc    string `db:"recipients_cc" json:"recipients_cc,omitempty"`
	AttachmentCount int    `db:"attachment_count" json:"attachment_count"`
}

// RecipientRef binds one resolved entity to a message under a kind.
type RecipientRef struct {
	Address string
	Kind    string
}

// AttachmentRecord is one attachment to persist with its message.
type AttachmentRecord struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
	// StorageKey is set when the payload was mirrored to blob storage.
	StorageKey string
}

// AttachmentRow is one row of the attachments table, as read back.
type AttachmentRow struct {
	ID          int64  `db:"id" json:"id"`
	MessageID   uuid.UUID `db:"message_id" json:"message_id"`
	Filename    string `db:"filename" json:"filename"`
	ContentType string `db:"content_type" json:"content_type"`
	Size        int64  `db:"size" json:"size"`
	StorageKey  string `db:"storage_key" json:"storage_key,omitempty"`
}

// MailingListRow is one row of the mailing_lists table.
type MailingListRow struct {
	ID      int64  `db:"id" json:"id"`
	ListID  string `db:"list_id" json:"list_id"`
	Name    string `db:"name" json:"name"`
	Address string `db:"address" json:"address"`
}

// MessageRecord is the write-side shape: a decoded message plus its
// resolved recipients and extracted attachments, committed in one
// transaction.
type MessageRecord struct {
	ID            uuid.UUID
	MessageID     string
	InReplyTo     string
	References    string
	Subject       string
	Body          string
	BodyHTML      string
	Timestamp     time.Time
	Folder        string
	Direction     string
	SenderAddress string
	IsSpam        bool
	IsDeleted     bool
	MailingList   *MailingListRow

	Recipients  []RecipientRef
	Attachments []AttachmentRecord
}

// Filter narrows the message list projection. Date bounds are inclusive;
// DateTo covers the whole named day.
type Filter struct {
	Folder         string
	Direction      string
	DateFrom       *time.Time
	DateTo         *time.Time
	Sender         string
	Recipient      string
	HasAttachments *bool
	Limit          int
	Offset         int
}
