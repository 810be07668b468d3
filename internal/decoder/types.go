package decoder

import (
	"fmt"
	"time"
)

// Message is one decoded email, ready for entity resolution, threading,
// and storage. Address headers stay raw strings here; the resolver owns
// turning them into identities.
type Message struct {
	MessageID  string
	InReplyTo  string
	References []string

	From    string
	To      string
	Cc      string
	Bcc     string
	ReplyTo string

	Subject string
	Date    time.Time
	// DateMissing marks messages whose Date header was absent or
	// unparseable; Date then holds the ingestion time.
	DateMissing bool

	BodyText string
	BodyHTML string

	MailingList *MailingList
	Attachments []Attachment

	Headers map[string]string
	Size    int64
}

// Attachment is one extracted attachment part, owned by its message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Size        int64
}

// MailingList describes the list a message was distributed through,
// detected heuristically from list-management headers.
type MailingList struct {
	ID      string
	Name    string
	Address string
}

// PartError reports a recoverable failure on one MIME part. The message
// containing the part is still decoded; the failed part degrades to
// empty or placeholder content.
type PartError struct {
	Stage string
	Err   error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("decoder: %s: %v", e.Stage, e.Err)
}

func (e *PartError) Unwrap() error { return e.Err }
