// Package decoder parses one raw email into header fields, a canonical
// body string, and attachment records. Decoding a message never depends on
// any other message, and a failure inside one MIME part never aborts its
// siblings: bad parts degrade to empty content and the message survives.
package decoder

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/mailcorpus/mailcorpus/internal/charset"
	"github.com/mailcorpus/mailcorpus/internal/thread"
)

// Decoder turns raw message bytes into Messages. The zero value is not
// usable; construct with New.
type Decoder struct {
	// clock supplies the fallback timestamp for unparseable Date headers.
	clock func() time.Time
}

// New returns a Decoder using the wall clock for date fallbacks.
func New() *Decoder {
	return &Decoder{clock: time.Now}
}

// NewWithClock pins the fallback clock, for tests.
func NewWithClock(clock func() time.Time) *Decoder {
	return &Decoder{clock: clock}
}

// Decode parses one raw message. It fails only when the input has no
// parseable header block at all; everything past that point is
// best-effort.
func (d *Decoder) Decode(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, &PartError{Stage: "read headers", Err: err}
	}

	h := msg.Header
	out := &Message{
		MessageID:  thread.NormalizeID(h.Get("Message-Id")),
		InReplyTo:  thread.NormalizeID(h.Get("In-Reply-To")),
		References: thread.ExtractIDs(h.Get("References")),
		From:       charset.DecodeHeader(h.Get("From")),
		To:         charset.DecodeHeader(h.Get("To")),
		Cc:         charset.DecodeHeader(h.Get("Cc")),
		Bcc:        charset.DecodeHeader(h.Get("Bcc")),
		ReplyTo:    charset.DecodeHeader(h.Get("Reply-To")),
		Subject:    strings.TrimSpace(charset.Normalize(h.Get("Subject"))),
		Size:       int64(len(raw)),
		Headers:    flattenHeaders(h),
	}

	out.Date = d.parseDate(h.Get("Date"), out)
	out.MailingList = detectMailingList(h)

	var walker partWalker
	walker.walk(h.Get("Content-Type"), h.Get("Content-Transfer-Encoding"), msg.Body, 0)

	out.Attachments = walker.attachments
	switch {
	case walker.html != "":
		// An HTML part anywhere in the tree wins for display fidelity.
		out.BodyHTML = walker.html
		out.BodyText = HTMLToText(walker.html)
	default:
		out.BodyText = CleanText(walker.text)
	}

	return out, nil
}

// parseDate tries RFC 5322 first, then a fuzzy layout list for the date
// formats broken clients emit. An unparseable date falls back to "now" and
// flags the message rather than aborting it.
func (d *Decoder) parseDate(raw string, out *Message) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t
		}
		for _, layout := range []string{
			time.RFC1123Z,
			time.RFC1123,
			"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
			"Mon, 2 Jan 2006 15:04:05 -0700",
			"Mon, 2 Jan 2006 15:04:05",
			"2 Jan 2006 15:04:05 -0700",
			"2 Jan 2006 15:04:05",
			time.RFC822Z,
			time.RFC822,
			"2006-01-02T15:04:05Z07:00",
			"2006-01-02 15:04:05",
		} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	out.DateMissing = true
	return d.clock().UTC()
}

var headersOfRecord = []string{
	"From", "To", "Cc", "Bcc", "Reply-To", "Subject", "Date",
	"Message-Id", "In-Reply-To", "References",
	"List-Id", "List-Post", "List-Unsubscribe", "Mailing-List",
	"X-Spam-Flag", "X-Spam-Status",
}

func flattenHeaders(h mail.Header) map[string]string {
	out := make(map[string]string)
	for _, key := range headersOfRecord {
		if v := h.Get(key); v != "" {
			out[key] = charset.DecodeHeader(v)
		}
	}
	return out
}

// detectMailingList reads list-management headers. List-Id carries
// `Display Name <list-id.example.com>` or a bare `<list-id.example.com>`;
// the posting address comes from List-Post's mailto when present.
func detectMailingList(h mail.Header) *MailingList {
	listID := strings.TrimSpace(charset.DecodeHeader(h.Get("List-Id")))
	if listID == "" {
		listID = strings.TrimSpace(charset.DecodeHeader(h.Get("Mailing-List")))
	}
	if listID == "" {
		return nil
	}

	ml := &MailingList{}
	if open := strings.LastIndex(listID, "<"); open >= 0 {
		end := strings.Index(listID[open:], ">")
		if end > 0 {
			ml.ID = strings.TrimSpace(listID[open+1 : open+end])
		}
		ml.Name = strings.Trim(strings.TrimSpace(listID[:open]), `"`)
	} else {
		ml.ID = listID
	}
	if ml.ID == "" {
		return nil
	}
	if ml.Name == "" {
		ml.Name = ml.ID
	}

	if post := h.Get("List-Post"); post != "" {
		if m := strings.Index(post, "mailto:"); m >= 0 {
			addr := post[m+len("mailto:"):]
			addr = strings.Trim(addr, "<> \t")
			if end := strings.IndexAny(addr, ">?,"); end >= 0 {
				addr = addr[:end]
			}
			ml.Address = strings.ToLower(addr)
		}
	}
	return ml
}

// partWalker accumulates body candidates and attachments across a
// recursive part-tree walk.
type partWalker struct {
	text        string
	html        string
	attachments []Attachment
}

const maxPartDepth = 16

func (w *partWalker) walk(contentType, transferEncoding string, body io.Reader, depth int) {
	if depth > maxPartDepth {
		return
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unparseable content type: treat as plain text.
		if w.text == "" {
			w.text = readTextPart(body, transferEncoding, "")
		}
		return
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return
		}
		mr := multipart.NewReader(body, boundary)
		index := 0
		for {
			part, err := mr.NextPart()
			if err != nil {
				// io.EOF ends the walk; a corrupt part ends this
				// subtree but keeps everything collected so far.
				return
			}
			index++
			w.walkPart(part, index, depth+1)
			part.Close()
		}
	}

	switch mediaType {
	case "text/html":
		if w.html == "" {
			w.html = readTextPart(body, transferEncoding, params["charset"])
		}
	default:
		if w.text == "" {
			w.text = readTextPart(body, transferEncoding, params["charset"])
		}
	}
}

func (w *partWalker) walkPart(part *multipart.Part, index, depth int) {
	disposition := part.Header.Get("Content-Disposition")
	if strings.Contains(strings.ToLower(disposition), "attachment") {
		if att, ok := extractAttachment(part, index); ok {
			w.attachments = append(w.attachments, att)
		}
		return
	}
	w.walk(
		part.Header.Get("Content-Type"),
		part.Header.Get("Content-Transfer-Encoding"),
		part, depth,
	)
}

// readTextPart applies transfer decoding and charset conversion, returning
// valid UTF-8 or an empty string. It never fails.
func readTextPart(r io.Reader, transferEncoding, cs string) string {
	r = transferReader(r, transferEncoding)
	r = charset.Reader(cs, r)
	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return ""
	}
	return charset.HealMojibake(charset.EnsureUTF8(string(data)))
}

func transferReader(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}
