package decoder

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func decode(t *testing.T, raw string) *Message {
	t.Helper()
	msg, err := New().Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return msg
}

func TestDecodePlainText(t *testing.T) {
	raw := "From: \"Anne Dupont\" <anne@example.org>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Budget 2024\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"Message-Id: <m1@example.org>\r\n" +
		"\r\n" +
		"Bonjour,\r\n\r\nVoici le budget.\r\n"

	msg := decode(t, raw)

	if msg.MessageID != "m1@example.org" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.Subject != "Budget 2024" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.From != `"Anne Dupont" <anne@example.org>` {
		t.Errorf("From = %q", msg.From)
	}
	if msg.DateMissing {
		t.Error("date was present, DateMissing must be false")
	}
	want := time.Date(2024, 3, 5, 9, 14, 0, 0, time.FixedZone("", 3600))
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if !strings.Contains(msg.BodyText, "Voici le budget.") {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
	if msg.BodyHTML != "" {
		t.Errorf("plain message should have no HTML body, got %q", msg.BodyHTML)
	}
	if msg.Size != int64(len(raw)) {
		t.Errorf("Size = %d, want %d", msg.Size, len(raw))
	}
}

func TestDecodeEncodedSubjectAndThreading(t *testing.T) {
	raw := "From: jean@example.org\r\n" +
		"Subject: =?UTF-8?Q?Re=3A_R=C3=A9union_budget?=\r\n" +
		"Message-Id: <m2@example.org>\r\n" +
		"In-Reply-To: <m1@example.org>\r\n" +
		"References: <m0@example.org> <m1@example.org>\r\n" +
		"Date: Tue, 5 Mar 2024 10:00:00 +0100\r\n" +
		"\r\nOK pour moi.\r\n"

	msg := decode(t, raw)

	if msg.Subject != "Re: Réunion budget" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.InReplyTo != "m1@example.org" {
		t.Errorf("InReplyTo = %q", msg.InReplyTo)
	}
	if len(msg.References) != 2 || msg.References[0] != "m0@example.org" || msg.References[1] != "m1@example.org" {
		t.Errorf("References = %v", msg.References)
	}
}

func TestDecodeDateFallback(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewWithClock(func() time.Time { return fixed })

	raw := "From: a@example.org\r\nDate: not a date at all\r\n\r\nbody\r\n"
	msg, err := d.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.DateMissing {
		t.Error("DateMissing must be set for an unparseable date")
	}
	if !msg.Date.Equal(fixed) {
		t.Errorf("Date = %v, want pinned clock %v", msg.Date, fixed)
	}
}

func TestDecodeNonStandardDate(t *testing.T) {
	raw := "From: a@example.org\r\nDate: 2024-03-05 09:14:00\r\n\r\nbody\r\n"
	msg := decode(t, raw)
	if msg.DateMissing {
		t.Error("fuzzy layout should have parsed")
	}
	want := time.Date(2024, 3, 5, 9, 14, 0, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
}

func TestDecodeMultipartAlternativePrefersHTML(t *testing.T) {
	raw := "From: a@example.org\r\n" +
		"Subject: alt\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"BOUND\"\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain version\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>rich <b>version</b></p></body></html>\r\n" +
		"--BOUND--\r\n"

	msg := decode(t, raw)

	if !strings.Contains(msg.BodyHTML, "<b>version</b>") {
		t.Errorf("BodyHTML = %q", msg.BodyHTML)
	}
	if !strings.Contains(msg.BodyText, "rich version") {
		t.Errorf("BodyText should come from the HTML part, got %q", msg.BodyText)
	}
	if strings.Contains(msg.BodyText, "plain version") {
		t.Errorf("plain alternative leaked into BodyText: %q", msg.BodyText)
	}
}

func TestDecodeLatin1Part(t *testing.T) {
	// "héllo" with é as a single Latin-1 byte.
	body := "h\xe9llo"
	raw := "From: a@example.org\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"\r\n" + body + "\r\n"

	msg := decode(t, raw)
	if !strings.Contains(msg.BodyText, "héllo") {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
}

func TestDecodeAttachment(t *testing.T) {
	raw := "From: a@example.org\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"Content-Type: multipart/mixed; boundary=\"MIX\"\r\n" +
		"\r\n" +
		"--MIX\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attachment.\r\n" +
		"--MIX\r\n" +
		"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--MIX--\r\n"

	msg := decode(t, raw)

	if len(msg.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", att.ContentType)
	}
	if string(att.Content) != "%PDF-1.4" {
		t.Errorf("Content = %q", att.Content)
	}
	if att.Size != 8 {
		t.Errorf("Size = %d", att.Size)
	}
	if !strings.Contains(msg.BodyText, "See attachment.") {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
}

func TestDecodeAttachmentWithoutFilename(t *testing.T) {
	raw := "From: a@example.org\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"Content-Type: multipart/mixed; boundary=\"MIX\"\r\n" +
		"\r\n" +
		"--MIX\r\n" +
		"Content-Disposition: attachment\r\n" +
		"\r\n" +
		"payload\r\n" +
		"--MIX--\r\n"

	msg := decode(t, raw)
	if len(msg.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "attachment-1.bin" {
		t.Errorf("Filename = %q, want numbered placeholder", att.Filename)
	}
	if att.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q", att.ContentType)
	}
}

func TestDecodeCorruptPartKeepsSiblings(t *testing.T) {
	// The closing boundary never arrives: the walk stops at the broken
	// tail but everything already collected survives.
	raw := "From: a@example.org\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"Content-Type: multipart/mixed; boundary=\"MIX\"\r\n" +
		"\r\n" +
		"--MIX\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Intact part.\r\n" +
		"--MIX\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"broken.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0x"

	msg := decode(t, raw)
	if !strings.Contains(msg.BodyText, "Intact part.") {
		t.Errorf("BodyText = %q, intact sibling must survive", msg.BodyText)
	}
}

func TestDecodeMailingList(t *testing.T) {
	raw := "From: news@example.org\r\n" +
		"Date: Tue, 5 Mar 2024 09:14:00 +0100\r\n" +
		"List-Id: Product Updates <updates.example.org>\r\n" +
		"List-Post: <mailto:updates@example.org>\r\n" +
		"\r\nNewsletter body.\r\n"

	msg := decode(t, raw)
	if msg.MailingList == nil {
		t.Fatal("MailingList not detected")
	}
	if msg.MailingList.ID != "updates.example.org" {
		t.Errorf("ID = %q", msg.MailingList.ID)
	}
	if msg.MailingList.Name != "Product Updates" {
		t.Errorf("Name = %q", msg.MailingList.Name)
	}
	if msg.MailingList.Address != "updates@example.org" {
		t.Errorf("Address = %q", msg.MailingList.Address)
	}

	plain := decode(t, "From: a@example.org\r\nDate: Tue, 5 Mar 2024 09:14:00 +0100\r\n\r\nhi\r\n")
	if plain.MailingList != nil {
		t.Errorf("plain message detected as list: %+v", plain.MailingList)
	}
}

func TestDecodeNoHeaders(t *testing.T) {
	if _, err := New().Decode([]byte("just some bytes, no header block")); err == nil {
		t.Error("input without headers must fail")
	}
}

// Any well-formed single-part message round-trips its subject and body
// through the decoder.
func TestDecodeWellFormedRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		subject := rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9 ]{0,40}[A-Za-z0-9]`).Draw(t, "subject")
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9 .,]{0,59}`), 1, 6).Draw(t, "lines")
		body := strings.Join(lines, "\r\n")

		raw := fmt.Sprintf("From: x@example.org\r\nSubject: %s\r\nDate: Tue, 5 Mar 2024 09:14:00 +0100\r\n\r\n%s",
			subject, body)

		msg, err := New().Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if msg.Subject != subject {
			t.Errorf("Subject = %q, want %q", msg.Subject, subject)
		}
		wantBody := strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
		if msg.BodyText != wantBody {
			t.Errorf("BodyText = %q, want %q", msg.BodyText, wantBody)
		}
	})
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "paragraphs become line breaks",
			input: "<html><body><p>First</p><p>Second</p></body></html>",
			want:  "First\nSecond",
		},
		{
			name:  "entities unescaped",
			input: "<p>fish &amp; chips &eacute;</p>",
			want:  "fish & chips é",
		},
		{
			name:  "script and style dropped",
			input: "<style>p{color:red}</style><script>alert(1)</script><p>kept</p>",
			want:  "kept",
		},
		{
			name:  "line breaks",
			input: "one<br>two<br/>three",
			want:  "one\ntwo\nthree",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.input); got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"crlf normalized", "a\r\nb", "a\nb"},
		{"escaped newlines literalized", `one\ntwo`, "one\ntwo"},
		{"soft hyphen removed", "tra­vel", "travel"},
		{"nbsp becomes space", "a b", "a b"},
		{"blank runs collapse", "a\n\n\n\nb", "a\n\nb"},
		{"trimmed", "  x  ", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.input); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
