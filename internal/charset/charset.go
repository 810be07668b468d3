// Package charset repairs text that arrives with transport encodings still
// applied or that was decoded with the wrong character set somewhere
// upstream. Every function degrades to best-effort passthrough: no input,
// however mangled, produces an error or a panic.
package charset

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	// encodedWordPattern matches RFC 2047 encoded words: =?charset?Q|B?...?=
	encodedWordPattern = regexp.MustCompile(`=\?[^?]+\?[QqBb]\?[^?]*\?=`)

	// base64Marker splits a header block from a base64 body when the
	// transfer encoding leaked into the stored text.
	base64Marker = regexp.MustCompile(`(?i)content-transfer-encoding:\s*base64`)
)

// wordDecoder decodes RFC 2047 encoded words using x/text for any charset
// the htmlindex knows about. Unknown charsets fall through to Latin-1,
// which at least yields valid UTF-8.
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
		return Reader(cs, input), nil
	},
}

// Reader wraps r with a decoder for the named charset. UTF-8 and ASCII pass
// through; unknown names decode as Latin-1 so the output is always valid.
func Reader(cs string, r io.Reader) io.Reader {
	cs = strings.ToLower(strings.TrimSpace(cs))
	switch cs {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return r
	}
	enc, err := htmlindex.Get(cs)
	if err != nil || enc == nil {
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// Decode converts raw bytes in the named charset to a UTF-8 string.
func Decode(raw []byte, cs string) string {
	out, err := io.ReadAll(Reader(cs, strings.NewReader(string(raw))))
	if err != nil {
		return EnsureUTF8(string(raw))
	}
	return EnsureUTF8(string(out))
}

// DecodeHeader decodes any RFC 2047 encoded words in a header value. Input
// without encoded words is returned unchanged; decode failures return the
// original value.
func DecodeHeader(value string) string {
	if value == "" || !strings.Contains(value, "=?") {
		return value
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// Normalize applies the repair pipeline to a text blob of unknown
// provenance, in priority order: encoded-word decoding, quoted-printable
// repair, stray base64 bodies, then a final UTF-8 enforcement pass with
// mojibake healing.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	switch {
	case encodedWordPattern.MatchString(text):
		text = decodeEncodedWords(text)
	case looksQuotedPrintable(text):
		text = decodeQuotedPrintable(text)
	case base64Marker.MatchString(text):
		text = decodeBase64Body(text)
	}

	return HealMojibake(EnsureUTF8(text))
}

// decodeEncodedWords replaces every encoded word in place, leaving the
// surrounding text untouched.
func decodeEncodedWords(text string) string {
	return encodedWordPattern.ReplaceAllStringFunc(text, func(word string) string {
		decoded, err := wordDecoder.Decode(word)
		if err != nil {
			return word
		}
		return decoded
	})
}

// looksQuotedPrintable reports whether text shows quoted-printable escapes
// for UTF-8 multibyte sequences (lead bytes C3/C2/E2 as "=C3" etc).
func looksQuotedPrintable(text string) bool {
	return strings.Contains(text, "=C3") || strings.Contains(text, "=C2") ||
		strings.Contains(text, "=E2") || strings.Contains(text, "=c3")
}

func decodeQuotedPrintable(text string) string {
	out, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(text)))
	if err != nil && len(out) == 0 {
		return text
	}
	// The reader may have stopped mid-stream on a bad escape; keep what
	// decoded and enforce UTF-8 later.
	return string(out)
}

// decodeBase64Body handles text where a base64 transfer encoding header and
// its still-encoded body were flattened into one string. The portion after
// the first blank line is decoded and reattached to the header portion.
func decodeBase64Body(text string) string {
	sep := "\n\n"
	idx := strings.Index(text, sep)
	if idx < 0 {
		sep = "\r\n\r\n"
		idx = strings.Index(text, sep)
	}
	if idx < 0 {
		return text
	}
	head, body := text[:idx], strings.TrimSpace(text[idx+len(sep):])
	compact := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, body)
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return text
	}
	return head + sep + string(decoded)
}

// EnsureUTF8 guarantees a valid UTF-8 string. Invalid byte sequences are
// reinterpreted as Latin-1; if that somehow fails they are replaced with
// U+FFFD.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, _, err := transform.String(charmap.Windows1252.NewDecoder(), s)
	if err == nil && utf8.ValidString(decoded) {
		return decoded
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// mojibakeMarkers are multi-byte sequences that almost never occur in clean
// prose but fall out of decoding UTF-8 bytes as Latin-1 (or Windows-1252)
// and re-encoding the result. "Ã©" is é twice-decoded, "â€™" is a curly
// apostrophe, and so on.
var mojibakeMarkers = []string{
	"Ã©", "Ã¨", "Ã ", "Ã´", "Ã»", "Ã§", "Ã®", "Ã¯", "Ã«", "Ã¢",
	"â€™", "â€œ", "â€", "â€“", "â€”", "Â ", "Â«", "Â»",
}

// HealMojibake re-decodes text that shows signs of a double UTF-8 decode.
// The healed version is kept only when the reverse transform round-trips
// cleanly; clean input is returned unchanged.
func HealMojibake(s string) string {
	suspicious := false
	for _, marker := range mojibakeMarkers {
		if strings.Contains(s, marker) {
			suspicious = true
			break
		}
	}
	if !suspicious {
		return s
	}
	raw, _, err := transform.String(charmap.Windows1252.NewEncoder(), s)
	if err != nil {
		return s
	}
	if !utf8.ValidString(raw) || raw == s {
		return s
	}
	return raw
}

// SanitizeFilename decodes a possibly MIME-encoded attachment filename,
// falling back to a numbered placeholder when nothing usable remains.
func SanitizeFilename(name string, index int) string {
	name = strings.TrimSpace(DecodeHeader(name))
	name = EnsureUTF8(name)
	if name == "" {
		return fmt.Sprintf("attachment-%d.bin", index)
	}
	return name
}
