package decoder

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	reHead   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	reScript = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)

	// Block-level closes and <br> become line breaks so the text keeps the
	// document's vertical structure.
	reBlockClose = regexp.MustCompile(`(?i)</(?:p|div|h[1-6]|tr|li|blockquote|ul|ol|table)>|<br\s*/?>`)
	reCellClose  = regexp.MustCompile(`(?i)</t[dh]>`)
	reTag        = regexp.MustCompile(`<[^>]*>`)

	// Control characters other than tab and newline carry no meaning in a
	// text rendering.
	reControl    = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	reBlankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	reEscapes    = regexp.MustCompile(`\\[nrt'"]`)
)

// HTMLToText renders an HTML body as display text: script/style/head
// blocks removed, block boundaries turned into newlines, table cells into
// tabs, remaining tags stripped, entities unescaped, Unicode normalized.
func HTMLToText(src string) string {
	text := reHead.ReplaceAllString(src, " ")
	text = reScript.ReplaceAllString(text, " ")
	text = reStyle.ReplaceAllString(text, " ")

	text = reBlockClose.ReplaceAllString(text, "\n")
	text = reCellClose.ReplaceAllString(text, "\t")
	text = reTag.ReplaceAllString(text, "")

	text = html.UnescapeString(text)
	return CleanText(text)
}

// CleanText canonicalizes decoded body text: literal escape artifacts and
// soft hyphens dropped, non-breaking spaces flattened, control characters
// stripped, repeated blank lines collapsed to one, Unicode normalized to
// NFC.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	replacements := map[string]string{
		`\xad`:   "",
		`\xa0`:   " ",
		"­": "",
		" ": " ",
	}
	for from, to := range replacements {
		text = strings.ReplaceAll(text, from, to)
	}
	text = reEscapes.ReplaceAllStringFunc(text, func(esc string) string {
		switch esc {
		case `\n`:
			return "\n"
		case `\t`:
			return "\t"
		case `\r`:
			return ""
		case `\'`:
			return "'"
		case `\"`:
			return `"`
		default:
			return ""
		}
	})

	text = reControl.ReplaceAllString(text, "")
	text = norm.NFC.String(text)
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
