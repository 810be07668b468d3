// Package sanitizer cleans the stored HTML variant of message bodies so
// viewers can render it directly: scripts, event handlers, and remote
// resource loads are removed while formatting survives.
package sanitizer

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer cleans HTML bodies before they are persisted.
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

// New builds a sanitizer whose policy keeps the formatting email clients
// actually emit (tables, fonts, inline images) and nothing executable.
func New() *HTMLSanitizer {
	policy := bluemonday.UGCPolicy()

	policy.AllowElements(
		"p", "br", "hr", "div", "span",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"strong", "b", "em", "i", "u", "s", "strike",
		"blockquote", "pre", "code",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td",
		"a", "img",
		"font", "center",
	)

	policy.AllowAttrs("href").OnElements("a")
	policy.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	policy.AllowAttrs("style", "class").Globally()
	policy.AllowAttrs("align", "valign", "bgcolor", "color", "size", "face").Globally()
	policy.AllowAttrs("colspan", "rowspan", "border", "cellpadding", "cellspacing").OnElements("table", "td", "th")
	policy.AllowDataURIImages()

	return &HTMLSanitizer{policy: policy}
}

var scriptBlock = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

// Sanitize returns a safe rendering of html. Empty input passes through.
func (s *HTMLSanitizer) Sanitize(html string) string {
	if html == "" {
		return ""
	}
	// Strip script blocks wholesale first so their text content does not
	// leak into the sanitized output.
	html = scriptBlock.ReplaceAllString(html, "")
	return strings.TrimSpace(s.policy.Sanitize(html))
}
