// Package segment splits one decoded email body into its inline reply
// chain: the top message followed by every quoted prior message, in
// document order. Mail clients materialize quoted history with
// locale-specific conventions (Outlook's "De :" block in French, "From:"
// in English, "Le ... a écrit :" attributions, forward banners, long
// separator rules); the splitter recognizes all of them in a single pass.
//
// Split is pure and never fails: arbitrary text in, ordered segments out.
package segment

import (
	"regexp"
	"sort"
	"strings"
)

// Segment is one slice of a message body. The first segment of a split is
// the author's own text (IsReply false); every later one is a quoted prior
// message with whatever metadata could be scraped from its header block.
type Segment struct {
	Content   string `json:"content"`
	IsReply   bool   `json:"is_reply"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Date      string `json:"date,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

// delimiterPatterns mark where a quoted prior message begins. Order is not
// significant for matching; all matches across all patterns are collected
// and sorted by position.
var delimiterPatterns = []*regexp.Regexp{
	// French Outlook header block.
	regexp.MustCompile(`(?m)^[>\s]*De\s*:\s?.*$`),
	// English Outlook header block.
	regexp.MustCompile(`(?m)^[>\s]*From\s*:\s?.*$`),
	// French attribution line: "Le 3 janv. 2024 à 10:12, Jean a écrit :"
	regexp.MustCompile(`(?m)^[>\s]*Le\s.{2,120}?\sa\s[ée]crit\s?:`),
	// English attribution line: "On Jan 3, 2024, Jean wrote:"
	regexp.MustCompile(`(?m)^[>\s]*On\s.{2,120}?\swrote\s?:`),
	// Forward banners, both locales.
	regexp.MustCompile(`(?mi)^[>\s]*-{2,}\s*(?:Forwarded message|Original Message|Message transf[ée]r[ée]|Message d'origine|D[ée]but du message transf[ée]r[ée])\s*-{0,}.*$`),
	// Rules that conventionally precede quoted content.
	regexp.MustCompile(`(?m)^\s*(?:_{20,}|={20,})\s*$`),
}

// fieldPatterns extract one metadata field from a quoted header block,
// tried in order: localized form first, generic fallback second.
var (
	senderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^[>\s]*De\s*:\s?(.+)$`),
		regexp.MustCompile(`(?m)^[>\s]*From\s*:\s?(.+)$`),
		// Attribution lines put the author after the last comma; dates
		// themselves contain commas, so the name match excludes them.
		regexp.MustCompile(`(?m)^[>\s]*Le\s.{2,120}?,\s([^,\n]+?)\sa\s[ée]crit\s?:`),
		regexp.MustCompile(`(?m)^[>\s]*On\s.{2,120}?,\s([^,\n]+?)\swrote\s?:`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^[>\s]*Envoy[ée]\s*:\s?(.+)$`),
		regexp.MustCompile(`(?m)^[>\s]*Sent\s*:\s?(.+)$`),
		regexp.MustCompile(`(?m)^[>\s]*Date\s*:\s?(.+)$`),
		regexp.MustCompile(`(?m)^[>\s]*Le\s(.{2,120}),\s[^,\n]+?\sa\s[ée]crit\s?:`),
		regexp.MustCompile(`(?m)^[>\s]*On\s(.{2,120}),\s[^,\n]+?\swrote\s?:`),
	}
	recipientPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^[>\s]*[ÀA]\s*:\s?(.+)$`),
		regexp.MustCompile(`(?m)^[>\s]*To\s*:\s?(.+)$`),
	}
	subjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^[>\s]*Objet\s*:\s?(.+)$`),
		regexp.MustCompile(`(?m)^[>\s]*Subject\s*:\s?(.+)$`),
	}
)

// headerishLine matches lines belonging to a quoted header block, used to
// strip the delimiter text out of the content shown to the user.
var headerishLine = regexp.MustCompile(
	`^[>\s]*(?:(?:De|From|Envoy[ée]|Sent|[ÀA]|To|Cc|Objet|Subject|Date)\s*:.*` +
		`|Le\s.{2,120}?\sa\s[ée]crit\s?:.*` +
		`|On\s.{2,120}?\swrote\s?:.*` +
		`|-{2,}\s*(?:Forwarded message|Original Message|Message transf[ée]r[ée]|Message d'origine|D[ée]but du message transf[ée]r[ée]).*` +
		`|_{20,}|={20,})\s*$`)

// tagRemnant trims stray HTML tag fragments left at segment boundaries
// after HTML-to-text conversion, possibly repeated.
var (
	leadingTagRemnant  = regexp.MustCompile(`^(?:\s*</?[a-zA-Z][a-zA-Z0-9]*[^>]*>)+\s*`)
	trailingTagRemnant = regexp.MustCompile(`\s*(?:</?[a-zA-Z][a-zA-Z0-9]*[^>]*>\s*)+$`)
)

// Split segments a plain-text body into its reply chain. The text before
// the first delimiter match is the main message; each interval between
// consecutive matches becomes one reply segment. When no delimiter matches
// anywhere, the whole trimmed body comes back as a single non-reply
// segment.
func Split(body string) []Segment {
	positions := matchPositions(body)
	if len(positions) == 0 {
		return []Segment{{Content: strings.TrimSpace(body)}}
	}

	var segments []Segment

	if head := cleanContent(body[:positions[0]]); head != "" {
		segments = append(segments, Segment{Content: head})
	}

	for i, start := range positions {
		end := len(body)
		if i+1 < len(positions) {
			end = positions[i+1]
		}
		interval := body[start:end]

		seg := Segment{
			IsReply:   true,
			Sender:    extractField(interval, senderPatterns),
			Recipient: extractField(interval, recipientPatterns),
			Date:      extractField(interval, datePatterns),
			Subject:   extractField(interval, subjectPatterns),
			Content:   cleanContent(stripHeaderBlock(interval)),
		}
		if seg.Content == "" && !seg.hasMetadata() {
			continue
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return []Segment{{Content: strings.TrimSpace(body)}}
	}
	return segments
}

func (s Segment) hasMetadata() bool {
	return s.Sender != "" || s.Recipient != "" || s.Date != "" || s.Subject != ""
}

// matchPositions collects the start offset of every delimiter match across
// all patterns, sorted and deduplicated.
func matchPositions(body string) []int {
	seen := make(map[int]bool)
	var positions []int
	for _, pattern := range delimiterPatterns {
		for _, loc := range pattern.FindAllStringIndex(body, -1) {
			if !seen[loc[0]] {
				seen[loc[0]] = true
				positions = append(positions, loc[0])
			}
		}
	}
	sort.Ints(positions)

	// Two patterns can fire on adjacent lines of the same quoted header
	// (banner then "De :"); keeping only the first of a run of positions
	// closer than one line apart would be fragile, so runs survive here
	// and the empty segments they produce are dropped after cleaning.
	return positions
}

func extractField(interval string, patterns []*regexp.Regexp) string {
	for _, pattern := range patterns {
		if m := pattern.FindStringSubmatch(interval); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// stripHeaderBlock removes the delimiter text itself: consecutive
// header-field, attribution, banner, rule, and blank lines at the start of
// the interval. The first line that is none of those begins the quoted
// content.
func stripHeaderBlock(interval string) string {
	lines := strings.Split(interval, "\n")
	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" || headerishLine.MatchString(line) {
			i++
			continue
		}
		break
	}
	return strings.Join(lines[i:], "\n")
}

func cleanContent(text string) string {
	text = leadingTagRemnant.ReplaceAllString(text, "")
	text = trailingTagRemnant.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
