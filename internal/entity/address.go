package entity

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoAddress is returned when a string contains nothing that can be
// normalized into a local@domain address.
var ErrNoAddress = errors.New("entity: no recognizable email address")

// EmailAddress is a normalized identity key: lower-cased, validated
// local@domain with a dotted domain. The zero value is invalid; construct
// only through ParseEmailAddress.
type EmailAddress struct {
	Local  string
	Domain string
}

// String returns the canonical local@domain form.
func (a EmailAddress) String() string {
	return a.Local + "@" + a.Domain
}

// IsZero reports whether the address was never constructed.
func (a EmailAddress) IsZero() bool {
	return a.Local == "" || a.Domain == ""
}

// strayPunct is punctuation that mail clients leave stuck to addresses
// pulled out of free-form header text.
const strayPunct = `"'<>()[],;:.`

// ParseEmailAddress normalizes a raw string into an EmailAddress. Quotes,
// angle brackets, and trailing stray punctuation are trimmed; the whole
// address is lower-cased. Fails unless the result has an @ and a dotted
// domain.
func ParseEmailAddress(raw string) (EmailAddress, error) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, strayPunct)
	if s == "" || !strings.Contains(s, "@") {
		return EmailAddress{}, ErrNoAddress
	}

	at := strings.LastIndex(s, "@")
	local, domain := s[:at], s[at+1:]
	local = strings.Trim(local, `"' `)
	domain = strings.Trim(domain, strayPunct)

	if local == "" || domain == "" {
		return EmailAddress{}, ErrNoAddress
	}
	if !strings.Contains(domain, ".") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return EmailAddress{}, ErrNoAddress
	}
	if strings.ContainsAny(local, " \t") || strings.ContainsAny(domain, " \t@") {
		return EmailAddress{}, ErrNoAddress
	}

	return EmailAddress{
		Local:  strings.ToLower(local),
		Domain: strings.ToLower(domain),
	}, nil
}

// ParsedAddress is the result of classifying one comma-separated candidate
// from an address header. Exactly one of the three variants applies.
type ParsedAddress interface {
	parsedAddress()
}

// Bracketed is the `"Display Name" <addr>` shape.
type Bracketed struct {
	Name    string
	Address EmailAddress
}

// Bare is a plain address with no display name.
type Bare struct {
	Address EmailAddress
}

// Unrecognized carries text that matched neither shape. Callers skip it.
type Unrecognized struct {
	Raw string
}

func (Bracketed) parsedAddress()    {}
func (Bare) parsedAddress()         {}
func (Unrecognized) parsedAddress() {}

var (
	bracketedPattern = regexp.MustCompile(`^(.*)<([^<>]+)>\s*$`)
	barePattern      = regexp.MustCompile(`[A-Za-z0-9._%+\-']+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ClassifyAddress matches one candidate substring against the bracketed
// shape first, then the bare shape. Anything without an @ and a dotted
// domain comes back Unrecognized.
func ClassifyAddress(candidate string) ParsedAddress {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return Unrecognized{Raw: candidate}
	}

	if m := bracketedPattern.FindStringSubmatch(candidate); m != nil {
		addr, err := ParseEmailAddress(m[2])
		if err == nil {
			name := strings.TrimSpace(m[1])
			name = strings.Trim(name, `"' `)
			return Bracketed{Name: name, Address: addr}
		}
	}

	if m := barePattern.FindString(candidate); m != "" {
		if addr, err := ParseEmailAddress(m); err == nil {
			return Bare{Address: addr}
		}
	}

	return Unrecognized{Raw: candidate}
}

// SplitAddressList splits a header value on commas, tracking quote depth so
// commas inside quoted display names do not act as separators.
func SplitAddressList(header string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range header {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
