package entity

import (
	"testing"

	"pgregory.net/rapid"
)

func TestParseEmailAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "anne@example.org", "anne@example.org", false},
		{"upper cased", "Anne.Dupont@Example.ORG", "anne.dupont@example.org", false},
		{"angle brackets trimmed", "<bob@example.com>", "bob@example.com", false},
		{"quotes trimmed", `"carol@example.net"`, "carol@example.net", false},
		{"trailing period trimmed", "dave@example.com.", "dave@example.com", false},
		{"trailing semicolon trimmed", "eve@example.org;", "eve@example.org", false},
		{"no at sign", "not-an-address", "", true},
		{"no dotted domain", "user@localhost", "", true},
		{"empty local", "@example.com", "", true},
		{"space in local", "a b@example.com", "", true},
		{"empty string", "", "", true},
		{"leading dot domain", "x@.example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseEmailAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEmailAddress(%q) = %v, want error", tt.input, addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEmailAddress(%q) failed: %v", tt.input, err)
			}
			if addr.String() != tt.want {
				t.Errorf("ParseEmailAddress(%q) = %q, want %q", tt.input, addr, tt.want)
			}
		})
	}
}

// Any generated local@domain must parse to its own lower-cased form,
// however it is cased or wrapped.
func TestParseEmailAddressNormalization(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		local := rapid.StringMatching(`[a-zA-Z][a-zA-Z0-9._]{0,15}[a-zA-Z0-9]`).Draw(t, "local")
		domain := rapid.StringMatching(`[a-zA-Z][a-zA-Z0-9]{0,10}\.[a-zA-Z]{2,6}`).Draw(t, "domain")
		raw := local + "@" + domain

		wrapped := rapid.SampledFrom([]string{raw, "<" + raw + ">", " " + raw + " ", raw + ","}).Draw(t, "wrapped")

		addr, err := ParseEmailAddress(wrapped)
		if err != nil {
			t.Fatalf("ParseEmailAddress(%q) failed: %v", wrapped, err)
		}
		canonical, err := ParseEmailAddress(addr.String())
		if err != nil {
			t.Fatalf("canonical form %q does not re-parse: %v", addr, err)
		}
		if canonical != addr {
			t.Errorf("normalization not idempotent: %v then %v", addr, canonical)
		}
	})
}

func TestClassifyAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got ParsedAddress)
	}{
		{
			name:  "bracketed with display name",
			input: `"Anne Dupont" <Anne.Dupont@example.org>`,
			check: func(t *testing.T, got ParsedAddress) {
				b, ok := got.(Bracketed)
				if !ok {
					t.Fatalf("got %T, want Bracketed", got)
				}
				if b.Name != "Anne Dupont" || b.Address.String() != "anne.dupont@example.org" {
					t.Errorf("got %+v", b)
				}
			},
		},
		{
			name:  "bracketed without name",
			input: "<bob@example.com>",
			check: func(t *testing.T, got ParsedAddress) {
				b, ok := got.(Bracketed)
				if !ok {
					t.Fatalf("got %T, want Bracketed", got)
				}
				if b.Name != "" || b.Address.String() != "bob@example.com" {
					t.Errorf("got %+v", b)
				}
			},
		},
		{
			name:  "bare address",
			input: "carol@example.net",
			check: func(t *testing.T, got ParsedAddress) {
				b, ok := got.(Bare)
				if !ok {
					t.Fatalf("got %T, want Bare", got)
				}
				if b.Address.String() != "carol@example.net" {
					t.Errorf("got %+v", b)
				}
			},
		},
		{
			name:  "bare address embedded in text",
			input: "reply to dave@example.org please",
			check: func(t *testing.T, got ParsedAddress) {
				b, ok := got.(Bare)
				if !ok {
					t.Fatalf("got %T, want Bare", got)
				}
				if b.Address.String() != "dave@example.org" {
					t.Errorf("got %+v", b)
				}
			},
		},
		{
			name:  "garbage",
			input: "Undisclosed recipients",
			check: func(t *testing.T, got ParsedAddress) {
				if _, ok := got.(Unrecognized); !ok {
					t.Fatalf("got %T, want Unrecognized", got)
				}
			},
		},
		{
			name:  "brackets with junk inside fall back to bare scan",
			input: "Mailing List <list at example dot com> list@example.com",
			check: func(t *testing.T, got ParsedAddress) {
				b, ok := got.(Bare)
				if !ok {
					t.Fatalf("got %T, want Bare", got)
				}
				if b.Address.String() != "list@example.com" {
					t.Errorf("got %+v", b)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ClassifyAddress(tt.input))
		})
	}
}

func TestSplitAddressList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"single", "a@example.com", 1},
		{"two plain", "a@example.com, b@example.com", 2},
		{"comma inside quoted name", `"Dupont, Anne" <a@example.com>, b@example.com`, 2},
		{"trailing comma dropped", "a@example.com,", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitAddressList(tt.input); len(got) != tt.want {
				t.Errorf("SplitAddressList(%q) = %d parts %q, want %d", tt.input, len(got), got, tt.want)
			}
		})
	}
}
